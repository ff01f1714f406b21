package drift

// Measurement is one ConfidenceMeasurement recorded per classification for
// a (test_id, framework) pair.
type Measurement struct {
	Confidence float64
	RecordedAt int64 // unix seconds; caller supplies, Monitor never calls time.Now
}

// Monitor holds the rolling windows of confidence measurements keyed by
// "test_id\x00framework" and evaluates them for drift on every write.
type Monitor struct {
	windowDays     int
	minMeasurements int
	thresholds     Thresholds
	windows        map[string][]Measurement
}

// Thresholds are the absolute-percent-change severity cutoffs.
type Thresholds struct {
	Low      float64
	Moderate float64
	High     float64
	Critical float64
}

// NewMonitor constructs a Monitor with the given rolling-window length (in
// days — used only to cap retained measurements by the caller, since this
// package is not itself time-aware) and minimum sample size.
func NewMonitor(windowDays, minMeasurements int, thresholds Thresholds) *Monitor {
	return &Monitor{
		windowDays:      windowDays,
		minMeasurements: minMeasurements,
		thresholds:      thresholds,
		windows:         make(map[string][]Measurement),
	}
}

func key(testID, framework string) string {
	return testID + "\x00" + framework
}

// WindowDays returns the configured rolling-window length, so callers that
// own the clock (the pipeline's periodic sweep) know how far back to trim.
func (m *Monitor) WindowDays() int { return m.windowDays }

// Record appends a measurement to the rolling window for (testID,
// framework) and returns a confidence_drift Signal if the window now
// shows drift at severity >= high, per spec behavior (only high/critical
// emit; lower severities are computed but not surfaced as signals).
func (m *Monitor) Record(testID, framework string, meas Measurement) *Signal {
	k := key(testID, framework)
	window := append(m.windows[k], meas)
	m.windows[k] = window

	if len(window) < m.minMeasurements {
		return nil
	}

	baseline := mean(window[:len(window)/2])
	currentStart := len(window) - len(window)/4
	if currentStart < 0 {
		currentStart = 0
	}
	current := mean(window[currentStart:])

	denom := baseline
	if denom < 0.01 {
		denom = 0.01
	}
	delta := (current - baseline) / denom
	severity, ok := severityFor(delta, m.thresholds)
	if !ok || (severity != SeverityHigh && severity != SeverityCritical) {
		return nil
	}

	return &Signal{
		Type:     SignalConfidenceDrift,
		TargetID: testID,
		Severity: severity,
		Details: map[string]any{
			"framework": framework,
			"baseline":  baseline,
			"current":   current,
			"delta_pct": delta * 100,
		},
	}
}

func severityFor(delta float64, t Thresholds) (Severity, bool) {
	abs := delta
	if abs < 0 {
		abs = -abs
	}
	pct := abs * 100
	switch {
	case pct >= t.Critical:
		return SeverityCritical, true
	case pct >= t.High:
		return SeverityHigh, true
	case pct >= t.Moderate:
		return SeverityModerate, true
	case pct >= t.Low:
		return SeverityLow, true
	default:
		return "", false
	}
}

func mean(ms []Measurement) float64 {
	if len(ms) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range ms {
		sum += m.Confidence
	}
	return sum / float64(len(ms))
}

// Trim drops measurements for (testID, framework) older than the retained
// window; callers pass the cutoff (unix seconds) since this package
// doesn't call time.Now itself.
func (m *Monitor) Trim(testID, framework string, cutoff int64) {
	k := key(testID, framework)
	window := m.windows[k]
	kept := window[:0]
	for _, meas := range window {
		if meas.RecordedAt >= cutoff {
			kept = append(kept, meas)
		}
	}
	m.windows[k] = kept
}

// TrimAll drops measurements older than cutoff across every tracked
// (testID, framework) window, and forgets windows left empty, bounding
// the monitor's memory growth under sustained traffic. Intended for the
// periodic retention sweep, which doesn't track which pairs are active
// on its own.
func (m *Monitor) TrimAll(cutoff int64) {
	for k, window := range m.windows {
		kept := window[:0]
		for _, meas := range window {
			if meas.RecordedAt >= cutoff {
				kept = append(kept, meas)
			}
		}
		if len(kept) == 0 {
			delete(m.windows, k)
		} else {
			m.windows[k] = kept
		}
	}
}

// Seed appends a measurement to (testID, framework)'s rolling window
// without evaluating it for drift. Used to restore persisted history at
// startup: replaying it through Record would spuriously re-emit every
// drift signal a prior process's lifetime already handled.
func (m *Monitor) Seed(testID, framework string, meas Measurement) {
	k := key(testID, framework)
	m.windows[k] = append(m.windows[k], meas)
}
