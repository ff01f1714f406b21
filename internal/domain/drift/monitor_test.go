package drift

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testThresholds() Thresholds {
	return Thresholds{Low: 5, Moderate: 10, High: 20, Critical: 30}
}

func TestMonitor_Record_NoSignalBelowMinMeasurements(t *testing.T) {
	m := NewMonitor(30, 5, testThresholds())

	sig := m.Record("test_a", "pytest", Measurement{Confidence: 0.9, RecordedAt: 1})
	assert.Nil(t, sig)
}

func TestMonitor_Record_EmitsHighSeverityOnLargeConfidenceDrop(t *testing.T) {
	m := NewMonitor(30, 4, testThresholds())

	var last *Signal
	confidences := []float64{0.95, 0.95, 0.4, 0.4}
	for i, c := range confidences {
		last = m.Record("test_a", "pytest", Measurement{Confidence: c, RecordedAt: int64(i)})
	}

	require.NotNil(t, last)
	assert.Equal(t, SignalConfidenceDrift, last.Type)
	assert.Equal(t, "test_a", last.TargetID)
	assert.Contains(t, []Severity{SeverityHigh, SeverityCritical}, last.Severity)
}

func TestMonitor_Record_NoSignalForStableConfidence(t *testing.T) {
	m := NewMonitor(30, 4, testThresholds())

	var last *Signal
	for i := 0; i < 8; i++ {
		last = m.Record("test_b", "pytest", Measurement{Confidence: 0.9, RecordedAt: int64(i)})
	}
	assert.Nil(t, last)
}

func TestMonitor_Trim_DropsMeasurementsOlderThanCutoff(t *testing.T) {
	m := NewMonitor(30, 5, testThresholds())
	m.Record("test_c", "pytest", Measurement{Confidence: 0.9, RecordedAt: 1})
	m.Record("test_c", "pytest", Measurement{Confidence: 0.9, RecordedAt: 2})
	m.Record("test_c", "pytest", Measurement{Confidence: 0.9, RecordedAt: 100})

	m.Trim("test_c", "pytest", 50)

	// Only the RecordedAt:100 measurement should remain; one more sample
	// still leaves the window at 2, below minMeasurements(5), so no signal.
	sig := m.Record("test_c", "pytest", Measurement{Confidence: 0.9, RecordedAt: 101})
	assert.Nil(t, sig)
}

// TestMonitor_Record_SustainedConfidenceDropSurfacesHighSeverity mirrors the
// S5 scenario: a long stretch of measurements near 0.90 followed by a run
// near 0.55 must surface a confidence_drift signal at severity high.
func TestMonitor_Record_SustainedConfidenceDropSurfacesHighSeverity(t *testing.T) {
	m := NewMonitor(30, 5, testThresholds())

	var last *Signal
	at := int64(0)
	for i := 0; i < 30; i++ {
		last = m.Record("t3", "pytest", Measurement{Confidence: 0.90, RecordedAt: at})
		at++
	}
	for i := 0; i < 5; i++ {
		last = m.Record("t3", "pytest", Measurement{Confidence: 0.55, RecordedAt: at})
		at++
	}

	require.NotNil(t, last)
	assert.Equal(t, SignalConfidenceDrift, last.Type)
	assert.Equal(t, "t3", last.TargetID)
	assert.Equal(t, SeverityHigh, last.Severity)
}

// TestMonitor_Seed_RestoresHistoryThatCountsTowardLaterDriftEvaluation
// mirrors TestMonitor_Record_EmitsHighSeverityOnLargeConfidenceDrop's
// numbers, but sources the first two measurements via Seed (as a restart
// would) instead of Record, proving seeded history counts toward
// minMeasurements and the baseline/current means exactly as if it had
// never left memory.
func TestMonitor_Seed_RestoresHistoryThatCountsTowardLaterDriftEvaluation(t *testing.T) {
	m := NewMonitor(30, 4, testThresholds())
	m.Seed("test_f", "pytest", Measurement{Confidence: 0.95, RecordedAt: 0})
	m.Seed("test_f", "pytest", Measurement{Confidence: 0.95, RecordedAt: 1})

	first := m.Record("test_f", "pytest", Measurement{Confidence: 0.4, RecordedAt: 2})
	assert.Nil(t, first, "still below minMeasurements with only 3 total points")

	second := m.Record("test_f", "pytest", Measurement{Confidence: 0.4, RecordedAt: 3})
	require.NotNil(t, second, "seeded history plus two low readings must reach minMeasurements and surface drift")
	assert.Equal(t, SignalConfidenceDrift, second.Type)
	assert.Contains(t, []Severity{SeverityHigh, SeverityCritical}, second.Severity)
}

func TestMonitor_TrimAll_DropsMeasurementsAcrossEveryTrackedWindow(t *testing.T) {
	m := NewMonitor(30, 5, testThresholds())
	m.Record("test_d", "pytest", Measurement{Confidence: 0.9, RecordedAt: 1})
	m.Record("test_d", "pytest", Measurement{Confidence: 0.9, RecordedAt: 2})
	m.Record("test_e", "selenium", Measurement{Confidence: 0.9, RecordedAt: 1})
	m.Record("test_e", "selenium", Measurement{Confidence: 0.9, RecordedAt: 100})

	m.TrimAll(50)

	// test_d's window is now empty (both readings precede the cutoff);
	// test_e keeps only its RecordedAt:100 reading. Neither has enough
	// samples left to clear minMeasurements(5), so one more reading on
	// each must still return nil.
	assert.Nil(t, m.Record("test_d", "pytest", Measurement{Confidence: 0.9, RecordedAt: 101}))
	assert.Nil(t, m.Record("test_e", "selenium", Measurement{Confidence: 0.9, RecordedAt: 101}))
}

func TestMonitor_WindowDaysReturnsConfiguredValue(t *testing.T) {
	m := NewMonitor(45, 5, testThresholds())
	assert.Equal(t, 45, m.WindowDays())
}
