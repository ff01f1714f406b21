package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"crossbridge/internal/config"
	"crossbridge/internal/domain/classify"
	"crossbridge/internal/domain/drift"
	"crossbridge/internal/domain/event"
	"crossbridge/internal/domain/explain"
	"crossbridge/internal/domain/flaky"
	"crossbridge/internal/domain/graph"
	"crossbridge/internal/domain/rules"
	"crossbridge/internal/domain/signals"
)

// Per-stage deadlines (spec §5): a stage that overruns its budget is
// abandoned and logged, but never blocks the remaining stages or the lane
// worker behind it.
const (
	persistenceTimeout    = 2 * time.Second
	classificationTimeout = 100 * time.Millisecond
	explanationTimeout    = 200 * time.Millisecond
)

// EventStore is the persistence hook for C9.
type EventStore interface {
	Write(ev *event.ExecutionEvent)
}

// FlakyLoader and GraphRepository are re-declared here by the concrete
// domain interfaces they already satisfy (flaky.Loader, graph.Repository);
// Stage depends on those directly rather than redefining them.

// ArtifactWriter persists the deterministic CI artifact pair produced by
// explain.BuildArtifact.
type ArtifactWriter interface {
	Write(a explain.Artifact) error
}

// ConfidenceRecorder persists one ConfidenceMeasurement row, separately
// from the in-memory drift.Monitor the Stage holds (the monitor seeds its
// rolling window from this same store at startup).
type ConfidenceRecorder interface {
	RecordConfidence(testID, framework string, confidence float64, recordedAt time.Time) error
}

// Stage is the Handler wired into the pipeline.Pool: it implements the
// C11 four-step per-event pipeline described in spec §4.11.
type Stage struct {
	logger *slog.Logger

	events     EventStore
	graphRepo  graph.Repository
	flakyLoad  flaky.Loader
	confidence ConfidenceRecorder
	artifacts  ArtifactWriter

	signals  *signals.Pipeline
	registry *rules.Registry
	flakySt  *flaky.Store
	monitor  *drift.Monitor

	sinks []drift.Sink

	status   *statusTracker
	runs     *runTracker
	similar  *similarFailureTracker
}

// NewStage wires together every domain component the processing pipeline
// depends on. sinks receives every DriftSignal the pipeline emits (C6, C7,
// C8), in order, each isolated from the others' failures.
func NewStage(
	cfg *config.Config,
	logger *slog.Logger,
	events EventStore,
	graphRepo graph.Repository,
	flakyLoad flaky.Loader,
	confidence ConfidenceRecorder,
	artifacts ArtifactWriter,
	sigPipeline *signals.Pipeline,
	registry *rules.Registry,
	sinks ...drift.Sink,
) *Stage {
	flakyThresholds := flaky.Thresholds{
		ConsecutiveThreshold:   cfg.Observer.Flaky.ConsecutiveThreshold,
		PassesBetweenThreshold: cfg.Observer.Flaky.PassesBetweenThreshold,
		MinOccurrences:         cfg.Observer.Flaky.MinOccurrences,
	}
	driftThresholds := drift.Thresholds{
		Low:      cfg.Observer.Drift.Thresholds.Low,
		Moderate: cfg.Observer.Drift.Thresholds.Moderate,
		High:     cfg.Observer.Drift.Thresholds.High,
		Critical: cfg.Observer.Drift.Thresholds.Critical,
	}

	return &Stage{
		logger:     logger,
		events:     events,
		graphRepo:  graphRepo,
		flakyLoad:  flakyLoad,
		confidence: confidence,
		artifacts:  artifacts,
		signals:    sigPipeline,
		registry:   registry,
		flakySt:    flaky.NewStore(flakyThresholds, 50_000),
		monitor:    drift.NewMonitor(cfg.Observer.Drift.WindowDays, cfg.Observer.Drift.MinMeasurements, driftThresholds),
		sinks:      sinks,
		status:     newStatusTracker(50_000),
		runs:       newRunTracker(5_000),
		similar:    newSimilarFailureTracker(50_000),
	}
}

// Process implements pipeline.Handler. Persistence, graph update and
// classification are isolated from one another: an error or panic in one is
// logged and the others still run. Within the classification path, a
// classification timeout or failure skips the flaky, explanation,
// confidence and drift steps that depend on its result.
func (s *Stage) Process(ctx context.Context, ev *event.ExecutionEvent) {
	s.persist(ev)
	s.updateGraph(ev)

	if ev.EventType == event.TypeTestEnd && ev.Status.IsFailure() {
		s.classifyAndExplain(ev)
	}

	if ev.EventType == event.TypeTestEnd {
		s.status.Record(ev.TestID, ev.Status.IsFailure())
	}
}

func (s *Stage) persist(ev *event.ExecutionEvent) {
	_, cancel := context.WithTimeout(context.Background(), persistenceTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("persistence stage failed", "error", r, "event_id", ev.EventID)
		}
	}()
	s.events.Write(ev)
}

func (s *Stage) updateGraph(ev *event.ExecutionEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("graph update stage failed", "error", r, "event_id", ev.EventID)
		}
	}()

	obs := graph.Observation{
		TestID:       ev.TestID,
		APICalls:     ev.APICalls(),
		PagesVisited: ev.PagesVisited(),
		UIComponents: ev.UIComponents(),
		Feature:      ev.Feature(),
	}
	signal, err := graph.Update(s.graphRepo, obs)
	if err != nil {
		s.logger.Error("graph update failed", "error", err, "test_id", ev.TestID)
		return
	}
	if signal != nil {
		s.emit(*signal)
	}
}

func (s *Stage) classifyAndExplain(ev *event.ExecutionEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("classification pipeline failed", "error", r, "event_id", ev.EventID)
		}
	}()

	text := ev.NormalizedLogText()

	sigs := s.runExtraction(ev, text)

	result, ok := s.runClassification(ev, text)
	if !ok {
		return
	}

	previousFailed := s.status.PreviousFailed(ev.TestID)
	history, flakySignal := s.flakySt.Observe(s.flakyLoad, ev.TestID, result.Category, ev.ErrorMessage, previousFailed)
	if flakySignal != nil {
		s.emit(*flakySignal)
	}

	runID := normalizeRunID(ev.RunID, ev.TestID)
	sigTotal, sigMatching, related := s.runs.Observe(runID, history.Signature, ev.TestID)
	priorSimilar := s.similar.Record(history.Signature, result.FailureID.String())

	hist := explain.HistoricalContext{
		Occurrences:          history.Occurrences,
		RetriesTotal:         ev.Retries(),
		RetriesReproduced:    retriesReproduced(ev, history),
		SiblingTestsTotal:    sigTotal,
		SiblingTestsMatching: sigMatching,
		SimilarFailureIDs:    priorSimilar,
		RelatedTests:         related,
	}

	s.runExplanation(ev, result, sigs, hist)

	if s.confidence != nil {
		if err := s.confidence.RecordConfidence(ev.TestID, ev.Framework, result.RawConfidence, ev.Timestamp); err != nil {
			s.logger.Error("confidence measurement persist failed", "error", err, "test_id", ev.TestID)
		}
	}
	if driftSignal := s.monitor.Record(ev.TestID, ev.Framework, drift.Measurement{
		Confidence: result.RawConfidence,
		RecordedAt: ev.Timestamp.Unix(),
	}); driftSignal != nil {
		s.emit(*driftSignal)
	}
}

// SeedDriftWindow restores one persisted confidence measurement into the
// drift monitor's rolling window without evaluating it for drift —
// replaying history through Process would spuriously re-emit every
// signal a prior process's lifetime already handled. Called once at
// startup, before the pipeline accepts traffic.
func (s *Stage) SeedDriftWindow(testID, framework string, meas drift.Measurement) {
	s.monitor.Seed(testID, framework, meas)
}

// TrimDriftWindows drops drift monitor entries older than the configured
// rolling window, bounding its memory growth under sustained traffic.
// Called from the periodic retention sweep alongside the Postgres/
// ClickHouse sweep.
func (s *Stage) TrimDriftWindows(now time.Time) {
	s.monitor.TrimAll(now.AddDate(0, 0, -s.monitor.WindowDays()).Unix())
}

// retriesReproduced approximates how many of this test's retries
// reproduced the same failure signature: a retried test_end carrying a
// previously-failed status for the same signature counts as reproduced,
// all other retries count as not. Lacking a dedicated retry-outcome event
// in the canonical model, the best available signal is whether this
// specific run is itself a retry (metadata.retries > 0) and whether the
// signature's distinct-error-variant count stayed at one.
func retriesReproduced(ev *event.ExecutionEvent, h *flaky.History) int {
	retries := ev.Retries()
	if retries == 0 {
		return 0
	}
	if len(h.DistinctErrorVariants) <= 1 {
		return retries
	}
	return 0
}

func (s *Stage) runExtraction(ev *event.ExecutionEvent, text string) []signals.Signal {
	type result struct {
		sigs []signals.Signal
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{}
			}
		}()
		done <- result{sigs: s.signals.Run(text, extractorErrorSink{logger: s.logger, eventID: ev.EventID.String()})}
	}()

	select {
	case r := <-done:
		return r.sigs
	case <-time.After(classificationTimeout):
		s.logger.Error("signal extraction stage timed out", "event_id", ev.EventID)
		return nil
	}
}

func (s *Stage) runClassification(ev *event.ExecutionEvent, text string) (classify.Result, bool) {
	type result struct {
		res classify.Result
	}
	done := make(chan result, 1)
	go func() {
		done <- result{res: s.registry.Classify(ev.Framework, text)}
	}()

	select {
	case r := <-done:
		return r.res, true
	case <-time.After(classificationTimeout):
		s.logger.Error("classification stage timed out", "event_id", ev.EventID, "test_id", ev.TestID)
		return classify.Result{}, false
	}
}

func (s *Stage) runExplanation(ev *event.ExecutionEvent, result classify.Result, sigs []signals.Signal, hist explain.HistoricalContext) {
	pack := s.registry.PackFor(ev.Framework)
	allRules := pack.AsMatchable()
	descriptions := pack.Descriptions()

	type result2 struct {
		exp explain.Explanation
	}
	done := make(chan result2, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result2{}
			}
		}()
		exp := explain.Build(result, sigs, ev.ErrorMessage, ev.StackTrace, ev.LogLines(), allRules, descriptions, hist)
		done <- result2{exp: exp}
	}()

	select {
	case r := <-done:
		if s.artifacts != nil {
			artifact := explain.BuildArtifact(r.exp)
			if err := s.artifacts.Write(artifact); err != nil {
				s.logger.Error("artifact write failed", "error", err, "failure_id", artifact.FailureID)
			}
		}
	case <-time.After(explanationTimeout):
		s.logger.Error("explanation stage timed out", "event_id", ev.EventID, "test_id", ev.TestID)
	}
}

func (s *Stage) emit(signal drift.Signal) {
	if signal.DetectedAt.IsZero() {
		signal.DetectedAt = time.Now().UTC()
	}
	for _, sink := range s.sinks {
		func(sink drift.Sink) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("drift signal sink panicked", "error", r, "signal_type", signal.Type, "target_id", signal.TargetID)
				}
			}()
			sink.Emit(signal)
		}(sink)
	}
}

type extractorErrorSink struct {
	logger  *slog.Logger
	eventID string
}

func (e extractorErrorSink) ExtractorFailed(name string, err any) {
	e.logger.Warn("signal extractor failed", "extractor", name, "error", err, "event_id", e.eventID)
}

// fileArtifactWriter is the default ArtifactWriter: one <failure_id>.json
// and one <failure_id>.txt file per classified failure, under dir.
type fileArtifactWriter struct {
	dir string
}

// NewFileArtifactWriter constructs an ArtifactWriter that writes the CI
// artifact pair to plain files under dir, creating it if necessary.
func NewFileArtifactWriter(dir string) (ArtifactWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileArtifactWriter{dir: dir}, nil
}

func (w *fileArtifactWriter) Write(a explain.Artifact) error {
	jsonPath := filepath.Join(w.dir, a.FailureID+".json")
	if err := os.WriteFile(jsonPath, a.JSON, 0o644); err != nil {
		return err
	}
	textPath := filepath.Join(w.dir, a.FailureID+".txt")
	return os.WriteFile(textPath, []byte(a.Text), 0o644)
}
