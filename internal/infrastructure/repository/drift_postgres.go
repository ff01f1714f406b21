package repository

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"crossbridge/internal/domain/drift"
)

// DriftRepository persists emitted DriftSignals and recorded
// ConfidenceMeasurements to Postgres. It implements drift.Sink.
type DriftRepository struct {
	db *gorm.DB
}

// NewDriftRepository constructs a DriftRepository over db.
func NewDriftRepository(db *gorm.DB) *DriftRepository {
	return &DriftRepository{db: db}
}

// Emit persists a Signal. It returns nothing and a failed insert is
// dropped without being logged, so it never blocks ingestion; a dropped
// DriftSignal is a monitoring gap, not a data-loss event.
func (r *DriftRepository) Emit(s drift.Signal) {
	details, err := json.Marshal(s.Details)
	if err != nil {
		details = []byte("{}")
	}
	detectedAt := s.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now().UTC()
	}
	row := driftSignalRow{
		Type:       string(s.Type),
		TargetID:   s.TargetID,
		Severity:   string(s.Severity),
		DetectedAt: detectedAt,
		Details:    details,
	}
	r.db.Create(&row)
}

// RecordConfidence appends a ConfidenceMeasurement row for (testID,
// framework).
func (r *DriftRepository) RecordConfidence(testID, framework string, confidence float64, recordedAt time.Time) error {
	row := confidenceMeasurementRow{
		TestID:     testID,
		Framework:  framework,
		Confidence: confidence,
		RecordedAt: recordedAt,
	}
	return r.db.Create(&row).Error
}

// LoadMeasurements returns the rolling window of measurements for (testID,
// framework), oldest first, for seeding an in-memory drift.Monitor on
// startup (the monitor itself holds no persistence).
func (r *DriftRepository) LoadMeasurements(testID, framework string, since time.Time) ([]drift.Measurement, error) {
	var rows []confidenceMeasurementRow
	if err := r.db.Where("test_id = ? AND framework = ? AND recorded_at >= ?", testID, framework, since).
		Order("recorded_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]drift.Measurement, len(rows))
	for i, row := range rows {
		out[i] = drift.Measurement{Confidence: row.Confidence, RecordedAt: row.RecordedAt.Unix()}
	}
	return out, nil
}

// SeededMeasurement is one historical confidence measurement, labeled
// with the (test_id, framework) pair it belongs to, as returned by
// LoadAllMeasurementsSince for bulk-seeding drift.Monitor.
type SeededMeasurement struct {
	TestID      string
	Framework   string
	Measurement drift.Measurement
}

// LoadAllMeasurementsSince returns every confidence measurement recorded
// since cutoff across every (test_id, framework) pair, oldest first
// within each pair, so a drift.Monitor can be seeded with one query at
// startup instead of one LoadMeasurements call per pair (which first
// requires already knowing every pair that exists).
func (r *DriftRepository) LoadAllMeasurementsSince(cutoff time.Time) ([]SeededMeasurement, error) {
	var rows []confidenceMeasurementRow
	if err := r.db.Where("recorded_at >= ?", cutoff).Order("recorded_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]SeededMeasurement, len(rows))
	for i, row := range rows {
		out[i] = SeededMeasurement{
			TestID:      row.TestID,
			Framework:   row.Framework,
			Measurement: drift.Measurement{Confidence: row.Confidence, RecordedAt: row.RecordedAt.Unix()},
		}
	}
	return out, nil
}
