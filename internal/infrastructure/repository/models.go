// Package repository implements the storage-backed domain store
// interfaces (graph.Repository, flaky.Loader, drift.Sink) against
// Postgres, and the batched ClickHouse writer for C9's event stream.
package repository

import (
	"time"

	"gorm.io/datatypes"
)

// graphNodeRow is the Postgres row for a graph.Node.
type graphNodeRow struct {
	NodeID           string    `gorm:"primaryKey;column:node_id"`
	Type             string    `gorm:"column:node_type"`
	ObservationCount int       `gorm:"column:observation_count"`
	LastSeen         time.Time `gorm:"column:last_seen"`
	CreatedAt        time.Time `gorm:"column:created_at"`
}

func (graphNodeRow) TableName() string { return "coverage_nodes" }

// graphEdgeRow is the Postgres row for a graph.Edge.
type graphEdgeRow struct {
	ID               uint      `gorm:"primaryKey;autoIncrement"`
	FromNode         string    `gorm:"column:from_node;uniqueIndex:idx_edge_key"`
	ToNode           string    `gorm:"column:to_node;uniqueIndex:idx_edge_key"`
	EdgeType         string    `gorm:"column:edge_type;uniqueIndex:idx_edge_key"`
	ObservationCount int       `gorm:"column:observation_count"`
	LastSeen         time.Time `gorm:"column:last_seen"`
	CreatedAt        time.Time `gorm:"column:created_at"`
}

func (graphEdgeRow) TableName() string { return "coverage_edges" }

// failureHistoryRow is the Postgres row for a flaky.History.
type failureHistoryRow struct {
	Signature             string         `gorm:"primaryKey;column:signature"`
	TestID                string         `gorm:"column:test_id;index"`
	Occurrences           int            `gorm:"column:occurrences"`
	PassesBetween         int            `gorm:"column:passes_between"`
	ConsecutiveFailures   int            `gorm:"column:consecutive_failures"`
	DistinctErrorVariants datatypes.JSON `gorm:"column:distinct_error_variants"`
	Nature                string         `gorm:"column:nature"`
	UpdatedAt             time.Time      `gorm:"column:updated_at"`
}

func (failureHistoryRow) TableName() string { return "failure_history" }

// driftSignalRow is the Postgres row for a drift.Signal.
type driftSignalRow struct {
	ID         uint           `gorm:"primaryKey;autoIncrement"`
	Type       string         `gorm:"column:signal_type;index"`
	TargetID   string         `gorm:"column:target_id;index"`
	Severity   string         `gorm:"column:severity"`
	DetectedAt time.Time      `gorm:"column:detected_at;index"`
	Details    datatypes.JSON `gorm:"column:details"`
}

func (driftSignalRow) TableName() string { return "drift_signals" }

// confidenceMeasurementRow is the Postgres row for a drift.Measurement.
type confidenceMeasurementRow struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	TestID     string    `gorm:"column:test_id;index:idx_conf_lookup"`
	Framework  string    `gorm:"column:framework;index:idx_conf_lookup"`
	Confidence float64   `gorm:"column:confidence"`
	RecordedAt time.Time `gorm:"column:recorded_at;index:idx_conf_lookup"`
}

func (confidenceMeasurementRow) TableName() string { return "confidence_measurements" }
