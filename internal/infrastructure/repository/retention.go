package repository

import (
	"context"
	"time"

	chdriver "github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"gorm.io/gorm"
)

// EventArchiver cold-archives execution events older than cutoff before
// the sweeper deletes them from ClickHouse. Satisfied by
// archive.Archiver; left as a local interface so this package doesn't
// need to import infrastructure/archive (and its AWS dependency) when
// archival is disabled.
type EventArchiver interface {
	ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// RetentionSweeper deletes aged-out rows per the configured retention
// windows: events in ClickHouse, flaky history and drift signals in
// Postgres. The coverage graph is retained unbounded, per the design.
type RetentionSweeper struct {
	pg       *gorm.DB
	ch       chdriver.Conn
	archiver EventArchiver // nil when archive.enabled is false
}

// NewRetentionSweeper constructs a sweeper over the given connections.
// archiver may be nil, disabling cold-archival before deletion.
func NewRetentionSweeper(pg *gorm.DB, ch chdriver.Conn, archiver EventArchiver) *RetentionSweeper {
	return &RetentionSweeper{pg: pg, ch: ch, archiver: archiver}
}

// Sweep deletes rows older than the given retention windows (in days).
func (s *RetentionSweeper) Sweep(ctx context.Context, eventsDays, historyDays, driftDays int) error {
	eventCutoff := time.Now().UTC().AddDate(0, 0, -eventsDays)
	if s.archiver != nil {
		if _, err := s.archiver.ArchiveBefore(ctx, eventCutoff); err != nil {
			// Archival failure blocks deletion for this sweep: better to
			// retain a day's worth of rows past the window than to lose
			// data that was supposed to be archived first.
			return err
		}
	}
	if err := s.ch.Exec(ctx, "ALTER TABLE execution_events DELETE WHERE timestamp < ?", eventCutoff); err != nil {
		return err
	}

	historyCutoff := time.Now().UTC().AddDate(0, 0, -historyDays)
	if err := s.pg.WithContext(ctx).Where("updated_at < ?", historyCutoff).Delete(&failureHistoryRow{}).Error; err != nil {
		return err
	}

	driftCutoff := time.Now().UTC().AddDate(0, 0, -driftDays)
	if err := s.pg.WithContext(ctx).Where("detected_at < ?", driftCutoff).Delete(&driftSignalRow{}).Error; err != nil {
		return err
	}

	return nil
}
