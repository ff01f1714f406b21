package database

import (
	"log/slog"
	"database/sql"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"crossbridge/internal/config"
)

// PostgresDB holds the connection backing the mutation-heavy relational
// state: coverage graph nodes/edges (C8), FailureHistory (C6),
// ConfidenceMeasurement and DriftSignal rows (C7) — all upsert/update-in-
// place workloads GORM's query builder suits better than ClickHouse's
// append-only model, which instead owns the ExecutionEvent table (C9).
type PostgresDB struct {
	DB     *gorm.DB
	SqlDB  *sql.DB
	config *config.Config
	logger *slog.Logger
}

// NewPostgresDB opens the connection. PrepareStmt and
// SkipDefaultTransaction trade a little memory for avoiding
// per-statement-prepare and per-call-transaction overhead on the
// high-frequency upserts the coverage graph drives.
func NewPostgresDB(cfg *config.Config, logger *slog.Logger) (*PostgresDB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseURL()), &gorm.Config{
		Logger:                 gormLogger.Default,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("connected to postgres")
	return &PostgresDB{DB: db, SqlDB: sqlDB, config: cfg, logger: logger}, nil
}

func (p *PostgresDB) Close() error {
	p.logger.Info("closing postgres connection")
	return p.SqlDB.Close()
}

// Health satisfies handlers.Pinger for the readiness check.
func (p *PostgresDB) Health() error {
	return p.SqlDB.Ping()
}
