package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/sirupsen/logrus"

	"crossbridge/internal/config"
)

// ClickHouseDB holds the connection backing the time-partitioned
// ExecutionEvent table (C9). ExecutionEvents are append-mostly and
// range-scanned by timestamp/test_id/framework/status, the workload
// ClickHouse is built for — Postgres instead owns the mutation-heavy
// coverage graph, flaky history, and drift tables (see PostgresDB).
type ClickHouseDB struct {
	Conn   driver.Conn
	config *config.Config
	logger *logrus.Logger
}

// NewClickHouseDB opens a connection tuned for batched event inserts: LZ4
// compression (events are mostly repetitive stack traces/metadata blobs)
// and a generous memory ceiling since a single batch insert covers up to
// the configured batch size (default 50 events / 250ms, whichever first).
func NewClickHouseDB(cfg *config.Config, logger *logrus.Logger) (*ClickHouseDB, error) {
	options, err := clickhouse.ParseDSN(cfg.GetClickHouseURL())
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}

	options.Settings = clickhouse.Settings{
		"max_execution_time": 60,
		"max_memory_usage":   "10000000000",
	}
	options.DialTimeout = 5 * time.Second
	options.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	logger.Info("connected to clickhouse")
	return &ClickHouseDB{Conn: conn, config: cfg, logger: logger}, nil
}

func (c *ClickHouseDB) Close() error {
	c.logger.Info("closing clickhouse connection")
	return c.Conn.Close()
}

// Health satisfies handlers.Pinger for the readiness check.
func (c *ClickHouseDB) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Conn.Ping(ctx)
}
