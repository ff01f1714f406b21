// Package archive implements the optional cold-storage path for
// ExecutionEvents that are about to age out of ClickHouse: rather than
// simply deleting rows past the retention window, an operator can enable
// archive.enabled to have them written out as Parquet and uploaded to S3
// first. Off by default, since most deployments are fine losing raw event
// detail once the derived signals (history, graph, drift) have already
// been computed from it.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	chdriver "github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
	"github.com/sirupsen/logrus"

	"crossbridge/internal/config"
)

// eventRow is the Parquet row shape for an archived execution event. It
// mirrors the execution_events ClickHouse table rather than the wire
// event.ExecutionEvent struct, since metadata is already JSON-flattened
// by the time it reaches this table.
type eventRow struct {
	EventID       string `parquet:"event_id"`
	EventType     string `parquet:"event_type"`
	Framework     string `parquet:"framework"`
	TestID        string `parquet:"test_id"`
	TestName      string `parquet:"test_name"`
	Timestamp     int64  `parquet:"timestamp,timestamp"`
	Status        string `parquet:"status"`
	DurationMS    int64  `parquet:"duration_ms"`
	ErrorMessage  string `parquet:"error_message"`
	StackTrace    string `parquet:"stack_trace"`
	Metadata      string `parquet:"metadata"`
	SchemaVersion string `parquet:"schema_version"`
	RunID         string `parquet:"run_id"`
}

// maxRowsPerRun bounds how many aged rows a single archive pass pulls out
// of ClickHouse, so a deployment that enables archival after a long gap
// doesn't try to build one enormous Parquet file in memory.
const maxRowsPerRun = 200_000

// Archiver uploads aged-out execution events to S3 as Parquet before the
// retention sweep deletes them from ClickHouse.
type Archiver struct {
	ch         chdriver.Conn
	s3Client   *s3.Client
	bucket     string
	pathPrefix string
	logger     *logrus.Logger
}

// NewArchiver builds an Archiver from the given S3-enabled configuration.
// Returns (nil, nil) when archival is disabled; a caller storing the result
// in an interface must check for nil first (see app.New).
func NewArchiver(ctx context.Context, cfg *config.Config, ch chdriver.Conn, logger *logrus.Logger) (*Archiver, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(cfg.Archive.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config for archive: %w", err)
	}

	return &Archiver{
		ch:         ch,
		s3Client:   s3.NewFromConfig(awsCfg),
		bucket:     cfg.Archive.Bucket,
		pathPrefix: cfg.Archive.PathPrefix,
		logger:     logger,
	}, nil
}

// ArchiveBefore selects every execution_events row older than cutoff,
// writes them as a single ZSTD-compressed Parquet object, and uploads it
// to S3. It returns the number of rows archived; the caller (the
// retention sweeper) only deletes the corresponding ClickHouse rows once
// this returns without error.
func (a *Archiver) ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var rows []eventRow
	query := `SELECT event_id, event_type, framework, test_id, test_name, timestamp,
		status, duration_ms, error_message, stack_trace, metadata, schema_version, run_id
		FROM execution_events WHERE timestamp < ? ORDER BY timestamp LIMIT ?`
	if err := a.ch.Select(ctx, &rows, query, cutoff, maxRowsPerRun); err != nil {
		return 0, fmt.Errorf("select aged events: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	data, err := a.writeParquet(rows)
	if err != nil {
		return 0, fmt.Errorf("encode parquet: %w", err)
	}

	key := fmt.Sprintf("%sexecution_events/%s/%s.parquet", a.pathPrefix, cutoff.Format("2006/01/02"), uuid.New().String())
	if _, err := a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/vnd.apache.parquet"),
	}); err != nil {
		return 0, fmt.Errorf("upload to s3: %w", err)
	}

	a.logger.WithFields(logrus.Fields{"bucket": a.bucket, "key": key, "rows": len(rows)}).Info("archived execution events to s3")
	return len(rows), nil
}

func (a *Archiver) writeParquet(rows []eventRow) ([]byte, error) {
	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[eventRow](&buf, parquet.Compression(&zstd.Codec{Level: zstd.SpeedDefault}))
	if _, err := writer.Write(rows); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
