package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	chdriver "github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"crossbridge/internal/domain/event"
	"crossbridge/internal/infrastructure/spill"
)

// batchCapacity and batchInterval implement C9's batching rule: flush on
// whichever comes first.
const (
	batchCapacity = 50
	batchInterval = 250 * time.Millisecond
)

// EventWriter batches ExecutionEvents into ClickHouse inserts. On a batch
// failure every event in that batch is spilled rather than retried
// inline, so a slow or down ClickHouse never blocks the ingest pipeline.
type EventWriter struct {
	conn chdriver.Conn
	log  *spill.Log

	mu      sync.Mutex
	pending []*event.ExecutionEvent
	flushC  chan struct{}
	closeC  chan struct{}
	wg      sync.WaitGroup
}

// NewEventWriter constructs an EventWriter and starts its background
// flush loop. Call Close to drain pending events before shutdown.
func NewEventWriter(conn chdriver.Conn, spillLog *spill.Log) *EventWriter {
	w := &EventWriter{
		conn:   conn,
		log:    spillLog,
		flushC: make(chan struct{}, 1),
		closeC: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Write enqueues ev for the next batch flush. It never blocks on
// ClickHouse itself — only on the in-process mutex.
func (w *EventWriter) Write(ev *event.ExecutionEvent) {
	w.mu.Lock()
	w.pending = append(w.pending, ev)
	full := len(w.pending) >= batchCapacity
	w.mu.Unlock()

	if full {
		select {
		case w.flushC <- struct{}{}:
		default:
		}
	}
}

func (w *EventWriter) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.flush()
		case <-w.flushC:
			w.flush()
		case <-w.closeC:
			w.flush()
			return
		}
	}
}

func (w *EventWriter) flush() {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := w.insertBatch(ctx, batch); err != nil {
		for _, ev := range batch {
			_ = w.log.Append(ev)
		}
	}
}

func (w *EventWriter) insertBatch(ctx context.Context, events []*event.ExecutionEvent) error {
	chBatch, err := w.conn.PrepareBatch(ctx, "INSERT INTO execution_events (event_id, event_type, framework, test_id, test_name, timestamp, status, duration_ms, error_message, stack_trace, metadata, schema_version, run_id)")
	if err != nil {
		return err
	}
	for _, ev := range events {
		metadata, marshalErr := json.Marshal(ev.Metadata)
		if marshalErr != nil {
			metadata = []byte("{}")
		}
		if err := chBatch.Append(
			ev.EventID.String(), string(ev.EventType), ev.Framework, ev.TestID, ev.TestName,
			ev.Timestamp, string(ev.Status), ev.DurationMS, ev.ErrorMessage, ev.StackTrace,
			string(metadata), ev.SchemaVersion, ev.RunID,
		); err != nil {
			return err
		}
	}
	return chBatch.Send()
}

// Close flushes any pending batch and stops the background loop.
func (w *EventWriter) Close() {
	close(w.closeC)
	w.wg.Wait()
}

// RetryFromSpill is passed to spill.Log.Drain on the background retrier
// tick: it re-inserts one event synchronously and reports success/failure
// directly, bypassing the batching path since spill retries are already
// rare and small in volume.
func (w *EventWriter) RetryFromSpill(ev *event.ExecutionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return w.insertBatch(ctx, []*event.ExecutionEvent{ev})
}
