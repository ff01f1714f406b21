// Package pipeline implements the Processing Pipeline (C11): a bounded,
// sharded queue feeding a worker pool that fans each accepted event out to
// persistence, the coverage graph, and — for failed test_end events — the
// classification/explanation/flaky/drift stages.
//
// Ordering guarantee: events for the same (test_id, run_id) are processed
// in arrival order. This is achieved by routing every event to the lane
// hash(test_id) mod shards and binding exactly one goroutine to each lane,
// so a lane's channel is drained strictly FIFO. Cross-lane ordering is not
// guaranteed, which is safe because the coverage graph upsert is
// commutative (graph.Repository's idempotence invariant).
package pipeline

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"crossbridge/internal/config"
	"crossbridge/internal/domain/event"
)

// Handler processes one accepted event. Implementations must not panic;
// the pool recovers defensively around every call regardless.
type Handler interface {
	Process(ctx context.Context, ev *event.ExecutionEvent)
}

// Pool is the bounded sharded worker pool. Submit never blocks: a full
// lane is reported back to the caller (the HTTP handler), which answers
// with 429 rather than waiting on the queue.
type Pool struct {
	lanes   []chan *event.ExecutionEvent
	handler Handler
	logger  *slog.Logger
	stats   *Stats

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	drainCtx context.Context
}

// NewPool builds a Pool with cfg.Shards lanes, each buffered to
// cfg.Capacity/cfg.Shards (minimum 1). cfg.Workers is honored only to the
// extent it requests at least one goroutine per lane; the ordering
// invariant fixes the effective concurrency at exactly one worker per
// lane regardless of a larger configured worker count.
func NewPool(cfg config.QueueConfig, handler Handler, logger *slog.Logger) *Pool {
	shards := cfg.Shards
	if shards <= 0 {
		shards = 1
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 10_000
	}
	perLane := capacity / shards
	if perLane <= 0 {
		perLane = 1
	}

	lanes := make([]chan *event.ExecutionEvent, shards)
	for i := range lanes {
		lanes[i] = make(chan *event.ExecutionEvent, perLane)
	}

	return &Pool{
		lanes:   lanes,
		handler: handler,
		logger:  logger,
		stats:   newStats(capacity),
	}
}

// Start launches exactly one worker goroutine per lane. Start must be
// called once before Submit is used.
func (p *Pool) Start(ctx context.Context) {
	drainCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.drainCtx = drainCtx

	for i := range p.lanes {
		p.wg.Add(1)
		go p.runLane(drainCtx, p.lanes[i])
	}
}

func (p *Pool) runLane(ctx context.Context, lane chan *event.ExecutionEvent) {
	defer p.wg.Done()
	for {
		select {
		case ev, ok := <-lane:
			if !ok {
				return
			}
			p.process(ev)
		case <-ctx.Done():
			// Graceful shutdown: drain whatever is already queued in this
			// lane before exiting, but stop waiting for new work.
			for {
				select {
				case ev, ok := <-lane:
					if !ok {
						return
					}
					p.process(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) process(ev *event.ExecutionEvent) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline worker panic recovered", "error", r, "event_id", ev.EventID)
		}
		p.stats.observeLatency(time.Since(start))
	}()
	p.handler.Process(context.Background(), ev)
	p.stats.incProcessed(ev.Framework, string(ev.EventType))
}

// lane returns the shard index test_id hashes to.
func (p *Pool) lane(testID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(testID))
	return int(h.Sum32()) % len(p.lanes)
}

// Submit attempts to enqueue ev without blocking. It returns false if the
// target lane's buffer is full, which the HTTP handler turns into a 429.
func (p *Pool) Submit(ev *event.ExecutionEvent) bool {
	lane := p.lanes[p.lane(ev.TestID)]
	select {
	case lane <- ev:
		p.stats.incEnqueued(ev.Framework)
		return true
	default:
		p.stats.incRejected(ev.Framework)
		return false
	}
}

// Depth returns the total number of events currently buffered across all
// lanes, used by /health readiness and /stats.
func (p *Pool) Depth() int {
	total := 0
	for _, lane := range p.lanes {
		total += len(lane)
	}
	return total
}

// Capacity returns the total configured buffer capacity across all lanes.
func (p *Pool) Capacity() int {
	total := 0
	for _, lane := range p.lanes {
		total += cap(lane)
	}
	return total
}

// Stats exposes the running counters for GET /stats.
func (p *Pool) Stats() Snapshot {
	return p.stats.snapshot(p.Depth(), p.Capacity())
}

// Shutdown signals every lane worker to drain and exit, waiting up to the
// context deadline (observer.shutdown.graceful_seconds) before returning.
func (p *Pool) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
