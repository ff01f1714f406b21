// Package stream implements the optional live DriftSignal feed (SPEC_FULL
// §"supplemental features"): DriftSignals are published to a Redis Stream
// as they're emitted, and GET /ws/drift tails that stream to push them to
// connected websocket clients in near-real-time.
package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"crossbridge/internal/domain/drift"
)

// StreamKey is the Redis Stream DriftSignals are published to.
const StreamKey = "crossbridge:drift_signals"

// maxStreamLen approximately caps the stream so it never grows unbounded;
// Redis trims with ~ (approximate) MAXLEN for performance.
const maxStreamLen = 100_000

// Publisher implements drift.Sink by appending every Signal to a Redis
// Stream via XAdd. Each publish is synchronous but bounded by a 2s timeout,
// so a slow Redis blocks the caller for at most that long; publish
// failures are logged and dropped, matching the ambient "a dropped
// DriftSignal is a monitoring gap, not a data-loss event" rule the
// Postgres-backed sink (DriftRepository) also follows.
type Publisher struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewPublisher constructs a Publisher over an established Redis client.
func NewPublisher(client *redis.Client, logger *logrus.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// Emit implements drift.Sink.
func (p *Publisher) Emit(s drift.Signal) {
	body, err := json.Marshal(s)
	if err != nil {
		p.logger.WithError(err).Error("failed to marshal drift signal for stream publish")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{"signal": body},
	}).Err(); err != nil {
		p.logger.WithError(err).Warn("drift signal stream publish failed")
	}
}

// Subscriber tails the Redis Stream from the moment it starts and fans
// each decoded Signal out to every currently-registered channel — the
// fan-out backing GET /ws/drift's "one goroutine per connected client"
// model.
type Subscriber struct {
	client *redis.Client
	logger *logrus.Logger

	mu       sync.Mutex
	watchers map[chan drift.Signal]struct{}
}

// NewSubscriber constructs a Subscriber over client. Run must be called
// once (typically from the app's errgroup) to start tailing.
func NewSubscriber(client *redis.Client, logger *logrus.Logger) *Subscriber {
	return &Subscriber{client: client, logger: logger, watchers: make(map[chan drift.Signal]struct{})}
}

// Subscribe registers a channel to receive every subsequently-read Signal.
// The caller must call Unsubscribe on disconnect. The returned channel is
// buffered so one slow websocket write never blocks the stream-reading
// goroutine for other clients.
func (s *Subscriber) Subscribe() chan drift.Signal {
	ch := make(chan drift.Signal, 64)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

// Unsubscribe deregisters and closes ch.
func (s *Subscriber) Unsubscribe(ch chan drift.Signal) {
	s.mu.Lock()
	delete(s.watchers, ch)
	s.mu.Unlock()
	close(ch)
}

// Run blocks, tailing StreamKey with XRead until ctx is cancelled. Each
// read batch is fanned out to every registered watcher without blocking on
// a full watcher channel (a slow client drops intermediate signals rather
// than stalling the reader).
func (s *Subscriber) Run(ctx context.Context) error {
	lastID := "$"
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{StreamKey, lastID},
			Block:   5 * time.Second,
			Count:   100,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			s.logger.WithError(err).Warn("drift signal stream read failed, retrying")
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				s.dispatch(msg)
			}
		}
	}
}

func (s *Subscriber) dispatch(msg redis.XMessage) {
	raw, ok := msg.Values["signal"].(string)
	if !ok {
		return
	}
	var signal drift.Signal
	if err := json.Unmarshal([]byte(raw), &signal); err != nil {
		s.logger.WithError(err).Warn("failed to decode drift signal from stream")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.watchers {
		select {
		case ch <- signal:
		default:
		}
	}
}
