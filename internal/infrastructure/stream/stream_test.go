package stream

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossbridge/internal/domain/drift"
)

func testSubscriber() *Subscriber {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewSubscriber(nil, logger)
}

func TestSubscriber_SubscribeUnsubscribe_RegistersAndClosesChannel(t *testing.T) {
	s := testSubscriber()
	ch := s.Subscribe()

	require.Contains(t, s.watchers, ch)

	s.Unsubscribe(ch)
	assert.NotContains(t, s.watchers, ch)

	_, open := <-ch
	assert.False(t, open, "unsubscribe must close the channel")
}

func TestSubscriber_Dispatch_FansOutToEveryWatcher(t *testing.T) {
	s := testSubscriber()
	ch1 := s.Subscribe()
	ch2 := s.Subscribe()

	sig := drift.Signal{Type: drift.SignalFlaky, TargetID: "t1"}
	body, err := json.Marshal(sig)
	require.NoError(t, err)

	s.dispatch(redis.XMessage{Values: map[string]any{"signal": string(body)}})

	got1 := <-ch1
	got2 := <-ch2
	assert.Equal(t, sig.TargetID, got1.TargetID)
	assert.Equal(t, sig.TargetID, got2.TargetID)
}

func TestSubscriber_Dispatch_DropsSignalForFullWatcherChannel(t *testing.T) {
	s := testSubscriber()
	ch := s.Subscribe()

	sig := drift.Signal{Type: drift.SignalFlaky, TargetID: "t1"}
	body, err := json.Marshal(sig)
	require.NoError(t, err)

	msg := redis.XMessage{Values: map[string]any{"signal": string(body)}}
	for i := 0; i < cap(ch)+10; i++ {
		s.dispatch(msg)
	}

	assert.Len(t, ch, cap(ch), "a full watcher channel must never block dispatch")
}

func TestSubscriber_Dispatch_IgnoresMalformedPayload(t *testing.T) {
	s := testSubscriber()
	ch := s.Subscribe()

	s.dispatch(redis.XMessage{Values: map[string]any{"signal": "not json"}})
	s.dispatch(redis.XMessage{Values: map[string]any{"other_key": "x"}})

	select {
	case <-ch:
		t.Fatal("malformed payloads must never reach a watcher")
	default:
	}
}
