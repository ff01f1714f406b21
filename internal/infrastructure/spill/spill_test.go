package spill

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossbridge/internal/domain/event"
)

func testEvent(testID string) *event.ExecutionEvent {
	return &event.ExecutionEvent{
		EventID:   uuid.New(),
		EventType: event.TypeTestEnd,
		Framework: "pytest",
		TestID:    testID,
		Status:    event.StatusFailed,
	}
}

func TestLog_Drain_OnMissingFileReturnsZeroWithoutError(t *testing.T) {
	log := NewLog(filepath.Join(t.TempDir(), "spill.jsonl"))

	retried, remaining, err := log.Drain(func(*event.ExecutionEvent) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, 0, retried)
	assert.Equal(t, 0, remaining)
}

func TestLog_AppendThenDrain_RetriesEveryAppendedEventInOrder(t *testing.T) {
	log := NewLog(filepath.Join(t.TempDir(), "spill.jsonl"))
	require.NoError(t, log.Append(testEvent("t1")))
	require.NoError(t, log.Append(testEvent("t2")))
	require.NoError(t, log.Append(testEvent("t3")))

	var order []string
	retried, remaining, err := log.Drain(func(ev *event.ExecutionEvent) error {
		order = append(order, ev.TestID)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, retried)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, []string{"t1", "t2", "t3"}, order)
}

func TestLog_Drain_KeepsEventsThatStillFailRetry(t *testing.T) {
	log := NewLog(filepath.Join(t.TempDir(), "spill.jsonl"))
	require.NoError(t, log.Append(testEvent("ok")))
	require.NoError(t, log.Append(testEvent("still-failing")))

	_, remaining, err := log.Drain(func(ev *event.ExecutionEvent) error {
		if ev.TestID == "still-failing" {
			return errors.New("persist still failing")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	// A second drain must only see the one event that remained.
	var seenSecondPass []string
	_, remaining2, err := log.Drain(func(ev *event.ExecutionEvent) error {
		seenSecondPass = append(seenSecondPass, ev.TestID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"still-failing"}, seenSecondPass)
	assert.Equal(t, 0, remaining2)
}

func TestLog_Drain_DropsCorruptLinesWithoutWedging(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spill.jsonl")
	log := NewLog(path)
	require.NoError(t, log.Append(testEvent("good")))

	// Simulate a corrupt trailing line written by a crashed process.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var seen []string
	retried, remaining, err := log.Drain(func(ev *event.ExecutionEvent) error {
		seen = append(seen, ev.TestID)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, retried)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, []string{"good"}, seen)
}
