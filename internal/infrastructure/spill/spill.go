// Package spill implements the local spill log for the Event Persistence
// Layer (C9): events that fail to persist are appended here instead of
// blocking the ingest pipeline, and a background retrier drains them.
package spill

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"crossbridge/internal/domain/event"
)

// Log is an append-only, newline-delimited JSON file of dead-lettered
// events. It never blocks the caller on anything but a local disk write.
type Log struct {
	mu   sync.Mutex
	path string
}

// NewLog returns a spill log at path; the file itself is created on the
// first Append.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Append writes ev to the spill log and returns any write error (EventWriter
// discards it); there is no further fallback — the event is lost only if the
// local disk itself is unwritable.
func (l *Log) Append(ev *event.ExecutionEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = f.Write(data)
	return err
}

// Drain reads every spilled event, invokes retry for each in file order,
// and rewrites the log with only the events retry reported as still
// failing. retry returning nil means the event persisted successfully and
// it is dropped from the log.
func (l *Log) Drain(retry func(*event.ExecutionEvent) error) (retried, remaining int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}

	var kept []*event.ExecutionEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		var ev event.ExecutionEvent
		if jsonErr := json.Unmarshal(scanner.Bytes(), &ev); jsonErr != nil {
			continue // corrupt line, drop it rather than wedge the retrier forever
		}
		retried++
		if retryErr := retry(&ev); retryErr != nil {
			kept = append(kept, &ev)
		}
	}
	f.Close()
	if scanErr := scanner.Err(); scanErr != nil {
		return retried, len(kept), scanErr
	}

	if err := l.rewrite(kept); err != nil {
		return retried, len(kept), err
	}
	return retried, len(kept), nil
}

func (l *Log) rewrite(events []*event.ExecutionEvent) error {
	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}
