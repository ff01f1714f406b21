// Package event defines the canonical execution event model (C1): the
// versioned wire schema shared by every test framework that reports into
// the observer.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	appErrors "crossbridge/pkg/errors"
)

// Type enumerates the kinds of execution event the ingest service accepts.
type Type string

const (
	TypeTestStart     Type = "test_start"
	TypeTestEnd       Type = "test_end"
	TypeAPICall       Type = "api_call"
	TypeUIInteraction Type = "ui_interaction"
	TypeStep          Type = "step"
	TypeKeyword       Type = "keyword"
)

func (t Type) valid() bool {
	switch t {
	case TypeTestStart, TypeTestEnd, TypeAPICall, TypeUIInteraction, TypeStep, TypeKeyword:
		return true
	default:
		return false
	}
}

// Status enumerates terminal and non-terminal test outcomes.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
	StatusNone    Status = ""
)

func (s Status) valid() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped, StatusError, StatusNone:
		return true
	default:
		return false
	}
}

// IsFailure reports whether this status represents a failed test outcome,
// the trigger condition for the classification and detection pipeline.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusError
}

// DefaultSchemaVersion is stamped onto events that omit schema_version.
const DefaultSchemaVersion = "1.0"

// ExecutionEvent is immutable once accepted by the ingest service.
type ExecutionEvent struct {
	EventID       uuid.UUID      `json:"event_id"`
	EventType     Type           `json:"event_type"`
	Framework     string         `json:"framework"`
	TestID        string         `json:"test_id"`
	TestName      string         `json:"test_name"`
	Timestamp     time.Time      `json:"timestamp"`
	Status        Status         `json:"status"`
	DurationMS    int64          `json:"duration_ms"`
	ErrorMessage  string         `json:"error_message"`
	StackTrace    string         `json:"stack_trace"`
	Metadata      map[string]any `json:"metadata"`
	SchemaVersion string         `json:"schema_version"`
	RunID         string         `json:"run_id"`
}

// knownEventFields are the wire keys ExecutionEvent binds directly.
// UnmarshalJSON folds any other top-level key into Metadata instead of
// dropping it, so a client sending a field this build doesn't know about
// yet doesn't lose it.
var knownEventFields = map[string]bool{
	"event_id": true, "event_type": true, "framework": true, "test_id": true,
	"test_name": true, "timestamp": true, "status": true, "duration_ms": true,
	"error_message": true, "stack_trace": true, "metadata": true,
	"schema_version": true, "run_id": true,
}

// UnmarshalJSON decodes the fixed wire fields as usual, then folds any
// unrecognized top-level key into Metadata under its own name, preserving
// forward-compatible extra fields instead of silently dropping them.
func (e *ExecutionEvent) UnmarshalJSON(data []byte) error {
	type shadow ExecutionEvent
	var s shadow
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if knownEventFields[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			continue
		}
		if s.Metadata == nil {
			s.Metadata = map[string]any{}
		}
		s.Metadata[k] = val
	}

	*e = ExecutionEvent(s)
	return nil
}

// Normalize validates required fields, assigns a server-side event_id,
// and stamps the timestamp and schema_version if absent. Unrecognized
// top-level wire fields have already been folded into Metadata by
// UnmarshalJSON by the time Normalize runs.
func Normalize(raw *ExecutionEvent) (*ExecutionEvent, error) {
	if raw == nil {
		return nil, appErrors.NewValidationError("event body is empty", "")
	}
	if !raw.EventType.valid() {
		return nil, appErrors.NewValidationError("unknown event_type", string(raw.EventType))
	}
	if raw.Framework == "" {
		return nil, appErrors.NewValidationError("framework is required", "")
	}
	if raw.TestID == "" {
		return nil, appErrors.NewValidationError("test_id is required", "")
	}
	if !raw.Status.valid() {
		return nil, appErrors.NewValidationError("unknown status", string(raw.Status))
	}

	out := *raw
	out.EventID = uuid.New()
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	} else {
		out.Timestamp = out.Timestamp.UTC()
	}
	if out.SchemaVersion == "" {
		out.SchemaVersion = DefaultSchemaVersion
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return &out, nil
}

// StringSliceFromMetadata reads a []string-shaped value out of Metadata,
// tolerating the []any shape json.Unmarshal produces.
func StringSliceFromMetadata(meta map[string]any, key string) []string {
	raw, ok := meta[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// LogLines reads metadata.logs as a []string, if present.
func (e *ExecutionEvent) LogLines() []string {
	return StringSliceFromMetadata(e.Metadata, "logs")
}

// APICalls reads metadata.api_calls as a []string.
func (e *ExecutionEvent) APICalls() []string {
	return StringSliceFromMetadata(e.Metadata, "api_calls")
}

// PagesVisited reads metadata.pages_visited as a []string.
func (e *ExecutionEvent) PagesVisited() []string {
	return StringSliceFromMetadata(e.Metadata, "pages_visited")
}

// UIComponents reads metadata.ui_components as a []string.
func (e *ExecutionEvent) UIComponents() []string {
	return StringSliceFromMetadata(e.Metadata, "ui_components")
}

// Feature reads metadata.feature as a string, if present.
func (e *ExecutionEvent) Feature() string {
	if v, ok := e.Metadata["feature"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Retries reads metadata.retries as an int, defaulting to 0.
func (e *ExecutionEvent) Retries() int {
	switch v := e.Metadata["retries"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// NormalizedLogText builds the concatenated text that signal extractors and
// the classifier match against.
func (e *ExecutionEvent) NormalizedLogText() string {
	text := e.ErrorMessage + "\n" + e.StackTrace
	for _, line := range e.LogLines() {
		text += "\n" + line
	}
	return text
}
