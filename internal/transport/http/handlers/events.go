// Package handlers implements the Ingest HTTP Service (C10): thin gin
// handlers that validate, normalize, and enqueue ExecutionEvents, and
// expose the operational surface (health, stats, admin reload, metrics,
// the live drift feed).
package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"crossbridge/internal/domain/event"
	appErrors "crossbridge/pkg/errors"
	"crossbridge/pkg/response"
)

// isBodyTooLarge reports whether err is the read error http.MaxBytesReader
// produces once middleware.BodySizeLimit's cap is exceeded, so it can be
// told apart from an ordinary malformed-JSON error.
func isBodyTooLarge(err error) bool {
	return err != nil && strings.Contains(err.Error(), "http: request body too large")
}

// Queue is the subset of pipeline.Pool the ingest handlers depend on.
type Queue interface {
	Submit(ev *event.ExecutionEvent) bool
}

// EventHandlers implements POST /events and POST /events/batch.
type EventHandlers struct {
	logger *slog.Logger
	queue  Queue
}

// NewEventHandlers constructs an EventHandlers.
func NewEventHandlers(logger *slog.Logger, queue Queue) *EventHandlers {
	return &EventHandlers{logger: logger, queue: queue}
}

// PostEvent handles a single ExecutionEvent: validate, normalize, enqueue.
// 202 Accepted on success, 400 on a malformed event, 429 when the bounded
// queue is full.
func (h *EventHandlers) PostEvent(c *gin.Context) {
	var raw event.ExecutionEvent
	if err := c.ShouldBindJSON(&raw); err != nil {
		if isBodyTooLarge(err) {
			response.PayloadTooLarge(c, "event body exceeds the maximum allowed size")
			return
		}
		response.ValidationFailed(c, "malformed event body", err.Error())
		return
	}

	ev, err := event.Normalize(&raw)
	if err != nil {
		if appErr, ok := appErrors.IsAppError(err); ok {
			response.ValidationFailed(c, appErr.Message, appErr.Details)
			return
		}
		response.ValidationFailed(c, "invalid event", err.Error())
		return
	}

	if !h.queue.Submit(ev) {
		response.RateLimited(c, "")
		return
	}

	response.Accepted(c, gin.H{"event_id": ev.EventID, "status": "accepted"})
}

// batchResult is one event's outcome in a batch response, per the wire
// contract: an accepted event carries event_id/accepted:true, a rejected
// one carries only error.
type batchResult struct {
	EventID  string `json:"event_id,omitempty"`
	Accepted bool   `json:"accepted,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PostEventsBatch handles a batch of ExecutionEvents: every event is
// validated and enqueued independently, so one malformed event in a batch
// never rejects the rest. Responds 202 if every event in the batch was
// accepted, 207 Multi-Status otherwise, with a per-event results array.
func (h *EventHandlers) PostEventsBatch(c *gin.Context) {
	var body struct {
		Events []event.ExecutionEvent `json:"events"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		if isBodyTooLarge(err) {
			response.PayloadTooLarge(c, "batch body exceeds the maximum allowed size")
			return
		}
		response.ValidationFailed(c, "malformed batch body", err.Error())
		return
	}
	if len(body.Events) == 0 {
		response.ValidationFailed(c, "events array is empty", "")
		return
	}

	results := make([]batchResult, len(body.Events))
	allAccepted := true
	for i := range body.Events {
		raw := body.Events[i]
		ev, err := event.Normalize(&raw)
		if err != nil {
			msg := err.Error()
			if appErr, ok := appErrors.IsAppError(err); ok {
				msg = appErr.Message
			}
			results[i] = batchResult{Error: msg}
			allAccepted = false
			continue
		}
		if !h.queue.Submit(ev) {
			results[i] = batchResult{Error: "ingest queue is full"}
			allAccepted = false
			continue
		}
		results[i] = batchResult{EventID: ev.EventID.String(), Accepted: true}
	}

	status := http.StatusMultiStatus
	if allAccepted {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"results": results})
}
