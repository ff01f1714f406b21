package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appErrors "crossbridge/pkg/errors"
)

// APIResponse is the standard envelope used by every handler in the ingest
// service.
type APIResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
	Success bool        `json:"success"`
}

// APIError carries error information in failed responses.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Type    string `json:"type,omitempty"`
}

// Meta carries response metadata: request tracking and timestamp.
type Meta struct {
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Version   string `json:"version,omitempty"`
}

// Success returns a 200 OK response with data.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data, Meta: getMeta(c)})
}

// SuccessWithStatus returns a successful response with a custom status code.
func SuccessWithStatus(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, APIResponse{Success: true, Data: data, Meta: getMeta(c)})
}

// Accepted returns a 202 Accepted response, used on single-event enqueue.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, APIResponse{Success: true, Data: data, Meta: getMeta(c)})
}

// Error returns an error response derived from an AppError, or a generic 500
// for any other error type.
func Error(c *gin.Context, err error) {
	var statusCode int
	var apiError *APIError

	if appErr, ok := appErrors.IsAppError(err); ok {
		statusCode = appErr.StatusCode
		apiError = &APIError{
			Code:    string(appErr.Type),
			Message: appErr.Message,
			Details: appErr.Details,
			Type:    string(appErr.Type),
		}
	} else {
		statusCode = http.StatusInternalServerError
		apiError = &APIError{
			Code:    string(appErrors.InternalError),
			Message: "internal server error",
			Type:    string(appErrors.InternalError),
		}
	}

	c.JSON(statusCode, APIResponse{Success: false, Error: apiError, Meta: getMeta(c)})
}

// ErrorWithStatus returns an error response with an explicit status code.
func ErrorWithStatus(c *gin.Context, statusCode int, code, message, details string) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message, Details: details},
		Meta:    getMeta(c),
	})
}

// ValidationFailed returns a 400 Bad Request for a malformed event.
func ValidationFailed(c *gin.Context, message, details string) {
	ErrorWithStatus(c, http.StatusBadRequest, string(appErrors.ValidationError), message, details)
}

// PayloadTooLarge returns a 413 for an oversized request body.
func PayloadTooLarge(c *gin.Context, message string) {
	ErrorWithStatus(c, http.StatusRequestEntityTooLarge, string(appErrors.PayloadTooLargeError), message, "")
}

// RateLimited returns a 429 when the bounded ingest queue is full.
func RateLimited(c *gin.Context, message string) {
	if message == "" {
		message = "ingest queue is full"
	}
	ErrorWithStatus(c, http.StatusTooManyRequests, string(appErrors.RateLimitError), message, "")
}

// Unauthorized returns a 401 for an unauthenticated admin request.
func Unauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "unauthorized"
	}
	ErrorWithStatus(c, http.StatusUnauthorized, string(appErrors.UnauthorizedError), message, "")
}

// NotFound returns a 404 for an unknown resource.
func NotFound(c *gin.Context, resource string) {
	ErrorWithStatus(c, http.StatusNotFound, string(appErrors.NotFoundError), resource+" not found", "")
}

// InternalServerError returns a 500 for an unexpected internal failure.
func InternalServerError(c *gin.Context, message string) {
	if message == "" {
		message = "internal server error"
	}
	ErrorWithStatus(c, http.StatusInternalServerError, string(appErrors.InternalError), message, "")
}

func getMeta(c *gin.Context) *Meta {
	meta := &Meta{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "v1",
	}
	if requestID, exists := c.Get("request_id"); exists {
		if id, ok := requestID.(string); ok {
			meta.RequestID = id
		}
	}
	return meta
}
