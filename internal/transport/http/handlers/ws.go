package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"crossbridge/internal/domain/drift"
)

// DriftSubscriber is the subset of stream.Subscriber the websocket handler
// depends on.
type DriftSubscriber interface {
	Subscribe() chan drift.Signal
	Unsubscribe(chan drift.Signal)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The drift feed is a read-only broadcast with no cross-origin
	// credentials in play; any origin may observe it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second
const wsPingInterval = 30 * time.Second

// DriftFeedHandlers implements GET /ws/drift.
type DriftFeedHandlers struct {
	logger     *slog.Logger
	subscriber DriftSubscriber
}

// NewDriftFeedHandlers constructs a DriftFeedHandlers. subscriber may be
// nil if the Redis-backed live feed is not configured, in which case
// GetDriftFeed answers 503.
func NewDriftFeedHandlers(logger *slog.Logger, subscriber DriftSubscriber) *DriftFeedHandlers {
	return &DriftFeedHandlers{logger: logger, subscriber: subscriber}
}

// GetDriftFeed upgrades to a websocket and streams every DriftSignal
// emitted from the moment the client connects, until it disconnects.
func (h *DriftFeedHandlers) GetDriftFeed(c *gin.Context) {
	if h.subscriber == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "drift feed is not enabled"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := h.subscriber.Subscribe()
	defer h.subscriber.Unsubscribe(ch)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case signal, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(signal); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
