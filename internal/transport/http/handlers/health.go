package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"crossbridge/internal/pipeline"
)

// Pinger is a dependency the readiness check pings; every infra
// connection (Postgres, ClickHouse, Redis) implements this.
type Pinger interface {
	Health() error
}

// StatsSource is the subset of pipeline.Pool GET /stats reports on.
type StatsSource interface {
	Stats() pipeline.Snapshot
}

// OperationalHandlers implements GET /health and GET /stats.
type OperationalHandlers struct {
	startedAt time.Time
	pingers   map[string]Pinger
	stats     StatsSource
}

// NewOperationalHandlers constructs an OperationalHandlers. pingers maps a
// human-readable dependency name ("postgres", "clickhouse", "redis") to
// its health check.
func NewOperationalHandlers(pingers map[string]Pinger, stats StatsSource) *OperationalHandlers {
	return &OperationalHandlers{startedAt: time.Now(), pingers: pingers, stats: stats}
}

// queueDepthReadyFraction is the queue_depth/queue_capacity ratio above
// which readiness reports storage as degraded even if every dependency
// ping succeeds — a queue this full is about to start rejecting events.
const queueDepthReadyFraction = 0.8

// GetHealth reports liveness, each dependency's reachability, and the
// ingest queue's depth. Returns 200 if every dependency is healthy and
// the queue is below queueDepthReadyFraction full, 503 otherwise —
// dependency failures never take down the process, but readiness probes
// should stop routing traffic to it.
func (h *OperationalHandlers) GetHealth(c *gin.Context) {
	checks := make(gin.H, len(h.pingers))
	healthy := true
	for name, pinger := range h.pingers {
		if err := pinger.Health(); err != nil {
			checks[name] = gin.H{"status": "unhealthy", "error": err.Error()}
			healthy = false
		} else {
			checks[name] = gin.H{"status": "healthy"}
		}
	}

	var queueDepth int
	storage := "ok"
	if h.stats != nil {
		snap := h.stats.Stats()
		queueDepth = snap.QueueDepth
		if snap.QueueCapacity > 0 && float64(snap.QueueDepth)/float64(snap.QueueCapacity) >= queueDepthReadyFraction {
			storage = "degraded"
			healthy = false
		}
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	c.JSON(status, gin.H{
		"status":      overall,
		"uptime_s":    time.Since(h.startedAt).Seconds(),
		"components":  checks,
		"queue_depth": queueDepth,
		"storage":     storage,
	})
}

// GetStats reports the processing pipeline's running counters and latency
// percentiles, per C11/C10's operational surface.
func (h *OperationalHandlers) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Stats())
}
