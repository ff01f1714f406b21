package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"crossbridge/internal/config"
	"crossbridge/internal/transport/http/handlers"
	"crossbridge/internal/transport/http/middleware"
)

// maxEventBodyBytes caps a single request body; oversized bodies are
// rejected with 413 before JSON parsing is attempted.
const maxEventBodyBytes = 10 << 20 // 10MB

// Server is the Ingest HTTP Service (C10).
type Server struct {
	config *config.Config
	logger *logrus.Logger
	engine *gin.Engine
	server *http.Server

	events    *handlers.EventHandlers
	ops       *handlers.OperationalHandlers
	admin     *handlers.AdminHandlers
	driftFeed *handlers.DriftFeedHandlers
}

// NewServer wires the gin engine over the already-constructed handler
// groups; the caller (internal/app) owns building those from the
// pipeline, rule registry, and infra connections.
func NewServer(
	cfg *config.Config,
	logger *logrus.Logger,
	events *handlers.EventHandlers,
	ops *handlers.OperationalHandlers,
	admin *handlers.AdminHandlers,
	driftFeed *handlers.DriftFeedHandlers,
) *Server {
	return &Server{
		config:    cfg,
		logger:    logger,
		events:    events,
		ops:       ops,
		admin:     admin,
		driftFeed: driftFeed,
	}
}

// Start builds the gin engine, registers routes, and blocks serving HTTP
// until the listener is closed (by Shutdown).
func (s *Server) Start() error {
	if s.config.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.engine = gin.New()

	// The ingest API has no browser-facing session; any origin may post
	// events or read operational endpoints.
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Authorization", "Content-Type", "X-Request-ID"}
	s.engine.Use(cors.New(corsConfig))

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.GetAPIAddress(),
		Handler:      s.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.WithField("address", s.config.GetAPIAddress()).Info("starting ingest HTTP service")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ingest HTTP service stopped: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger(s.logger))
	s.engine.Use(middleware.Recovery(s.logger))
	s.engine.Use(middleware.Metrics())
	s.engine.Use(middleware.BodySizeLimit(maxEventBodyBytes))

	s.engine.GET("/health", s.ops.GetHealth)
	s.engine.GET("/stats", s.ops.GetStats)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine.POST("/events", s.events.PostEvent)
	s.engine.POST("/events/batch", s.events.PostEventsBatch)

	admin := s.engine.Group("/admin")
	admin.Use(middleware.AdminAuth(s.config))
	admin.POST("/reload", s.admin.PostAdminReload)

	if s.driftFeed != nil {
		s.engine.GET("/ws/drift", s.driftFeed.GetDriftFeed)
	}
}
