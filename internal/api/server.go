package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentops/agentops-core/internal/api/handlers"
	"github.com/agentops/agentops-core/internal/api/middleware"
	"github.com/agentops/agentops-core/internal/config"
	"github.com/agentops/agentops-core/internal/rca"
	"github.com/agentops/agentops-core/internal/search"
	"github.com/agentops/agentops-core/internal/storage"
	"github.com/agentops/agentops-core/pkg/cache"
	"github.com/agentops/agentops-core/pkg/logger"
)

// Server is the AGENTOPS-CORE REST API: telemetry ingestion, RCA job
// management and the progress streaming gateway.
type Server struct {
	config     *config.Config
	logger     logger.Logger
	store      storage.Store
	cache      cache.Valkey
	progress   *rca.ProgressPublisher
	reports    *search.ReportIndex
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer wires middleware, handlers and routes. reports may be nil when
// search is disabled.
func NewServer(
	cfg *config.Config,
	log logger.Logger,
	store storage.Store,
	valkey cache.Valkey,
	progress *rca.ProgressPublisher,
	reports *search.ReportIndex,
) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		config:   cfg,
		logger:   log,
		store:    store,
		cache:    valkey,
		progress: progress,
		reports:  reports,
		router:   gin.New(),
	}

	server.setupMiddleware()
	server.setupRoutes()
	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.CORSMiddleware(s.config.CORS))
	s.router.Use(middleware.RequestLogger(s.logger))
	s.router.Use(middleware.MetricsMiddleware())

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.store, s.cache, s.logger)
	s.router.GET("/health", healthHandler.HealthCheck)
	s.router.GET("/ready", healthHandler.ReadinessCheck)

	agentRuns := handlers.NewAgentRunsHandler(s.store, s.logger)
	rcaRuns := handlers.NewRCARunsHandler(s.store, s.cache, s.config.Queue.Name, s.config.RCA.ReuseWindow(), s.logger)
	stream := handlers.NewStreamHandler(s.store, s.progress, s.config.Stream.KeepAlive(), s.logger)
	reportSearch := handlers.NewReportSearchHandler(s.reports, s.logger)

	v1 := s.router.Group("/api/v1")
	v1.GET("/health", healthHandler.HealthCheck)
	v1.GET("/ready", healthHandler.ReadinessCheck)

	v1.POST("/agent-runs", agentRuns.Ingest)
	v1.GET("/agent-runs/:id", agentRuns.Get)
	v1.POST("/agent-runs/:id/rca-runs", rcaRuns.Create)
	v1.GET("/agent-runs/:id/rca-runs", rcaRuns.List)

	v1.POST("/rca-runs", rcaRuns.Create)
	v1.GET("/rca-runs/:id", rcaRuns.Get)
	v1.GET("/rca-runs/:id/stream", stream.StreamSSE)
	v1.GET("/rca-runs/:id/stream/ws", stream.StreamWS)

	v1.GET("/rca-reports/search", reportSearch.Search)
}

// Start serves until ctx is cancelled, then shuts down gracefully. In-flight
// requests (including open progress streams) get 30 seconds to drain.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.config.Port),
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: progress streams stay open for the life of a job.
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("AGENTOPS-CORE REST API server starting", "port", s.config.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		s.logger.Info("Shutting down AGENTOPS-CORE gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Handler returns the underlying Gin engine so tests can mount it.
func (s *Server) Handler() http.Handler {
	return s.router
}
