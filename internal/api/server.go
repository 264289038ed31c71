package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/medical-examination-assistant/internal/domain"
	"github.com/medical-examination-assistant/internal/feedback"
	"github.com/medical-examination-assistant/internal/middleware"
	"github.com/medical-examination-assistant/internal/observe"
	"github.com/medical-examination-assistant/internal/service"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// Services are the components the handlers delegate to
type Services struct {
	Store       domain.ClinicalStore
	Comparisons feedback.Store
	Speech      *service.TranscriptionService
	Pipeline    *service.AgentPipeline
	Matcher     *service.MatchingEngine
	Patients    *service.PatientService
	Sessions    *service.SessionService
	Dashboard   *service.DashboardService

	// Metrics and MetricsHandler are optional
	Metrics        *observe.Metrics
	MetricsHandler http.Handler
}

// Server represents the HTTP server
type Server struct {
	config   *domain.Config
	services Services
	router   *gin.Engine
	server   *http.Server
	logger   *logrus.Logger
	now      func() time.Time
}

// NewServer creates a new HTTP server instance
func NewServer(config *domain.Config, services Services, logger *logrus.Logger) *Server {
	if config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger(logger.Out))
	router.Use(middleware.CORS(config.Server.CORSOrigins))
	router.Use(middleware.RateLimit(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst))
	router.Use(middleware.RequestTimeout(config.Server.RequestTimeout))
	router.Use(middleware.Metrics(services.Metrics))

	server := &Server{
		config:   config,
		services: services,
		router:   router,
		logger:   logger,
		now:      time.Now,
	}

	server.setupRoutes()

	return server
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.services.MetricsHandler != nil {
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(s.services.MetricsHandler))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/stt", s.handleSpeechToText)
		v1.GET("/stt/health", s.handleSpeechHealth)

		v1.POST("/analysis", s.handleAnalysis)

		patients := v1.Group("/patients")
		patients.POST("", s.handleCreatePatient)
		patients.GET("", s.handleListPatients)
		patients.GET("/by-display-id/:displayId", s.handleGetPatientByDisplayID)
		patients.GET("/:id", s.handleGetPatient)
		patients.PUT("/:id", s.handleUpdatePatient)
		patients.DELETE("/:id", s.handleDeletePatient)
		patients.GET("/:id/history", s.handlePatientHistory)

		sessions := v1.Group("/sessions")
		sessions.POST("", s.handleCreateSession)
		sessions.GET("", s.handleListSessions)
		sessions.GET("/:id", s.handleGetSession)
		sessions.PATCH("/:id/status", s.handleUpdateSessionStatus)
		sessions.PUT("/:id/record", s.handleSaveRecord)
		sessions.GET("/:id/record", s.handleGetRecord)
		sessions.GET("/:id/comparisons", s.handleSessionComparisons)
		sessions.GET("/:id/analysis/stream", s.handleAnalysisStream)

		comparisons := v1.Group("/comparisons")
		comparisons.POST("", s.handleCreateComparison)
		comparisons.GET("", s.handleListComparisons)
		comparisons.GET("/stats", s.handleComparisonStats)
		comparisons.GET("/:id", s.handleGetComparison)
		comparisons.DELETE("/:id", s.handleDeleteComparison)

		dashboard := v1.Group("/dashboard")
		dashboard.GET("/stats", s.handleDashboardStats)
		dashboard.GET("/patients", s.handleDashboardPatients)
	}
}

// handleHealth reports liveness and storage health
func (s *Server) handleHealth(c *gin.Context) {
	status, storage := "healthy", "ok"
	code := http.StatusOK
	if err := s.services.Store.Health(c.Request.Context()); err != nil {
		s.logger.WithError(err).Warn("Storage health check failed")
		status, storage = "degraded", "unavailable"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"storage":   storage,
		"timestamp": s.now().UTC(),
		"version":   Version,
	})
}

// intQuery reads a positive integer query parameter, 0 when absent or malformed
func intQuery(c *gin.Context, name string) int {
	var n int
	if _, err := fmt.Sscanf(c.Query(name), "%d", &n); err != nil || n < 0 {
		return 0
	}
	return n
}
