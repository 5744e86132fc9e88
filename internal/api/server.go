package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/harrier/internal/alerts"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ml"
	"github.com/opensource-finance/harrier/internal/reports"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, store *alerts.Store, generator *reports.Generator, classifier *ml.Classifier, screening *rules.ScreeningEngine, scored []domain.ScoredTransaction, version string) *Server {
	handler := NewHandler(repo, cache, bus, store, generator, classifier, screening, scored, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	router.Get("/ready", handler.Ready)

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", handler.Health)

		// Alert lifecycle
		r.Get("/flags", handler.ListFlags)
		r.Post("/alerts/resolve", handler.ResolveAlert)
		r.Get("/alerts/resolved", handler.ListResolved)
		r.Get("/risk/summary", handler.RiskSummary)

		// Case support
		r.Get("/audit/logs", handler.AuditLogs)
		r.Get("/remediation/tasks", handler.RemediationTasks)
		r.Get("/export/fraud.csv", handler.ExportFraudCSV)

		// Monthly reports
		r.Get("/reports/monthly", handler.ListReports)
		r.Post("/reports/generate", handler.GenerateReport)
		r.Get("/reports/download", handler.DownloadReport)

		// Advisory classifier
		r.Get("/model", handler.ModelInfo)
		r.Post("/model/train", handler.TrainModel)
		r.Post("/model/predict", handler.Predict)

		// Screening rule management
		r.Get("/screening/rules", handler.ListScreeningRules)
		r.Post("/screening/rules", handler.CreateScreeningRule)
		r.Delete("/screening/rules/{id}", handler.DeleteScreeningRule)
		r.Post("/screening/rules/reload", handler.ReloadScreeningRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
