// Package api wires the HTTP surface of the prana binary: workflow
// and execution REST endpoints, a webhook trigger/resume endpoint, a
// websocket event stream, and health/metrics. Grounded on
// internal/gateway/server/server.go's Option-based construction and
// middleware chain, and on cmd/services/api/main.go's
// buildMiddlewareChain (here recovery is outermost, then logging, then
// auth, then rate limit, with CORS innermost) — adapted from a reverse proxy
// in front of per-concern microservices into a router serving this
// binary's own handlers directly.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/prana-run/prana/internal/api/realtime"
	"github.com/prana-run/prana/internal/execution/service"
	wfservice "github.com/prana-run/prana/internal/workflow/service"
	"github.com/prana-run/prana/internal/platform/config"
	"github.com/prana-run/prana/internal/platform/health"
	"github.com/prana-run/prana/internal/platform/logger"
	"github.com/prana-run/prana/internal/platform/metrics"
	pkgmw "github.com/prana-run/prana/pkg/middleware"
)

// Server hosts prana's HTTP and websocket API.
type Server struct {
	cfg        *config.Config
	logger     logger.Logger
	httpServer *http.Server
	hub        *realtime.Hub

	workflows  *wfservice.WorkflowService
	executions *service.ExecutionService
	health     *health.Handler
	metrics    *metrics.Metrics
}

// New builds a Server and its router; call Start to listen.
func New(cfg *config.Config, log logger.Logger, hub *realtime.Hub, workflows *wfservice.WorkflowService, executions *service.ExecutionService, healthHandler *health.Handler, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     log,
		hub:        hub,
		workflows:  workflows,
		executions: executions,
		health:     healthHandler,
		metrics:    m,
	}
	s.buildRouter()
	return s
}

func (s *Server) buildRouter() {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", s.health.LivenessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.health.ReadinessHandler()).Methods(http.MethodGet)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	router.HandleFunc("/ws", s.hub.ServeWS)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/workflows", s.handleCreateWorkflow).Methods(http.MethodPost)
	api.HandleFunc("/workflows", s.handleListWorkflows).Methods(http.MethodGet)
	api.HandleFunc("/workflows/{id}", s.handleGetWorkflow).Methods(http.MethodGet)
	api.HandleFunc("/workflows/{id}", s.handleUpdateWorkflow).Methods(http.MethodPut)
	api.HandleFunc("/workflows/{id}", s.handleDeleteWorkflow).Methods(http.MethodDelete)
	api.HandleFunc("/workflows/{id}/activate", s.handleActivateWorkflow).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{id}/deactivate", s.handleDeactivateWorkflow).Methods(http.MethodPost)

	api.HandleFunc("/executions", s.handleTriggerExecution).Methods(http.MethodPost)
	api.HandleFunc("/executions", s.handleListExecutions).Methods(http.MethodGet)
	api.HandleFunc("/executions/{id}", s.handleGetExecution).Methods(http.MethodGet)
	api.HandleFunc("/executions/{id}/resume", s.handleResumeExecution).Methods(http.MethodPost)

	router.HandleFunc("/webhooks/{workflowId}/{nodeKey}", s.handleWebhookTrigger).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/executions/{id}", s.handleWebhookResume).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.HTTP.Port),
		Handler:      s.buildMiddlewareChain(router),
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
		IdleTimeout:  s.cfg.HTTP.IdleTimeout,
	}
}

func (s *Server) buildMiddlewareChain(router http.Handler) http.Handler {
	handler := router

	corsConfig := pkgmw.DefaultCORSConfig()
	handler = pkgmw.CORS(corsConfig)(handler)

	rateLimitConfig := pkgmw.DefaultRateLimitConfig()
	rateLimitConfig.SkipPaths = []string{"/healthz", "/readyz", "/metrics"}
	handler = pkgmw.RateLimit(rateLimitConfig)(handler)

	authConfig := pkgmw.DefaultAuthConfig()
	authConfig.JWTSecret = []byte(s.cfg.Auth.JWTSecret)
	authConfig.SkipPaths = append(authConfig.SkipPaths, "/healthz", "/readyz", "/metrics", "/ws", "/webhooks")
	handler = pkgmw.Auth(authConfig)(handler)

	handler = s.loggingMiddleware(handler)
	handler = pkgmw.SimpleRecovery(handler)

	return handler
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// Start begins serving and blocks until the server stops or errors.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "port", s.cfg.HTTP.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
