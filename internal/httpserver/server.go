// Package httpserver exposes the insights services over HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/radiusdt/vector-insights/internal/anomaly"
	"github.com/radiusdt/vector-insights/internal/config"
	"github.com/radiusdt/vector-insights/internal/executor"
	"github.com/radiusdt/vector-insights/internal/metrics"
	"github.com/radiusdt/vector-insights/internal/middleware"
	"github.com/radiusdt/vector-insights/internal/models"
	"github.com/radiusdt/vector-insights/internal/pacing"
	"github.com/radiusdt/vector-insights/internal/storage"
	"github.com/radiusdt/vector-insights/internal/tasks"
	"github.com/radiusdt/vector-insights/internal/tenant"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodyBytes     = 10 << 20
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Dependencies holds everything the handlers need.
type Dependencies struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	Store     storage.Store
	Resolver  *tenant.Resolver
	Executor  *executor.Executor
	Anomalies *anomaly.Service
	Planner   *pacing.Planner
	Syncer    *tasks.Syncer
	Analyzer  *tasks.Analyzer

	// Limiter is shared with the process so idle clients can be swept.
	Limiter *middleware.RateLimitMiddleware
	Health  map[string]HealthCheck
}

// Server wraps the HTTP handlers.
type Server struct {
	store     storage.Store
	resolver  *tenant.Resolver
	exec      *executor.Executor
	anomalies *anomaly.Service
	planner   *pacing.Planner
	syncer    *tasks.Syncer
	analyzer  *tasks.Analyzer
	health    map[string]HealthCheck
	logger    *zap.Logger
	now       func() time.Time
}

// NewServer constructs the http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	s := &Server{
		store:     deps.Store,
		resolver:  deps.Resolver,
		exec:      deps.Executor,
		anomalies: deps.Anomalies,
		planner:   deps.Planner,
		syncer:    deps.Syncer,
		analyzer:  deps.Analyzer,
		health:    deps.Health,
		logger:    deps.Logger.Named("http"),
		now:       time.Now,
	}
	cfg := deps.Config

	limiter := deps.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimitMiddleware(cfg.RateLimit, deps.Logger, deps.Metrics)
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger).Handler)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, "/health", cfg.Metrics.Path).Handler)
	r.Use(middleware.NewAuthMiddleware(cfg.Auth, deps.Logger).Handler)
	r.Use(limiter.Handler)

	r.Get("/health", s.handleHealth)
	if cfg.Metrics.Enabled && deps.Gatherer != nil {
		r.Method(http.MethodGet, cfg.Metrics.Path, metrics.Handler(deps.Gatherer))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/tools", s.handleTools)
		r.Post("/admin/retention", s.handleRetention)

		r.Get("/tenants", s.handleListTenants)
		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Get("/context", s.handleTenantContext)
			r.Post("/invalidate", s.handleInvalidate)
			r.Put("/credentials/{service}", s.handleUpdateCredentials)

			r.Post("/metrics", s.handleIngest)
			r.Get("/summary", s.handleSummary)
			r.Get("/campaigns", s.handleCampaigns)
			r.Get("/trend", s.handleTrend)

			r.Put("/catalog", s.handleUpsertCatalog)
			r.Get("/catalog/campaigns", s.handleListCatalog)

			r.Post("/anomalies/detect", s.handleDetect)
			r.Get("/anomalies", s.handleListAnomalies)
			r.Post("/budget/plan", s.handlePlan)

			r.Post("/sync", s.handleSync)
			r.Post("/analysis", s.handleAnalysis)
			r.Get("/recommendations", s.handleListRecommendations)
			r.Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	checks := make(map[string]string, len(s.health))
	for name, check := range s.health {
		if err := check(ctx); err != nil {
			s.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = err.Error()
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.jsonStatus(w, code, map[string]any{"status": status, "checks": checks})
}

// ---- Helper Methods ----

func (s *Server) jsonResponse(w http.ResponseWriter, data any) {
	s.jsonStatus(w, http.StatusOK, data)
}

func (s *Server) jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	s.jsonStatus(w, code, map[string]string{"error": message})
}

// internalError logs err and hides it from the client.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.Error(msg,
		zap.String("request_id", chimw.GetReqID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	s.errorResponse(w, msg, http.StatusInternalServerError)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		s.errorResponse(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

// parseDate parses an optional YYYY-MM-DD value. Empty yields the zero time.
func parseDate(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	d, err := models.ParseDay(v)
	if err != nil {
		return time.Time{}, errors.New(field + " must be YYYY-MM-DD")
	}
	return d, nil
}

func tenantID(r *http.Request) string {
	return chi.URLParam(r, "tenantID")
}

func actor(r *http.Request, fallback string) string {
	if fallback != "" {
		return fallback
	}
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "api"
}
