// Package httpapi is the REST mount point for the control plane: a
// chi.Router exposing the Orchestrator, Autoscaler, Resource Optimizer,
// LogHub, WebSocket Gateway, and HealthSupervisor to a caller over HTTP.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coderunner/controlplane/internal/authn"
	"github.com/coderunner/controlplane/internal/autoscaler"
	"github.com/coderunner/controlplane/internal/domain"
	"github.com/coderunner/controlplane/internal/health"
	"github.com/coderunner/controlplane/internal/loghub"
	"github.com/coderunner/controlplane/internal/metricsfacade"
	"github.com/coderunner/controlplane/internal/optimizer"
	"github.com/coderunner/controlplane/internal/orchestrator"
	"github.com/coderunner/controlplane/internal/wsgateway"
)

// Dependencies are the components Server mounts routes for.
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Autoscaler   *autoscaler.Autoscaler
	Optimizer    *optimizer.Optimizer
	Health       *health.Supervisor
	Gateway      *wsgateway.Gateway
	LogHub       *loghub.LogHub
	Verifier     *authn.Verifier
	Issuer       *authn.Issuer
	PerDeploy    *metricsfacade.PerDeployment
}

// Server is the control plane's HTTP API server.
type Server struct {
	deps Dependencies
}

// NewServer creates a Server over deps.
func NewServer(deps Dependencies) *Server {
	return &Server{deps: deps}
}

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)
	r.Use(requestMetrics)

	r.Get("/health", s.handleLiveness)
	r.Get("/health/ready", s.handleReadiness)
	r.Get("/health/report", s.handleHealthReport)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.deps.Gateway.ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/token", s.handleIssueToken)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Post("/deployments", s.handleDeploy)

			r.Route("/deployments/{id}", func(r chi.Router) {
				r.Use(s.recordRequestMetrics)

				r.Get("/", s.handleMonitor)
				r.Delete("/", s.handleCancel)
				r.Get("/logs", s.handleQueryLogs)

				r.Post("/scaling-policy", s.handleCreatePolicy)
				r.Post("/scale", s.handleManualScale)

				r.Get("/analytics", s.handleAnalytics)
				r.Get("/recommendations", s.handleRecommendations)
				r.Post("/budget", s.handleSetBudget)
			})
		})
	})

	return r
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health.Liveness() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "dead"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health.Readiness() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func (s *Server) handleHealthReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Health.Report())
}

// ─── Auth ───────────────────────────────────────────────────────────────────

type issueTokenRequest struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	PlanType string `json:"plan_type"`
	TTLSec   int    `json:"ttl_seconds"`
}

// handleIssueToken mints a bearer token. Production credential issuance is
// out of the core's scope; this exists for local development and
// integration tests to obtain a token the Verifier accepts.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	ttl := time.Duration(req.TTLSec) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	token, err := s.deps.Issuer.Issue(authn.Identity{UserID: req.UserID, Email: req.Email, PlanType: req.PlanType}, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "issue token: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerFromHeader(r.Header.Get("Authorization"))
		identity, err := s.deps.Verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := r.Context()
		r = r.WithContext(withIdentity(ctx, identity))
		next.ServeHTTP(w, r)
	})
}

// requestMetrics feeds the process-wide request counter and latency
// histogram, labelled by matched route pattern and status class.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metricsfacade.APIRequestsTotal.WithLabelValues(route, fmt.Sprintf("%dxx", rec.status/100)).Inc()
		metricsfacade.APIRequestLatency.WithLabelValues(route).Observe(time.Since(started).Seconds())
	})
}

// recordRequestMetrics feeds the Metrics facade's per-deployment request
// rate, latency, and error rate from every deployment-scoped request,
// the raw feed the Autoscaler's requests/response_time/error_rate
// thresholds read through PerDeploy.Snapshot.
func (s *Server) recordRequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.PerDeploy == nil {
			next.ServeHTTP(w, r)
			return
		}
		id := chi.URLParam(r, "id")
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		latencyMS := float64(time.Since(started).Microseconds()) / 1000
		s.deps.PerDeploy.Record(id, latencyMS, rec.status >= 500)
	})
}

// statusRecorder captures the status code an inner handler wrote so
// recordRequestMetrics can classify the request as an error after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func bearerFromHeader(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

// ─── Deployments ────────────────────────────────────────────────────────────

type deployFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"` // raw UTF-8 file content
}

type deployRequest struct {
	Files     []deployFileRequest `json:"files"`
	TimeoutMS int                 `json:"timeout_ms"`
	Port      int                 `json:"port"`
	Env       map[string]string   `json:"env"`
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	files := make([]domain.FileEntry, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, domain.FileEntry{Path: f.Path, Content: []byte(f.Content)})
	}

	dep, err := s.deps.Orchestrator.Deploy(r.Context(), identity.UserID, files, domain.DeployConfig{
		TimeoutMS: req.TimeoutMS,
		Port:      req.Port,
		Env:       req.Env,
	})
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dep)
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.deps.Orchestrator.Monitor(id)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.deps.Orchestrator.Cancel(id)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
}

func (s *Server) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()
	filter := domain.LogFilter{Search: q.Get("search")}
	if tail := q.Get("tail"); tail != "" {
		if n, err := strconv.Atoi(tail); err == nil {
			filter.Tail = n
		}
	}
	entries := s.deps.LogHub.Query(id, filter)
	writeJSON(w, http.StatusOK, entries)
}

// ─── Scaling ────────────────────────────────────────────────────────────────

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var policy domain.ScalingPolicy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	policy.DeploymentID = id
	created, err := s.deps.Autoscaler.CreatePolicy(policy)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type manualScaleRequest struct {
	TargetInstances int    `json:"target_instances"`
	Reason          string `json:"reason"`
}

func (s *Server) handleManualScale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req manualScaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ok, err := s.deps.Autoscaler.ManualScale(r.Context(), id, req.TargetInstances, req.Reason)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"scaled": ok})
}

// ─── Resource Optimizer ─────────────────────────────────────────────────────

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	end := time.Now()
	start := end.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			start = t
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			end = t
		}
	}
	analytics, err := s.deps.Optimizer.CostAnalytics(id, start, end)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	recs, err := s.deps.Optimizer.Recommendations(id)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var cfg domain.BudgetConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg.DeploymentID = id
	s.deps.Optimizer.SetBudget(cfg)
	writeJSON(w, http.StatusOK, cfg)
}

// ─── Shared helpers ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": msg})
}

func writeClassifiedError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.CategoryOf(err) {
	case domain.CategoryValidation:
		status = http.StatusBadRequest
	case domain.CategoryNotFound:
		status = http.StatusNotFound
	case domain.CategoryAccessDenied:
		status = http.StatusForbidden
	case domain.CategoryQuota:
		status = http.StatusTooManyRequests
	case domain.CategoryTimeout:
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, err.Error())
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
