// Package api serves the admin HTTP surface over provider health and circuit
// breakers.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/sujun1972/stock-analysis-sub008/internal/circuitbreaker"
	"github.com/sujun1972/stock-analysis-sub008/internal/dashboard"
	"github.com/sujun1972/stock-analysis-sub008/internal/health"
	"github.com/sujun1972/stock-analysis-sub008/internal/httputil"
	"github.com/sujun1972/stock-analysis-sub008/internal/logging"
	"github.com/sujun1972/stock-analysis-sub008/internal/repository"
	"go.uber.org/zap"
)

type API struct {
	health   *health.Checker
	breakers *circuitbreaker.Manager
	logger   *zap.Logger
	mux      *http.ServeMux
}

type ResetResponse struct {
	Reset []string `json:"reset"`
}

func NewAPI(checker *health.Checker, breakers *circuitbreaker.Manager, logger *zap.Logger) *API {
	api := &API{
		health:   checker,
		breakers: breakers,
		logger:   logging.OrNop(logger),
		mux:      http.NewServeMux(),
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("/api/health", a.handleAllHealth)
	a.mux.HandleFunc("/api/health/", a.handleProvider)
	a.mux.HandleFunc("/api/breakers", a.handleBreakers)
	a.mux.HandleFunc("/api/breakers/", a.handleBreakerAction)

	dash := dashboard.NewDashboard(a.health, a.breakers)
	a.mux.HandleFunc("/api/dashboard", dash.GetSummary)
	a.mux.HandleFunc("/api/dashboard/events", dash.GetRecentEvents)
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handleAllHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	httputil.WriteJSON(w, a.health.AllHealthStats(r.Context()), http.StatusOK)
}

// handleProvider serves /api/health/{provider}, /api/health/{provider}/events
// and /api/health/{provider}/reset.
func (a *API) handleProvider(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/health/"), "/")
	provider := parts[0]
	if provider == "" {
		httputil.WriteJSONError(w, "Provider name is required", http.StatusBadRequest)
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	} else if len(parts) > 2 {
		httputil.WriteJSONError(w, "Not found", http.StatusNotFound)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		a.getProvider(w, r, provider)
	case action == "events" && r.Method == http.MethodGet:
		a.getProviderEvents(w, r, provider)
	case action == "reset" && r.Method == http.MethodPost:
		a.resetProvider(w, r, provider)
	case action == "" || action == "events" || action == "reset":
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	default:
		httputil.WriteJSONError(w, "Not found", http.StatusNotFound)
	}
}

func (a *API) getProvider(w http.ResponseWriter, r *http.Request, provider string) {
	stats, err := a.health.Stats(r.Context(), provider)
	if errors.Is(err, repository.ErrNotFound) {
		httputil.WriteJSONError(w, "Provider not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error("failed to read provider stats", zap.String("provider", provider), zap.Error(err))
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, stats, http.StatusOK)
}

func (a *API) getProviderEvents(w http.ResponseWriter, r *http.Request, provider string) {
	limit := health.DefaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httputil.WriteJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	events, err := a.health.Events(r.Context(), provider, limit)
	if err != nil {
		a.logger.Error("failed to read provider events", zap.String("provider", provider), zap.Error(err))
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, events, http.StatusOK)
}

func (a *API) resetProvider(w http.ResponseWriter, r *http.Request, provider string) {
	if !a.health.ResetProvider(r.Context(), provider) {
		httputil.WriteJSONError(w, "Failed to reset provider", http.StatusInternalServerError)
		return
	}

	a.logger.Info("provider reset via admin API", zap.String("provider", provider))
	httputil.WriteJSON(w, ResetResponse{Reset: []string{provider}}, http.StatusOK)
}

func (a *API) handleBreakers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	httputil.WriteJSON(w, a.breakers.Stats(), http.StatusOK)
}

// handleBreakerAction serves /api/breakers/reset and /api/breakers/{name}/reset.
// Breaker names may contain slashes, so the name is everything before the
// final "/reset".
func (a *API) handleBreakerAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/breakers/")
	if rest != "reset" && !strings.HasSuffix(rest, "/reset") {
		httputil.WriteJSONError(w, "Not found", http.StatusNotFound)
		return
	}

	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if rest == "reset" {
		names := a.breakers.Names()
		a.breakers.ResetAll()

		a.logger.Info("all circuit breakers reset via admin API", zap.Int("count", len(names)))
		httputil.WriteJSON(w, ResetResponse{Reset: names}, http.StatusOK)
		return
	}

	name := strings.TrimSuffix(rest, "/reset")
	if !a.breakers.Reset(name) {
		httputil.WriteJSONError(w, "Circuit breaker not found", http.StatusNotFound)
		return
	}

	a.logger.Info("circuit breaker reset via admin API", zap.String("breaker", name))
	httputil.WriteJSON(w, ResetResponse{Reset: []string{name}}, http.StatusOK)
}
