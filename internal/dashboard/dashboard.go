// Package dashboard aggregates provider health and circuit breaker state for
// the admin interface.
package dashboard

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/sujun1972/stock-analysis-sub008/internal/circuitbreaker"
	"github.com/sujun1972/stock-analysis-sub008/internal/health"
	"github.com/sujun1972/stock-analysis-sub008/internal/httputil"
	"github.com/sujun1972/stock-analysis-sub008/internal/repository/models"
)

const eventsPerProvider = 20

type Dashboard struct {
	health   *health.Checker
	breakers *circuitbreaker.Manager
}

type Summary struct {
	TotalProviders       int                          `json:"total_providers"`
	AvailableProviders   int                          `json:"available_providers"`
	UnavailableProviders []string                     `json:"unavailable_providers"`
	AverageHealthScore   float64                      `json:"average_health_score"`
	LowestScoreProvider  string                       `json:"lowest_score_provider,omitempty"`
	TotalRequests        int64                        `json:"total_requests"`
	OverallSuccessRate   float64                      `json:"overall_success_rate"`
	TotalBreakers        int                          `json:"total_breakers"`
	BreakersByState      map[circuitbreaker.State]int `json:"breakers_by_state"`
	OpenBreakers         []string                     `json:"open_breakers"`
	RejectedCalls        int                          `json:"rejected_calls"`
	LastUpdated          time.Time                    `json:"last_updated"`
}

func NewDashboard(checker *health.Checker, breakers *circuitbreaker.Manager) *Dashboard {
	return &Dashboard{health: checker, breakers: breakers}
}

func (d *Dashboard) Summarize(ctx context.Context) Summary {
	summary := Summary{
		UnavailableProviders: []string{},
		BreakersByState:      make(map[circuitbreaker.State]int),
		OpenBreakers:         []string{},
		LastUpdated:          time.Now(),
	}

	stats := d.health.AllHealthStats(ctx)
	summary.TotalProviders = len(stats)

	var scoreSum float64
	var successes int64
	lowest := models.MaxHealthScore + 1
	for name, s := range stats {
		scoreSum += s.HealthScore
		summary.TotalRequests += s.TotalRequests
		successes += s.SuccessCount

		if s.IsAvailable {
			summary.AvailableProviders++
		} else {
			summary.UnavailableProviders = append(summary.UnavailableProviders, name)
		}

		if s.HealthScore < lowest || (s.HealthScore == lowest && name < summary.LowestScoreProvider) {
			lowest = s.HealthScore
			summary.LowestScoreProvider = name
		}
	}
	sort.Strings(summary.UnavailableProviders)

	if summary.TotalProviders > 0 {
		summary.AverageHealthScore = scoreSum / float64(summary.TotalProviders)
	}
	if summary.TotalRequests > 0 {
		summary.OverallSuccessRate = float64(successes) / float64(summary.TotalRequests)
	}

	for name, m := range d.breakers.Stats() {
		summary.TotalBreakers++
		summary.BreakersByState[m.State]++
		summary.RejectedCalls += m.RejectedCalls
		if m.State == circuitbreaker.StateOpen {
			summary.OpenBreakers = append(summary.OpenBreakers, name)
		}
	}
	sort.Strings(summary.OpenBreakers)

	return summary
}

func (d *Dashboard) GetSummary(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, d.Summarize(r.Context()), http.StatusOK)
}

// GetRecentEvents returns the health events of the last 24 hours across all
// providers, newest first.
func (d *Dashboard) GetRecentEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cutoff := time.Now().Add(-24 * time.Hour)
	recent := []models.HealthEvent{}

	for provider := range d.health.AllHealthStats(ctx) {
		events, err := d.health.Events(ctx, provider, eventsPerProvider)
		if err != nil {
			httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		for _, e := range events {
			if e.Timestamp.Before(cutoff) {
				continue
			}
			recent = append(recent, e)
		}
	}

	sort.Slice(recent, func(i, j int) bool { return recent[i].Timestamp.After(recent[j].Timestamp) })

	httputil.WriteJSON(w, recent, http.StatusOK)
}
