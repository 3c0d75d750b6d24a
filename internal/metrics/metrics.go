// Package metrics exposes the daemon's Prometheus instrumentation:
// model-manifest status gauges and Monte Carlo draw counters (spec §6's
// observability note). No teacher file wires client_golang directly;
// this package is grounded on the dependency's presence across the
// retrieved pack's go.mod files (see DESIGN.md) and written in the
// library's own canonical collector-registration idiom.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jiangshenghai57/loanvalkernel/valtypes"
)

// Registry holds every metric the valuation daemon publishes.
type Registry struct {
	ValuationRequests   *prometheus.CounterVec
	ValuationDuration   *prometheus.HistogramVec
	DrawsCompleted      prometheus.Counter
	ModelLoaded         *prometheus.GaugeVec
	ModelFallbackTotal  *prometheus.CounterVec
}

// NewRegistry registers every collector against reg and returns the
// populated Registry. Pass prometheus.NewRegistry() in tests to avoid
// colliding with the default global registry.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		ValuationRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loanvalkernel",
			Name:      "valuation_requests_total",
			Help:      "Count of valuation requests by outcome (ok, cancelled, timeout, error).",
		}, []string{"outcome"}),
		ValuationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loanvalkernel",
			Name:      "valuation_duration_seconds",
			Help:      "Wall-clock duration of a full package valuation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		DrawsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loanvalkernel",
			Name:      "montecarlo_draws_completed_total",
			Help:      "Total Monte Carlo draws completed across all valuations.",
		}),
		ModelLoaded: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loanvalkernel",
			Name:      "model_loaded",
			Help:      "1 if the named model artifact is loaded with status=real, 0 for status=stub.",
		}, []string{"model", "version"}),
		ModelFallbackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loanvalkernel",
			Name:      "leaf_assignment_fallback_total",
			Help:      "Count of leaf assignments that fell back past the decision tree, by tier.",
		}, []string{"tier"}),
	}
}

// ObserveManifest sets the model_loaded gauge for every model in m.
func (r *Registry) ObserveManifest(m valtypes.ModelManifest) {
	for _, entry := range m.Models {
		v := 0.0
		if entry.Status == "real" {
			v = 1.0
		}
		r.ModelLoaded.WithLabelValues(entry.Name, entry.Version).Set(v)
	}
}

// ObserveFallbacks increments ModelFallbackTotal for every fallback
// tier a loan's leaf assignment passed through.
func (r *Registry) ObserveFallbacks(fallbacks []string) {
	for _, tier := range fallbacks {
		r.ModelFallbackTotal.WithLabelValues(tier).Inc()
	}
}
