// Package metrics defines the Prometheus collectors the engine
// exposes, grounded on pricing_service/src/PricingController.go's
// ControllerMetrics struct and promauto registration style.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors bundles every metric the engine records.
type Collectors struct {
	AssignmentsTotal      *prometheus.CounterVec
	ImpressionsTotal      *prometheus.CounterVec
	ConversionsTotal      *prometheus.CounterVec
	RevenueCreditedTotal  *prometheus.CounterVec
	BayesianUpdateLatency prometheus.Histogram
	PromotionsTotal       prometheus.Counter
	SafetyStopsTotal      prometheus.Counter
	CatalogErrorsTotal    prometheus.Counter
	ActiveOptimizations   prometheus.Gauge
	WebhookDedupHits      prometheus.Counter
}

// New registers and returns the collector bundle. Call once per
// process; promauto panics on duplicate registration.
func New() *Collectors {
	return &Collectors{
		AssignmentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optimization_assignments_total",
			Help: "Total number of session variant assignments, labeled by variant",
		}, []string{"variant"}),
		ImpressionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optimization_impressions_total",
			Help: "Total number of recorded impressions, labeled by variant",
		}, []string{"variant"}),
		ConversionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optimization_conversions_total",
			Help: "Total number of attributed conversions, labeled by variant",
		}, []string{"variant"}),
		RevenueCreditedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optimization_revenue_credited_total",
			Help: "Total revenue credited to optimizations, labeled by variant",
		}, []string{"variant"}),
		BayesianUpdateLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "optimization_bayesian_update_duration_seconds",
			Help: "Duration of a single Bayesian allocation update pass",
		}),
		PromotionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optimization_promotions_total",
			Help: "Total number of optimizations auto-promoted",
		}),
		SafetyStopsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optimization_safety_stops_total",
			Help: "Total number of optimizations halted by the safety-stop rule",
		}),
		CatalogErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optimization_catalog_errors_total",
			Help: "Total number of failed catalog-apply calls",
		}),
		ActiveOptimizations: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "optimization_active_count",
			Help: "Current number of active optimizations",
		}),
		WebhookDedupHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optimization_webhook_dedup_hits_total",
			Help: "Total number of order webhook deliveries recognized as already processed",
		}),
	}
}
