package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for billing-level observability.
type BusinessMetrics struct {
	// Webhook ingestion
	WebhookReceived  *prometheus.CounterVec
	WebhookProcessed *prometheus.CounterVec
	WebhookFailed    *prometheus.CounterVec
	WebhookLatency   *prometheus.HistogramVec

	// Entitlement read path
	EntitlementChecks  prometheus.Counter
	EntitlementGrants  *prometheus.CounterVec
	EntitlementErrors  prometheus.Counter

	// Subscription lifecycle
	SubscriptionsCancelled prometheus.Counter
	PlanSwitches           prometheus.Counter

	// Disputes
	DisputesReceived prometheus.Counter
	DisputeAlerts    *prometheus.CounterVec

	// Email delivery
	EmailSent   *prometheus.CounterVec
	EmailFailed *prometheus.CounterVec
}

// Business is the process-wide metrics instance. Nil until InitBusinessMetrics
// runs, so callers guard with a nil check.
var Business *BusinessMetrics

// InitBusinessMetrics registers all business metrics with the default registry.
func InitBusinessMetrics(namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "trena"
	}

	Business = &BusinessMetrics{
		WebhookReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_received_total",
			Help:      "Total webhook events received, by event type",
		}, []string{"event_type"}),
		WebhookProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_processed_total",
			Help:      "Total webhook events processed successfully, by event type",
		}, []string{"event_type"}),
		WebhookFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_failed_total",
			Help:      "Total webhook events whose processing failed, by event type and reason",
		}, []string{"event_type", "reason"}),
		WebhookLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_duration_seconds",
			Help:      "Webhook processing time in seconds, by event type",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"event_type"}),

		EntitlementChecks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_checks_total",
			Help:      "Total premium entitlement evaluations",
		}),
		EntitlementGrants: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_grants_total",
			Help:      "Total granted entitlement evaluations, by grant source",
		}, []string{"source"}),
		EntitlementErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_errors_total",
			Help:      "Total entitlement evaluations that failed with a storage error",
		}),

		SubscriptionsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_cancelled_total",
			Help:      "Total subscriptions cancelled via processor deletion events",
		}),
		PlanSwitches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_switches_total",
			Help:      "Total plan reassignments applied by update events",
		}),

		DisputesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disputes_received_total",
			Help:      "Total dispute events received",
		}),
		DisputeAlerts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispute_alerts_total",
			Help:      "Total dispute alert emails attempted, by outcome",
		}, []string{"outcome"}),

		EmailSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "email_sent_total",
			Help:      "Total emails sent, by kind",
		}, []string{"kind"}),
		EmailFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "email_failed_total",
			Help:      "Total email sends that failed, by kind",
		}, []string{"kind"}),
	}

	return Business
}
