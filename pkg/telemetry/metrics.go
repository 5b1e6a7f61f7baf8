package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ransomwatch"

// Instrumentation for the detection pipeline. Collectors are usable as soon
// as the package loads; Init only makes them visible to the scrape endpoint.
var (
	// CyclesTotal counts completed collection cycles.
	CyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Completed monitoring cycles.",
	})

	// CyclesSkipped counts ticker fires dropped because the previous cycle
	// was still running.
	CyclesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_skipped_total",
		Help:      "Poll ticks skipped because a cycle was still in flight.",
	})

	// CycleDuration observes how long one full cycle takes.
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one collection and detection cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// ProbeFailures counts readings lost to probe errors, per metric.
	ProbeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probe_failures_total",
		Help:      "Failed metric collections replaced by a fallback value.",
	}, []string{"metric"})

	// DetectionsTotal counts cycles whose verdict was positive.
	DetectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detections_total",
		Help:      "Cycles that concluded ransomware activity.",
	})

	// AlertsTotal counts alerts that actually fired, after debouncing.
	AlertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Alerts published after debouncing.",
	})

	// EnforcementFailures counts containment actions that returned an error.
	EnforcementFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enforcement_failures_total",
		Help:      "Containment action executions that failed.",
	}, []string{"action"})

	// FeedMessages counts messages fanned out to subscribers, per type.
	FeedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_messages_total",
		Help:      "Messages broadcast to feed subscribers.",
	}, []string{"type"})

	// DroppedSubscribers counts subscribers disconnected for falling behind.
	DroppedSubscribers = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_clients_dropped_total",
		Help:      "Subscribers dropped because their send buffer overflowed.",
	})

	// FeatureValue holds the latest reading per tracked metric.
	FeatureValue = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feature_value",
		Help:      "Latest reading per tracked metric.",
	}, []string{"metric"})

	// BaselineMean holds the learned mean per tracked metric.
	BaselineMean = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "baseline_mean",
		Help:      "Adaptive baseline mean per tracked metric.",
	}, []string{"metric"})

	// ConnectedClients tracks current feed subscribers.
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_clients",
		Help:      "Currently connected feed subscribers.",
	})

	initOnce sync.Once
)

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			CyclesTotal,
			CyclesSkipped,
			CycleDuration,
			ProbeFailures,
			DetectionsTotal,
			AlertsTotal,
			EnforcementFailures,
			FeedMessages,
			DroppedSubscribers,
			FeatureValue,
			BaselineMean,
			ConnectedClients,
		)
	})
}

// Handler serves the scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
