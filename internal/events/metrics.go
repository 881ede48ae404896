package events

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the counter surface the core maintains. It registers on a
// private registry; hosts pick the transport by scraping Gatherer.
type Metrics struct {
	registry *prometheus.Registry

	swapsTotal       *prometheus.CounterVec
	swapFailures     *prometheus.CounterVec
	swapDuration     *prometheus.HistogramVec
	candidatesTotal  *prometheus.CounterVec
	remoteSyncs      *prometheus.CounterVec
	digestChecks     *prometheus.CounterVec
	watcherSkips     *prometheus.CounterVec
	eventsByReason   *prometheus.CounterVec
	activityMutation *prometheus.CounterVec
}

// NewMetrics creates the metric set on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.swapsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oneiric",
		Name:      "swaps_total",
		Help:      "Completed provider swaps per domain.",
	}, []string{"domain"})
	m.swapFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oneiric",
		Name:      "swap_failures_total",
		Help:      "Failed provider swaps per domain and reason sub-code.",
	}, []string{"domain", "reason"})
	m.swapDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "oneiric",
		Name:      "swap_duration_seconds",
		Help:      "Provider swap latency per domain.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"domain"})
	m.candidatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oneiric",
		Name:      "candidates_registered_total",
		Help:      "Candidate registrations per domain and source.",
	}, []string{"domain", "source"})
	m.remoteSyncs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oneiric",
		Name:      "remote_syncs_total",
		Help:      "Remote manifest syncs by outcome.",
	}, []string{"outcome"})
	m.digestChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oneiric",
		Name:      "artifact_digest_checks_total",
		Help:      "Artifact digest verifications by outcome.",
	}, []string{"outcome"})
	m.watcherSkips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oneiric",
		Name:      "watcher_skips_total",
		Help:      "Watcher swaps skipped or deferred by activity state.",
	}, []string{"domain", "reason"})
	m.eventsByReason = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oneiric",
		Name:      "events_total",
		Help:      "Published events per reason.",
	}, []string{"reason", "class"})
	m.activityMutation = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oneiric",
		Name:      "activity_mutations_total",
		Help:      "Activity state mutations per domain.",
	}, []string{"domain"})

	m.registry.MustRegister(
		m.swapsTotal, m.swapFailures, m.swapDuration, m.candidatesTotal,
		m.remoteSyncs, m.digestChecks, m.watcherSkips, m.eventsByReason,
		m.activityMutation,
	)
	return m
}

// Gatherer exposes the private registry for scraping by the host.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// ObserveSwap records a completed swap and its duration.
func (m *Metrics) ObserveSwap(domain string, d time.Duration) {
	m.swapsTotal.WithLabelValues(domain).Inc()
	m.swapDuration.WithLabelValues(domain).Observe(d.Seconds())
}

// ObserveSwapFailure records a failed swap with its reason sub-code.
func (m *Metrics) ObserveSwapFailure(domain, reason string) {
	m.swapFailures.WithLabelValues(domain, reason).Inc()
}

// ObserveRegistration records a candidate registration.
func (m *Metrics) ObserveRegistration(domain, source string) {
	m.candidatesTotal.WithLabelValues(domain, source).Inc()
}

// ObserveRemoteSync records a sync outcome ("success", "failure", "breaker_open").
func (m *Metrics) ObserveRemoteSync(outcome string) {
	m.remoteSyncs.WithLabelValues(outcome).Inc()
}

// ObserveDigestCheck records an artifact digest verification outcome
// ("match", "mismatch", "cached").
func (m *Metrics) ObserveDigestCheck(outcome string) {
	m.digestChecks.WithLabelValues(outcome).Inc()
}

// ObserveWatcherSkip records a swap skipped or deferred by activity state.
func (m *Metrics) ObserveWatcherSkip(domain, reason string) {
	m.watcherSkips.WithLabelValues(domain, reason).Inc()
}

// ObserveActivityMutation records an operator activity change.
func (m *Metrics) ObserveActivityMutation(domain string) {
	m.activityMutation.WithLabelValues(domain).Inc()
}

func (m *Metrics) observeEvent(event Event) {
	m.eventsByReason.WithLabelValues(string(event.Reason), string(event.Class)).Inc()
}
