// Package obs exposes the SDK's own health as Prometheus metrics, for
// host-app introspection only — it never appears in an outgoing ping
// (§4.10). Grounded on the teacher's implementations/prometheus/stats.go:
// a struct of pre-built collectors registered once against a Registerer
// at construction time, updated via plain method calls rather than a
// stats-hub callback (this SDK has no equivalent of walqueue's
// StatsHub notification registry).
package obs

import "github.com/prometheus/client_golang/prometheus"

// Stats bundles every collector the SDK exposes about its own
// operation: dispatcher queue depth, pre-init drops, pending-ping
// backlog, upload outcomes, and rate-limiter throttling (§4.10).
type Stats struct {
	DispatcherQueueDepth prometheus.Gauge
	PreInitQueueDropped  prometheus.Counter
	PingsPending         prometheus.Gauge
	UploadAttempts       *prometheus.CounterVec
	RateLimiterThrottled prometheus.Counter
}

// NewStats builds and registers a Stats against registry. namespace
// prefixes every collector name; the orchestrator passes "telemetry".
func NewStats(namespace string, registry prometheus.Registerer) *Stats {
	s := &Stats{
		DispatcherQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "dispatcher_queue_depth",
			Help:      "Number of tasks currently queued in the dispatcher.",
		}),
		PreInitQueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "pre_init_queue_dropped_total",
			Help:      "Tasks submitted before initialize() that were dropped rather than buffered.",
		}),
		PingsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "pings_pending",
			Help:      "Number of assembled pings waiting to upload.",
		}),
		UploadAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "upload_attempts_total",
			Help:      "Pings whose upload finished, by outcome (success, http_<4xx code>, recoverable_failures_exhausted).",
		}, []string{"outcome"}),
		RateLimiterThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "upload_rate_limited_total",
			Help:      "Upload attempts deferred because the sliding-window rate limit was exhausted.",
		}),
	}
	registry.MustRegister(
		s.DispatcherQueueDepth,
		s.PreInitQueueDropped,
		s.PingsPending,
		s.UploadAttempts,
		s.RateLimiterThrottled,
	)
	return s
}

// Unregister removes every collector from registry, e.g. on shutdown.
func (s *Stats) Unregister(registry prometheus.Registerer) {
	registry.Unregister(s.DispatcherQueueDepth)
	registry.Unregister(s.PreInitQueueDropped)
	registry.Unregister(s.PingsPending)
	registry.Unregister(s.UploadAttempts)
	registry.Unregister(s.RateLimiterThrottled)
}

// ObserveUploadOutcome is the ResultHook-shaped callback wired into the
// upload manager (internal/upload.Manager.OnResult).
func (s *Stats) ObserveUploadOutcome(_ string, outcome string) {
	s.UploadAttempts.WithLabelValues(outcome).Inc()
}

// ObserveQueueDepth is wired into dispatch.Dispatcher.OnQueueDepthChanged.
func (s *Stats) ObserveQueueDepth(depth int) {
	s.DispatcherQueueDepth.Set(float64(depth))
}

// ObservePreInitDrop is wired into dispatch.Dispatcher.OnPreInitDrop.
func (s *Stats) ObservePreInitDrop() {
	s.PreInitQueueDropped.Inc()
}

// ObserveThrottled is wired into upload.Manager.OnThrottled.
func (s *Stats) ObserveThrottled() {
	s.RateLimiterThrottled.Inc()
}
