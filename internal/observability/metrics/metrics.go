package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	TabRegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shell_tab_registrations_total",
			Help: "Tab registrations by resulting action.",
		},
		[]string{"action"},
	)

	TabsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shell_tabs_open",
			Help: "Live tab records seen by the last sweep.",
		},
	)

	TabsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shell_tabs_pruned_total",
			Help: "Stale tab records removed by the staleness sweep.",
		},
	)

	ForcedLogoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shell_forced_logouts_total",
			Help: "Forced logouts and login redirects by trigger.",
		},
		[]string{"trigger"},
	)

	BroadcastMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shell_broadcast_messages_total",
			Help: "Cross-tab messages by direction and type.",
		},
		[]string{"direction", "type"},
	)

	BroadcastFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shell_broadcast_failures_total",
			Help: "Transport failures that closed a tab's channel.",
		},
	)

	SessionChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shell_session_checks_total",
			Help: "Authentication checks by result.",
		},
		[]string{"result"},
	)

	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shell_cache_lookups_total",
			Help: "Cache lookups by tier and result.",
		},
		[]string{"tier", "result"},
	)

	CacheWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shell_cache_writes_total",
			Help: "Cache tier writes by tier and result.",
		},
		[]string{"tier", "result"},
	)

	CacheCleanupRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shell_cache_cleanup_removed_total",
			Help: "Entries removed by expired-entry sweeps.",
		},
	)
)

// MustRegister registers every collector on the default registry with a
// constant service label.
func MustRegister(serviceName string) {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, prometheus.DefaultRegisterer)
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		TabRegistrationsTotal,
		TabsOpen,
		TabsPrunedTotal,
		ForcedLogoutsTotal,
		BroadcastMessagesTotal,
		BroadcastFailuresTotal,
		SessionChecksTotal,
		CacheLookupsTotal,
		CacheWritesTotal,
		CacheCleanupRemovedTotal,
	)
}
