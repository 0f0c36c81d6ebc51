package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChecksTotal counts finished checks by portal and outcome. Outcome is
	// "ok" or a failure kind.
	ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vehicheck",
		Name:      "checks_total",
		Help:      "Finished portal checks by portal and outcome.",
	}, []string{"portal", "outcome"})

	// LiveSessions tracks currently registered browser sessions.
	LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vehicheck",
		Name:      "live_sessions",
		Help:      "Currently live automated browser sessions.",
	})

	// CheckDuration observes end-to-end check latency per portal.
	CheckDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vehicheck",
		Name:      "check_duration_seconds",
		Help:      "End-to-end check duration by portal.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"portal"})
)
