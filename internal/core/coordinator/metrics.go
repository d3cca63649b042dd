package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lumen",
		Subsystem: "coordinator",
		Name:      "fetches_total",
		Help:      "Completed fetch cycles per integration domain and result.",
	}, []string{"domain", "result"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lumen",
		Subsystem: "coordinator",
		Name:      "fetch_duration_seconds",
		Help:      "Fetch cycle duration per integration domain.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"domain"})

	skippedTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lumen",
		Subsystem: "coordinator",
		Name:      "skipped_ticks_total",
		Help:      "Scheduled refreshes skipped because a fetch was in flight.",
	}, []string{"domain"})
)

func observeFetch(domain string, err error, elapsed time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	fetchesTotal.WithLabelValues(domain, result).Inc()
	fetchDuration.WithLabelValues(domain).Observe(elapsed.Seconds())
}

func observeSkip(domain string) {
	skippedTicks.WithLabelValues(domain).Inc()
}
