package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Handler() http.Handler {
	h := promhttp.Handler()
	return h
}

// Monitor carries the counters the polling pipeline reports into
type Monitor struct {
	CyclesTotal     prometheus.Counter
	FetchesTotal    *prometheus.CounterVec // chain, result=ok|error|rate_limited
	EventsTotal     *prometheus.CounterVec // chain
	TagsTotal       *prometheus.CounterVec // chain, tag
	DuplicatesTotal *prometheus.CounterVec // chain
	DegradedWallets *prometheus.GaugeVec   // chain
	DigestsTotal    *prometheus.CounterVec // chain, result=ok|error
	CycleSeconds    prometheus.Histogram
}

func NewMonitor() *Monitor {
	return &Monitor{
		CyclesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whale_cycles_total",
			Help: "Completed polling cycles",
		}),
		FetchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "whale_fetches_total",
			Help: "Wallet fetches by outcome",
		}, []string{"chain", "result"}),
		EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "whale_events_total",
			Help: "New classified events",
		}, []string{"chain"}),
		TagsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "whale_tags_total",
			Help: "Tags attached to classified events",
		}, []string{"chain", "tag"}),
		DuplicatesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "whale_duplicates_total",
			Help: "Events skipped by deduplication",
		}, []string{"chain"}),
		DegradedWallets: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "whale_degraded_wallets",
			Help: "Wallets currently marked degraded",
		}, []string{"chain"}),
		DigestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "whale_digests_total",
			Help: "Digest dispatches by outcome",
		}, []string{"chain", "result"}),
		CycleSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "whale_cycle_seconds",
			Help:    "Wall time of one polling cycle",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}
