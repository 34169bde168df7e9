package resolver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the resolver's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	SearchesTotal  *prometheus.CounterVec
	CacheHitsTotal prometheus.Counter
	ResolvesTotal  *prometheus.CounterVec
	TierAttempts   *prometheus.CounterVec
	ResolveTime    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dgetmusic_searches_total",
				Help: "Candidate enumerations by kind and status",
			},
			[]string{"kind", "status"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dgetmusic_search_cache_hits_total",
				Help: "Searches answered from the cache",
			},
		),
		ResolvesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dgetmusic_resolves_total",
				Help: "Stream resolutions by final tier and reason",
			},
			[]string{"tier", "reason"},
		),
		TierAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dgetmusic_tier_attempts_total",
				Help: "Extraction attempts per credential tier",
			},
			[]string{"tier", "status"},
		),
		ResolveTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dgetmusic_resolve_duration_seconds",
				Help:    "Time spent resolving a stream",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"strategy"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.SearchesTotal, m.CacheHitsTotal, m.ResolvesTotal, m.TierAttempts, m.ResolveTime)
	}
	return m
}

func (m *Metrics) search(kind, status string) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) cacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

func (m *Metrics) attempt(tier state, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.TierAttempts.WithLabelValues(tier.String(), status).Inc()
}

func (m *Metrics) resolved(tier string, reason Reason, strategy Strategy, elapsed time.Duration) {
	if m == nil {
		return
	}
	if tier == "" {
		tier = "failed"
	}
	m.ResolvesTotal.WithLabelValues(tier, string(reason)).Inc()
	label := "stream"
	if strategy == DownloadAndTranscode {
		label = "transcode"
	}
	m.ResolveTime.WithLabelValues(label).Observe(elapsed.Seconds())
}
