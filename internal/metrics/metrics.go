package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilegate_requests_total",
		Help: "Total number of tileset requests by intent and status code",
	}, []string{"intent", "code"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tilegate_request_duration_seconds",
		Help:    "Latency of tileset requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"intent"})

	ArchiveOpens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilegate_archive_opens_total",
		Help: "Total number of archive open attempts by result",
	}, []string{"result"})

	ArchiveOpenLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tilegate_archive_open_latency_seconds",
		Help:    "Latency of archive opens in seconds",
		Buckets: prometheus.DefBuckets,
	})

	HandleCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilegate_handle_cache_hits_total",
		Help: "Total number of acquires served by an already open archive",
	})

	HandleCacheJoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilegate_handle_cache_joins_total",
		Help: "Total number of acquires that waited on an open started by another request",
	})

	OpenHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilegate_open_handles",
		Help: "Number of archives currently open",
	})

	Tilesets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilegate_tilesets",
		Help: "Number of tilesets in the current registry",
	})
)
