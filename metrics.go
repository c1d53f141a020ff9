package cachesemantics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts requests served from cache without contacting
	// the origin.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_semantics_hits_total",
		Help: "Total number of requests served from cache",
	})

	// CacheForwards counts requests forwarded to the origin, by the
	// Cache-Status forward reason.
	CacheForwards = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_semantics_forwards_total",
		Help: "Total number of requests forwarded to the origin",
	}, []string{"reason"})

	// CacheStores counts responses written to cache storage.
	CacheStores = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_semantics_stores_total",
		Help: "Total number of responses stored in the cache",
	})

	// Revalidations counts conditional requests sent to the origin, by
	// outcome: not_modified, modified or mismatch.
	Revalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_semantics_revalidations_total",
		Help: "Total number of conditional requests sent to the origin",
	}, []string{"result"})

	// CacheErrors counts cache storage failures, by operation.
	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_semantics_errors_total",
		Help: "Total number of cache storage errors",
	}, []string{"operation"})
)
