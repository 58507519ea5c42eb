package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels: cache (the cache name given to NewNodeCache)
var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbor",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Body cache lookups that found a body",
	}, []string{"cache"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbor",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Body cache lookups that found nothing",
	}, []string{"cache"})

	cacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbor",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Bodies closed to make space",
	}, []string{"cache"})

	cacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "arbor",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Bodies currently cached",
	}, []string{"cache"})

	cacheOverflow = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "arbor",
		Subsystem: "cache",
		Name:      "overflow",
		Help:      "Space in use beyond the limit because bodies refused to close",
	}, []string{"cache"})

	cacheSpaceLimit = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "arbor",
		Subsystem: "cache",
		Name:      "space_limit",
		Help:      "Current space limit, including temporary raises for wide parents",
	}, []string{"cache"})
)
