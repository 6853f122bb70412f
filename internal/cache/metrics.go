package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memcore_cache_hits_total",
		Help: "Cache hits per facade cache.",
	}, []string{"cache"})

	missesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memcore_cache_misses_total",
		Help: "Cache misses per facade cache.",
	}, []string{"cache"})
)
