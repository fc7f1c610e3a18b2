package keys

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chunkpipe_key_cache_hits_total",
		Help: "Private key lookups served from the parsed key cache.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chunkpipe_key_cache_misses_total",
		Help: "Private key lookups that went to the keystore.",
	})
)
