package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chunksIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chunkpipe_chunks_ingested_total",
		Help: "Chunks appended to storage.",
	})
	bytesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chunkpipe_bytes_ingested_total",
		Help: "Plaintext bytes appended to storage.",
	})
	chunksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chunkpipe_chunks_rejected_total",
		Help: "Chunks refused, by reason.",
	}, []string{"reason"})
)
