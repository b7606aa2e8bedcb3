// Package metrics defines the Prometheus collectors exported by the inspector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "inspector"

// Chunk outcomes
const (
	ChunkOK     = "ok"
	ChunkFailed = "failed"
)

// Metrics groups the inspector's collectors
type Metrics struct {
	LogChunks          *prometheus.CounterVec
	TransferLogs       prometheus.Counter
	DecodeDropped      prometheus.Counter
	MetadataDefaults   *prometheus.CounterVec
	BalanceDefaults    prometheus.Counter
	StakingEvents      *prometheus.CounterVec
	InspectionDuration prometheus.Histogram
}

// New creates the collectors and registers them on reg. A nil reg leaves them
// unregistered, which is what unit tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LogChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_chunks_total",
			Help:      "eth_getLogs chunk requests by outcome.",
		}, []string{"outcome"}),
		TransferLogs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_logs_matched_total",
			Help:      "Transfer logs involving an inspected wallet.",
		}),
		DecodeDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_dropped_total",
			Help:      "Transfer logs dropped because they could not be decoded.",
		}),
		MetadataDefaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_defaults_total",
			Help:      "Token metadata fields that fell back to defaults.",
		}, []string{"field"}),
		BalanceDefaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_defaults_total",
			Help:      "balanceOf calls that failed and defaulted to zero.",
		}),
		StakingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staking_events_total",
			Help:      "Inferred staking events by rule and direction.",
		}, []string{"rule", "direction"}),
		InspectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inspection_duration_seconds",
			Help:      "Wall time of complete wallet inspections.",
			Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.LogChunks,
			m.TransferLogs,
			m.DecodeDropped,
			m.MetadataDefaults,
			m.BalanceDefaults,
			m.StakingEvents,
			m.InspectionDuration,
		)
	}

	return m
}
