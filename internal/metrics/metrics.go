// Package metrics exposes the node's Prometheus counters and gauges: block
// acceptance, mempool size, work/pool submission outcomes, and fairness
// settlement activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BlocksAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smellynode",
		Name:      "blocks_accepted_total",
		Help:      "Headers accepted into the chain, by source.",
	}, []string{"source"}) // "local", "work", "ticket", "pool"

	BlocksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smellynode",
		Name:      "blocks_rejected_total",
		Help:      "Header submissions rejected, by reason kind.",
	}, []string{"kind"})

	ChainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "smellynode",
		Name:      "chain_height",
		Help:      "Current tip height.",
	})

	MempoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "smellynode",
		Name:      "mempool_size",
		Help:      "Number of transactions currently admitted to the mempool.",
	})

	WorkJobsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "smellynode",
		Name:      "work_jobs_issued_total",
		Help:      "GetWork jobs handed out.",
	})

	PoolSharesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "smellynode",
		Name:      "pool_shares_accepted_total",
		Help:      "Pool shares meeting the share target.",
	})

	PoolSharesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "smellynode",
		Name:      "pool_shares_rejected_total",
		Help:      "Pool shares failing the share target or stale-job check.",
	})

	FairnessEpochsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "smellynode",
		Name:      "fairness_epochs_settled_total",
		Help:      "Fairness epochs settled into payout UTXOs.",
	})
)

// Handler returns the HTTP handler an operator mounts at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
