package node

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// newMetricsServer serves reg on /metrics.
func newMetricsServer(reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// registerNodeMetrics exposes queue and mempool gauges sampled on scrape.
func registerNodeMetrics(reg prometheus.Registerer, n *Node) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tapnode",
			Subsystem: "node",
			Name:      "block_queue_length",
			Help:      "Blocks waiting for validation",
		}, func() float64 { return float64(n.queue.Len()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "tapnode",
			Subsystem: "node",
			Name:      "blocks_processed_total",
			Help:      "Blocks handed from the queue to the chain",
		}, func() float64 { return float64(n.queue.Processed()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tapnode",
			Subsystem: "mempool",
			Name:      "transactions",
			Help:      "Transactions in the mempool",
		}, func() float64 { return float64(n.pool.Count()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tapnode",
			Subsystem: "p2p",
			Name:      "banned_peers",
			Help:      "Peers currently banned",
		}, func() float64 { return float64(len(n.bans.BanList())) }),
	)
}
