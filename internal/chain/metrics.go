package chain

import (
	"github.com/Klingon-tech/tapnode/pkg/ruleerr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the chain's prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	BlocksConnected    prometheus.Counter
	BlocksDisconnected prometheus.Counter
	Reorgs             prometheus.Counter
	TipHeight          prometheus.Gauge
	Rejected           *prometheus.CounterVec
}

// NewMetrics creates the chain collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BlocksConnected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tapnode",
			Subsystem: "chain",
			Name:      "blocks_connected_total",
			Help:      "Number of blocks connected to the active chain",
		}),
		BlocksDisconnected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tapnode",
			Subsystem: "chain",
			Name:      "blocks_disconnected_total",
			Help:      "Number of blocks disconnected from the active chain",
		}),
		Reorgs: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tapnode",
			Subsystem: "chain",
			Name:      "reorgs_total",
			Help:      "Number of completed chain reorganizations",
		}),
		TipHeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tapnode",
			Subsystem: "chain",
			Name:      "tip_height",
			Help:      "Height of the active chain tip",
		}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tapnode",
			Subsystem: "chain",
			Name:      "blocks_rejected_total",
			Help:      "Number of blocks rejected, by failure kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) setTip(height uint32) {
	if m == nil {
		return
	}
	m.TipHeight.Set(float64(height))
}

// observe records the outcome of one chain operation.
func (m *Metrics) observe(events []Event, err error) {
	if m == nil {
		return
	}
	if err != nil {
		if kind := ruleerr.KindOf(err); kind != ruleerr.Unknown {
			m.Rejected.WithLabelValues(kind.String()).Inc()
		}
	}
	for _, ev := range events {
		switch ev.Kind {
		case EventConnected:
			m.BlocksConnected.Inc()
			m.setTip(ev.Entry.Height)
		case EventDisconnected:
			m.BlocksDisconnected.Inc()
			m.setTip(ev.Entry.Height - 1)
		case EventReorganized:
			m.Reorgs.Inc()
			m.setTip(ev.NewTip.Height)
		}
	}
}
