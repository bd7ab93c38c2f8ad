// Package metrics instruments the timechain daemon with Prometheus
// collectors: a Registry wraps a *prometheus.Registry and exposes the
// handful of named collectors pkg/timechain updates at its AddHeader,
// PromoteBranch, and PruneForest call sites.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every collector registered by this package.
const Namespace = "timechain"

// Registry holds the collectors the timechain core updates, all registered
// against a single *prometheus.Registry at construction.
type Registry struct {
	reg *prometheus.Registry

	// HeadersAccepted counts every header that completed AddHeader
	// successfully, whether it extended the tip or was stashed in the
	// forest.
	HeadersAccepted prometheus.Counter

	// ReorgsTotal counts every branch promotion (successful PromoteBranch
	// call) performed by AddHeader's reorg trigger.
	ReorgsTotal prometheus.Counter

	// ReorgDepth observes, per promotion, the number of hashes demoted
	// from the linear chain (len(AddResult.MovedFromChain)).
	ReorgDepth prometheus.Histogram

	// ForestSize reports the number of nodes currently held in the
	// forest after the most recent structural mutation.
	ForestSize prometheus.Gauge

	// ChainHeight reports the height of the linear chain's tip after the
	// most recent structural mutation.
	ChainHeight prometheus.Gauge
}

// NewRegistry constructs a Registry with every collector created and
// registered against a fresh *prometheus.Registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		HeadersAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "headers_accepted_total",
			Help:      "Total number of headers accepted by AddHeader, extended or stashed.",
		}),
		ReorgsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reorgs_total",
			Help:      "Total number of branch promotions (reorgs) performed.",
		}),
		ReorgDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "reorg_depth",
			Help:      "Number of hashes demoted from the linear chain per reorg.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 55, 89, 144},
		}),
		ForestSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "forest_size",
			Help:      "Number of nodes currently held in the non-canonical forest.",
		}),
		ChainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "chain_height",
			Help:      "Height of the linear chain's current tip.",
		}),
	}

	reg.MustRegister(r.HeadersAccepted, r.ReorgsTotal, r.ReorgDepth, r.ForestSize, r.ChainHeight)
	return r
}

// NewHTTPHandler returns the standard promhttp handler for this registry's
// collectors, suitable for mounting at "/metrics".
func (r *Registry) NewHTTPHandler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveAdd records a single AddHeader outcome: one header accepted, and,
// when moved is non-empty, one reorg of the given depth.
func (r *Registry) ObserveAdd(moved int) {
	r.HeadersAccepted.Inc()
	if moved > 0 {
		r.ReorgsTotal.Inc()
		r.ReorgDepth.Observe(float64(moved))
	}
}

// ObserveTopology records the forest size and chain height snapshot taken
// after a structural mutation (AddHeader or PruneForest).
func (r *Registry) ObserveTopology(forestSize int, chainHeight int32) {
	r.ForestSize.Set(float64(forestSize))
	r.ChainHeight.Set(float64(chainHeight))
}
