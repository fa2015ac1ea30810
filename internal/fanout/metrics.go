package fanout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	active     *prometheus.GaugeVec
	publishes  *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	loadErrors *prometheus.CounterVec
}

// NewMetrics registers the hub collectors with reg. A nil reg leaves them
// unregistered, which tests rely on to build many hubs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	labels := []string{"kind"}
	return &Metrics{
		active: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mavis",
			Subsystem: "fanout",
			Name:      "active_subscriptions",
			Help:      "Number of live subscriptions.",
		}, labels),
		publishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mavis",
			Subsystem: "fanout",
			Name:      "publishes_total",
			Help:      "Number of change notifications published.",
		}, labels),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mavis",
			Subsystem: "fanout",
			Name:      "deliveries_total",
			Help:      "Number of views delivered to subscribers.",
		}, labels),
		loadErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mavis",
			Subsystem: "fanout",
			Name:      "load_errors_total",
			Help:      "Number of failed view loads.",
		}, labels),
	}
}
