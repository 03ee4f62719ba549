package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hookrelay"

// Metrics holds the Prometheus instruments for the forwarder. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	DispatchesTotal *prometheus.CounterVec
	DeliveriesTotal *prometheus.CounterVec
	DeliveryLatency *prometheus.HistogramVec
	ReloadsTotal    *prometheus.CounterVec
	TargetsLoaded   prometheus.Gauge
	RoutesLoaded    prometheus.Gauge
}

// NewMetrics creates the instruments and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Inbound webhooks accepted for dispatch, by route.",
		}, []string{"route"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-target outcomes, by target and status.",
		}, []string{"target", "status"}),
		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_latency_seconds",
			Help:      "Outbound request latency per target.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target"}),
		ReloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Configuration reload attempts, by result.",
		}, []string{"result"}),
		TargetsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "targets_loaded",
			Help:      "Targets in the active configuration.",
		}),
		RoutesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routes_loaded",
			Help:      "Routes in the active configuration.",
		}),
	}

	reg.MustRegister(
		m.DispatchesTotal,
		m.DeliveriesTotal,
		m.DeliveryLatency,
		m.ReloadsTotal,
		m.TargetsLoaded,
		m.RoutesLoaded,
	)
	return m
}

// RecordDispatch counts one accepted webhook on route.
func (m *Metrics) RecordDispatch(route string) {
	if m == nil {
		return
	}
	m.DispatchesTotal.WithLabelValues(route).Inc()
}

// RecordDelivery records one target outcome. Latency is only observed for
// attempted deliveries.
func (m *Metrics) RecordDelivery(target, status string, latencySeconds float64, attempted bool) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(target, status).Inc()
	if attempted {
		m.DeliveryLatency.WithLabelValues(target).Observe(latencySeconds)
	}
}

// RecordReload records a configuration reload and, on success, the size of
// the new configuration.
func (m *Metrics) RecordReload(ok bool, targets, routes int) {
	if m == nil {
		return
	}
	if !ok {
		m.ReloadsTotal.WithLabelValues("error").Inc()
		return
	}
	m.ReloadsTotal.WithLabelValues("ok").Inc()
	m.SetLoaded(targets, routes)
}

// SetLoaded sets the configuration size gauges.
func (m *Metrics) SetLoaded(targets, routes int) {
	if m == nil {
		return
	}
	m.TargetsLoaded.Set(float64(targets))
	m.RoutesLoaded.Set(float64(routes))
}

// Handler exposes g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
