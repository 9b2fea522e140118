package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "opendlv_relay"

// Label values.
const (
	DirectionBusToClients = "bus_to_clients"
	DirectionClientsToBus = "clients_to_bus"

	SourceClient = "client"
	SourceBus    = "bus"
)

// Metrics is the set of relay instruments registered on one registry.
type Metrics struct {
	reg *prometheus.Registry

	envelopes         *prometheus.CounterVec
	busSendErrors     prometheus.Counter
	invalidBytes      prometheus.Counter
	invalidEnvelopes  *prometheus.CounterVec
	rateLimited       prometheus.Counter
	broadcastBytes    prometheus.Counter
	clientsConnected  prometheus.Gauge
	clientConnections prometheus.Counter
	clientsDropped    prometheus.Counter
	mapObjects        prometheus.Gauge
	mapReloads        *prometheus.CounterVec
}

// New creates the instruments on a fresh registry together with the Go
// runtime and process collectors. A non-empty instance is attached to every
// relay series as the instance_id label.
func New(instance string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var labels prometheus.Labels
	if instance != "" {
		labels = prometheus.Labels{"instance_id": instance}
	}
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		envelopes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "envelopes_total",
			Help:        "Envelopes relayed, by direction.",
			ConstLabels: labels,
		}, []string{"direction"}),
		busSendErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "bus_send_errors_total",
			Help:        "Client envelopes the bus refused to publish.",
			ConstLabels: labels,
		}),
		invalidBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "invalid_bytes_total",
			Help:        "Bytes discarded from client streams while resynchronizing.",
			ConstLabels: labels,
		}),
		invalidEnvelopes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "invalid_envelopes_total",
			Help:        "Invalid fragments skipped, by source.",
			ConstLabels: labels,
		}, []string{"source"}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "rate_limited_total",
			Help:        "Client envelopes dropped by the per-client rate limit.",
			ConstLabels: labels,
		}),
		broadcastBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "broadcast_bytes_total",
			Help:        "Bytes queued to clients by broadcasts.",
			ConstLabels: labels,
		}),
		clientsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "clients_connected",
			Help:        "Currently connected WebSocket clients.",
			ConstLabels: labels,
		}),
		clientConnections: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "client_connections_total",
			Help:        "WebSocket clients accepted since start.",
			ConstLabels: labels,
		}),
		clientsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "clients_dropped_total",
			Help:        "Clients disconnected because their send buffer was full.",
			ConstLabels: labels,
		}),
		mapObjects: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "map_objects",
			Help:        "Objects currently served by the map feed.",
			ConstLabels: labels,
		}),
		mapReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "map_reloads_total",
			Help:        "Map file reloads, by result.",
			ConstLabels: labels,
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) EnvelopeFromBus() {
	if m == nil {
		return
	}
	m.envelopes.WithLabelValues(DirectionBusToClients).Inc()
}

func (m *Metrics) EnvelopeToBus() {
	if m == nil {
		return
	}
	m.envelopes.WithLabelValues(DirectionClientsToBus).Inc()
}

func (m *Metrics) BusSendError() {
	if m == nil {
		return
	}
	m.busSendErrors.Inc()
}

// InvalidClientBytes records n bytes discarded from a client stream.
func (m *Metrics) InvalidClientBytes(n int) {
	if m == nil {
		return
	}
	m.invalidBytes.Add(float64(n))
	m.invalidEnvelopes.WithLabelValues(SourceClient).Inc()
}

func (m *Metrics) InvalidBusMessage() {
	if m == nil {
		return
	}
	m.invalidEnvelopes.WithLabelValues(SourceBus).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) Broadcast(bytes int) {
	if m == nil {
		return
	}
	m.broadcastBytes.Add(float64(bytes))
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.clientsConnected.Inc()
	m.clientConnections.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.clientsConnected.Dec()
}

func (m *Metrics) ClientDropped() {
	if m == nil {
		return
	}
	m.clientsDropped.Inc()
}

func (m *Metrics) SetMapObjects(n int) {
	if m == nil {
		return
	}
	m.mapObjects.Set(float64(n))
}

func (m *Metrics) MapReloaded(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.mapReloads.WithLabelValues(result).Inc()
}
