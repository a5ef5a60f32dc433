package metrics

import (
	"net/http"

	"eventnet/internal/microservices/tcp"
	udp "eventnet/internal/microservices/udp-server"
	"eventnet/internal/neterr"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eventnet"

// Collector counts connection, datagram and error activity. Its methods
// have the shapes of the network callbacks so it can be chained into them.
type Collector struct {
	registry *prometheus.Registry

	clients          prometheus.Gauge
	connectionsTotal prometheus.Counter
	datagramsTotal   prometheus.Counter
	datagramBytes    prometheus.Histogram
	errorsTotal      *prometheus.CounterVec
}

// New creates a collector on its own registry, with Go runtime and
// process collectors included
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tcp",
			Name:      "clients",
			Help:      "Currently connected TCP clients",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tcp",
			Name:      "connections_total",
			Help:      "Total accepted TCP connections",
		}),
		datagramsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "datagrams_total",
			Help:      "Total well-formed datagrams received",
		}),
		datagramBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "payload_bytes",
			Help:      "Payload size of received datagrams",
			Buckets:   prometheus.ExponentialBuckets(4, 4, 7),
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors reported by the network layer",
		}, []string{"category"}),
	}

	c.registry.MustRegister(
		c.clients,
		c.connectionsTotal,
		c.datagramsTotal,
		c.datagramBytes,
		c.errorsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) OnConnect(tcp.Client) {
	c.clients.Inc()
	c.connectionsTotal.Inc()
}

func (c *Collector) OnDisconnect(tcp.Client) {
	c.clients.Dec()
}

func (c *Collector) OnPacket(p udp.Packet) {
	c.datagramsTotal.Inc()
	c.datagramBytes.Observe(float64(p.Size))
}

// Report counts err under its taxonomy category; usable as a neterr.Sink
func (c *Collector) Report(err error) {
	if err == nil {
		return
	}
	c.errorsTotal.WithLabelValues(neterr.Category(err)).Inc()
}

// Handler serves the collector's registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry for additional collectors
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
