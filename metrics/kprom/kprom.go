// Package kprom provides Prometheus metrics for a kgo Client via the
// kgo.Hook interfaces.
//
// This package tracks the following metrics: counter vecs labeled by
// broker address or topic, and a produce latency histogram vec labeled
// by topic:
//
//	#{ns}_connects_total{addr="..."}
//	#{ns}_connect_errors_total{addr="..."}
//	#{ns}_disconnects_total{addr="..."}
//	#{ns}_write_errors_total{addr="..."}
//	#{ns}_write_bytes_total{addr="..."}
//	#{ns}_read_errors_total{addr="..."}
//	#{ns}_read_bytes_total{addr="..."}
//	#{ns}_produce_bytes_total{topic="..."}
//	#{ns}_produce_errors_total{topic="..."}
//	#{ns}_produce_latency_seconds{topic="..."}
//
// It is used like so:
//
//	m := kprom.NewMetrics("synckafka")
//	cl, err := kgo.NewClient(seeds, kgo.WithHooks(m))
//
// By default, metrics are installed into a new Prometheus registry; this
// can be overridden with the Registry option.
package kprom

import (
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synckafka/synckafka/kgo"
)

var ( // interface checks to ensure we implement the hooks properly
	_ kgo.HookBrokerConnect    = new(Metrics)
	_ kgo.HookBrokerDisconnect = new(Metrics)
	_ kgo.HookBrokerWrite      = new(Metrics)
	_ kgo.HookBrokerRead       = new(Metrics)
	_ kgo.HookProduce          = new(Metrics)
)

// Metrics holds and updates Prometheus metrics for a kgo Client.
type Metrics struct {
	cfg cfg

	connects    *prometheus.CounterVec
	connectErrs *prometheus.CounterVec
	disconnects *prometheus.CounterVec

	writeErrs  *prometheus.CounterVec
	writeBytes *prometheus.CounterVec

	readErrs  *prometheus.CounterVec
	readBytes *prometheus.CounterVec

	produceBytes  *prometheus.CounterVec
	produceErrs   *prometheus.CounterVec
	produceLatency *prometheus.HistogramVec
}

// Registry returns the registry metrics were added to.
func (m *Metrics) Registry() prometheus.Registerer { return m.cfg.reg }

// Handler returns an http.Handler serving Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.cfg.gatherer, m.cfg.handlerOpts)
}

type cfg struct {
	namespace string

	reg      prometheus.Registerer
	gatherer prometheus.Gatherer

	handlerOpts  promhttp.HandlerOpts
	goCollectors bool
}

// RegistererGatherer is satisfied by *prometheus.Registry, letting one
// object serve both roles.
type RegistererGatherer interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// Opt configures NewMetrics.
type Opt interface {
	apply(*cfg)
}

type opt struct{ fn func(*cfg) }

func (o opt) apply(c *cfg) { o.fn(c) }

// Registry sets both the registerer and gatherer metrics are added to,
// rather than a freshly created registry.
func Registry(rg RegistererGatherer) Opt {
	return opt{func(c *cfg) {
		c.reg = rg
		c.gatherer = rg
	}}
}

// GoCollectors additionally registers the process and Go runtime
// collectors onto the metrics registry.
func GoCollectors() Opt {
	return opt{func(c *cfg) { c.goCollectors = true }}
}

// HandlerOpts sets the options used by Handler.
func HandlerOpts(opts promhttp.HandlerOpts) Opt {
	return opt{func(c *cfg) { c.handlerOpts = opts }}
}

// NewMetrics returns Metrics registering every counter under namespace.
func NewMetrics(namespace string, opts ...Opt) *Metrics {
	var regGatherer RegistererGatherer = prometheus.NewRegistry()
	c := cfg{
		namespace: namespace,
		reg:       regGatherer,
		gatherer:  regGatherer,
	}
	for _, o := range opts {
		o.apply(&c)
	}

	if c.goCollectors {
		c.reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
		c.reg.MustRegister(prometheus.NewGoCollector())
	}

	factory := promauto.With(c.reg)

	return &Metrics{
		cfg: c,

		connects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Total number of broker connections opened, by broker address",
		}, []string{"addr"}),

		connectErrs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_errors_total",
			Help:      "Total number of broker connection attempts that failed, by broker address",
		}, []string{"addr"}),

		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Total number of broker connections torn down, by broker address",
		}, []string{"addr"}),

		writeErrs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_errors_total",
			Help:      "Total number of request write errors, by broker address",
		}, []string{"addr"}),

		writeBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_bytes_total",
			Help:      "Total number of request bytes written, by broker address",
		}, []string{"addr"}),

		readErrs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_errors_total",
			Help:      "Total number of response read errors, by broker address",
		}, []string{"addr"}),

		readBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_bytes_total",
			Help:      "Total number of response bytes read, by broker address",
		}, []string{"addr"}),

		produceBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "produce_bytes_total",
			Help:      "Total number of encoded message set bytes produced, by topic",
		}, []string{"topic"}),

		produceErrs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "produce_errors_total",
			Help:      "Total number of Produce calls that failed, by topic",
		}, []string{"topic"}),

		produceLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "produce_latency_seconds",
			Help:      "Latency of Produce calls that succeeded, by topic",
		}, []string{"topic"}),
	}
}

func (m *Metrics) OnConnect(addr string, _ time.Duration, _ net.Conn, err error) {
	if err != nil {
		m.connectErrs.WithLabelValues(addr).Inc()
		return
	}
	m.connects.WithLabelValues(addr).Inc()
}

func (m *Metrics) OnDisconnect(addr string, _ net.Conn) {
	m.disconnects.WithLabelValues(addr).Inc()
}

func (m *Metrics) OnWrite(addr string, _ int16, bytesWritten int, _ time.Duration, err error) {
	if err != nil {
		m.writeErrs.WithLabelValues(addr).Inc()
		return
	}
	m.writeBytes.WithLabelValues(addr).Add(float64(bytesWritten))
}

func (m *Metrics) OnRead(addr string, bytesRead int, _ time.Duration, err error) {
	if err != nil {
		m.readErrs.WithLabelValues(addr).Inc()
		return
	}
	m.readBytes.WithLabelValues(addr).Add(float64(bytesRead))
}

func (m *Metrics) OnProduce(topic string, _ int32, bytes int, dur time.Duration, err error) {
	if err != nil {
		m.produceErrs.WithLabelValues(topic).Inc()
		return
	}
	m.produceBytes.WithLabelValues(topic).Add(float64(bytes))
	m.produceLatency.WithLabelValues(topic).Observe(dur.Seconds())
}
