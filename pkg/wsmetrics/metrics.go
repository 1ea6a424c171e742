// Package wsmetrics 提供基于 Prometheus 的 ws.Metrics 实现
package wsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tokmz/qiws/pkg/ws"
)

// Prometheus 实现 ws.Metrics 与 prometheus.Collector
type Prometheus struct {
	connections *prometheus.GaugeVec
	opened      *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	received    *prometheus.CounterVec
	sent        *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	errors      *prometheus.CounterVec
}

var _ ws.Metrics = (*Prometheus)(nil)

// New 创建指标集合，namespace 为空时使用 "qiws"
func New(namespace string, constLabels prometheus.Labels) *Prometheus {
	if namespace == "" {
		namespace = "qiws"
	}
	const subsystem = "websocket"

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, labels)
	}

	return &Prometheus{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "connections",
			Help:        "Number of open WebSocket connections.",
			ConstLabels: constLabels,
		}, []string{"route"}),
		opened:   counter("connections_opened_total", "Total number of accepted WebSocket connections.", "route"),
		rejected: counter("upgrades_rejected_total", "Total number of rejected upgrade requests.", "reason"),
		received: counter("messages_received_total", "Total number of inbound frames.", "route", "kind"),
		sent:     counter("messages_sent_total", "Total number of outbound frames written.", "route", "kind"),
		dropped:  counter("messages_dropped_total", "Total number of frames dropped because the send queue was full.", "route"),
		errors:   counter("handler_errors_total", "Total number of handler panics, oversize frames and transport errors.", "route"),
	}
}

// MustRegister 注册到 prometheus.Registerer
func (p *Prometheus) MustRegister(r prometheus.Registerer) *Prometheus {
	r.MustRegister(p)
	return p
}

func (p *Prometheus) collectors() []prometheus.Collector {
	return []prometheus.Collector{p.connections, p.opened, p.rejected, p.received, p.sent, p.dropped, p.errors}
}

// Describe 实现 prometheus.Collector
func (p *Prometheus) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range p.collectors() {
		c.Describe(ch)
	}
}

// Collect 实现 prometheus.Collector
func (p *Prometheus) Collect(ch chan<- prometheus.Metric) {
	for _, c := range p.collectors() {
		c.Collect(ch)
	}
}

func (p *Prometheus) ConnectionOpened(route string) {
	p.connections.WithLabelValues(route).Inc()
	p.opened.WithLabelValues(route).Inc()
}

func (p *Prometheus) ConnectionClosed(route string) {
	p.connections.WithLabelValues(route).Dec()
}

func (p *Prometheus) UpgradeRejected(reason string) {
	p.rejected.WithLabelValues(reason).Inc()
}

func (p *Prometheus) MessageReceived(route, kind string) {
	p.received.WithLabelValues(route, kind).Inc()
}

func (p *Prometheus) MessageSent(route, kind string) {
	p.sent.WithLabelValues(route, kind).Inc()
}

func (p *Prometheus) MessageDropped(route string) {
	p.dropped.WithLabelValues(route).Inc()
}

func (p *Prometheus) HandlerError(route string) {
	p.errors.WithLabelValues(route).Inc()
}
