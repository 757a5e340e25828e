// Package metrics exposes relaybot's prometheus collectors. All methods are
// safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	deliveries   *prometheus.CounterVec
	broadcasts   prometheus.Counter
	downloads    *prometheus.CounterVec
	initData     *prometheus.CounterVec
	mailEvents   *prometheus.CounterVec
	sendDuration prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaybot_deliveries_total",
			Help: "Per-recipient relay sends by bot and result.",
		}, []string{"bot", "result"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaybot_broadcasts_total",
			Help: "Broadcast batches started.",
		}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaybot_downloads_total",
			Help: "On-demand attachment downloads by media kind and result.",
		}, []string{"kind", "result"}),
		initData: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaybot_init_data_total",
			Help: "Mini-app launch validations by result.",
		}, []string{"result"}),
		mailEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaybot_mail_events_total",
			Help: "Mail push notifications by outcome.",
		}, []string{"result"}),
		sendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relaybot_send_duration_seconds",
			Help:    "Latency of single relay send calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.reg.MustRegister(
		m.deliveries, m.broadcasts, m.downloads, m.initData, m.mailEvents, m.sendDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Delivery(bot string, ok bool) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(bot, result(ok)).Inc()
}

func (m *Metrics) Broadcast() {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
}

func (m *Metrics) Download(kind string, ok bool) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(kind, result(ok)).Inc()
}

func (m *Metrics) InitData(outcome string) {
	if m == nil {
		return
	}
	m.initData.WithLabelValues(outcome).Inc()
}

func (m *Metrics) MailEvent(outcome string) {
	if m == nil {
		return
	}
	m.mailEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSend(d time.Duration) {
	if m == nil {
		return
	}
	m.sendDuration.Observe(d.Seconds())
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
