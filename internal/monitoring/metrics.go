// Package monitoring provides Prometheus metrics for the demo delivery
// pipeline: HTTP traffic, probe verdicts, proxy render outcomes,
// fallback cascades and download rejections.
package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all collectors.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	DemoViews       *prometheus.CounterVec
	ProbeVerdicts   *prometheus.CounterVec
	ProxyRenders    *prometheus.CounterVec
	ModeAttempts    *prometheus.CounterVec
	Settles         *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	DownloadRejects *prometheus.CounterVec
}

// New creates the collectors on the given registerer; nil uses the
// default registry. Tests pass their own registry so repeated
// construction never double-registers.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framegate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "framegate_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		DemoViews: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framegate_demo_views_total",
				Help: "Demo sessions started, by slug",
			},
			[]string{"slug"},
		),
		ProbeVerdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framegate_probe_verdicts_total",
				Help: "Frame-policy probe verdicts, by slug and verdict",
			},
			[]string{"slug", "allowed"},
		),
		ProxyRenders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framegate_proxy_renders_total",
				Help: "Proxy render outcomes, by slug and reason (ok on success)",
			},
			[]string{"slug", "reason"},
		),
		ModeAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framegate_mode_attempts_total",
				Help: "Embed mode attempts, by slug, mode and cascade reason",
			},
			[]string{"slug", "mode", "reason"},
		),
		Settles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framegate_settles_total",
				Help: "Terminal session outcomes, by slug, mode and outcome",
			},
			[]string{"slug", "mode", "outcome"},
		),
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "framegate_sessions_active",
				Help: "Currently connected demo sessions",
			},
		),
		DownloadRejects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framegate_download_rejects_total",
				Help: "Rejected download requests, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordProbe records a probe verdict.
func (m *Metrics) RecordProbe(slug string, allowed bool) {
	m.ProbeVerdicts.WithLabelValues(slug, strconv.FormatBool(allowed)).Inc()
}

// RecordProxyRender records a render outcome; reason is "ok" on success.
func (m *Metrics) RecordProxyRender(slug, reason string) {
	if reason == "" {
		reason = "ok"
	}
	m.ProxyRenders.WithLabelValues(slug, reason).Inc()
}

// RecordDownloadReject records one rejected download.
func (m *Metrics) RecordDownloadReject(outcome string) {
	m.DownloadRejects.WithLabelValues(outcome).Inc()
}
