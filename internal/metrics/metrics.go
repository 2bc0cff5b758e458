package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the orchestration agent.
// A nil *Metrics is valid and records nothing, which keeps tests and
// library use free of registry plumbing.
type Metrics struct {
	TransitionsTotal    *prometheus.CounterVec
	DeltasAppliedTotal  prometheus.Counter
	WorkerTriggersTotal prometheus.Counter
	RemoteErrorsTotal   *prometheus.CounterVec
	ConnectivityState   prometheus.Gauge
	CampaignSent        prometheus.Gauge
	CampaignFailed      prometheus.Gauge
	CampaignTotal       prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tidemail_campaign_transitions_total",
				Help: "Total number of campaign status transitions",
			},
			[]string{"from", "to"},
		),
		DeltasAppliedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tidemail_deltas_applied_total",
				Help: "Total number of authoritative deltas applied to local state",
			},
		),
		WorkerTriggersTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tidemail_worker_triggers_total",
				Help: "Total number of successful remote worker triggers",
			},
		),
		RemoteErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tidemail_remote_errors_total",
				Help: "Total number of failed remote campaign service calls",
			},
			[]string{"operation"},
		),
		ConnectivityState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tidemail_connectivity_online",
				Help: "1 when the remote service is reachable, 0 when offline",
			},
		),
		CampaignSent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tidemail_campaign_sent",
				Help: "Sent counter of the current campaign",
			},
		),
		CampaignFailed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tidemail_campaign_failed",
				Help: "Failed counter of the current campaign",
			},
		),
		CampaignTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tidemail_campaign_total",
				Help: "Total recipients of the current campaign",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.TransitionsTotal,
		m.DeltasAppliedTotal,
		m.WorkerTriggersTotal,
		m.RemoteErrorsTotal,
		m.ConnectivityState,
		m.CampaignSent,
		m.CampaignFailed,
		m.CampaignTotal,
	)

	return m
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTransition counts a status transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordDelta counts an applied delta and updates campaign gauges.
func (m *Metrics) RecordDelta(sent, failed, total int) {
	if m == nil {
		return
	}
	m.DeltasAppliedTotal.Inc()
	m.CampaignSent.Set(float64(sent))
	m.CampaignFailed.Set(float64(failed))
	m.CampaignTotal.Set(float64(total))
}

// RecordTrigger counts a successful worker trigger.
func (m *Metrics) RecordTrigger() {
	if m == nil {
		return
	}
	m.WorkerTriggersTotal.Inc()
}

// RecordRemoteError counts a failed remote call.
func (m *Metrics) RecordRemoteError(operation string) {
	if m == nil {
		return
	}
	m.RemoteErrorsTotal.WithLabelValues(operation).Inc()
}

// SetOnline records connectivity state.
func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.ConnectivityState.Set(1)
	} else {
		m.ConnectivityState.Set(0)
	}
}
