// Package telemetry wires the sync engine and reconnection scheduler
// to Prometheus metrics, an optional MQTT event publisher, and a
// gopsutil-based load sampler used to correlate slow reconnection
// probes with host contention.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the engine and scheduler
// report through. It satisfies syncengine.Metrics without importing
// that package, the same structural-typing pattern syncengine uses
// for its Renderer.
type Metrics struct {
	commandsSent   *prometheus.CounterVec
	protocolErrors *prometheus.CounterVec
	replyTimeouts  *prometheus.CounterVec
	socketClosed   *prometheus.CounterVec
	syncOn         prometheus.Gauge

	schedulerFailures *prometheus.CounterVec
	schedulerSlow     *prometheus.CounterVec
}

// NewMetrics registers every collector against reg. Pass
// prometheus.DefaultRegisterer to use the global registry, as the
// teacher does.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		commandsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pansyncer",
			Name:      "commands_sent_total",
			Help:      "CAT commands sent, by peer role.",
		}, []string{"role"}),
		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pansyncer",
			Name:      "protocol_errors_total",
			Help:      "Malformed replies or RPRT error codes, by peer role.",
		}, []string{"role"}),
		replyTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pansyncer",
			Name:      "reply_timeouts_total",
			Help:      "Commands abandoned without a reply, by peer role.",
		}, []string{"role"}),
		socketClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pansyncer",
			Name:      "socket_closed_total",
			Help:      "Peer socket teardowns, by peer role.",
		}, []string{"role"}),
		syncOn: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pansyncer",
			Name:      "sync_on",
			Help:      "1 if the synchronization policy is currently active.",
		}),
		schedulerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pansyncer",
			Subsystem: "scheduler",
			Name:      "probe_failures_total",
			Help:      "Reconnection probe failures, by tag.",
		}, []string{"tag"}),
		schedulerSlow: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pansyncer",
			Subsystem: "scheduler",
			Name:      "slow_probes_total",
			Help:      "Probes that exceeded the slow-probe threshold, by tag.",
		}, []string{"tag"}),
	}
}

// These four methods and SyncOn below satisfy syncengine.Metrics.
func (m *Metrics) CommandSent(role string)   { m.commandsSent.WithLabelValues(role).Inc() }
func (m *Metrics) ProtocolError(role string) { m.protocolErrors.WithLabelValues(role).Inc() }
func (m *Metrics) ReplyTimeout(role string)  { m.replyTimeouts.WithLabelValues(role).Inc() }
func (m *Metrics) SocketClosed(role string)  { m.socketClosed.WithLabelValues(role).Inc() }

func (m *Metrics) SyncOn(on bool) {
	if on {
		m.syncOn.Set(1)
	} else {
		m.syncOn.Set(0)
	}
}

// ProbeFailed records a reconnection scheduler probe failure for tag.
func (m *Metrics) ProbeFailed(tag string) {
	m.schedulerFailures.WithLabelValues(tag).Inc()
}

// SlowProbe records that tag's probe exceeded the slow threshold; wire
// this directly as a scheduler.SlowProbeFunc.
func (m *Metrics) SlowProbe(tag string, _ time.Duration) {
	m.schedulerSlow.WithLabelValues(tag).Inc()
}
