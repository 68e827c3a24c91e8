// Package metrics exposes ledger counters in the Prometheus format.
//
// A Recorder owns its own prometheus.Registry so that several instances can
// coexist in tests. It satisfies command.Observer and is also fed by the
// replication hub for per-message counters.
package metrics

import (
	"net/http"

	"perishable-ledger/core/command"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger"

// Message directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Recorder collects ledger metrics.
type Recorder struct {
	registry   *prometheus.Registry
	commands   *prometheus.CounterVec
	expired    *prometheus.CounterVec
	messages   *prometheus.CounterVec
	sessions   prometheus.Gauge
	containers prometheus.Gauge
	ticks      prometheus.Counter
	snapshots  *prometheus.CounterVec
}

var _ command.Observer = (*Recorder)(nil)

// New creates a recorder with Go runtime and process collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands executed, by kind and result.",
		}, []string{"kind", "result"}),
		expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_amount_total",
			Help:      "Amount removed by expiration, by commodity.",
		}, []string{"commodity"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "messages_total",
			Help:      "Replication messages, by type and direction.",
		}, []string{"type", "direction"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "sessions",
			Help:      "Connected replication sessions.",
		}),
		containers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "containers",
			Help:      "Containers currently tracked.",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Time simulation ticks run by the scheduler.",
		}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshot jobs, by target and result.",
		}, []string{"target", "result"}),
	}
	r.registry.MustRegister(
		r.commands, r.expired, r.messages, r.sessions, r.containers, r.ticks, r.snapshots,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// CommandExecuted counts a command outcome.
func (r *Recorder) CommandExecuted(kind command.Kind, success bool) {
	r.commands.WithLabelValues(kind.String(), result(success)).Inc()
}

// Expired adds an expired amount for commodity.
func (r *Recorder) Expired(commodity string, amount float64) {
	if amount <= 0 {
		return
	}
	r.expired.WithLabelValues(commodity).Add(amount)
}

// Containers sets the tracked container gauge.
func (r *Recorder) Containers(n int) {
	r.containers.Set(float64(n))
}

// Message counts one replication message.
func (r *Recorder) Message(msgType, direction string) {
	r.messages.WithLabelValues(msgType, direction).Inc()
}

// SessionOpened increments the session gauge.
func (r *Recorder) SessionOpened() { r.sessions.Inc() }

// SessionClosed decrements the session gauge.
func (r *Recorder) SessionClosed() { r.sessions.Dec() }

// Tick counts one scheduler tick.
func (r *Recorder) Tick() { r.ticks.Inc() }

// Snapshot counts one snapshot job for target (database, storage).
func (r *Recorder) Snapshot(target string, success bool) {
	r.snapshots.WithLabelValues(target, result(success)).Inc()
}
