// Package metrics exposes Prometheus counters for connections, commands and
// firewall rule changes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "openme"

// Registry holds all application metrics. A nil *Registry is valid, and
// discards all observations.
type Registry struct {
	reg *prometheus.Registry

	Connections *prometheus.CounterVec
	Commands    *prometheus.CounterVec
	RuleChanges *prometheus.CounterVec
}

// New returns a Registry with all metrics registered, including the Go
// runtime and process collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		Connections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted connections by how their processing ended.",
		}, []string{"result"}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Received commands by command type and response status.",
		}, []string{"command", "status"}),
		RuleChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_changes_total",
			Help:      "Firewall rule change requests by direction, protocol and outcome.",
		}, []string{"direction", "protocol", "result"}),
	}
}

// Handler returns the HTTP handler serving the metrics in the Prometheus
// exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer returns the underlying Prometheus gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ConnectionDone counts a connection that finished with result.
func (r *Registry) ConnectionDone(result string) {
	if r == nil {
		return
	}
	r.Connections.WithLabelValues(result).Inc()
}

// CommandDone counts a command and the status sent in response.
func (r *Registry) CommandDone(command, status string) {
	if r == nil {
		return
	}
	r.Commands.WithLabelValues(command, status).Inc()
}

// RuleChanged counts a single rule change request.
func (r *Registry) RuleChanged(direction, protocol, result string) {
	if r == nil {
		return
	}
	r.RuleChanges.WithLabelValues(direction, protocol, result).Inc()
}
