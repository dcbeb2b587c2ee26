package firewall

import (
	"log/slog"

	"go.hackfix.me/openme/metrics"
)

// Option is a function that allows configuring the Manager.
type Option func(*Manager) error

// WithLogger sets the logger used by the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		m.logger = logger.With("component", "firewall")
		return nil
	}
}

// WithMetrics sets the registry rule changes are counted in.
func WithMetrics(reg *metrics.Registry) Option {
	return func(m *Manager) error {
		m.metrics = reg
		return nil
	}
}

// DefaultOptions returns the default Manager options.
func DefaultOptions() []Option {
	return []Option{
		WithLogger(slog.Default()),
	}
}
