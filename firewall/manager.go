package firewall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	ftypes "go.hackfix.me/openme/firewall/types"
	"go.hackfix.me/openme/metrics"
)

// Manager opens and closes the configured set of ports for client IP addresses.
type Manager struct {
	builder ftypes.Builder
	runner  ftypes.Runner
	ports   []ftypes.PortSpec
	metrics *metrics.Registry
	logger  *slog.Logger
}

// NewManager returns a new Manager instance that will create one rule per
// entry in ports, using builder to create the rule change requests and runner
// to apply them.
func NewManager(
	builder ftypes.Builder, runner ftypes.Runner, ports []ftypes.PortSpec, opts ...Option,
) (*Manager, error) {
	if builder == nil {
		return nil, errors.New("rule builder implementation is required")
	}
	if runner == nil {
		return nil, errors.New("rule runner implementation is required")
	}

	m := &Manager{
		builder: builder,
		runner:  runner,
		ports:   append([]ftypes.PortSpec(nil), ports...),
	}

	opts = append(DefaultOptions(), opts...)
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Open adds allow rules for addr on all configured ports.
func (m *Manager) Open(ctx context.Context, addr netip.Addr) error {
	return m.apply(ctx, addr, ftypes.DirectionAdd)
}

// Close removes allow rules for addr on all configured ports.
func (m *Manager) Close(ctx context.Context, addr netip.Addr) error {
	return m.apply(ctx, addr, ftypes.DirectionRemove)
}

// Ports returns a copy of the configured ports.
func (m *Manager) Ports() []ftypes.PortSpec {
	return append([]ftypes.PortSpec(nil), m.ports...)
}

// apply changes the rule of every configured port. A failure doesn't stop the
// remaining ports from being processed; all failures are returned joined.
func (m *Manager) apply(ctx context.Context, addr netip.Addr, dir ftypes.Direction) error {
	if !addr.Is4() {
		return fmt.Errorf("%w: '%s'", ErrInvalidAddress, addr)
	}

	logger := m.logger.With("address", addr.String(), "direction", dir.String())

	var errs []error
	for _, ps := range m.ports {
		rule := ftypes.Rule{
			Address:   addr,
			Port:      ps.Port,
			Protocol:  ps.Protocol,
			Direction: dir,
		}
		req := m.builder.Build(rule)

		outcome, err := m.runner.Run(ctx, req)
		m.metrics.RuleChanged(dir.String(), string(ps.Protocol), outcome.String())
		if err != nil {
			args := []any{"port", ps.String(), "error", err.Error()}
			var exitErr interface{ ExitStatus() (int, string) }
			if errors.As(err, &exitErr) {
				code, out := exitErr.ExitStatus()
				args = append(args, "exit_code", code, "output", out)
			}
			logger.Error("failed changing rule", args...)
			errs = append(errs, fmt.Errorf("failed changing rule for %s: %w", ps, err))
			continue
		}

		logger.Debug("changed rule", "port", ps.String(), "outcome", outcome.String())
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	logger.Info("changed rules", "ports", len(m.ports))

	return nil
}
