package server

import (
	"errors"
	"log/slog"
	"time"

	"go4.org/netipx"

	"go.hackfix.me/openme/metrics"
)

// DefaultReadTimeout is the default time limit for a client to complete the
// TLS handshake, send its command and receive the response.
const DefaultReadTimeout = 10 * time.Second

// Option is a function that allows configuring the Server.
type Option func(*Server) error

// WithLogger sets the logger used by the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger.With("component", "server")
		return nil
	}
}

// WithMetrics sets the registry connections and commands are counted in.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Server) error {
		s.metrics = reg
		return nil
	}
}

// WithAllowedNetworks restricts the addresses commands may target. A nil set
// allows any address.
func WithAllowedNetworks(set *netipx.IPSet) Option {
	return func(s *Server) error {
		s.allowed = set
		return nil
	}
}

// WithReadTimeout sets the time limit for handling a single connection.
func WithReadTimeout(timeout time.Duration) Option {
	return func(s *Server) error {
		if timeout <= 0 {
			return errors.New("read timeout must be greater than 0")
		}
		s.readTimeout = timeout
		return nil
	}
}

// WithTimeNow sets the function used to get the current time.
func WithTimeNow(timeNow func() time.Time) Option {
	return func(s *Server) error {
		s.timeNow = timeNow
		return nil
	}
}

// DefaultOptions returns the default Server options.
func DefaultOptions() []Option {
	return []Option{
		WithLogger(slog.Default()),
		WithReadTimeout(DefaultReadTimeout),
		WithTimeNow(time.Now),
	}
}
