package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"go4.org/netipx"

	"go.hackfix.me/openme/metrics"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Server accepts mutual TLS connections from clients, and opens or closes
// firewall ports in response to their commands. Each connection is handled in
// its own goroutine.
type Server struct {
	addr        string
	tlsConfig   *tls.Config
	manager     PortManager
	allowed     *netipx.IPSet
	readTimeout time.Duration
	metrics     *metrics.Registry
	logger      *slog.Logger
	timeNow     func() time.Time

	mu sync.Mutex
	ln net.Listener
}

// New returns a new Server that will listen on the IPv4 address addr. The
// tlsConfig should require and verify client certificates.
func New(addr string, tlsConfig *tls.Config, manager PortManager, opts ...Option) (*Server, error) {
	if tlsConfig == nil {
		return nil, errors.New("TLS configuration is required")
	}
	if manager == nil {
		return nil, errors.New("port manager implementation is required")
	}

	s := &Server{
		addr:      addr,
		tlsConfig: tlsConfig,
		manager:   manager,
	}

	opts = append(DefaultOptions(), opts...)
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Listen binds the listening socket. It's called by Serve if needed, but
// calling it beforehand allows finding out the address when listening on a
// dynamic port.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}

	ln, err := net.Listen("tcp4", s.addr)
	if err != nil {
		return fmt.Errorf("failed listening on %s: %w", s.addr, err)
	}
	s.ln = tls.NewListener(ln, s.tlsConfig)
	s.logger.Info("started listener", "address", ln.Addr().String())

	return nil
}

// Addr returns the address the server is listening on, or nil if it isn't
// listening yet.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx is done. Before returning, it closes the
// listener and waits for all in-flight connections to be handled. Failures on
// individual connections never stop the accept loop.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var (
		wg      sync.WaitGroup
		backoff time.Duration
	)
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info("stopped listener")
				return nil
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			s.logger.Warn("failed accepting connection", "error", err.Error(), "retry_in", backoff)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			continue
		}
		backoff = 0

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, conn)
		}()
	}
}
