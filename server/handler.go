package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"runtime/debug"
	"strings"

	"github.com/nrednav/cuid2"
)

// maxPayloadSize is the maximum amount of bytes read from a client.
const maxPayloadSize = 1024

// Connection results used as metric labels.
const (
	resultHandled         = "handled"
	resultHandshakeFailed = "handshake_failed"
	resultPanic           = "panic"
)

// Command statuses used as metric labels.
const (
	statusOK      = "ok"
	statusInvalid = "invalid"
	statusDenied  = "denied"
	statusFailed  = "failed"
)

// PortManager opens and closes the configured ports for an address.
type PortManager interface {
	Open(ctx context.Context, addr netip.Addr) error
	Close(ctx context.Context, addr netip.Addr) error
}

// handle processes a single client connection: it completes the TLS
// handshake, reads one command, executes it and writes the response. The
// connection is always closed before returning, and panics are recovered.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	logger := s.logger.With("conn_id", cuid2.Generate(), "peer", conn.RemoteAddr().String())
	result := resultHandled

	defer func() {
		if r := recover(); r != nil {
			result = resultPanic
			logger.Error("panic while handling connection",
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("failed closing connection", "error", err.Error())
		}
		s.metrics.ConnectionDone(result)
	}()

	// The deadline bounds the handshake and the read. Rule changes may take
	// longer, so the response gets its own write deadline.
	if err := conn.SetDeadline(s.timeNow().Add(s.readTimeout)); err != nil {
		logger.Warn("failed setting connection deadline", "error", err.Error())
		return
	}

	if tc, ok := conn.(*tls.Conn); ok {
		if err := tc.HandshakeContext(ctx); err != nil {
			result = resultHandshakeFailed
			logger.Warn("TLS handshake failed", "error", err.Error())
			return
		}
		if cn := clientName(tc.ConnectionState()); cn != "" {
			logger = logger.With("client", cn)
		}
	}

	resp := s.dispatch(ctx, conn, logger)
	if resp == "" {
		return
	}

	if err := conn.SetWriteDeadline(s.timeNow().Add(s.readTimeout)); err != nil {
		logger.Warn("failed setting write deadline", "error", err.Error())
		return
	}

	if _, err := io.WriteString(conn, resp); err != nil {
		logger.Warn("failed writing response", "error", err.Error())
	}
}

// dispatch reads and executes the client command, and returns the response
// that should be sent. It returns an empty string if no command could be read.
func (s *Server) dispatch(ctx context.Context, conn net.Conn, logger *slog.Logger) string {
	buf := make([]byte, maxPayloadSize)
	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		logger.Warn("failed reading command", "error", err.Error())
		return ""
	}
	raw := string(buf[:n])

	cmd, err := ParseCommand(raw)
	if err != nil {
		logger.Warn("invalid command", "raw", strings.TrimSpace(raw), "error", err.Error())
		s.metrics.CommandDone(cmd.Name(), statusInvalid)
		return ResponseKO
	}

	target := cmd.Target
	if cmd.ForCaller() {
		target, err = peerAddr(conn.RemoteAddr())
		if err != nil {
			logger.Warn("invalid command", "raw", strings.TrimSpace(raw), "error", err.Error())
			s.metrics.CommandDone(cmd.Name(), statusInvalid)
			return ResponseKO
		}
	}

	logger = logger.With("command", cmd.String(), "target", target.String())

	if s.allowed != nil && !s.allowed.Contains(target) {
		logger.Warn("rejected command", "error", ErrTargetNotAllowed.Error())
		s.metrics.CommandDone(cmd.Name(), statusDenied)
		return ResponseKO
	}

	// Rule changes run to completion even if the server is shutting down.
	mctx := context.WithoutCancel(ctx)
	if cmd.Open() {
		err = s.manager.Open(mctx, target)
	} else {
		err = s.manager.Close(mctx, target)
	}
	if err != nil {
		logger.Warn("failed executing command", "error", err.Error())
		s.metrics.CommandDone(cmd.Name(), statusFailed)
		return ResponseKO
	}

	logger.Info("executed command")
	s.metrics.CommandDone(cmd.Name(), statusOK)

	return ResponseOK
}

func peerAddr(addr net.Addr) (netip.Addr, error) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.AddrPort().Addr().Unmap(), nil
	}

	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed parsing peer address: %w", err)
	}

	return ap.Addr().Unmap(), nil
}

func clientName(cs tls.ConnectionState) string {
	if len(cs.VerifiedChains) == 0 || len(cs.VerifiedChains[0]) == 0 {
		return ""
	}
	return cs.VerifiedChains[0][0].Subject.CommonName
}

