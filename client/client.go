// Package client sends commands to a remote openme server.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	aerrors "go.hackfix.me/openme/app/errors"
	"go.hackfix.me/openme/firewall"
	"go.hackfix.me/openme/server"
)

// ErrRejected is returned when the server responds with a failure.
var ErrRejected = errors.New("server rejected the command")

// DefaultTimeout is the default time limit for a single command exchange.
const DefaultTimeout = 30 * time.Second

// Client is a friendly interface over the openme wire protocol.
type Client struct {
	address   string
	tlsConfig *tls.Config
	timeout   time.Duration
	http      *http.Client
	logger    *slog.Logger
}

// New returns a new client for the server at address. The tlsConfig must
// contain the client certificate and the CA that signed the server
// certificate.
func New(address string, tlsConfig *tls.Config, logger *slog.Logger) *Client {
	return &Client{
		address:   address,
		tlsConfig: tlsConfig,
		timeout:   DefaultTimeout,
		http:      &http.Client{Timeout: DefaultTimeout},
		logger:    logger.With("component", "client"),
	}
}

// Open asks the server to open its ports for target, or for the address the
// connection originates from if target is empty.
func (c *Client) Open(ctx context.Context, target string) error {
	return c.run(ctx, true, target)
}

// Close asks the server to close its ports for target, or for the address the
// connection originates from if target is empty.
func (c *Client) Close(ctx context.Context, target string) error {
	return c.run(ctx, false, target)
}

func (c *Client) run(ctx context.Context, open bool, target string) error {
	cmd, err := server.NewCommand(open, target)
	if err != nil {
		return err
	}

	resp, err := c.Send(ctx, cmd.String())
	if err != nil {
		return err
	}

	c.logger.Debug("received response", "command", cmd.String(), "response", resp)
	if resp != server.ResponseOK {
		return aerrors.NewWithCause("command failed", ErrRejected,
			"command", cmd.String(), "response", resp)
	}

	return nil
}

// Send writes the raw payload to a new connection, and returns the server
// response.
func (c *Client) Send(ctx context.Context, payload string) (string, error) {
	errFields := []any{"address", c.address}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dialer := &tls.Dialer{Config: c.tlsConfig}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return "", aerrors.NewWithCause("failed connecting to server", err, errFields...)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err = conn.SetDeadline(deadline); err != nil {
			return "", aerrors.NewWithCause("failed setting deadline", err, errFields...)
		}
	}

	if _, err = io.WriteString(conn, payload); err != nil {
		return "", aerrors.NewWithCause("failed sending command", err, errFields...)
	}

	resp, err := io.ReadAll(io.LimitReader(conn, 64))
	if err != nil && len(resp) == 0 {
		return "", aerrors.NewWithCause("failed reading response", err, errFields...)
	}

	return strings.TrimSpace(string(resp)), nil
}

// PublicIP returns the public IPv4 address of this host, as reported by the
// plain text HTTP service at serviceURL.
func (c *Client) PublicIP(ctx context.Context, serviceURL string) (string, error) {
	errFields := []any{"url", serviceURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serviceURL, nil)
	if err != nil {
		return "", aerrors.NewWithCause("failed creating request", err, errFields...)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", aerrors.NewWithCause("failed sending request", err, errFields...)
	}
	defer resp.Body.Close()

	errFields = append(errFields, "status_code", resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		return "", aerrors.NewWith("request failed", errFields...)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", aerrors.NewWithCause("failed reading response body", err, errFields...)
	}

	ip := strings.TrimSpace(string(body))
	if !firewall.IsIPv4(ip) {
		return "", aerrors.NewWithCause("invalid response",
			fmt.Errorf("%w: '%s'", firewall.ErrInvalidAddress, ip), errFields...)
	}

	return ip, nil
}

// ServerName returns the host part of address, used for verifying the server
// certificate.
func ServerName(address string) string {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return address
	}
	return host
}
