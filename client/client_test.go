package client_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/openme/client"
	"go.hackfix.me/openme/crypto"
	"go.hackfix.me/openme/firewall"
	"go.hackfix.me/openme/firewall/iptables"
	"go.hackfix.me/openme/firewall/mock"
	ftypes "go.hackfix.me/openme/firewall/types"
	"go.hackfix.me/openme/server"
)

func newTestClient(t *testing.T) (*client.Client, *mock.Runner) {
	t.Helper()

	fs := memoryfs.New()
	files, err := crypto.GeneratePKI(fs, "/pki", crypto.PKIOptions{
		Hosts: []string{"127.0.0.1"}, ClientName: "tester",
		Expiration: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	srvCfg, err := crypto.ServerTLSConfig(fs, files.ServerCert, files.ServerKey, files.CACert)
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	runner := mock.New()
	mgr, err := firewall.NewManager(iptables.New(), runner,
		[]ftypes.PortSpec{{Port: 22, Protocol: ftypes.ProtocolTCP}}, firewall.WithLogger(logger))
	require.NoError(t, err)

	srv, err := server.New("127.0.0.1:0", srvCfg, mgr, server.WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	addr := srv.Addr().String()
	cliCfg, err := crypto.ClientTLSConfig(fs, files.ClientCert, files.ClientKey, files.CACert,
		client.ServerName(addr))
	require.NoError(t, err)

	return client.New(addr, cliCfg, logger), runner
}

func TestClientOpenClose(t *testing.T) {
	t.Parallel()

	c, runner := newTestClient(t)
	ctx := context.Background()

	rule := func(addr string) ftypes.Rule {
		return ftypes.Rule{Address: netip.MustParseAddr(addr), Port: 22, Protocol: ftypes.ProtocolTCP}
	}

	require.NoError(t, c.Open(ctx, ""))
	assert.True(t, runner.IsAllowed(rule("127.0.0.1")))

	require.NoError(t, c.Open(ctx, "10.0.0.5"))
	assert.True(t, runner.IsAllowed(rule("10.0.0.5")))

	require.NoError(t, c.Close(ctx, "10.0.0.5"))
	assert.False(t, runner.IsAllowed(rule("10.0.0.5")))

	require.NoError(t, c.Close(ctx, ""))
	assert.Empty(t, runner.Allowed())

	err := c.Open(ctx, "10.0.0.256")
	assert.ErrorIs(t, err, firewall.ErrInvalidAddress)

	resp, err := c.Send(ctx, "PING")
	require.NoError(t, err)
	assert.Equal(t, "KO", resp)

	runner.SetFailFunc(func(ftypes.Request) error { return errors.New("exit status 4") })
	err = c.Open(ctx, "10.0.0.6")
	assert.ErrorIs(t, err, client.ErrRejected)
}

func TestClientPublicIP(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			fmt.Fprintln(w, "203.0.113.7")
		case "/bad":
			fmt.Fprint(w, "<html>")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(ts.Close)

	c := client.New("127.0.0.1:1", nil, slog.New(slog.DiscardHandler))

	testCases := []struct {
		path   string
		expIP  string
		expErr string
	}{
		{path: "/ok", expIP: "203.0.113.7"},
		{path: "/bad", expErr: "invalid response"},
		{path: "/missing", expErr: "request failed"},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			t.Parallel()

			ip, err := c.PublicIP(context.Background(), ts.URL+tc.path)
			if tc.expErr != "" {
				assert.EqualError(t, err, tc.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expIP, ip)
		})
	}
}

func TestServerName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "vpn.example.com", client.ServerName("vpn.example.com:54154"))
	assert.Equal(t, "10.0.0.1", client.ServerName("10.0.0.1"))
}
