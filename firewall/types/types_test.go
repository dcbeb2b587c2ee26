package types

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidPort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		port int
		exp  bool
	}{
		{port: -1, exp: false},
		{port: 0, exp: false},
		{port: 1, exp: true},
		{port: 443, exp: true},
		{port: 65535, exp: true},
		{port: 65536, exp: false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.exp, ValidPort(tt.port), "port %d", tt.port)
	}
}

func TestParseProtocol(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		exp    Protocol
		expErr string
	}{
		{name: "ok/tcp", input: "tcp", exp: ProtocolTCP},
		{name: "ok/tcp_upper", input: "TCP", exp: ProtocolTCP},
		{name: "ok/udp_mixed", input: "uDp", exp: ProtocolUDP},
		{name: "err/icmp", input: "icmp", expErr: "invalid protocol: 'icmp'"},
		{name: "err/empty", input: "", expErr: "invalid protocol"},
		{name: "err/padded", input: " tcp", expErr: "invalid protocol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			proto, err := ParseProtocol(tt.input)
			if tt.expErr != "" {
				require.ErrorIs(t, err, ErrInvalidProtocol)
				assert.ErrorContains(t, err, tt.expErr)
				assert.False(t, ValidProtocol(tt.input))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.exp, proto)
			assert.True(t, ValidProtocol(tt.input))
		})
	}
}

func TestNewPortSpec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		port     int
		protocol string
		exp      PortSpec
		expErr   error
	}{
		{name: "ok/tcp", port: 80, protocol: "tcp", exp: PortSpec{Port: 80, Protocol: ProtocolTCP}},
		{name: "ok/max_port_udp", port: 65535, protocol: "UDP", exp: PortSpec{Port: 65535, Protocol: ProtocolUDP}},
		{name: "err/zero_port", port: 0, protocol: "tcp", expErr: ErrInvalidPort},
		{name: "err/port_too_large", port: 65536, protocol: "tcp", expErr: ErrInvalidPort},
		{name: "err/bad_protocol", port: 22, protocol: "sctp", expErr: ErrInvalidProtocol},
		{name: "err/port_checked_first", port: 0, protocol: "sctp", expErr: ErrInvalidPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ps, err := NewPortSpec(tt.port, tt.protocol)
			if tt.expErr != nil {
				require.ErrorIs(t, err, tt.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.exp, ps)
		})
	}
}

func TestStringers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "443/tcp", PortSpec{Port: 443, Protocol: ProtocolTCP}.String())
	assert.Equal(t, "add", DirectionAdd.String())
	assert.Equal(t, "remove", DirectionRemove.String())
	assert.Equal(t, "dry_run", OutcomeDryRun.String())

	rule := Rule{
		Address:   netip.MustParseAddr("10.0.0.5"),
		Port:      53,
		Protocol:  ProtocolUDP,
		Direction: DirectionRemove,
	}
	assert.Equal(t, "remove 10.0.0.5 -> 53/udp", rule.String())

	cmd := Command{Name: "iptables", Args: []string{"-C", "INPUT"}}
	assert.Equal(t, "iptables -C INPUT", cmd.String())
}

func TestFirewallTypeFromString(t *testing.T) {
	t.Parallel()

	ft, err := FirewallTypeFromString("iptables")
	require.NoError(t, err)
	assert.Equal(t, FirewallIPTables, ft)

	ft, err = FirewallTypeFromString("nftables")
	require.NoError(t, err)
	assert.Equal(t, FirewallNFTables, ft)

	_, err = FirewallTypeFromString("pf")
	assert.EqualError(t, err, "unsupported firewall type 'pf'")
}
