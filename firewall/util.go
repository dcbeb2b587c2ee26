package firewall

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

// ErrInvalidAddress is returned for strings that are not strict dotted-quad
// IPv4 addresses.
var ErrInvalidAddress = errors.New("invalid IPv4 address")

// ParseIPv4 parses a strict dotted-quad IPv4 address: exactly four decimal
// octets in 0..255, without leading zeros, whitespace or any other characters.
func ParseIPv4(s string) (netip.Addr, error) {
	octets := strings.Split(s, ".")
	if len(octets) != 4 {
		return netip.Addr{}, fmt.Errorf("%w: '%s'", ErrInvalidAddress, s)
	}

	var ip [4]byte
	for i, o := range octets {
		if len(o) == 0 || len(o) > 3 || (len(o) > 1 && o[0] == '0') {
			return netip.Addr{}, fmt.Errorf("%w: '%s'", ErrInvalidAddress, s)
		}
		n := 0
		for _, c := range []byte(o) {
			if c < '0' || c > '9' {
				return netip.Addr{}, fmt.Errorf("%w: '%s'", ErrInvalidAddress, s)
			}
			n = n*10 + int(c-'0')
		}
		if n > 255 {
			return netip.Addr{}, fmt.Errorf("%w: '%s'", ErrInvalidAddress, s)
		}
		ip[i] = byte(n)
	}

	return netip.AddrFrom4(ip), nil
}

// IsIPv4 returns true if s is a strict dotted-quad IPv4 address.
func IsIPv4(s string) bool {
	_, err := ParseIPv4(s)
	return err == nil
}

// ParseToIPSet parses one or more IP address strings in plain, CIDR or range
// notation, and returns an IP set containing IP ranges.
func ParseToIPSet(ipAddr ...string) (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder
	for _, ip := range ipAddr {
		if addr, err := netip.ParseAddr(ip); err == nil {
			b.Add(addr)
			continue
		}
		if cidr, err := netip.ParsePrefix(ip); err == nil {
			b.AddPrefix(cidr.Masked())
			continue
		}
		ipRange, err := netipx.ParseIPRange(ip)
		if err != nil {
			return nil, fmt.Errorf("failed parsing IP address '%s': %w", ip, err)
		}
		b.AddRange(ipRange)
	}

	ipSet, err := b.IPSet()
	if err != nil {
		return nil, fmt.Errorf("failed building IP set: %w", err)
	}

	return ipSet, nil
}
