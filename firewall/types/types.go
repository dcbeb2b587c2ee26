package types

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// FirewallType are the supported firewall management tools.
type FirewallType string

// All supported firewall management tools.
const (
	FirewallIPTables FirewallType = "iptables"
	FirewallNFTables FirewallType = "nftables"
)

// FirewallTypeFromString returns a valid FirewallType for the given string, or
// an error if the value is invalid.
func FirewallTypeFromString(val string) (FirewallType, error) {
	switch FirewallType(val) {
	case FirewallIPTables:
		return FirewallIPTables, nil
	case FirewallNFTables:
		return FirewallNFTables, nil
	}
	return "", fmt.Errorf("unsupported firewall type '%s'", val)
}

var (
	// ErrInvalidPort is returned for port numbers outside of 1..65535.
	ErrInvalidPort = errors.New("invalid port number")
	// ErrInvalidProtocol is returned for protocols other than tcp or udp.
	ErrInvalidProtocol = errors.New("invalid protocol")
)

// Protocol is a transport layer protocol that rules can match on.
type Protocol string

// Supported protocols.
const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// ParseProtocol returns the Protocol matching val case-insensitively.
func ParseProtocol(val string) (Protocol, error) {
	switch Protocol(strings.ToLower(val)) {
	case ProtocolTCP:
		return ProtocolTCP, nil
	case ProtocolUDP:
		return ProtocolUDP, nil
	}
	return "", fmt.Errorf("%w: '%s'", ErrInvalidProtocol, val)
}

// ValidPort returns true if port is a usable TCP or UDP port number.
func ValidPort(port int) bool {
	return port >= 1 && port <= 65535
}

// ValidProtocol returns true if val is "tcp" or "udp", ignoring case.
func ValidProtocol(val string) bool {
	_, err := ParseProtocol(val)
	return err == nil
}

// PortSpec is a destination port and protocol pair rules are created for.
type PortSpec struct {
	Port     uint16
	Protocol Protocol
}

// NewPortSpec validates port and protocol and returns a PortSpec. Invalid ports
// and protocols are reported with ErrInvalidPort and ErrInvalidProtocol
// respectively.
func NewPortSpec(port int, protocol string) (PortSpec, error) {
	if !ValidPort(port) {
		return PortSpec{}, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	proto, err := ParseProtocol(protocol)
	if err != nil {
		return PortSpec{}, err
	}
	return PortSpec{Port: uint16(port), Protocol: proto}, nil
}

func (ps PortSpec) String() string {
	return fmt.Sprintf("%d/%s", ps.Port, ps.Protocol)
}

// Direction is whether an allow rule is added or removed.
type Direction int

// Rule directions.
const (
	DirectionAdd Direction = iota
	DirectionRemove
)

func (d Direction) String() string {
	switch d {
	case DirectionAdd:
		return "add"
	case DirectionRemove:
		return "remove"
	}
	return "unknown"
}

// Rule is an allow rule for traffic from Address to a port and protocol.
type Rule struct {
	Address   netip.Addr
	Port      uint16
	Protocol  Protocol
	Direction Direction
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %s -> %d/%s", r.Direction, r.Address, r.Port, r.Protocol)
}

// Command is an external program invocation.
type Command struct {
	Name string
	Args []string
}

// String returns the command line, for logging purposes.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Request is a fully specified change of a single rule. Check is a command that
// exits with status 0 if the rule is present and 1 if it's absent, and Change
// is the command that adds or removes it.
type Request struct {
	Rule   Rule
	Check  Command
	Change Command
}

// Builder creates rule change requests for a specific firewall management tool.
// Implementations must be pure and deterministic.
type Builder interface {
	Build(rule Rule) Request
}

// Runner applies rule change requests.
type Runner interface {
	// Run applies the request and returns the outcome. A non-nil error means
	// the rule change failed.
	Run(ctx context.Context, req Request) (Outcome, error)
}

// Outcome is the result of applying a single request.
type Outcome int

// Request outcomes.
const (
	// OutcomeApplied means the change command was executed successfully.
	OutcomeApplied Outcome = iota
	// OutcomeSkipped means the rule was already in the requested state.
	OutcomeSkipped
	// OutcomeDryRun means the request was only logged.
	OutcomeDryRun
	// OutcomeFailed means the request couldn't be applied.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDryRun:
		return "dry_run"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown(" + strconv.Itoa(int(o)) + ")"
}
