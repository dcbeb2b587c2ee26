package server

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"go.hackfix.me/openme/firewall"
)

var (
	// ErrUnknownCommand is returned for payloads that don't match any command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrTargetNotAllowed is returned when the command target is outside of
	// the allowed networks.
	ErrTargetNotAllowed = errors.New("target address not allowed")
)

// Action is the kind of a client command.
type Action int

// Client command actions.
const (
	ActionUnknown Action = iota
	// ActionOpenForCaller opens the ports for the connecting client address.
	ActionOpenForCaller
	// ActionOpenForAddress opens the ports for an explicit address.
	ActionOpenForAddress
	// ActionCloseForCaller closes the ports for the connecting client address.
	ActionCloseForCaller
	// ActionCloseForAddress closes the ports for an explicit address.
	ActionCloseForAddress
)

// Wire protocol keywords and responses.
const (
	keywordOpen  = "OPEN"
	keywordClose = "MEOPEN"
	keywordMe    = "ME"

	ResponseOK = "OK"
	ResponseKO = "KO"
)

// Command is a parsed client command.
type Command struct {
	Action Action
	// Target is only set for ActionOpenForAddress and ActionCloseForAddress.
	Target netip.Addr
}

// Open returns true if the command adds allow rules.
func (c Command) Open() bool {
	return c.Action == ActionOpenForCaller || c.Action == ActionOpenForAddress
}

// ForCaller returns true if the command targets the connecting client.
func (c Command) ForCaller() bool {
	return c.Action == ActionOpenForCaller || c.Action == ActionCloseForCaller
}

// Name returns a short name of the command, used in logs and metric labels.
func (c Command) Name() string {
	switch {
	case c.Action == ActionUnknown:
		return "unknown"
	case c.Open():
		return "open"
	default:
		return "close"
	}
}

// String returns the wire representation of the command.
func (c Command) String() string {
	switch c.Action {
	case ActionOpenForCaller:
		return keywordOpen + " " + keywordMe
	case ActionOpenForAddress:
		return keywordOpen + " " + c.Target.String()
	case ActionCloseForCaller:
		return keywordClose
	case ActionCloseForAddress:
		return keywordClose + " " + c.Target.String()
	}
	return "UNKNOWN"
}

// ParseCommand parses a raw client payload. Keywords are case-sensitive, and
// surrounding whitespace is ignored. If the keyword is recognized but the
// address argument is invalid, the returned Command has its Action set, and
// the error wraps firewall.ErrInvalidAddress.
func ParseCommand(raw string) (Command, error) {
	fields := strings.Fields(raw)

	var cmd Command
	switch {
	case len(fields) == 2 && fields[0] == keywordOpen && fields[1] == keywordMe:
		return Command{Action: ActionOpenForCaller}, nil
	case len(fields) == 2 && fields[0] == keywordOpen:
		cmd.Action = ActionOpenForAddress
	case len(fields) == 1 && fields[0] == keywordClose:
		return Command{Action: ActionCloseForCaller}, nil
	case len(fields) == 2 && fields[0] == keywordClose:
		cmd.Action = ActionCloseForAddress
	default:
		return Command{}, fmt.Errorf("%w: '%s'", ErrUnknownCommand, strings.TrimSpace(raw))
	}

	addr, err := firewall.ParseIPv4(fields[1])
	if err != nil {
		return cmd, err
	}
	cmd.Target = addr

	return cmd, nil
}

// NewCommand returns the command that opens or closes the ports for target.
// If target is empty, the command applies to the connecting client.
func NewCommand(open bool, target string) (Command, error) {
	if target == "" {
		if open {
			return Command{Action: ActionOpenForCaller}, nil
		}
		return Command{Action: ActionCloseForCaller}, nil
	}

	addr, err := firewall.ParseIPv4(target)
	if err != nil {
		return Command{}, err
	}

	cmd := Command{Action: ActionCloseForAddress, Target: addr}
	if open {
		cmd.Action = ActionOpenForAddress
	}

	return cmd, nil
}
