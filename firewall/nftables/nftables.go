// Package nftables builds rule change requests for the nft tool, and
// bootstraps the nftables objects these requests operate on.
package nftables

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	gnft "github.com/google/nftables"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"

	ftypes "go.hackfix.me/openme/firewall/types"
)

const (
	defaultBinary = "nft"
	tableName     = "openme"
	chainName     = "input"
	setName       = "allowed"
)

// NFTables manages allow rules as elements of a named set. Each element is a
// concatenation of the source IPv4 address, the layer 4 protocol and the
// destination port.
type NFTables struct {
	binary string
	logger *slog.Logger
}

var _ ftypes.Builder = (*NFTables)(nil)

// New returns a new NFTables instance. If binary is empty, "nft" is used.
func New(binary string, logger *slog.Logger) *NFTables {
	if binary == "" {
		binary = defaultBinary
	}
	return &NFTables{binary: binary, logger: logger.With("type", "nftables")}
}

// Build returns the request that adds or removes the set element. E.g.:
//
//	nft get element inet openme allowed { 10.0.0.5 . tcp . 443 }
//	nft add element inet openme allowed { 10.0.0.5 . tcp . 443 }
func (n *NFTables) Build(rule ftypes.Rule) ftypes.Request {
	change := "add"
	if rule.Direction == ftypes.DirectionRemove {
		change = "delete"
	}

	return ftypes.Request{
		Rule:   rule,
		Check:  ftypes.Command{Name: n.binary, Args: elementArgs("get", rule)},
		Change: ftypes.Command{Name: n.binary, Args: elementArgs(change, rule)},
	}
}

func elementArgs(op string, rule ftypes.Rule) []string {
	return []string{
		op, "element", "inet", tableName, setName,
		"{", rule.Address.String(), ".", string(rule.Protocol), ".", strconv.Itoa(int(rule.Port)), "}",
	}
}

// Init creates the nftables ruleset used by the requests returned by Build. It
// is idempotent: existing objects are reused, and the chain rules are
// recreated, so that changes to the guarded ports are picked up.
//
// For the ports 22/tcp and 53/udp it creates the following ruleset:
//
//	table inet openme {
//	    set allowed {
//	        type ipv4_addr . inet_proto . inet_service
//	    }
//
//	    chain input {
//	        type filter hook input priority filter; policy accept;
//	        ct state established,related accept
//	        ip saddr . meta l4proto . th dport @allowed accept
//	        meta l4proto tcp th dport 22 drop
//	        meta l4proto udp th dport 53 drop
//	    }
//	}
//
// Traffic to ports that aren't guarded is left to other tables.
func (n *NFTables) Init(ports []ftypes.PortSpec) (err error) {
	conn, err := gnft.New()
	if err != nil {
		return fmt.Errorf("failed establishing netlink connection: %w", err)
	}

	var created bool
	defer func() {
		if err == nil {
			if ferr := conn.Flush(); ferr != nil {
				err = fmt.Errorf("failed flushing rules: %w", ferr)
			} else if created {
				n.logger.Info("firewall initialized")
			}
		}
	}()

	table, err := conn.ListTableOfFamily(tableName, gnft.TableFamilyINet)
	if errors.Is(err, os.ErrNotExist) {
		table = conn.AddTable(&gnft.Table{Name: tableName, Family: gnft.TableFamilyINet})
		n.logger.Debug("initializing firewall")
		created = true
	} else if err != nil {
		return fmt.Errorf("failed getting table %s: %w", tableName, err)
	}

	set, err := conn.GetSetByName(table, setName)
	if errors.Is(err, os.ErrNotExist) {
		set = &gnft.Set{
			ID:            1,
			Name:          setName,
			Table:         table,
			KeyType:       gnft.MustConcatSetType(gnft.TypeIPAddr, gnft.TypeInetProto, gnft.TypeInetService),
			Concatenation: true,
		}
		if err = conn.AddSet(set, nil); err != nil {
			return fmt.Errorf("failed adding set '%s': %w", setName, err)
		}
	} else if err != nil {
		return fmt.Errorf("failed getting set '%s': %w", setName, err)
	}

	chain, err := conn.ListChain(table, chainName)
	switch {
	// ListChain returns a non-wrapped error, so errors.Is(err, os.ErrNotExist)
	// doesn't work here.
	case err != nil && strings.Contains(err.Error(), "no such file or directory"):
		acceptPolicy := gnft.ChainPolicyAccept
		chain = conn.AddChain(&gnft.Chain{
			Name:     chainName,
			Table:    table,
			Type:     gnft.ChainTypeFilter,
			Hooknum:  gnft.ChainHookInput,
			Priority: gnft.ChainPriorityFilter,
			Policy:   &acceptPolicy,
		})
	case err != nil:
		return fmt.Errorf("failed getting chain '%s': %w", chainName, err)
	default:
		conn.FlushChain(chain)
	}

	conn.AddRule(&gnft.Rule{Table: table, Chain: chain, Exprs: establishedExprs()})
	conn.AddRule(&gnft.Rule{Table: table, Chain: chain, Exprs: allowedExprs(set)})
	for _, ps := range ports {
		conn.AddRule(&gnft.Rule{Table: table, Chain: chain, Exprs: guardExprs(ps)})
	}

	return nil
}

// ct state established,related accept
func establishedExprs() []expr.Any {
	return []expr.Any{
		&expr.Ct{Register: 1, Key: expr.CtKeySTATE},
		&expr.Bitwise{
			SourceRegister: 1,
			DestRegister:   1,
			Len:            4,
			Mask:           []byte{0x06, 0x00, 0x00, 0x00}, // ESTABLISHED | RELATED
			Xor:            []byte{0x00, 0x00, 0x00, 0x00},
		},
		&expr.Cmp{Op: expr.CmpOpNeq, Register: 1, Data: []byte{0x00, 0x00, 0x00, 0x00}},
		&expr.Verdict{Kind: expr.VerdictAccept},
	}
}

// ip saddr . meta l4proto . th dport @allowed accept
func allowedExprs(set *gnft.Set) []expr.Any {
	return []expr.Any{
		// Match on IPv4
		&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{unix.NFPROTO_IPV4}},
		// Source address into register 1 (32-bit register 8), protocol into
		// 32-bit register 9 and destination port into 32-bit register 10, which
		// is the layout the concatenated set key is read from.
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseNetworkHeader,
			Offset:       12,
			Len:          4,
		},
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 9},
		&expr.Payload{
			DestRegister: 10,
			Base:         expr.PayloadBaseTransportHeader,
			Offset:       2,
			Len:          2,
		},
		&expr.Lookup{SourceRegister: 1, SetName: set.Name, SetID: set.ID},
		&expr.Verdict{Kind: expr.VerdictAccept},
	}
}

// meta l4proto <proto> th dport <port> drop
func guardExprs(ps ftypes.PortSpec) []expr.Any {
	proto := byte(unix.IPPROTO_TCP)
	if ps.Protocol == ftypes.ProtocolUDP {
		proto = unix.IPPROTO_UDP
	}
	port := make([]byte, 2)
	binary.BigEndian.PutUint16(port, ps.Port)

	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{proto}},
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseTransportHeader,
			Offset:       2,
			Len:          2,
		},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: port},
		&expr.Verdict{Kind: expr.VerdictDrop},
	}
}
