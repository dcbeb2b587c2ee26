// Package iptables builds rule change requests for the iptables tool.
package iptables

import (
	"strconv"

	ftypes "go.hackfix.me/openme/firewall/types"
)

const (
	defaultBinary  = "iptables"
	defaultChain   = "INPUT"
	defaultComment = "openme"
)

// IPTables builds allow rules in a single iptables chain. Every rule is tagged
// with a comment, so that rules created by other tools are never matched.
type IPTables struct {
	binary  string
	chain   string
	comment string
}

var _ ftypes.Builder = (*IPTables)(nil)

// Option is a function that allows configuring the IPTables builder.
type Option func(*IPTables)

// WithBinary sets the name or path of the iptables executable.
func WithBinary(binary string) Option {
	return func(ipt *IPTables) {
		ipt.binary = binary
	}
}

// WithChain sets the chain rules are inserted into.
func WithChain(chain string) Option {
	return func(ipt *IPTables) {
		ipt.chain = chain
	}
}

// New returns a new IPTables builder.
func New(opts ...Option) *IPTables {
	ipt := &IPTables{
		binary:  defaultBinary,
		chain:   defaultChain,
		comment: defaultComment,
	}
	for _, opt := range opts {
		opt(ipt)
	}
	return ipt
}

// Build returns the request that adds or removes the allow rule. E.g.:
//
//	iptables -C INPUT -s 10.0.0.5/32 -p tcp --dport 443 -j ACCEPT -m comment --comment openme
//	iptables -I INPUT -s 10.0.0.5/32 -p tcp --dport 443 -j ACCEPT -m comment --comment openme
func (ipt *IPTables) Build(rule ftypes.Rule) ftypes.Request {
	change := "-I"
	if rule.Direction == ftypes.DirectionRemove {
		change = "-D"
	}

	return ftypes.Request{
		Rule:   rule,
		Check:  ftypes.Command{Name: ipt.binary, Args: ipt.ruleArgs("-C", rule)},
		Change: ftypes.Command{Name: ipt.binary, Args: ipt.ruleArgs(change, rule)},
	}
}

func (ipt *IPTables) ruleArgs(op string, rule ftypes.Rule) []string {
	return []string{
		op, ipt.chain,
		"-s", rule.Address.String() + "/32",
		"-p", string(rule.Protocol),
		"--dport", strconv.Itoa(int(rule.Port)),
		"-j", "ACCEPT",
		"-m", "comment", "--comment", ipt.comment,
	}
}
