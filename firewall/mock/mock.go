// Package mock contains a rule change runner that records requests in memory
// instead of executing them.
package mock

import (
	"context"
	"sync"

	ftypes "go.hackfix.me/openme/firewall/types"
)

// Runner records applied requests, and keeps track of the resulting rule state.
type Runner struct {
	mx       sync.Mutex
	requests []ftypes.Request
	allowed  map[ftypes.Rule]struct{}
	failFn   func(ftypes.Request) error // to simulate errors
}

var _ ftypes.Runner = (*Runner)(nil)

// New returns a new mock Runner.
func New() *Runner {
	return &Runner{allowed: make(map[ftypes.Rule]struct{})}
}

// Run implements the ftypes.Runner interface.
func (r *Runner) Run(_ context.Context, req ftypes.Request) (ftypes.Outcome, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	r.requests = append(r.requests, req)
	if r.failFn != nil {
		if err := r.failFn(req); err != nil {
			return ftypes.OutcomeFailed, err
		}
	}

	key := req.Rule
	key.Direction = ftypes.DirectionAdd
	_, exists := r.allowed[key]
	switch req.Rule.Direction {
	case ftypes.DirectionAdd:
		if exists {
			return ftypes.OutcomeSkipped, nil
		}
		r.allowed[key] = struct{}{}
	case ftypes.DirectionRemove:
		if !exists {
			return ftypes.OutcomeSkipped, nil
		}
		delete(r.allowed, key)
	}

	return ftypes.OutcomeApplied, nil
}

// SetFailFunc sets a function that is called for every request. If it returns
// an error, the request fails with it.
func (r *Runner) SetFailFunc(fn func(ftypes.Request) error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.failFn = fn
}

// Requests returns a copy of all requests received so far.
func (r *Runner) Requests() []ftypes.Request {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]ftypes.Request(nil), r.requests...)
}

// Allowed returns the rules currently allowed, regardless of their direction.
func (r *Runner) Allowed() []ftypes.Rule {
	r.mx.Lock()
	defer r.mx.Unlock()
	rules := make([]ftypes.Rule, 0, len(r.allowed))
	for rule := range r.allowed {
		rules = append(rules, rule)
	}
	return rules
}

// IsAllowed returns true if an allow rule exists for the rule's address, port
// and protocol.
func (r *Runner) IsAllowed(rule ftypes.Rule) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	rule.Direction = ftypes.DirectionAdd
	_, ok := r.allowed[rule]
	return ok
}
