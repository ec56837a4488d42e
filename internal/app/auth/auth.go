// Package auth holds the authority policies guarding privileged issuance
// operations. The issuance service asks its Authorizer once per operation, so
// alternative schemes plug in without touching issuance logic.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnauthorized is returned when a caller lacks authority for an action.
var ErrUnauthorized = errors.New("unauthorized")

// Action names a privileged operation.
type Action string

const (
	ActionLaunch             Action = "launch"
	ActionUpdate             Action = "update"
	ActionOwnerMint          Action = "owner_mint"
	ActionWithdraw           Action = "withdraw"
	ActionSetMetadataBase    Action = "set_metadata_base"
	ActionSetPaymentCurrency Action = "set_payment_currency"
)

// Actions lists every privileged action.
func Actions() []Action {
	return []Action{
		ActionLaunch, ActionUpdate, ActionOwnerMint, ActionWithdraw,
		ActionSetMetadataBase, ActionSetPaymentCurrency,
	}
}

// Authorizer decides whether caller may perform action.
type Authorizer interface {
	Authorize(ctx context.Context, caller string, action Action) error
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, caller string, action Action) error

func (f AuthorizerFunc) Authorize(ctx context.Context, caller string, action Action) error {
	return f(ctx, caller, action)
}

// OwnerPolicy grants every action to a single owner.
type OwnerPolicy struct {
	owner string
}

// NewOwnerPolicy returns a single-owner policy.
func NewOwnerPolicy(owner string) OwnerPolicy {
	return OwnerPolicy{owner: strings.TrimSpace(owner)}
}

// Owner returns the configured owner.
func (p OwnerPolicy) Owner() string { return p.owner }

func (p OwnerPolicy) Authorize(_ context.Context, caller string, action Action) error {
	caller = strings.TrimSpace(caller)
	if p.owner == "" || caller != p.owner {
		return fmt.Errorf("%w: %s requires the owner", ErrUnauthorized, action)
	}
	return nil
}

// RolePolicy grants actions to sets of callers. Admins hold every action.
type RolePolicy struct {
	mu     sync.RWMutex
	admins map[string]struct{}
	grants map[Action]map[string]struct{}
}

// NewRolePolicy builds a policy with the given admins.
func NewRolePolicy(admins ...string) *RolePolicy {
	p := &RolePolicy{
		admins: make(map[string]struct{}),
		grants: make(map[Action]map[string]struct{}),
	}
	for _, a := range admins {
		if a = strings.TrimSpace(a); a != "" {
			p.admins[a] = struct{}{}
		}
	}
	return p
}

// Grant allows callers to perform action.
func (p *RolePolicy) Grant(action Action, callers ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.grants[action]
	if !ok {
		set = make(map[string]struct{})
		p.grants[action] = set
	}
	for _, c := range callers {
		if c = strings.TrimSpace(c); c != "" {
			set[c] = struct{}{}
		}
	}
}

// Revoke removes callers from action.
func (p *RolePolicy) Revoke(action Action, callers ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range callers {
		delete(p.grants[action], strings.TrimSpace(c))
	}
}

func (p *RolePolicy) Authorize(_ context.Context, caller string, action Action) error {
	caller = strings.TrimSpace(caller)
	p.mu.RLock()
	defer p.mu.RUnlock()
	if caller != "" {
		if _, ok := p.admins[caller]; ok {
			return nil
		}
		if _, ok := p.grants[action][caller]; ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not granted to %q", ErrUnauthorized, action, caller)
}

// ParseCSVSet splits a comma separated list, dropping blanks.
func ParseCSVSet(raw string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
