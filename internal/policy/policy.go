// Package policy decides whether a user may run a command. Admin
// membership is resolved once at startup into an immutable set rather
// than re-checked against configuration on every command.
package policy

import "github.com/nanacinema/rcfinder/internal/domain"

// Reason explains a denial.
type Reason string

const (
	ReasonBlocked            Reason = "blocked"
	ReasonNotAuthorized      Reason = "not_authorized"
	ReasonInsufficientCredit Reason = "insufficient_credit"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

var allow = Decision{Allowed: true}

func deny(r Reason) Decision {
	return Decision{Reason: r}
}

type Policy struct {
	admins     map[string]struct{}
	lookupCost int64
}

func New(adminIDs []string, lookupCost int64) *Policy {
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Policy{admins: admins, lookupCost: lookupCost}
}

// IsAdmin honors both the configured capability set and the persisted
// account flag, so an admin promoted at runtime via the store counts too.
func (p *Policy) IsAdmin(acc *domain.Account) bool {
	if acc.IsAdmin {
		return true
	}
	_, ok := p.admins[acc.UserID]
	return ok
}

// Authorize evaluates the rules in order: blocked users are denied
// everything, admin-only commands require the capability, paid commands
// require enough credit. First match wins.
func (p *Policy) Authorize(acc *domain.Account, command string) Decision {
	if acc.Blocked {
		return deny(ReasonBlocked)
	}
	if domain.AdminOnly(command) && !p.IsAdmin(acc) {
		return deny(ReasonNotAuthorized)
	}
	if domain.Paid(command) && acc.Credits < p.lookupCost {
		return deny(ReasonInsufficientCredit)
	}
	return allow
}
