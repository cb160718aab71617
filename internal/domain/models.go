package domain

import "time"

// Account represents a bot user's credit balance and standing.
type Account struct {
	UserID    string    `json:"user_id"`
	Credits   int64     `json:"credits"`
	Blocked   bool      `json:"blocked"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Command is a parsed inbound chat command handed over by the transport.
type Command struct {
	UserID  string   `json:"user_id"`
	Name    string   `json:"name"`
	Args    []string `json:"args"`
	RawText string   `json:"raw_text,omitempty"`
}

// Response is what the transport delivers back to the originating chat.
type Response struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`
}

// Outcome classifies how a dispatched command attempt ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomeFailed  Outcome = "failed"
)

// LogEntry is one row of the append-only command audit log. Exactly one
// entry is written per dispatched command attempt, whatever the outcome.
type LogEntry struct {
	Seq          int64     `json:"seq"`
	Timestamp    time.Time `json:"ts"`
	UserID       string    `json:"user_id"`
	Command      string    `json:"command"`
	Argument     string    `json:"argument"`
	Outcome      Outcome   `json:"outcome"`
	CreditsAfter int64     `json:"credits_after"`
}

// CreditEntry records a single balance mutation (grant, deduction, refund).
// The refund issued after a failed lookup is an ordinary entry with a
// "refund" reason, so the trail always explains the net balance.
type CreditEntry struct {
	UserID string `json:"user_id"`
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

// VehicleDetail is the upstream collaborator's answer for one plate. The
// payload is owned by the collaborator and passed through opaquely.
type VehicleDetail struct {
	Plate string `json:"plate"`
	Raw   string `json:"raw"`
}

// BroadcastSummary aggregates one fan-out job.
type BroadcastSummary struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// Command names understood by the dispatcher.
const (
	CmdStart     = "start"
	CmdLookup    = "lookup"
	CmdBalance   = "balance"
	CmdBuy       = "buy"
	CmdGrant     = "grant_credits"
	CmdBlock     = "block"
	CmdUnblock   = "unblock"
	CmdBroadcast = "broadcast"
)

// AdminOnly reports whether a command mutates other accounts or fans out
// to all users, and therefore requires the admin capability.
func AdminOnly(name string) bool {
	switch name {
	case CmdGrant, CmdBlock, CmdUnblock, CmdBroadcast:
		return true
	}
	return false
}

// Paid reports whether a command consumes credit.
func Paid(name string) bool {
	return name == CmdLookup
}
