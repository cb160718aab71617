// Package service holds the command dispatcher and the broadcast
// coordinator: the orchestration between authorization, the ledger
// store, and the lookup gateway.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nanacinema/rcfinder/internal/domain"
	"github.com/nanacinema/rcfinder/internal/gateway"
	"github.com/nanacinema/rcfinder/internal/policy"
	"github.com/nanacinema/rcfinder/internal/store"
)

// Ledger is the slice of the store the dispatcher and broadcaster need.
type Ledger interface {
	GetAccount(ctx context.Context, userID string) (*domain.Account, error)
	AdjustCredits(ctx context.Context, userID string, delta int64, reason string) (int64, error)
	SetBlocked(ctx context.Context, userID string, blocked bool) error
	AppendLog(ctx context.Context, entry domain.LogEntry) error
	ListRecipients(ctx context.Context) ([]string, error)
}

// Lookup is the gateway to the vehicle-detail collaborator.
type Lookup interface {
	Lookup(ctx context.Context, plate string) (*domain.VehicleDetail, error)
}

// Dispatcher runs one parsed command through authorization, metering,
// execution, and audit logging. Safe for concurrent use; per-account
// serialization lives in the ledger, not here.
type Dispatcher struct {
	ledger      Ledger
	gw          Lookup
	policy      *policy.Policy
	broadcaster *Broadcaster
	cooldown    *Cooldown
	cost        int64
	admins      []string
	log         *slog.Logger
}

func NewDispatcher(ledger Ledger, gw Lookup, pol *policy.Policy, bc *Broadcaster, cd *Cooldown, cost int64, adminIDs []string, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		ledger:      ledger,
		gw:          gw,
		policy:      pol,
		broadcaster: bc,
		cooldown:    cd,
		cost:        cost,
		admins:      adminIDs,
		log:         log,
	}
}

// Dispatch handles one command attempt end to end. Whatever happens, the
// attempt ends with exactly one audit log entry.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd domain.Command) domain.Response {
	name := strings.ToLower(strings.TrimSpace(cmd.Name))
	arg := strings.Join(cmd.Args, " ")

	acc, err := d.ledger.GetAccount(ctx, cmd.UserID)
	if err != nil {
		// Store unreachable: fail the command visibly, never assume the
		// mutation applied.
		d.log.Error("account load failed", "user_id", cmd.UserID, "error", err)
		d.logAttempt(ctx, cmd.UserID, name, arg, domain.OutcomeFailed, 0)
		return domain.Response{Text: "⚠️ Service unavailable, please try again later."}
	}

	if domain.Paid(name) {
		if ok, wait := d.cooldown.Allow(cmd.UserID); !ok {
			d.logAttempt(ctx, cmd.UserID, name, arg, domain.OutcomeDenied, acc.Credits)
			secs := int(wait/time.Second) + 1
			return domain.Response{Text: fmt.Sprintf("⏳ Please wait %ds before the next lookup.", secs)}
		}
	}

	if dec := d.policy.Authorize(acc, name); !dec.Allowed {
		d.logAttempt(ctx, cmd.UserID, name, arg, domain.OutcomeDenied, acc.Credits)
		return domain.Response{Text: denyText(dec.Reason)}
	}

	switch name {
	case domain.CmdStart:
		d.logAttempt(ctx, cmd.UserID, name, arg, domain.OutcomeSuccess, acc.Credits)
		return domain.Response{
			Text:    fmt.Sprintf("👋 Welcome! You have %d credits. Send lookup <VEHICLE_NO>, e.g. lookup KL70C1679.", acc.Credits),
			Success: true,
		}

	case domain.CmdBalance:
		d.logAttempt(ctx, cmd.UserID, name, arg, domain.OutcomeSuccess, acc.Credits)
		return domain.Response{
			Text:    fmt.Sprintf("💳 Credits: %d\nBlocked: %t", acc.Credits, acc.Blocked),
			Success: true,
		}

	case domain.CmdBuy:
		d.logAttempt(ctx, cmd.UserID, name, arg, domain.OutcomeSuccess, acc.Credits)
		var sb strings.Builder
		sb.WriteString("To buy credits, contact an admin:\n")
		for _, id := range d.admins {
			fmt.Fprintf(&sb, "- %s\n", id)
		}
		return domain.Response{Text: sb.String(), Success: true}

	case domain.CmdLookup:
		return d.handleLookup(ctx, cmd.UserID, arg, acc.Credits)

	case domain.CmdGrant:
		return d.handleGrant(ctx, cmd, acc.Credits)

	case domain.CmdBlock, domain.CmdUnblock:
		return d.handleBlock(ctx, cmd, name, acc.Credits)

	case domain.CmdBroadcast:
		return d.handleBroadcast(ctx, cmd, acc.Credits)

	default:
		d.logAttempt(ctx, cmd.UserID, name, arg, domain.OutcomeDenied, acc.Credits)
		return domain.Response{Text: "Unknown command. Send start for the menu or lookup <VEHICLE_NO>."}
	}
}

// handleLookup implements the paid path: validate, pessimistically
// charge, call the gateway, refund on collaborator failure. The charge
// happens before the call so racing retries cannot ride one credit.
func (d *Dispatcher) handleLookup(ctx context.Context, userID, rawPlate string, credits int64) domain.Response {
	plate, err := gateway.Normalize(rawPlate)
	if err != nil {
		// Bad syntax never reaches the collaborator and never costs credit.
		d.logAttempt(ctx, userID, domain.CmdLookup, rawPlate, domain.OutcomeDenied, credits)
		return domain.Response{Text: "❌ Invalid vehicle number. Example: lookup KL70C1679"}
	}

	balance, err := d.ledger.AdjustCredits(ctx, userID, -d.cost, "lookup:"+plate)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientCredit) {
			// Lost a race against a concurrent deduction.
			d.logAttempt(ctx, userID, domain.CmdLookup, plate, domain.OutcomeDenied, balance)
			return domain.Response{Text: "❌ No credits left. Send buy to get more."}
		}
		d.log.Error("deduction failed", "user_id", userID, "error", err)
		d.logAttempt(ctx, userID, domain.CmdLookup, plate, domain.OutcomeFailed, credits)
		return domain.Response{Text: "⚠️ Service unavailable, please try again later."}
	}

	started := time.Now()
	detail, err := d.gw.Lookup(ctx, plate)
	if err != nil {
		if errors.Is(err, gateway.ErrNoRecord) {
			lookupDuration.WithLabelValues("no_record").Observe(time.Since(started).Seconds())
			// The lookup was served, just empty. The credit stays spent.
			d.logAttempt(ctx, userID, domain.CmdLookup, plate, domain.OutcomeSuccess, balance)
			return domain.Response{Text: fmt.Sprintf("🔎 No record found for %s.", plate), Success: true}
		}

		result := "upstream_error"
		if errors.Is(err, gateway.ErrLookupTimeout) {
			result = "timeout"
		}
		lookupDuration.WithLabelValues(result).Observe(time.Since(started).Seconds())
		d.log.Warn("lookup failed", "user_id", userID, "plate", plate, "error", err)

		// Collaborator-side failure: compensate the charge so the net
		// balance change is zero.
		refunded, rerr := d.ledger.AdjustCredits(ctx, userID, d.cost, "refund:"+plate)
		if rerr != nil {
			d.log.Error("refund failed", "user_id", userID, "plate", plate, "error", rerr)
			d.logAttempt(ctx, userID, domain.CmdLookup, plate, domain.OutcomeFailed, balance)
			return domain.Response{Text: "⚠️ Lookup failed and the refund did not go through. Contact an admin."}
		}
		d.logAttempt(ctx, userID, domain.CmdLookup, plate, domain.OutcomeFailed, refunded)
		return domain.Response{Text: "⚠️ Lookup service is unavailable right now. Your credit was not spent, try again later."}
	}

	lookupDuration.WithLabelValues("success").Observe(time.Since(started).Seconds())
	d.logAttempt(ctx, userID, domain.CmdLookup, plate, domain.OutcomeSuccess, balance)
	return domain.Response{
		Text:    fmt.Sprintf("🚗 Vehicle Information\nNumber: %s\n\n%s", plate, detail.Raw),
		Success: true,
	}
}

func (d *Dispatcher) handleGrant(ctx context.Context, cmd domain.Command, credits int64) domain.Response {
	arg := strings.Join(cmd.Args, " ")
	if len(cmd.Args) != 2 {
		d.logAttempt(ctx, cmd.UserID, domain.CmdGrant, arg, domain.OutcomeDenied, credits)
		return domain.Response{Text: "Usage: grant_credits <user_id> <amount>"}
	}
	target := cmd.Args[0]
	amount, err := strconv.ParseInt(cmd.Args[1], 10, 64)
	if err != nil || amount <= 0 {
		d.logAttempt(ctx, cmd.UserID, domain.CmdGrant, arg, domain.OutcomeDenied, credits)
		return domain.Response{Text: "Usage: grant_credits <user_id> <amount> (amount must be a positive integer)"}
	}

	// Lazily create the target so admins can pre-fund users the bot has
	// never seen.
	if _, err := d.ledger.GetAccount(ctx, target); err != nil {
		d.log.Error("grant target load failed", "user_id", target, "error", err)
		d.logAttempt(ctx, cmd.UserID, domain.CmdGrant, arg, domain.OutcomeFailed, credits)
		return domain.Response{Text: "⚠️ Service unavailable, please try again later."}
	}
	if _, err := d.ledger.AdjustCredits(ctx, target, amount, "grant:"+cmd.UserID); err != nil {
		d.log.Error("grant failed", "user_id", target, "error", err)
		d.logAttempt(ctx, cmd.UserID, domain.CmdGrant, arg, domain.OutcomeFailed, credits)
		return domain.Response{Text: "⚠️ Service unavailable, please try again later."}
	}

	d.logAttempt(ctx, cmd.UserID, domain.CmdGrant, arg, domain.OutcomeSuccess, credits)
	return domain.Response{Text: fmt.Sprintf("Added %d credits to %s.", amount, target), Success: true}
}

func (d *Dispatcher) handleBlock(ctx context.Context, cmd domain.Command, name string, credits int64) domain.Response {
	if len(cmd.Args) != 1 {
		d.logAttempt(ctx, cmd.UserID, name, "", domain.OutcomeDenied, credits)
		return domain.Response{Text: fmt.Sprintf("Usage: %s <user_id>", name)}
	}
	target := cmd.Args[0]
	blocked := name == domain.CmdBlock

	if err := d.ledger.SetBlocked(ctx, target, blocked); err != nil {
		d.log.Error("set blocked failed", "user_id", target, "blocked", blocked, "error", err)
		d.logAttempt(ctx, cmd.UserID, name, target, domain.OutcomeFailed, credits)
		return domain.Response{Text: "⚠️ Service unavailable, please try again later."}
	}

	d.logAttempt(ctx, cmd.UserID, name, target, domain.OutcomeSuccess, credits)
	if blocked {
		return domain.Response{Text: fmt.Sprintf("User %s blocked.", target), Success: true}
	}
	return domain.Response{Text: fmt.Sprintf("User %s unblocked.", target), Success: true}
}

func (d *Dispatcher) handleBroadcast(ctx context.Context, cmd domain.Command, credits int64) domain.Response {
	text := strings.TrimSpace(strings.Join(cmd.Args, " "))
	if text == "" {
		d.logAttempt(ctx, cmd.UserID, domain.CmdBroadcast, "", domain.OutcomeDenied, credits)
		return domain.Response{Text: "Usage: broadcast <message>"}
	}

	summary, err := d.broadcaster.Run(ctx, "📣 Broadcast:\n\n"+text)
	if err != nil {
		d.log.Error("broadcast failed", "error", err)
		d.logAttempt(ctx, cmd.UserID, domain.CmdBroadcast, "", domain.OutcomeFailed, credits)
		return domain.Response{Text: "⚠️ Broadcast could not start, please try again later."}
	}

	// One summary entry for the whole job, not one per recipient.
	result := fmt.Sprintf("sent=%d failed=%d total=%d", summary.Sent, summary.Failed, summary.Total)
	d.logAttempt(ctx, cmd.UserID, domain.CmdBroadcast, result, domain.OutcomeSuccess, credits)
	return domain.Response{Text: fmt.Sprintf("Sent: %d, Failed: %d", summary.Sent, summary.Failed), Success: true}
}

// logAttempt writes the single audit entry for a command attempt and
// bumps the metric. An audit write failure is itself logged but does not
// change the user-visible outcome.
func (d *Dispatcher) logAttempt(ctx context.Context, userID, command, argument string, outcome domain.Outcome, creditsAfter int64) {
	commandsTotal.WithLabelValues(command, string(outcome)).Inc()
	entry := domain.LogEntry{
		Timestamp:    time.Now().UTC(),
		UserID:       userID,
		Command:      command,
		Argument:     argument,
		Outcome:      outcome,
		CreditsAfter: creditsAfter,
	}
	if err := d.ledger.AppendLog(ctx, entry); err != nil {
		d.log.Error("audit log append failed", "user_id", userID, "command", command, "error", err)
	}
}

func denyText(r policy.Reason) string {
	switch r {
	case policy.ReasonBlocked:
		return "⛔ You are blocked from using this bot."
	case policy.ReasonNotAuthorized:
		return "Unauthorized."
	case policy.ReasonInsufficientCredit:
		return "❌ No credits. Send buy to get more."
	}
	return "Request denied."
}
