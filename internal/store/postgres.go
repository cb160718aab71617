package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nanacinema/rcfinder/internal/domain"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrInsufficientCredit = errors.New("insufficient credit")
)

// LedgerStore is the durable source of truth for account balances, block
// status, and the append-only command log. Every balance mutation runs in
// its own transaction with a row lock on the account, so concurrent
// deductions against the same balance serialize at the database.
type LedgerStore struct {
	db             *pgxpool.Pool
	defaultCredits int64
}

func NewLedgerStore(connString string, defaultCredits int64) (*LedgerStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &LedgerStore{db: pool, defaultCredits: defaultCredits}, nil
}

func (s *LedgerStore) Close() {
	s.db.Close()
}

// InitSchema creates the tables if they do not exist yet. Called once at
// startup; safe to call again.
func (s *LedgerStore) InitSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id    TEXT PRIMARY KEY,
			credits    BIGINT NOT NULL DEFAULT 0 CHECK (credits >= 0),
			blocked    BOOLEAN NOT NULL DEFAULT FALSE,
			is_admin   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS credit_entries (
			id         BIGSERIAL PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES accounts(user_id),
			delta      BIGINT NOT NULL,
			reason     TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS command_log (
			seq           BIGSERIAL PRIMARY KEY,
			ts            TIMESTAMPTZ NOT NULL DEFAULT now(),
			user_id       TEXT NOT NULL,
			command       TEXT NOT NULL,
			argument      TEXT NOT NULL DEFAULT '',
			outcome       TEXT NOT NULL,
			credits_after BIGINT NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema init failed: %w", err)
		}
	}
	return nil
}

// GetAccount returns the account for userID, creating it with the default
// credit balance on first contact. The upsert makes lazy creation atomic
// under concurrent first requests from the same user.
func (s *LedgerStore) GetAccount(ctx context.Context, userID string) (*domain.Account, error) {
	var acc domain.Account
	err := s.db.QueryRow(ctx,
		`INSERT INTO accounts (user_id, credits) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET user_id = excluded.user_id
		 RETURNING user_id, credits, blocked, is_admin, created_at`,
		userID, s.defaultCredits,
	).Scan(&acc.UserID, &acc.Credits, &acc.Blocked, &acc.IsAdmin, &acc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &acc, nil
}

// AdjustCredits applies delta to the account's balance and records a
// credit entry with the given reason, all in one transaction. The account
// row is locked for the duration, so two concurrent deductions against a
// balance of 1 yield exactly one success and one ErrInsufficientCredit.
func (s *LedgerStore) AdjustCredits(ctx context.Context, userID string, delta int64, reason string) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx,
		"SELECT credits FROM accounts WHERE user_id = $1 FOR UPDATE",
		userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("lock acquisition failed: %w", err)
	}

	newBalance := balance + delta
	if newBalance < 0 {
		return balance, ErrInsufficientCredit
	}

	if _, err := tx.Exec(ctx,
		"UPDATE accounts SET credits = $1 WHERE user_id = $2",
		newBalance, userID,
	); err != nil {
		return 0, fmt.Errorf("balance update failed: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"INSERT INTO credit_entries (user_id, delta, reason) VALUES ($1, $2, $3)",
		userID, delta, reason,
	); err != nil {
		return 0, fmt.Errorf("credit entry failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("tx commit failed: %w", err)
	}
	return newBalance, nil
}

// SetBlocked flips the block flag, creating the account first if the
// admin blocks an id the bot has never seen.
func (s *LedgerStore) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO accounts (user_id, credits, blocked) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET blocked = excluded.blocked`,
		userID, s.defaultCredits, blocked,
	)
	if err != nil {
		return fmt.Errorf("set blocked: %w", err)
	}
	return nil
}

// SetAdmin marks an account as admin. Used at startup to persist the
// configured admin id set.
func (s *LedgerStore) SetAdmin(ctx context.Context, userID string, admin bool) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO accounts (user_id, credits, is_admin) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET is_admin = excluded.is_admin`,
		userID, s.defaultCredits, admin,
	)
	if err != nil {
		return fmt.Errorf("set admin: %w", err)
	}
	return nil
}

// AppendLog writes one audit row. The write is committed before return.
func (s *LedgerStore) AppendLog(ctx context.Context, entry domain.LogEntry) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO command_log (user_id, command, argument, outcome, credits_after)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.UserID, entry.Command, entry.Argument, string(entry.Outcome), entry.CreditsAfter,
	)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// ListRecipients snapshots the ids of all known, non-blocked users for a
// broadcast fan-out.
func (s *LedgerStore) ListRecipients(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		"SELECT user_id FROM accounts WHERE NOT blocked ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecentLog returns the latest audit entries for one user, newest first.
func (s *LedgerStore) RecentLog(ctx context.Context, userID string, limit int) ([]domain.LogEntry, error) {
	var exists bool
	if err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM accounts WHERE user_id = $1)", userID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("recent log: %w", err)
	}
	if !exists {
		return nil, ErrAccountNotFound
	}

	rows, err := s.db.Query(ctx,
		`SELECT seq, ts, user_id, command, argument, outcome, credits_after
		 FROM command_log WHERE user_id = $1 ORDER BY seq DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent log: %w", err)
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.Seq, &e.Timestamp, &e.UserID, &e.Command, &e.Argument, &e.Outcome, &e.CreditsAfter); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Healthy reports whether the database answers a ping. Backs the
// liveness endpoint.
func (s *LedgerStore) Healthy(ctx context.Context) bool {
	return s.db.Ping(ctx) == nil
}
