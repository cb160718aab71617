package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanacinema/rcfinder/internal/domain"
)

// flakyMessenger fails delivery for the configured recipients.
type flakyMessenger struct {
	mu     sync.Mutex
	failed map[string]bool
	sent   []string
}

func (m *flakyMessenger) Send(_ context.Context, userID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed[userID] {
		return errors.New("recipient unreachable")
	}
	m.sent = append(m.sent, userID)
	return nil
}

func seedUsers(t *testing.T, ledger *fakeLedger, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := ledger.GetAccount(context.Background(), id)
		require.NoError(t, err)
	}
}

func TestBroadcastPartialFailure(t *testing.T) {
	ledger := newFakeLedger(3)
	seedUsers(t, ledger, "U1", "U2", "U3")
	msg := &flakyMessenger{failed: map[string]bool{"U2": true}}
	bc := NewBroadcaster(ledger, msg, 10, slog.New(slog.NewTextHandler(io.Discard, nil)))

	summary, err := bc.Run(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, domain.BroadcastSummary{Sent: 2, Failed: 1, Total: 3}, summary)
	assert.ElementsMatch(t, []string{"U1", "U3"}, msg.sent)
}

func TestBroadcastSkipsBlockedUsers(t *testing.T) {
	ledger := newFakeLedger(3)
	seedUsers(t, ledger, "U1", "U2", "U3")
	require.NoError(t, ledger.SetBlocked(context.Background(), "U2", true))

	msg := &flakyMessenger{}
	bc := NewBroadcaster(ledger, msg, 10, slog.New(slog.NewTextHandler(io.Discard, nil)))

	summary, err := bc.Run(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total, "blocked users are excluded at snapshot time")
	assert.ElementsMatch(t, []string{"U1", "U3"}, msg.sent)
}

func TestBroadcastCancelledBeforeStart(t *testing.T) {
	ledger := newFakeLedger(3)
	seedUsers(t, ledger, "U1", "U2", "U3")
	msg := &flakyMessenger{}
	bc := NewBroadcaster(ledger, msg, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := bc.Run(ctx, "hello")
	if err != nil {
		// ListRecipients may already observe the cancellation; either way
		// nothing must have been delivered.
		assert.Empty(t, msg.sent)
		return
	}
	assert.Zero(t, summary.Sent)
	assert.Empty(t, msg.sent)
}

// countingMessenger tracks the concurrency high-water mark.
type countingMessenger struct {
	current atomic.Int32
	peak    atomic.Int32
}

func (m *countingMessenger) Send(_ context.Context, _, _ string) error {
	cur := m.current.Add(1)
	for {
		peak := m.peak.Load()
		if cur <= peak || m.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	m.current.Add(-1)
	return nil
}

func TestBroadcastBoundsConcurrency(t *testing.T) {
	ledger := newFakeLedger(3)
	var ids []string
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		ids = append(ids, "U-"+id)
	}
	seedUsers(t, ledger, ids...)

	msg := &countingMessenger{}
	bc := NewBroadcaster(ledger, msg, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))

	summary, err := bc.Run(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, len(ids), summary.Sent)
	assert.LessOrEqual(t, msg.peak.Load(), int32(2))
}

func TestAdminBroadcastViaDispatcher(t *testing.T) {
	ledger := newFakeLedger(3)
	seedUsers(t, ledger, "boss", "U1", "U2")
	msg := &flakyMessenger{failed: map[string]bool{"U2": true}}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bc := NewBroadcaster(ledger, msg, 4, log)
	d := NewDispatcher(ledger, matchGateway(), newAdminPolicy("boss"), bc, nil, 1, []string{"boss"}, log)

	resp := d.Dispatch(context.Background(), domain.Command{UserID: "boss", Name: "broadcast", Args: []string{"scheduled", "maintenance"}})

	require.True(t, resp.Success)
	assert.Contains(t, resp.Text, "Sent: 2")
	assert.Contains(t, resp.Text, "Failed: 1")

	// One summary entry for the whole job.
	logs := ledger.logEntries()
	require.Len(t, logs, 1)
	assert.Equal(t, domain.CmdBroadcast, logs[0].Command)
	assert.Equal(t, "sent=2 failed=1 total=3", logs[0].Argument)
}

func TestNonAdminBroadcastDenied(t *testing.T) {
	ledger := newFakeLedger(3)
	seedUsers(t, ledger, "U1", "U2")
	msg := &flakyMessenger{}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bc := NewBroadcaster(ledger, msg, 4, log)
	d := NewDispatcher(ledger, matchGateway(), newAdminPolicy("boss"), bc, nil, 1, []string{"boss"}, log)

	resp := d.Dispatch(context.Background(), domain.Command{UserID: "U1", Name: "broadcast", Args: []string{"spam"}})

	assert.False(t, resp.Success)
	assert.Empty(t, msg.sent)
}
