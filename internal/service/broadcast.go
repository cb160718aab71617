package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nanacinema/rcfinder/internal/domain"
)

// deliveryTimeout bounds a single recipient delivery so one stuck
// transport call cannot stall the whole fan-out.
const deliveryTimeout = 10 * time.Second

// Messenger delivers a text message to one user. Implemented by the
// chat-transport adapter; a failure means that recipient only.
type Messenger interface {
	Send(ctx context.Context, userID, text string) error
}

// Broadcaster fans an admin message out to the snapshot of known,
// non-blocked users with bounded concurrency. Individual delivery
// failures are counted, never fatal to the batch.
type Broadcaster struct {
	ledger    Ledger
	messenger Messenger
	limit     int
	log       *slog.Logger
}

func NewBroadcaster(ledger Ledger, messenger Messenger, limit int, log *slog.Logger) *Broadcaster {
	if limit <= 0 {
		limit = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{ledger: ledger, messenger: messenger, limit: limit, log: log}
}

// Run snapshots the recipient set and delivers text to each. Users who
// register after the snapshot are not included. Cancelling ctx stops the
// job between recipients; already-delivered messages stand and the
// returned summary covers only what was attempted.
func (b *Broadcaster) Run(ctx context.Context, text string) (domain.BroadcastSummary, error) {
	ids, err := b.ledger.ListRecipients(ctx)
	if err != nil {
		return domain.BroadcastSummary{}, err
	}

	var sent, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(b.limit)

	for _, id := range ids {
		id := id
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
			defer cancel()
			if err := b.messenger.Send(sctx, id, text); err != nil {
				failed.Add(1)
				broadcastDeliveries.WithLabelValues("failed").Inc()
				b.log.Warn("broadcast delivery failed", "user_id", id, "error", err)
				return nil
			}
			sent.Add(1)
			broadcastDeliveries.WithLabelValues("sent").Inc()
			return nil
		})
	}
	g.Wait()

	return domain.BroadcastSummary{
		Sent:   int(sent.Load()),
		Failed: int(failed.Load()),
		Total:  len(ids),
	}, nil
}
