package claim

import (
	"context"
	"errors"
	"log/slog"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/ledger"
	"pulse-rewards/internal/logging"
)

// ErrStreamClosed is returned by Watcher.Run when the event stream ends.
var ErrStreamClosed = errors.New("pool event stream closed")

// Watcher turns pool status events into claimable refreshes.
type Watcher struct {
	stream ledger.EventStream
	logger *slog.Logger
}

// NewWatcher creates a Watcher over stream.
func NewWatcher(stream ledger.EventStream, logger *slog.Logger) *Watcher {
	return &Watcher{stream: stream, logger: logging.OrDiscard(logger)}
}

// Run calls onOpen for every event that opens claims on one of pollIDs (all
// polls when empty). It returns when ctx is done or the stream closes.
// A failing callback is logged and does not stop the watcher.
func (w *Watcher) Run(ctx context.Context, pollIDs []string, onOpen func(context.Context, domain.PoolEvent) error) error {
	events, err := w.stream.SubscribePoolEvents(ctx, pollIDs)
	if err != nil {
		return err
	}

	w.logger.Info("watching pool events", "polls", len(pollIDs))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return ErrStreamClosed
			}
			w.logger.Debug("pool event",
				"poll_id", ev.PollID,
				"status", string(ev.Status),
				"seq", ev.Seq,
			)
			if !ev.Status.ClaimsOpen() {
				continue
			}
			if err := onOpen(ctx, ev); err != nil {
				w.logger.Warn("claims-open handler failed",
					"poll_id", ev.PollID,
					"error", err,
				)
			}
		}
	}
}
