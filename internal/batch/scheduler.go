package batch

import (
	"context"
	"log/slog"
	"time"
)

// Flusher is the minimal interface the scheduler needs from a Batcher —
// satisfied by *Batcher[T] for any T, letting the scheduler hold a single
// fixed-order slice of heterogeneous batchers.
type Flusher interface {
	Flush(ctx context.Context)
}

// Scheduler is the single long-running cooperative task described in
// §4.6: on each tick it flushes every registered batcher, in a fixed
// order, and on cancellation it performs one mandatory final flush pass
// before exiting — the primary guarantee that records buffered at
// shutdown reach the store.
type Scheduler struct {
	interval  time.Duration
	batchers  []Flusher
	logger    *slog.Logger
}

// NewScheduler creates a flush scheduler. batchers is flushed in the
// order given — callers should pass (trades, book deltas, book snapshots,
// funding, mark, ticker, open_interest, index_ticker, liquidation) per the
// fixed order named in §4.6.
func NewScheduler(interval time.Duration, batchers []Flusher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		interval: interval,
		batchers: batchers,
		logger:   logger.With("component", "flush_scheduler"),
	}
}

// Run blocks until ctx is cancelled, ticking at interval and flushing
// every batcher each tick. On cancellation it runs one final flush pass
// — using context.Background() for that pass, since ctx is already
// cancelled and a writer call must still be allowed to complete — then
// returns.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("flush scheduler cancelled, running final drain")
			s.flushAll(context.Background())
			return
		case <-ticker.C:
			s.flushAll(ctx)
		}
	}
}

// FlushAll runs one flush pass synchronously. Exported so the supervisor
// can invoke the defensive post-shutdown pass required by §4.8 step 3.
func (s *Scheduler) FlushAll(ctx context.Context) {
	s.flushAll(ctx)
}

// flushAll invokes Flush on every batcher. A writer error in one
// batcher's flush never skips the rest — Batcher.Flush itself already
// catches and logs writer errors, so this loop only iterates the fixed
// order. A panic is not recovered here.
func (s *Scheduler) flushAll(ctx context.Context) {
	for _, b := range s.batchers {
		b.Flush(ctx)
	}
}
