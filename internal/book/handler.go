package book

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"okx-ingestor/internal/batch"
	"okx-ingestor/internal/metrics"
	"okx-ingestor/internal/venue"
)

// Resubscriber is the session manager's resubscribe-request surface,
// called by the handler when a book's sequence breaks (§4.5, §4.7).
type Resubscriber interface {
	RequestResubscribe(instrument string)
}

// Handler composes a delta batcher and a snapshot-row batcher around a
// per-instrument map of Books (C5). All book lookups/creates go through
// mu because the periodic materializer runs on its own goroutine (§9's
// note that a Go port's book map, unlike the original's single-task
// design, needs its own lock even though no individual Book does).
type Handler struct {
	mu    sync.RWMutex
	books map[string]*Book

	deltaBatcher    *batch.Batcher[venue.BookDeltaRecord]
	snapshotBatcher *batch.Batcher[venue.BookSnapshotRow]

	maxDepth     int
	resubscriber Resubscriber
	sink         metrics.Sink
	logger       *slog.Logger
}

// NewHandler creates an order-book handler. maxDepth bounds
// materialization (§3, ORDERBOOK_MAX_DEPTH). sink records sequence gaps;
// pass metrics.NoopSink{} where metrics aren't wired.
func NewHandler(
	deltaBatcher *batch.Batcher[venue.BookDeltaRecord],
	snapshotBatcher *batch.Batcher[venue.BookSnapshotRow],
	maxDepth int,
	resubscriber Resubscriber,
	sink metrics.Sink,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		books:           make(map[string]*Book),
		deltaBatcher:    deltaBatcher,
		snapshotBatcher: snapshotBatcher,
		maxDepth:        maxDepth,
		resubscriber:    resubscriber,
		sink:            sink,
		logger:          logger.With("component", "book_handler"),
	}
}

// SetResubscriber wires the resubscribe target after construction, for
// callers that must build the handler before the session manager exists
// (the two depend on each other at wiring time). Must be called before
// the session manager starts delivering frames; not safe to call
// concurrently with OnDelta.
func (h *Handler) SetResubscriber(resubscriber Resubscriber) {
	h.resubscriber = resubscriber
}

func (h *Handler) bookFor(instrument string) *Book {
	h.mu.RLock()
	b, ok := h.books[instrument]
	h.mu.RUnlock()
	if ok {
		return b
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.books[instrument]; ok {
		return b
	}
	b = New(instrument)
	h.books[instrument] = b
	return b
}

// OnSnapshot applies a full-book frame, then immediately materializes it
// (with a fresh snapshot_id) and appends the rows to the snapshot
// batcher.
func (h *Handler) OnSnapshot(ctx context.Context, frame venue.BookSnapshot) {
	b := h.bookFor(frame.Instrument)
	b.ApplySnapshot(frame)

	snapID := uuid.NewString()
	rows := b.Materialize(snapID, frame.TsEvent, h.maxDepth)
	for _, row := range rows {
		h.snapshotBatcher.Append(ctx, row)
	}
}

// OnDelta applies an incremental update. If the book is valid and the
// delta reports a sequence break, it materializes the current state as a
// checkpoint, resets the book, and requests a resubscribe for the
// instrument — before appending the delta record, which always happens
// irrespective of validity or continuity (§4.5).
func (h *Handler) OnDelta(ctx context.Context, frame venue.BookDelta) {
	b := h.bookFor(frame.Instrument)

	if b.Valid() {
		continuous := b.ApplyDelta(frame)
		if !continuous {
			snapID := uuid.NewString()
			rows := b.Materialize(snapID, b.lastTsEvent, h.maxDepth)
			for _, row := range rows {
				h.snapshotBatcher.Append(ctx, row)
			}
			b.Reset()
			h.sink.SequenceGap(frame.Instrument)
			h.logger.Warn("sequence break, book reset and resubscribe requested",
				"instrument", frame.Instrument,
				"prev_seq_id", frame.PrevSeqID,
			)
			if h.resubscriber != nil {
				h.resubscriber.RequestResubscribe(frame.Instrument)
			}
		}
	}

	h.deltaBatcher.Append(ctx, venue.BookDeltaRecord{
		Instrument: frame.Instrument,
		TsEvent:    frame.TsEvent,
		TsIngest:   venue.NowMs(),
		BidsDelta:  frame.Bids,
		AsksDelta:  frame.Asks,
		Checksum:   frame.Checksum,
	})
}

// MaterializeAll iterates every valid book, materializing each with a
// fresh snapshot_id and appending the rows to the snapshot batcher.
// Non-valid books are skipped silently. Used both by the periodic
// materializer (§4.5) and by the reconnect hook (§4.7).
func (h *Handler) MaterializeAll(ctx context.Context) {
	h.mu.RLock()
	books := make([]*Book, 0, len(h.books))
	for _, b := range h.books {
		books = append(books, b)
	}
	h.mu.RUnlock()

	for _, b := range books {
		if !b.Valid() {
			continue
		}
		snapID := uuid.NewString()
		rows := b.Materialize(snapID, b.lastTsEvent, h.maxDepth)
		for _, row := range rows {
			h.snapshotBatcher.Append(ctx, row)
		}
	}
}
