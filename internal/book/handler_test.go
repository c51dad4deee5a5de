package book

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx-ingestor/internal/batch"
	"okx-ingestor/internal/metrics"
	"okx-ingestor/internal/venue"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeResubscriber struct {
	mu        sync.Mutex
	requested []string
}

func (f *fakeResubscriber) RequestResubscribe(instrument string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, instrument)
}

func newTestHandler(resub Resubscriber) (*Handler, *[]venue.BookSnapshotRow, *[]venue.BookDeltaRecord) {
	var snapshotRows []venue.BookSnapshotRow
	var deltaRows []venue.BookDeltaRecord

	snapBatcher := batch.New[venue.BookSnapshotRow]("book_snapshot", 1000, func(_ context.Context, rows []venue.BookSnapshotRow) error {
		snapshotRows = append(snapshotRows, rows...)
		return nil
	}, metrics.NoopSink{}, discardLogger())

	deltaBatcher := batch.New[venue.BookDeltaRecord]("book_delta", 1000, func(_ context.Context, rows []venue.BookDeltaRecord) error {
		deltaRows = append(deltaRows, rows...)
		return nil
	}, metrics.NoopSink{}, discardLogger())

	h := NewHandler(deltaBatcher, snapBatcher, 50, resub, metrics.NoopSink{}, discardLogger())
	return h, &snapshotRows, &deltaRows
}

func TestHandlerSequenceBreakMaterializesResetsAndResubscribes(t *testing.T) {
	resub := &fakeResubscriber{}
	h, snapshotRows, deltaRows := newTestHandler(resub)
	ctx := context.Background()

	h.OnSnapshot(ctx, venue.BookSnapshot{
		Instrument: "BTC-USDT-SWAP",
		TsEvent:    1000,
		SeqID:      10,
		Bids:       []venue.PriceLevel{lvl("100", "1")},
		Asks:       []venue.PriceLevel{lvl("101", "1")},
	})

	h.OnDelta(ctx, venue.BookDelta{
		Instrument: "BTC-USDT-SWAP",
		TsEvent:    1001,
		PrevSeqID:  999,
		SeqID:      1000,
		Bids:       []venue.PriceLevel{lvl("100", "0")},
	})

	b := h.bookFor("BTC-USDT-SWAP")
	assert.False(t, b.Valid(), "book must be reset (invalid) after a sequence break")

	resub.mu.Lock()
	assert.Equal(t, []string{"BTC-USDT-SWAP"}, resub.requested)
	resub.mu.Unlock()

	h.deltaBatcher.Flush(ctx)
	require.Len(t, *deltaRows, 1, "the delta record is appended irrespective of continuity")

	// Two rows from OnSnapshot, then a one-row checkpoint (the bid at 100
	// was removed by the delta, leaving only the ask) before the reset.
	h.snapshotBatcher.Flush(ctx)
	require.Len(t, *snapshotRows, 3)
	assert.Equal(t, venue.SideAsk, (*snapshotRows)[2].Side)
}

func TestHandlerPeriodicMaterializationTwoBooks(t *testing.T) {
	// Scenario 3 in spec.md §8.
	h, snapshotRows, _ := newTestHandler(nil)
	ctx := context.Background()

	for _, inst := range []string{"A", "B"} {
		var bids, asks []venue.PriceLevel
		for i := 0; i < 60; i++ {
			bids = append(bids, lvl(strconv.Itoa(200-i), "1"))
			asks = append(asks, lvl(strconv.Itoa(300+i), "1"))
		}
		h.OnSnapshot(ctx, venue.BookSnapshot{Instrument: inst, TsEvent: 1, Bids: bids, Asks: asks})
	}
	h.snapshotBatcher.Flush(ctx)
	*snapshotRows = nil // discard the two OnSnapshot materializations, test the periodic pass only

	h.MaterializeAll(ctx)
	h.snapshotBatcher.Flush(ctx)

	require.Len(t, *snapshotRows, 200)

	seen := map[string]bool{}
	for _, row := range *snapshotRows {
		seen[row.SnapshotID] = true
		assert.LessOrEqual(t, row.Level, 50)
		assert.GreaterOrEqual(t, row.Level, 1)
	}
	assert.Len(t, seen, 2, "two distinct snapshot_ids, one per book")
}
