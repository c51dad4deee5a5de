// Package book implements the incremental L2 order-book engine (C4) and
// the handler that wraps it with batchers and a resubscribe trigger (C5).
//
// Grounded on original_source/src/okx_hft/handlers/orderbook_l2.py
// (OrderBookL2), the feature-complete variant named authoritative by
// DESIGN NOTES §9. Prices and sizes are kept as the venue's original
// decimal strings through the book's map — converted to float64 only at
// Materialize — to avoid repeated parse/serialize rounding drift (§4.4).
package book

import (
	"sort"
	"strconv"

	"okx-ingestor/internal/venue"
)

// Book is a single instrument's incremental L2 mirror. Not safe for
// concurrent use — per §5, all book mutation happens on one goroutine
// (the session read loop) and materialization reads happen only under the
// handler's own RWMutex (see Handler), never directly.
type Book struct {
	instrument string

	bids map[string]string // price string -> size string
	asks map[string]string

	lastTsEvent  int64
	lastChecksum int64
	seqID        int64
	prevSeqID    int64
	valid        bool
}

// New creates an empty, not-yet-valid book for instrument.
func New(instrument string) *Book {
	return &Book{
		instrument: instrument,
		bids:       make(map[string]string),
		asks:       make(map[string]string),
	}
}

// Valid reports whether the book has applied a snapshot since creation or
// the last Reset.
func (b *Book) Valid() bool { return b.valid }

// ApplySnapshot clears both sides and replaces them with frame's levels.
// Levels with size <= 0 are ignored — a snapshot never carries a removal.
// Always returns true: an empty-sided (or entirely empty) snapshot is
// applied as-is, since an instrument can legitimately have an empty side.
func (b *Book) ApplySnapshot(frame venue.BookSnapshot) bool {
	b.bids = make(map[string]string, len(frame.Bids))
	b.asks = make(map[string]string, len(frame.Asks))

	for _, lvl := range frame.Bids {
		if levelSize(lvl.Size) > 0 {
			b.bids[lvl.Price] = lvl.Size
		}
	}
	for _, lvl := range frame.Asks {
		if levelSize(lvl.Size) > 0 {
			b.asks[lvl.Price] = lvl.Size
		}
	}

	b.lastTsEvent = frame.TsEvent
	b.lastChecksum = frame.Checksum
	b.seqID = frame.SeqID
	b.prevSeqID = frame.PrevSeqID
	b.valid = true
	return true
}

// ApplyDelta applies an incremental update. It returns continuous=false
// (but still applies the mutations) when the book's current seq_id is
// known and frame.PrevSeqID doesn't match it — a sequence break per §4.4.
// When either side's seq_id is unknown (zero), continuity can't be
// checked and is reported true, matching the original's "if both known"
// gate.
func (b *Book) ApplyDelta(frame venue.BookDelta) (continuous bool) {
	continuous = true
	if b.seqID != 0 && frame.PrevSeqID != 0 && frame.PrevSeqID != b.seqID {
		continuous = false
	}

	applyLevels(b.bids, frame.Bids)
	applyLevels(b.asks, frame.Asks)

	b.lastTsEvent = frame.TsEvent
	b.lastChecksum = frame.Checksum
	b.seqID = frame.SeqID
	b.prevSeqID = frame.PrevSeqID

	return continuous
}

// Reset clears both sides and marks the book invalid. Called by
// Handler.OnDelta on a sequence break.
func (b *Book) Reset() {
	b.bids = make(map[string]string)
	b.asks = make(map[string]string)
	b.valid = false
	b.lastTsEvent = 0
	b.lastChecksum = 0
	b.seqID = 0
	b.prevSeqID = 0
}

// Materialize emits up to maxLevels bid rows (price-descending) followed
// by up to maxLevels ask rows (price-ascending), all tagged with
// snapshotID and tsEvent. Returns nil if the book is not valid.
func (b *Book) Materialize(snapshotID string, tsEvent int64, maxLevels int) []venue.BookSnapshotRow {
	if !b.valid {
		return nil
	}

	bidPrices := sortedPrices(b.bids, true)
	askPrices := sortedPrices(b.asks, false)

	if len(bidPrices) > maxLevels {
		bidPrices = bidPrices[:maxLevels]
	}
	if len(askPrices) > maxLevels {
		askPrices = askPrices[:maxLevels]
	}

	rows := make([]venue.BookSnapshotRow, 0, len(bidPrices)+len(askPrices))
	for i, p := range bidPrices {
		rows = append(rows, venue.BookSnapshotRow{
			SnapshotID: snapshotID,
			Instrument: b.instrument,
			TsEvent:    tsEvent,
			Side:       venue.SideBid,
			Price:      mustFloat(p),
			Size:       mustFloat(b.bids[p]),
			Level:      i + 1,
		})
	}
	for i, p := range askPrices {
		rows = append(rows, venue.BookSnapshotRow{
			SnapshotID: snapshotID,
			Instrument: b.instrument,
			TsEvent:    tsEvent,
			Side:       venue.SideAsk,
			Price:      mustFloat(p),
			Size:       mustFloat(b.asks[p]),
			Level:      i + 1,
		})
	}
	return rows
}

func applyLevels(side map[string]string, levels []venue.PriceLevel) {
	for _, lvl := range levels {
		if levelSize(lvl.Size) > 0 {
			side[lvl.Price] = lvl.Size
		} else {
			delete(side, lvl.Price)
		}
	}
}

// sortedPrices returns the side's price keys sorted numerically,
// descending for bids, ascending for asks — re-derived on every call
// exactly as the original re-sorts its OrderedDict after each mutation.
func sortedPrices(side map[string]string, descending bool) []string {
	prices := make([]string, 0, len(side))
	for p := range side {
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool {
		pi, pj := mustFloat(prices[i]), mustFloat(prices[j])
		if descending {
			return pi > pj
		}
		return pi < pj
	})
	return prices
}

func levelSize(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func mustFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
