// Package store implements the writer interface (C1): one append method
// per record kind against a relational time-series store, plus schema
// migration and a readiness probe.
//
// Grounded on original_source/src/okx_hft/storage/postgres.py — the
// "most feature-complete" relational variant per DESIGN NOTES §9 — and
// the pgx/v5 batch-insert pattern in
// other_examples/.../Projectsrxg-kalshi_v2's internal/writer/orderbook.go.
package store

import (
	"context"
	"errors"

	"okx-ingestor/internal/venue"
)

// ErrTransient marks a store failure the caller may retry later (store
// unreachable, timeout). ErrFatal marks one that should abort the
// supervisor at init time (schema mismatch, auth failure) — per §7's
// error taxonomy.
var (
	ErrTransient = errors.New("store: transient error")
	ErrFatal     = errors.New("store: fatal error")
)

// Writer is the abstract batch-append contract the core's batchers call
// through. Each method takes an ordered sequence of typed records and
// returns only after the store has acknowledged, or after a store-side
// failure is surfaced via errors.Is(err, ErrTransient/ErrFatal).
type Writer interface {
	AppendTrades(ctx context.Context, records []venue.Trade) error
	AppendFundingRates(ctx context.Context, records []venue.FundingRate) error
	AppendMarkPrices(ctx context.Context, records []venue.MarkPrice) error
	AppendTickers(ctx context.Context, records []venue.Ticker) error
	AppendOpenInterest(ctx context.Context, records []venue.OpenInterest) error
	AppendIndexTickers(ctx context.Context, records []venue.IndexTicker) error
	AppendLiquidations(ctx context.Context, records []venue.Liquidation) error
	AppendBookDeltas(ctx context.Context, records []venue.BookDeltaRecord) error
	AppendSnapshotRows(ctx context.Context, records []venue.BookSnapshotRow) error

	Close(ctx context.Context) error
}
