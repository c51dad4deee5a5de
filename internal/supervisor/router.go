package supervisor

import (
	"context"

	"okx-ingestor/internal/batch"
	"okx-ingestor/internal/book"
	"okx-ingestor/internal/venue"
)

// router implements session.FrameHandler, demuxing a parsed Frame by Kind
// into the record batcher it belongs to, or into the order-book handler
// for the two book kinds. This is the one piece of wiring glue spec.md's
// C2-to-C3/C5 boundary needs that no single package owns outright.
type router struct {
	book *book.Handler

	trades   *batch.Batcher[venue.Trade]
	funding  *batch.Batcher[venue.FundingRate]
	mark     *batch.Batcher[venue.MarkPrice]
	ticker   *batch.Batcher[venue.Ticker]
	oi       *batch.Batcher[venue.OpenInterest]
	index    *batch.Batcher[venue.IndexTicker]
	liquid   *batch.Batcher[venue.Liquidation]
}

func (r *router) OnFrame(ctx context.Context, frame venue.Frame) {
	switch frame.Kind {
	case venue.KindTrade:
		for _, rec := range frame.Trades {
			r.trades.Append(ctx, rec)
		}
	case venue.KindFundingRate:
		for _, rec := range frame.FundingRates {
			r.funding.Append(ctx, rec)
		}
	case venue.KindMarkPrice:
		for _, rec := range frame.MarkPrices {
			r.mark.Append(ctx, rec)
		}
	case venue.KindTicker:
		for _, rec := range frame.Tickers {
			r.ticker.Append(ctx, rec)
		}
	case venue.KindOpenInterest:
		for _, rec := range frame.OpenInterests {
			r.oi.Append(ctx, rec)
		}
	case venue.KindIndexTicker:
		for _, rec := range frame.IndexTickers {
			r.index.Append(ctx, rec)
		}
	case venue.KindLiquidation:
		for _, rec := range frame.Liquidations {
			r.liquid.Append(ctx, rec)
		}
	case venue.KindBookSnapshot:
		for _, rec := range frame.BookSnapshots {
			r.book.OnSnapshot(ctx, rec)
		}
	case venue.KindBookDelta:
		for _, rec := range frame.BookDeltas {
			r.book.OnDelta(ctx, rec)
		}
	}
}
