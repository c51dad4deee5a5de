package venue

// Frame is the tagged union produced by Parse. At most one of the typed
// slices is non-nil, the one matching Kind (empty data arrays are valid
// and yield a Frame whose slices are all nil, not an error — per §4.2 "a
// frame whose data array is empty yields no records and is not an
// error").
type Frame struct {
	Kind Kind

	Trades        []Trade
	FundingRates  []FundingRate
	MarkPrices    []MarkPrice
	Tickers       []Ticker
	OpenInterests []OpenInterest
	IndexTickers  []IndexTicker
	Liquidations  []Liquidation

	BookSnapshots []BookSnapshot
	BookDeltas    []BookDelta

	// Instrument is the (channel, instId) pair's instrument, lifted out of
	// arg for callers that need to route before inspecting the slices.
	Instrument string
}

// Empty reports whether the frame carries no records of any kind — the
// caller should silently drop it without incrementing any error counter.
func (f Frame) Empty() bool {
	return len(f.Trades) == 0 &&
		len(f.FundingRates) == 0 &&
		len(f.MarkPrices) == 0 &&
		len(f.Tickers) == 0 &&
		len(f.OpenInterests) == 0 &&
		len(f.IndexTickers) == 0 &&
		len(f.Liquidations) == 0 &&
		len(f.BookSnapshots) == 0 &&
		len(f.BookDeltas) == 0
}
