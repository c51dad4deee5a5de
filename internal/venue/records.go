// Package venue defines the typed record model for one venue's public
// streaming channels and parses raw venue frames into it.
//
// A Frame is the tagged union produced once at demux time (see Parse);
// every downstream handler switches on Frame.Kind instead of threading a
// generic map[string]any through the pipeline.
package venue

// Kind enumerates the record/channel kinds this venue streams.
type Kind int

const (
	KindUnknown Kind = iota
	KindTrade
	KindFundingRate
	KindMarkPrice
	KindTicker
	KindOpenInterest
	KindIndexTicker
	KindLiquidation
	KindBookSnapshot
	KindBookDelta
)

func (k Kind) String() string {
	switch k {
	case KindTrade:
		return "trades"
	case KindFundingRate:
		return "funding_rate"
	case KindMarkPrice:
		return "mark_price"
	case KindTicker:
		return "ticker"
	case KindOpenInterest:
		return "open_interest"
	case KindIndexTicker:
		return "index_ticker"
	case KindLiquidation:
		return "liquidation"
	case KindBookSnapshot, KindBookDelta:
		return "book"
	default:
		return "unknown"
	}
}

// Side is a trade/liquidation direction, preserved verbatim from the venue
// (no case folding per §4.2 of the parsing rules).
type Side string

// Trade is one executed print on an instrument.
type Trade struct {
	Instrument string
	TsEvent    int64
	TradeID    string
	Price      float64
	Size       float64
	Side       Side
	TsIngest   int64
}

// FundingRate is one funding-rate publication for a perpetual instrument.
type FundingRate struct {
	Instrument      string
	FundingRate     float64
	FundingTime     int64
	NextFundingTime int64
	TsEvent         int64
	TsIngest        int64
}

// MarkPrice is one mark-price tick, carrying the underlying index alongside it.
type MarkPrice struct {
	Instrument string
	MarkPx     float64
	IdxPx      float64
	IdxTs      int64
	TsEvent    int64
	TsIngest   int64
}

// Ticker is one best-bid/ask + 24h-rollup snapshot for an instrument.
type Ticker struct {
	Instrument string
	Last       float64
	LastSz     float64
	BidPx      float64
	BidSz      float64
	AskPx      float64
	AskSz      float64
	Open24h    float64
	High24h    float64
	Low24h     float64
	Vol24h     float64
	VolCcy24h  float64
	TsEvent    int64
	TsIngest   int64
}

// OpenInterest is one open-interest reading for an instrument.
type OpenInterest struct {
	Instrument string
	OI         float64
	OICcy      float64
	TsEvent    int64
	TsIngest   int64
}

// IndexTicker is the underlying index price feeding a derivatives instrument.
type IndexTicker struct {
	Instrument string
	IdxPx      float64
	Open24h    float64
	High24h    float64
	Low24h     float64
	SodUtc0    float64
	SodUtc8    float64
	TsEvent    int64
	TsIngest   int64
}

// Liquidation is one forced-liquidation event.
type Liquidation struct {
	Instrument string
	PosSide    string
	Side       Side
	Size       float64
	BkPx       float64
	BkLoss     float64
	Ccy        string
	TsEvent    int64
	TsIngest   int64
}

// PriceLevel is one (price, size) pair as carried in a book frame, kept as
// the venue's original decimal strings — see book.Book for why.
type PriceLevel struct {
	Price string
	Size  string
}

// BookSnapshot is a full book replacement for one instrument.
type BookSnapshot struct {
	Instrument string
	TsEvent    int64
	SeqID      int64
	PrevSeqID  int64
	Checksum   int64
	Bids       []PriceLevel
	Asks       []PriceLevel
}

// BookDelta is an incremental book update for one instrument.
type BookDelta struct {
	Instrument string
	TsEvent    int64
	SeqID      int64
	PrevSeqID  int64
	Checksum   int64
	Bids       []PriceLevel
	Asks       []PriceLevel
}

// BookDeltaRecord is the row shape appended to the delta batcher — it
// carries the raw delta alongside the ingest timestamp, irrespective of
// whether the book accepted it as sequence-continuous.
type BookDeltaRecord struct {
	Instrument string
	TsEvent    int64
	TsIngest   int64
	BidsDelta  []PriceLevel
	AsksDelta  []PriceLevel
	Checksum   int64
}

// BookSnapshotRow is one materialized depth-row, as emitted by
// book.Book.Materialize.
type BookSnapshotRow struct {
	SnapshotID string // UUID
	Instrument string
	TsEvent    int64
	Side       BookSide
	Price      float64
	Size       float64
	Level      int
}

// BookSide discriminates bid/ask rows in a materialized snapshot.
type BookSide int

const (
	SideBid BookSide = 1
	SideAsk BookSide = 2
)
