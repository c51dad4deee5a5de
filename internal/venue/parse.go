package venue

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// envelope is the top-level shape of every inbound data frame (§6):
//
//	{"arg":{"channel":"...","instId":"..."},"data":[...],"action":"snapshot"|"update"}
//
// Frames lacking arg (subscription acks, errors, pings) are peeked at the
// session-manager level before Parse is ever called.
type envelope struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Action string            `json:"action"`
	Data   []json.RawMessage `json:"data"`
}

// bookChannels maps OKX-style book channel names to the book kind. All of
// them share the same frame layout; only the depth/rate differs at the
// venue, which this service does not need to distinguish.
var bookChannels = map[string]bool{
	"books":          true,
	"books-l2-tbt":   true,
	"books5":         true,
	"books50-l2-tbt": true,
}

func channelKind(channel string) Kind {
	switch {
	case channel == "trades":
		return KindTrade
	case channel == "funding-rate":
		return KindFundingRate
	case channel == "mark-price":
		return KindMarkPrice
	case channel == "tickers":
		return KindTicker
	case channel == "open-interest":
		return KindOpenInterest
	case channel == "index-tickers":
		return KindIndexTicker
	case channel == "liquidation-orders":
		return KindLiquidation
	case bookChannels[channel]:
		return KindBookSnapshot // refined to KindBookDelta by Parse using `action`
	default:
		return KindUnknown
	}
}

// Parse normalizes one inbound data frame into a Frame. raw is the full
// frame payload (after the session manager has already confirmed it
// carries an `arg`). An empty `data` array yields a Frame with no records
// and is not an error.
func Parse(raw []byte, nowMs func() int64) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Frame{}, err
	}

	kind := channelKind(env.Arg.Channel)
	frame := Frame{Kind: kind, Instrument: env.Arg.InstID}
	if len(env.Data) == 0 {
		return frame, nil
	}

	tsIngest := nowMs()

	switch kind {
	case KindTrade:
		frame.Trades = make([]Trade, 0, len(env.Data))
		for _, d := range env.Data {
			var raw rawTrade
			if err := json.Unmarshal(d, &raw); err != nil {
				continue
			}
			frame.Trades = append(frame.Trades, Trade{
				Instrument: env.Arg.InstID,
				TsEvent:    parseInt(raw.Ts),
				TradeID:    raw.TradeID,
				Price:      parseFloat(raw.Px),
				Size:       parseFloat(raw.Sz),
				Side:       Side(raw.Side),
				TsIngest:   tsIngest,
			})
		}
	case KindFundingRate:
		frame.FundingRates = make([]FundingRate, 0, len(env.Data))
		for _, d := range env.Data {
			var raw rawFundingRate
			if err := json.Unmarshal(d, &raw); err != nil {
				continue
			}
			frame.FundingRates = append(frame.FundingRates, FundingRate{
				Instrument:      env.Arg.InstID,
				FundingRate:     parseFloat(raw.FundingRate),
				FundingTime:     parseInt(raw.FundingTime),
				NextFundingTime: parseInt(raw.NextFundingTime),
				TsEvent:         parseInt(raw.Ts),
				TsIngest:        tsIngest,
			})
		}
	case KindMarkPrice:
		frame.MarkPrices = make([]MarkPrice, 0, len(env.Data))
		for _, d := range env.Data {
			var raw rawMarkPrice
			if err := json.Unmarshal(d, &raw); err != nil {
				continue
			}
			frame.MarkPrices = append(frame.MarkPrices, MarkPrice{
				Instrument: env.Arg.InstID,
				MarkPx:     parseFloat(raw.MarkPx),
				IdxPx:      parseFloat(raw.IdxPx),
				IdxTs:      parseInt(raw.IdxTs),
				TsEvent:    parseInt(raw.Ts),
				TsIngest:   tsIngest,
			})
		}
	case KindTicker:
		frame.Tickers = make([]Ticker, 0, len(env.Data))
		for _, d := range env.Data {
			var raw rawTicker
			if err := json.Unmarshal(d, &raw); err != nil {
				continue
			}
			frame.Tickers = append(frame.Tickers, Ticker{
				Instrument: env.Arg.InstID,
				Last:       parseFloat(raw.Last),
				LastSz:     parseFloat(raw.LastSz),
				BidPx:      parseFloat(raw.BidPx),
				BidSz:      parseFloat(raw.BidSz),
				AskPx:      parseFloat(raw.AskPx),
				AskSz:      parseFloat(raw.AskSz),
				Open24h:    parseFloat(raw.Open24h),
				High24h:    parseFloat(raw.High24h),
				Low24h:     parseFloat(raw.Low24h),
				Vol24h:     parseFloat(raw.Vol24h),
				VolCcy24h:  parseFloat(raw.VolCcy24h),
				TsEvent:    parseInt(raw.Ts),
				TsIngest:   tsIngest,
			})
		}
	case KindOpenInterest:
		frame.OpenInterests = make([]OpenInterest, 0, len(env.Data))
		for _, d := range env.Data {
			var raw rawOpenInterest
			if err := json.Unmarshal(d, &raw); err != nil {
				continue
			}
			frame.OpenInterests = append(frame.OpenInterests, OpenInterest{
				Instrument: env.Arg.InstID,
				OI:         parseFloat(raw.OI),
				OICcy:      parseFloat(raw.OICcy),
				TsEvent:    parseInt(raw.Ts),
				TsIngest:   tsIngest,
			})
		}
	case KindIndexTicker:
		frame.IndexTickers = make([]IndexTicker, 0, len(env.Data))
		for _, d := range env.Data {
			var raw rawIndexTicker
			if err := json.Unmarshal(d, &raw); err != nil {
				continue
			}
			frame.IndexTickers = append(frame.IndexTickers, IndexTicker{
				Instrument: env.Arg.InstID,
				IdxPx:      parseFloat(raw.IdxPx),
				Open24h:    parseFloat(raw.Open24h),
				High24h:    parseFloat(raw.High24h),
				Low24h:     parseFloat(raw.Low24h),
				SodUtc0:    parseFloat(raw.SodUtc0),
				SodUtc8:    parseFloat(raw.SodUtc8),
				TsEvent:    parseInt(raw.Ts),
				TsIngest:   tsIngest,
			})
		}
	case KindLiquidation:
		frame.Liquidations = make([]Liquidation, 0, len(env.Data))
		for _, d := range env.Data {
			var raw rawLiquidation
			if err := json.Unmarshal(d, &raw); err != nil {
				continue
			}
			frame.Liquidations = append(frame.Liquidations, Liquidation{
				Instrument: env.Arg.InstID,
				PosSide:    raw.PosSide,
				Side:       Side(raw.Side),
				Size:       parseFloat(raw.Sz),
				BkPx:       parseFloat(raw.BkPx),
				BkLoss:     parseFloat(raw.BkLoss),
				Ccy:        raw.Ccy,
				TsEvent:    parseInt(raw.Ts),
				TsIngest:   tsIngest,
			})
		}
	case KindBookSnapshot:
		// action discriminates snapshot vs update; absent/unknown is
		// conservatively treated as snapshot (§4.7).
		isDelta := env.Action == "update"
		if isDelta {
			frame.Kind = KindBookDelta
			frame.BookDeltas = make([]BookDelta, 0, len(env.Data))
		} else {
			frame.BookSnapshots = make([]BookSnapshot, 0, len(env.Data))
		}
		for _, d := range env.Data {
			var raw rawBook
			if err := json.Unmarshal(d, &raw); err != nil {
				continue
			}
			bids := parseLevels(raw.Bids)
			asks := parseLevels(raw.Asks)
			ts := parseInt(raw.Ts)
			if isDelta {
				frame.BookDeltas = append(frame.BookDeltas, BookDelta{
					Instrument: env.Arg.InstID,
					TsEvent:    ts,
					SeqID:      raw.SeqID,
					PrevSeqID:  raw.PrevSeqID,
					Checksum:   raw.Checksum,
					Bids:       bids,
					Asks:       asks,
				})
			} else {
				frame.BookSnapshots = append(frame.BookSnapshots, BookSnapshot{
					Instrument: env.Arg.InstID,
					TsEvent:    ts,
					SeqID:      raw.SeqID,
					PrevSeqID:  raw.PrevSeqID,
					Checksum:   raw.Checksum,
					Bids:       bids,
					Asks:       asks,
				})
			}
		}
	}

	return frame, nil
}

// NowMs is the default clock for TsIngest stamping: a wall-clock reading
// in milliseconds. Parse takes it once per frame at entry; book deltas
// carry no parse-time stamp, and book.Handler calls NowMs again when it
// builds each BookDeltaRecord.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

type rawTrade struct {
	Ts      string `json:"ts"`
	TradeID string `json:"tradeId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
}

type rawFundingRate struct {
	Ts              string `json:"ts"`
	FundingRate     string `json:"fundingRate"`
	FundingTime     string `json:"fundingTime"`
	NextFundingTime string `json:"nextFundingTime"`
}

type rawMarkPrice struct {
	Ts     string `json:"ts"`
	MarkPx string `json:"markPx"`
	IdxPx  string `json:"idxPx"`
	IdxTs  string `json:"idxTs"`
}

type rawTicker struct {
	Ts        string `json:"ts"`
	Last      string `json:"last"`
	LastSz    string `json:"lastSz"`
	BidPx     string `json:"bidPx"`
	BidSz     string `json:"bidSz"`
	AskPx     string `json:"askPx"`
	AskSz     string `json:"askSz"`
	Open24h   string `json:"open24h"`
	High24h   string `json:"high24h"`
	Low24h    string `json:"low24h"`
	Vol24h    string `json:"vol24h"`
	VolCcy24h string `json:"volCcy24h"`
}

type rawOpenInterest struct {
	Ts    string `json:"ts"`
	OI    string `json:"oi"`
	OICcy string `json:"oiCcy"`
}

type rawIndexTicker struct {
	Ts      string `json:"ts"`
	IdxPx   string `json:"idxPx"`
	Open24h string `json:"open24h"`
	High24h string `json:"high24h"`
	Low24h  string `json:"low24h"`
	SodUtc0 string `json:"sodUtc0"`
	SodUtc8 string `json:"sodUtc8"`
}

type rawLiquidation struct {
	Ts      string `json:"ts"`
	PosSide string `json:"posSide"`
	Side    string `json:"side"`
	Sz      string `json:"sz"`
	BkPx    string `json:"bkPx"`
	BkLoss  string `json:"bkLoss"`
	Ccy     string `json:"ccy"`
}

type rawBook struct {
	Ts        string     `json:"ts"`
	Checksum  int64      `json:"checksum"`
	SeqID     int64      `json:"seqId"`
	PrevSeqID int64      `json:"prevSeqId"`
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
}

func parseLevels(raw [][]string) []PriceLevel {
	if len(raw) == 0 {
		return nil
	}
	out := make([]PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		out = append(out, PriceLevel{Price: lvl[0], Size: lvl[1]})
	}
	return out
}

// parseFloat parses a venue numeric string, validating it with
// decimal.Decimal before returning it as float64 (the book's hot path
// keeps the original string — see book.Book — this is only for the typed
// row boundary). Absent or unparsable values zero-fill per §4.2; this is
// not an error and does not increment any counter.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// parseInt parses a venue base-10 integer string (ts, fundingTime, idxTs,
// …). Absent or unparsable values zero-fill per §4.2. Book seqId,
// prevSeqId and checksum arrive as JSON numbers and are decoded directly
// into rawBook instead.
func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
