package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"okx-ingestor/internal/venue"
)

// dbConn is the slice of *pgxpool.Pool this writer actually calls,
// narrowed to an interface so tests can swap in a hand-written fake
// instead of a real Postgres connection (pgxpool bypasses database/sql,
// so DATA-DOG/go-sqlmock has no integration point here).
type dbConn interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Ping(ctx context.Context) error
	Close()
}

// PostgresWriter implements Writer against a schema-qualified set of
// per-kind tables, using pgx.Batch/SendBatch and
// ON CONFLICT (...) DO NOTHING for the idempotency key named per record
// kind in §4.1.
type PostgresWriter struct {
	pool          dbConn
	schema        string
	writerTimeout time.Duration // 0 = unbounded, matching original_source's unconditional await
	logger        *slog.Logger
}

// Open connects to Postgres, ensures the schema and all tables exist
// (idempotent CREATE ... IF NOT EXISTS), and returns a ready writer. This
// is the "wait for writer readiness" step of C8's startup order.
func Open(ctx context.Context, dsn, schema string, writerTimeout time.Duration, logger *slog.Logger) (*PostgresWriter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: pgxpool.New: %v", ErrFatal, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrFatal, err)
	}

	w := &PostgresWriter{
		pool:          pool,
		schema:        schema,
		writerTimeout: writerTimeout,
		logger:        logger.With("component", "postgres_writer"),
	}

	if err := w.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrFatal, err)
	}

	return w, nil
}

// newWithConn builds a writer over an already-satisfied dbConn, skipping
// the network dial — used by tests to exercise query shape and batch
// error handling against a fake.
func newWithConn(pool dbConn, schema string, writerTimeout time.Duration, logger *slog.Logger) *PostgresWriter {
	return &PostgresWriter{
		pool:          pool,
		schema:        schema,
		writerTimeout: writerTimeout,
		logger:        logger.With("component", "postgres_writer"),
	}
}

func (w *PostgresWriter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.writerTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, w.writerTimeout)
}

func (w *PostgresWriter) table(name string) string {
	return fmt.Sprintf(`"%s".%s`, w.schema, name)
}

func (w *PostgresWriter) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()

	results := w.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < n; i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}
	return nil
}

func (w *PostgresWriter) AppendTrades(ctx context.Context, records []venue.Trade) error {
	if len(records) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	q := fmt.Sprintf(`
		INSERT INTO %s (instid, ts_event_ms, tradeid, px, sz, side, ts_ingest_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (instid, ts_event_ms, tradeid) DO NOTHING`, w.table("trades"))
	for _, r := range records {
		b.Queue(q, r.Instrument, r.TsEvent, r.TradeID, r.Price, r.Size, string(r.Side), r.TsIngest)
	}
	return w.sendBatch(ctx, b, len(records))
}

func (w *PostgresWriter) AppendFundingRates(ctx context.Context, records []venue.FundingRate) error {
	if len(records) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	q := fmt.Sprintf(`
		INSERT INTO %s (instid, fundingrate, fundingtime, nextfundingtime, ts_event_ms, ts_ingest_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (instid, ts_event_ms) DO NOTHING`, w.table("funding_rates"))
	for _, r := range records {
		b.Queue(q, r.Instrument, r.FundingRate, r.FundingTime, r.NextFundingTime, r.TsEvent, r.TsIngest)
	}
	return w.sendBatch(ctx, b, len(records))
}

func (w *PostgresWriter) AppendMarkPrices(ctx context.Context, records []venue.MarkPrice) error {
	if len(records) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	q := fmt.Sprintf(`
		INSERT INTO %s (instid, markpx, idxpx, idxts, ts_event_ms, ts_ingest_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (instid, ts_event_ms) DO NOTHING`, w.table("mark_prices"))
	for _, r := range records {
		b.Queue(q, r.Instrument, r.MarkPx, r.IdxPx, r.IdxTs, r.TsEvent, r.TsIngest)
	}
	return w.sendBatch(ctx, b, len(records))
}

func (w *PostgresWriter) AppendTickers(ctx context.Context, records []venue.Ticker) error {
	if len(records) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	q := fmt.Sprintf(`
		INSERT INTO %s (instid, last, lastsz, bidpx, bidsz, askpx, asksz, open24h, high24h, low24h, vol24h, volccy24h, ts_event_ms, ts_ingest_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (instid, ts_event_ms) DO NOTHING`, w.table("tickers"))
	for _, r := range records {
		b.Queue(q, r.Instrument, r.Last, r.LastSz, r.BidPx, r.BidSz, r.AskPx, r.AskSz,
			r.Open24h, r.High24h, r.Low24h, r.Vol24h, r.VolCcy24h, r.TsEvent, r.TsIngest)
	}
	return w.sendBatch(ctx, b, len(records))
}

func (w *PostgresWriter) AppendOpenInterest(ctx context.Context, records []venue.OpenInterest) error {
	if len(records) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	q := fmt.Sprintf(`
		INSERT INTO %s (instid, oi, oiccy, ts_event_ms, ts_ingest_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (instid, ts_event_ms) DO NOTHING`, w.table("open_interest"))
	for _, r := range records {
		b.Queue(q, r.Instrument, r.OI, r.OICcy, r.TsEvent, r.TsIngest)
	}
	return w.sendBatch(ctx, b, len(records))
}

func (w *PostgresWriter) AppendIndexTickers(ctx context.Context, records []venue.IndexTicker) error {
	if len(records) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	q := fmt.Sprintf(`
		INSERT INTO %s (instid, idxpx, open24h, high24h, low24h, sodutc0, sodutc8, ts_event_ms, ts_ingest_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (instid, ts_event_ms) DO NOTHING`, w.table("index_tickers"))
	for _, r := range records {
		b.Queue(q, r.Instrument, r.IdxPx, r.Open24h, r.High24h, r.Low24h, r.SodUtc0, r.SodUtc8, r.TsEvent, r.TsIngest)
	}
	return w.sendBatch(ctx, b, len(records))
}

func (w *PostgresWriter) AppendLiquidations(ctx context.Context, records []venue.Liquidation) error {
	if len(records) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	q := fmt.Sprintf(`
		INSERT INTO %s (instid, posside, side, sz, bkpx, bkloss, ccy, ts_event_ms, ts_ingest_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (instid, ts_event_ms, side, bkpx) DO NOTHING`, w.table("liquidations"))
	for _, r := range records {
		b.Queue(q, r.Instrument, r.PosSide, string(r.Side), r.Size, r.BkPx, r.BkLoss, r.Ccy, r.TsEvent, r.TsIngest)
	}
	return w.sendBatch(ctx, b, len(records))
}

func (w *PostgresWriter) AppendBookDeltas(ctx context.Context, records []venue.BookDeltaRecord) error {
	if len(records) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	q := fmt.Sprintf(`
		INSERT INTO %s (instid, ts_event_ms, bids_delta, asks_delta, checksum)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (instid, ts_event_ms) DO NOTHING`, w.table("orderbook_updates"))
	for _, r := range records {
		bidsJSON, _ := json.Marshal(r.BidsDelta)
		asksJSON, _ := json.Marshal(r.AsksDelta)
		b.Queue(q, r.Instrument, r.TsEvent, bidsJSON, asksJSON, r.Checksum)
	}
	return w.sendBatch(ctx, b, len(records))
}

func (w *PostgresWriter) AppendSnapshotRows(ctx context.Context, records []venue.BookSnapshotRow) error {
	if len(records) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	q := fmt.Sprintf(`
		INSERT INTO %s (snapshot_id, instid, ts_event_ms, side, price, size, level)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (instid, ts_event_ms, snapshot_id, side, price) DO NOTHING`, w.table("orderbook_snapshots"))
	for _, r := range records {
		b.Queue(q, r.SnapshotID, r.Instrument, r.TsEvent, int(r.Side), r.Price, r.Size, r.Level)
	}
	return w.sendBatch(ctx, b, len(records))
}

// Close flushes writer-internal buffers (pgxpool keeps none outstanding
// between calls) and releases connections.
func (w *PostgresWriter) Close(ctx context.Context) error {
	w.pool.Close()
	return nil
}
