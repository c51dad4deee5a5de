package store

import (
	"context"
	"fmt"
)

// migrate creates the schema and every table/index this writer needs, all
// idempotent IF NOT EXISTS statements — grounded on
// original_source/storage/postgres.py's _ensure_schema. Run once at Open.
func (w *PostgresWriter) migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, w.schema),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			instid VARCHAR(50) NOT NULL,
			ts_event_ms BIGINT NOT NULL,
			tradeid VARCHAR(100) NOT NULL,
			px DOUBLE PRECISION NOT NULL,
			sz DOUBLE PRECISION NOT NULL,
			side VARCHAR(10) NOT NULL,
			ts_ingest_ms BIGINT NOT NULL,
			PRIMARY KEY (instid, ts_event_ms, tradeid)
		)`, w.table("trades")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_trades_instid_ts ON %s(instid, ts_event_ms)`, w.table("trades")),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			instid VARCHAR(50) NOT NULL,
			fundingrate DOUBLE PRECISION NOT NULL,
			fundingtime BIGINT NOT NULL,
			nextfundingtime BIGINT NOT NULL,
			ts_event_ms BIGINT NOT NULL,
			ts_ingest_ms BIGINT NOT NULL,
			PRIMARY KEY (instid, ts_event_ms)
		)`, w.table("funding_rates")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_funding_rates_instid_ts ON %s(instid, ts_event_ms)`, w.table("funding_rates")),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			instid VARCHAR(50) NOT NULL,
			markpx DOUBLE PRECISION NOT NULL,
			idxpx DOUBLE PRECISION NOT NULL,
			idxts BIGINT NOT NULL,
			ts_event_ms BIGINT NOT NULL,
			ts_ingest_ms BIGINT NOT NULL,
			PRIMARY KEY (instid, ts_event_ms)
		)`, w.table("mark_prices")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_mark_prices_instid_ts ON %s(instid, ts_event_ms)`, w.table("mark_prices")),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			instid VARCHAR(50) NOT NULL,
			last DOUBLE PRECISION,
			lastsz DOUBLE PRECISION,
			bidpx DOUBLE PRECISION,
			bidsz DOUBLE PRECISION,
			askpx DOUBLE PRECISION,
			asksz DOUBLE PRECISION,
			open24h DOUBLE PRECISION,
			high24h DOUBLE PRECISION,
			low24h DOUBLE PRECISION,
			vol24h DOUBLE PRECISION,
			volccy24h DOUBLE PRECISION,
			ts_event_ms BIGINT NOT NULL,
			ts_ingest_ms BIGINT NOT NULL,
			PRIMARY KEY (instid, ts_event_ms)
		)`, w.table("tickers")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_tickers_instid_ts ON %s(instid, ts_event_ms)`, w.table("tickers")),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			instid VARCHAR(50) NOT NULL,
			oi DOUBLE PRECISION NOT NULL,
			oiccy DOUBLE PRECISION NOT NULL,
			ts_event_ms BIGINT NOT NULL,
			ts_ingest_ms BIGINT NOT NULL,
			PRIMARY KEY (instid, ts_event_ms)
		)`, w.table("open_interest")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_open_interest_instid_ts ON %s(instid, ts_event_ms)`, w.table("open_interest")),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			snapshot_id UUID NOT NULL,
			instid VARCHAR(50) NOT NULL,
			ts_event_ms BIGINT NOT NULL,
			side SMALLINT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			size DOUBLE PRECISION NOT NULL,
			level SMALLINT NOT NULL,
			PRIMARY KEY (instid, ts_event_ms, snapshot_id, side, price)
		)`, w.table("orderbook_snapshots")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_orderbook_snapshots_instid_ts ON %s(instid, ts_event_ms)`, w.table("orderbook_snapshots")),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			instid VARCHAR(50) NOT NULL,
			ts_event_ms BIGINT NOT NULL,
			bids_delta JSONB,
			asks_delta JSONB,
			checksum BIGINT,
			PRIMARY KEY (instid, ts_event_ms)
		)`, w.table("orderbook_updates")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_orderbook_updates_instid_ts ON %s(instid, ts_event_ms)`, w.table("orderbook_updates")),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			instid VARCHAR(50) NOT NULL,
			idxpx DOUBLE PRECISION NOT NULL,
			open24h DOUBLE PRECISION,
			high24h DOUBLE PRECISION,
			low24h DOUBLE PRECISION,
			sodutc0 DOUBLE PRECISION,
			sodutc8 DOUBLE PRECISION,
			ts_event_ms BIGINT NOT NULL,
			ts_ingest_ms BIGINT NOT NULL,
			PRIMARY KEY (instid, ts_event_ms)
		)`, w.table("index_tickers")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_index_tickers_instid_ts ON %s(instid, ts_event_ms)`, w.table("index_tickers")),

		// liquidations has no precedent in postgres.py — added per the
		// restored Liquidation record, keyed the way the original's
		// other per-event tables are (instid, ts_event_ms) plus the two
		// fields that distinguish co-timestamped liquidations on the
		// same instrument.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			instid VARCHAR(50) NOT NULL,
			posside VARCHAR(10),
			side VARCHAR(10) NOT NULL,
			sz DOUBLE PRECISION NOT NULL,
			bkpx DOUBLE PRECISION NOT NULL,
			bkloss DOUBLE PRECISION,
			ccy VARCHAR(20),
			ts_event_ms BIGINT NOT NULL,
			ts_ingest_ms BIGINT NOT NULL,
			PRIMARY KEY (instid, ts_event_ms, side, bkpx)
		)`, w.table("liquidations")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_liquidations_instid_ts ON %s(instid, ts_event_ms)`, w.table("liquidations")),
	}

	for _, stmt := range statements {
		if _, err := w.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min40(stmt)], err)
		}
	}
	return nil
}

func min40(s string) int {
	if len(s) < 40 {
		return len(s)
	}
	return 40
}
