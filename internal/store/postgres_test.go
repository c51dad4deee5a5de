package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx-ingestor/internal/venue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is a hand-written dbConn fake — pgxpool bypasses database/sql
// so there is no sqlmock integration point here.
type fakeConn struct {
	execs      []string
	execErr    error
	batchErr   error // if set, every batch Exec() in the result set fails
	lastBatch  *pgx.Batch
}

func (f *fakeConn) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeConn) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.lastBatch = b
	return &fakeBatchResults{err: f.batchErr}
}

func (f *fakeConn) Ping(ctx context.Context) error { return nil }
func (f *fakeConn) Close()                         {}

type fakeBatchResults struct {
	err error
}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, r.err
}
func (r *fakeBatchResults) Query() (pgx.Rows, error)   { return nil, nil }
func (r *fakeBatchResults) QueryRow() pgx.Row          { return nil }
func (r *fakeBatchResults) Close() error               { return nil }

func TestMigrateRunsEveryStatement(t *testing.T) {
	conn := &fakeConn{}
	w := newWithConn(conn, "market_raw", 0, testLogger())

	err := w.migrate(context.Background())
	require.NoError(t, err)
	assert.Greater(t, len(conn.execs), 10, "expected schema + table + index statements")
	assert.Contains(t, conn.execs[0], "CREATE SCHEMA")
}

func TestMigratePropagatesExecError(t *testing.T) {
	conn := &fakeConn{execErr: errors.New("connection refused")}
	w := newWithConn(conn, "market_raw", 0, testLogger())

	err := w.migrate(context.Background())
	require.Error(t, err)
}

func TestAppendTradesSkipsEmptyBatch(t *testing.T) {
	conn := &fakeConn{}
	w := newWithConn(conn, "market_raw", 0, testLogger())

	err := w.AppendTrades(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, conn.lastBatch, "empty batch must not reach SendBatch")
}

func TestAppendTradesQueuesOneRowPerRecord(t *testing.T) {
	conn := &fakeConn{}
	w := newWithConn(conn, "market_raw", 0, testLogger())

	records := []venue.Trade{
		{Instrument: "BTC-USDT-SWAP", TsEvent: 1, TradeID: "1", Price: 10, Size: 1, Side: "buy", TsIngest: 2},
		{Instrument: "BTC-USDT-SWAP", TsEvent: 2, TradeID: "2", Price: 11, Size: 1, Side: "sell", TsIngest: 3},
	}

	err := w.AppendTrades(context.Background(), records)
	require.NoError(t, err)
	require.NotNil(t, conn.lastBatch)
	assert.Equal(t, 2, conn.lastBatch.Len())
}

func TestAppendReturnsTransientErrorOnBatchFailure(t *testing.T) {
	conn := &fakeConn{batchErr: errors.New("deadline exceeded")}
	w := newWithConn(conn, "market_raw", 0, testLogger())

	err := w.AppendTrades(context.Background(), []venue.Trade{
		{Instrument: "BTC-USDT-SWAP", TsEvent: 1, TradeID: "1", Price: 10, Size: 1, Side: "buy", TsIngest: 2},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient))
}

func TestAppendBookDeltasMarshalsJSONLevels(t *testing.T) {
	conn := &fakeConn{}
	w := newWithConn(conn, "market_raw", 0, testLogger())

	err := w.AppendBookDeltas(context.Background(), []venue.BookDeltaRecord{
		{
			Instrument: "BTC-USDT-SWAP",
			TsEvent:    1,
			TsIngest:   2,
			BidsDelta:  []venue.PriceLevel{{Price: "100.5", Size: "2"}},
			AsksDelta:  []venue.PriceLevel{{Price: "100.6", Size: "0"}},
			Checksum:   42,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, conn.lastBatch)
	assert.Equal(t, 1, conn.lastBatch.Len())
}

func TestWithTimeoutZeroMeansUnbounded(t *testing.T) {
	w := newWithConn(&fakeConn{}, "market_raw", 0, testLogger())
	ctx, cancel := w.withTimeout(context.Background())
	defer cancel()
	_, hasDeadline := ctx.Deadline()
	assert.False(t, hasDeadline)
}

func TestWithTimeoutAppliesConfiguredBound(t *testing.T) {
	w := newWithConn(&fakeConn{}, "market_raw", 250*time.Millisecond, testLogger())
	ctx, cancel := w.withTimeout(context.Background())
	defer cancel()
	_, hasDeadline := ctx.Deadline()
	assert.True(t, hasDeadline)
}
