package batch

import (
	"context"
	"errors"
	"log/slog"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx-ingestor/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBatcherSizeTriggeredFlush(t *testing.T) {
	var mu sync.Mutex
	var calls [][]int

	b := New[int]("test", 3, func(_ context.Context, records []int) error {
		mu.Lock()
		defer mu.Unlock()
		cp := append([]int(nil), records...)
		calls = append(calls, cp)
		return nil
	}, metrics.NoopSink{}, testLogger())

	ctx := context.Background()
	b.Append(ctx, 1)
	b.Append(ctx, 2)
	assert.Equal(t, 2, b.Len())

	b.Append(ctx, 3) // hits maxSize=3, triggers flush
	assert.Equal(t, 0, b.Len(), "append never observes len(buffer) > batch_max_size after return")

	mu.Lock()
	require.Len(t, calls, 1)
	assert.Equal(t, []int{1, 2, 3}, calls[0])
	mu.Unlock()
}

func TestBatcherFlushIdempotent(t *testing.T) {
	var callCount int
	var mu sync.Mutex

	b := New[int]("test", 100, func(_ context.Context, records []int) error {
		mu.Lock()
		callCount++
		mu.Unlock()
		return nil
	}, metrics.NoopSink{}, testLogger())

	ctx := context.Background()
	b.Append(ctx, 1)
	b.Flush(ctx)
	assert.Equal(t, 0, b.Len())

	b.Flush(ctx) // second call on an empty buffer is a no-op

	mu.Lock()
	assert.Equal(t, 1, callCount, "flush() is idempotent: two consecutive calls write the first call's contents only")
	mu.Unlock()
}

func TestBatcherDropsOnWriterError(t *testing.T) {
	b := New[int]("test", 100, func(_ context.Context, records []int) error {
		return errors.New("store unreachable")
	}, metrics.NoopSink{}, testLogger())

	ctx := context.Background()
	b.Append(ctx, 1)
	b.Append(ctx, 2)
	b.Flush(ctx)

	assert.Equal(t, 0, b.Len(), "a failed batch is dropped, not re-queued")
}

func TestSchedulerFinalFlushOnCancellation(t *testing.T) {
	var flushed int
	var mu sync.Mutex

	b := New[int]("trades", 100, func(_ context.Context, records []int) error {
		mu.Lock()
		flushed += len(records)
		mu.Unlock()
		return nil
	}, metrics.NoopSink{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	b.Append(ctx, 1)
	b.Append(ctx, 2)
	b.Append(ctx, 3)

	sched := NewScheduler(time.Hour, []Flusher{b}, testLogger())

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not exit after cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, flushed, "cancellation must run a final flush pass before exiting")
}
