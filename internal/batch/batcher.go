// Package batch implements the per-channel bounded buffer (C3) and the
// periodic flush scheduler (C6) that drains every buffer into its writer.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"okx-ingestor/internal/metrics"
)

// WriteFunc is the writer-call bound into a Batcher at construction — one
// AppendXxx method on the store.Writer, already closed over the record
// kind and context.
type WriteFunc[T any] func(ctx context.Context, records []T) error

// Batcher is a bounded in-memory buffer for one record kind, paired with a
// writer append call. Append and Flush both use the swap-then-write
// discipline mandated by §4.3: the buffer is reassigned to a fresh empty
// slice before the writer is invoked, so the slice handed to the writer is
// exclusively owned by that call and concurrent producers see the new
// buffer immediately.
type Batcher[T any] struct {
	mu      sync.Mutex
	buf     []T
	maxSize int
	write   WriteFunc[T]
	name    string
	sink    metrics.Sink
	logger  *slog.Logger
}

// New creates a Batcher bound to a writer call. name is used for log lines
// and as the metrics.Sink channel label (e.g. "trades", "funding_rate").
// Pass metrics.NoopSink{} where metrics aren't wired.
func New[T any](name string, maxSize int, write WriteFunc[T], sink metrics.Sink, logger *slog.Logger) *Batcher[T] {
	return &Batcher[T]{
		buf:     make([]T, 0, maxSize),
		maxSize: maxSize,
		write:   write,
		name:    name,
		sink:    sink,
		logger:  logger.With("batcher", name),
	}
}

// Append pushes record onto the buffer. If the buffer has reached
// maxSize, it is swapped out and drained before Append returns — this is
// the size-triggered flush; the writer call is therefore Append's only
// suspension point (§5).
func (b *Batcher[T]) Append(ctx context.Context, record T) {
	b.mu.Lock()
	b.buf = append(b.buf, record)
	var taken []T
	if len(b.buf) >= b.maxSize {
		taken = b.buf
		b.buf = make([]T, 0, b.maxSize)
	}
	b.mu.Unlock()

	if taken != nil {
		b.drain(ctx, taken)
	}
}

// Flush unconditionally swaps out and drains the buffer if it is
// non-empty. A second call on an already-empty buffer is a no-op —
// idempotent per §4.3.
func (b *Batcher[T]) Flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.buf) == 0 {
		b.mu.Unlock()
		return
	}
	taken := b.buf
	b.buf = make([]T, 0, b.maxSize)
	b.mu.Unlock()

	b.drain(ctx, taken)
}

// Len reports the current buffer length. Used by tests only.
func (b *Batcher[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// drain calls the writer on a slice the Batcher no longer references.
// Writer errors are logged with batch size and never re-queued — the
// core's at-least-once guarantee stops at the point the batch leaves the
// buffer (§4.3).
func (b *Batcher[T]) drain(ctx context.Context, records []T) {
	start := time.Now()
	err := b.write(ctx, records)
	b.sink.BatchFlushed(b.name, time.Since(start))

	if err != nil {
		sample := records
		if len(sample) > 3 {
			sample = sample[:3]
		}
		b.sink.WriterError(b.name)
		b.logger.Error("writer append failed, batch dropped",
			"error", err,
			"batch_size", len(records),
			"sample", sample,
		)
	}
}
