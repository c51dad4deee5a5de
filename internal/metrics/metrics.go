// Package metrics exposes the ingestor's operational counters and gauges
// on a Prometheus scrape endpoint. Grounded on the teacher's
// internal/api/server.go (http.Server with Read/Write/IdleTimeout and a
// Start/Stop pair driven by a shutdown context) and the
// promauto/promhttp wiring in other_examples/.../etalazz-vsa's
// cmd/tfd-sim/main.go and cmd/tfd-proxy/main.go.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink is the abstract recording surface the rest of the ingestor calls
// through, keeping session/batch/book/store packages free of a direct
// Prometheus import — only this package and its construction site know
// about client_golang.
type Sink interface {
	SessionReconnect()
	FrameReceived(channel, instrument string)
	SequenceGap(instrument string)
	WriterError(kind string)
	BatchFlushed(channel string, duration time.Duration)
}

// promSink is the production Sink, backed by collectors registered on the
// given Registerer once at construction.
type promSink struct {
	reconnects   prometheus.Counter
	frames       *prometheus.CounterVec
	sequenceGaps *prometheus.CounterVec
	writerErrors *prometheus.CounterVec
	flushSeconds *prometheus.HistogramVec
}

func newPromSink(reg prometheus.Registerer) *promSink {
	factory := promauto.With(reg)
	return &promSink{
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_session_reconnects_total",
			Help: "Number of WebSocket session reconnects.",
		}),
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_frames_total",
			Help: "Number of parsed venue frames, by channel and instrument.",
		}, []string{"channel", "instrument"}),
		sequenceGaps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_sequence_gaps_total",
			Help: "Number of order-book sequence discontinuities, by instrument.",
		}, []string{"instrument"}),
		writerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_writer_errors_total",
			Help: "Number of store write failures, by record kind.",
		}, []string{"kind"}),
		flushSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingestor_batch_flush_duration_seconds",
			Help:    "Batch flush call latency, by channel.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
	}
}

func (s *promSink) SessionReconnect() { s.reconnects.Inc() }
func (s *promSink) FrameReceived(channel, instrument string) {
	s.frames.WithLabelValues(channel, instrument).Inc()
}
func (s *promSink) SequenceGap(instrument string) {
	s.sequenceGaps.WithLabelValues(instrument).Inc()
}
func (s *promSink) WriterError(kind string) {
	s.writerErrors.WithLabelValues(kind).Inc()
}
func (s *promSink) BatchFlushed(channel string, duration time.Duration) {
	s.flushSeconds.WithLabelValues(channel).Observe(duration.Seconds())
}

// Server runs the /metrics scrape endpoint on its own registry, isolated
// from prometheus.DefaultRegisterer so repeated construction in tests
// never collides on a duplicate-collector panic.
type Server struct {
	Sink Sink

	server *http.Server
	logger *slog.Logger
}

// NewServer builds the metrics sink and its HTTP exposition server.
func NewServer(port int, logger *slog.Logger) *Server {
	registry := prometheus.NewRegistry()
	sink := newPromSink(registry)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &Server{
		Sink: sink,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "metrics"),
	}
}

// Start serves until the listener errors or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("metrics server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// NoopSink discards every recording — used where a Sink is required but
// metrics are not wired (e.g. unit tests of session/book/batch in
// isolation).
type NoopSink struct{}

func (NoopSink) SessionReconnect()                             {}
func (NoopSink) FrameReceived(channel, instrument string)       {}
func (NoopSink) SequenceGap(instrument string)                  {}
func (NoopSink) WriterError(kind string)                        {}
func (NoopSink) BatchFlushed(channel string, duration time.Duration) {}
