package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPromSinkRecordsAcrossLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := newPromSink(reg)

	sink.SessionReconnect()
	sink.FrameReceived("trades", "BTC-USDT-SWAP")
	sink.FrameReceived("trades", "BTC-USDT-SWAP")
	sink.SequenceGap("BTC-USDT-SWAP")
	sink.WriterError("trades")
	sink.BatchFlushed("trades", 10*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["ingestor_session_reconnects_total"])
	assert.True(t, names["ingestor_frames_total"])
	assert.True(t, names["ingestor_sequence_gaps_total"])
	assert.True(t, names["ingestor_writer_errors_total"])
	assert.True(t, names["ingestor_batch_flush_duration_seconds"])
}

func TestPromHandlerExposesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := newPromSink(reg)
	sink.SessionReconnect()

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ingestor_session_reconnects_total")
}

func TestNoopSinkNeverPanics(t *testing.T) {
	var s Sink = NoopSink{}
	s.SessionReconnect()
	s.FrameReceived("trades", "BTC-USDT-SWAP")
	s.SequenceGap("BTC-USDT-SWAP")
	s.WriterError("trades")
	s.BatchFlushed("trades", time.Millisecond)
}

func TestNewServerBuildsAddrFromPort(t *testing.T) {
	srv := NewServer(9999, discardLogger())
	assert.Equal(t, ":9999", srv.server.Addr)
	assert.NotNil(t, srv.Sink)
}
