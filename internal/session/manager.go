// Package session implements the stream session manager (C7): connection
// lifecycle, subscribe payload, read loop, demux into typed frames, and
// reconnect-with-full-jitter-backoff.
//
// Grounded on the teacher's internal/exchange/ws.go (connMu-guarded conn,
// connectAndRead with re-armed SetReadDeadline, envelope-peek dispatch)
// generalized from a two-feed market/user split to one feed demuxing on
// (channel, instId) into the record kinds in internal/venue. The backoff
// itself is full-jitter, grounded on original_source/ws/client.py's
// full_jitter_delay rather than the teacher's plain doubling.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"okx-ingestor/internal/metrics"
	"okx-ingestor/internal/venue"
)

// State is the connection lifecycle state (§4.7).
type State int

const (
	Disconnected State = iota
	Connecting
	Subscribing
	Streaming
	Backoff
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Subscribing:
		return "subscribing"
	case Streaming:
		return "streaming"
	case Backoff:
		return "backoff"
	default:
		return "disconnected"
	}
}

// FrameHandler receives every parsed, non-empty Frame. The supervisor
// wires this to the record batchers (C3) and the order-book handler (C5).
type FrameHandler interface {
	OnFrame(ctx context.Context, frame venue.Frame)
}

// ReconnectHook is invoked synchronously before the manager enters
// Backoff, letting the order-book handler materialize every valid book
// across the connection gap (§4.5, §4.7).
type ReconnectHook interface {
	MaterializeAll(ctx context.Context)
}

// Config holds the subscription set and timing parameters for one
// session.
type Config struct {
	URL              string
	Instruments      []string
	Channels         []string
	Keepalive        time.Duration // default 20s
	BackoffBase      time.Duration // default 500ms
	BackoffCap       time.Duration // default 30s
	ResubscribeRate  float64       // resubscribe requests/sec, default 5
	ResubscribeBurst float64       // default 10
}

type subscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type subscribeMsg struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

// resubscribeRequest asks the read loop to unsubscribe then resubscribe a
// single instrument on every book channel configured.
type resubscribeRequest struct {
	instrument string
}

// Manager owns one logical subscription multiplex over a persistent
// WebSocket connection.
type Manager struct {
	cfg Config

	connMu sync.Mutex
	conn   *websocket.Conn

	state   State
	stateMu sync.RWMutex

	handler FrameHandler
	hook    ReconnectHook
	limiter *tokenBucket
	sink    metrics.Sink

	resubCh chan resubscribeRequest

	logger *slog.Logger
}

// New creates a session manager. handler is the frame sink (C2 output
// routed onward); hook is the order-book handler's reconnect callback.
// sink records reconnects and per-channel frame counts; pass
// metrics.NoopSink{} where metrics aren't wired.
func New(cfg Config, handler FrameHandler, hook ReconnectHook, sink metrics.Sink, logger *slog.Logger) *Manager {
	if cfg.Keepalive == 0 {
		cfg.Keepalive = 20 * time.Second
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if cfg.ResubscribeRate == 0 {
		cfg.ResubscribeRate = 5
	}
	if cfg.ResubscribeBurst == 0 {
		cfg.ResubscribeBurst = 10
	}

	return &Manager{
		cfg:     cfg,
		handler: handler,
		hook:    hook,
		limiter: newTokenBucket(cfg.ResubscribeBurst, cfg.ResubscribeRate),
		sink:    sink,
		resubCh: make(chan resubscribeRequest, 64),
		logger:  logger.With("component", "session"),
	}
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}

// RequestResubscribe is called (possibly from the same read-loop
// goroutine, via the order-book handler) whenever a sequence break
// demands a single instrument's resubscribe. The request is rate-limited
// and discarded if the connection isn't Streaming (§4.7) — the next
// reconnect will resubscribe everything anyway.
func (m *Manager) RequestResubscribe(instrument string) {
	select {
	case m.resubCh <- resubscribeRequest{instrument: instrument}:
	default:
		m.logger.Warn("resubscribe queue full, dropping request", "instrument", instrument)
	}
}

// Run connects and maintains the connection with full-jitter-backoff
// reconnect. Blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	attempt := 0

	for {
		m.setState(Connecting)
		err := m.connectAndRead(ctx, &attempt)
		if ctx.Err() != nil {
			m.setState(Disconnected)
			return ctx.Err()
		}

		m.logger.Warn("session disconnected, will reconnect", "error", err, "attempt", attempt)
		m.sink.SessionReconnect()

		// Reconnect-triggered materialization must complete before the
		// manager starts its backoff wait (§4.7).
		if m.hook != nil {
			m.hook.MaterializeAll(ctx)
		}

		m.setState(Backoff)
		delay := fullJitterDelay(m.cfg.BackoffBase, m.cfg.BackoffCap, attempt)
		attempt++

		select {
		case <-ctx.Done():
			m.setState(Disconnected)
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// fullJitterDelay draws a reconnect delay uniformly from
// [0, min(cap, base·2^attempt)] — grounded on
// original_source/ws/client.py's full_jitter_delay.
func fullJitterDelay(base, cap time.Duration, attempt int) time.Duration {
	exp := float64(base) * float64(uint64(1)<<uint(min(attempt, 32)))
	if exp > float64(cap) {
		exp = float64(cap)
	}
	return time.Duration(rand.Float64() * exp)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (m *Manager) connectAndRead(ctx context.Context, attempt *int) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	defer func() {
		m.connMu.Lock()
		conn.Close()
		m.conn = nil
		m.connMu.Unlock()
	}()

	m.setState(Subscribing)
	if err := m.sendSubscribeAll(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	m.setState(Streaming)
	m.logger.Info("session streaming", "url", m.cfg.URL)

	firstFrame := true
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m.drainResubscribes(ctx)

		conn.SetReadDeadline(time.Now().Add(m.cfg.Keepalive))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if firstFrame {
			*attempt = 0
			firstFrame = false
		}

		m.dispatch(ctx, msg)
	}
}

func (m *Manager) sendSubscribeAll() error {
	args := make([]subscribeArg, 0, len(m.cfg.Channels)*len(m.cfg.Instruments))
	for _, ch := range m.cfg.Channels {
		for _, inst := range m.cfg.Instruments {
			args = append(args, subscribeArg{Channel: ch, InstID: inst})
		}
	}
	return m.writeJSON(subscribeMsg{Op: "subscribe", Args: args})
}

func (m *Manager) drainResubscribes(ctx context.Context) {
	for {
		select {
		case req := <-m.resubCh:
			if err := m.limiter.wait(ctx); err != nil {
				return
			}
			m.resubscribeOne(req.instrument)
		default:
			return
		}
	}
}

func (m *Manager) resubscribeOne(instrument string) {
	if m.State() != Streaming {
		return
	}
	var args []subscribeArg
	for _, ch := range m.cfg.Channels {
		if isBookChannel(ch) {
			args = append(args, subscribeArg{Channel: ch, InstID: instrument})
		}
	}
	if len(args) == 0 {
		return
	}
	if err := m.writeJSON(subscribeMsg{Op: "unsubscribe", Args: args}); err != nil {
		m.logger.Warn("resubscribe: unsubscribe failed", "instrument", instrument, "error", err)
		return
	}
	if err := m.writeJSON(subscribeMsg{Op: "subscribe", Args: args}); err != nil {
		m.logger.Warn("resubscribe: subscribe failed", "instrument", instrument, "error", err)
	}
}

func isBookChannel(channel string) bool {
	switch channel {
	case "books", "books-l2-tbt", "books5", "books50-l2-tbt":
		return true
	default:
		return false
	}
}

// dispatch peeks the frame for an arg field; frames lacking it
// (subscription acks, errors, pings) are logged and ignored (§4.7).
// Frames with an unknown channel are logged as warnings and dropped.
func (m *Manager) dispatch(ctx context.Context, data []byte) {
	var peek struct {
		Arg *struct {
			Channel string `json:"channel"`
		} `json:"arg"`
		Event string `json:"event"`
		Code  string `json:"code"`
	}
	if err := peekJSON(data, &peek); err != nil {
		m.logger.Debug("ignoring non-json frame", "error", err)
		return
	}
	if peek.Arg == nil {
		if peek.Event != "" {
			m.logger.Debug("subscription event frame", "event", peek.Event, "code", peek.Code)
		}
		return
	}

	frame, err := venue.Parse(data, venue.NowMs)
	if err != nil {
		m.logger.Warn("frame parse error", "error", err)
		return
	}
	if frame.Kind == venue.KindUnknown {
		m.logger.Warn("unknown channel, dropping frame", "channel", peek.Arg.Channel)
		return
	}
	if frame.Empty() {
		return
	}

	m.sink.FrameReceived(peek.Arg.Channel, frame.Instrument)
	m.handler.OnFrame(ctx, frame)
}

func (m *Manager) writeJSON(v interface{}) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	m.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return m.conn.WriteJSON(v)
}

// Close closes the live connection, if any.
func (m *Manager) Close() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}
