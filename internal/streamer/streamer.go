// Package streamer implements the Orderbook Streamer: one long-lived
// WebSocket connection to the vendor's real-time endpoint, with exponential
// backoff reconnection grounded on the teacher's manualReconnectLoop, and a
// receive loop grounded on the Python original's OrderbookStreamer.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stockbit-capture/internal/csvsink"
	"stockbit-capture/internal/models"
	"stockbit-capture/internal/protocol"
	"stockbit-capture/internal/stockerr"
	"stockbit-capture/internal/token"
)

const (
	maxFrameBytes   = 10 * 1024 * 1024
	initialBackoff  = 1 * time.Second
	maxBackoff      = 60 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Config carries the fixed per-connection parameters the Streamer needs.
type Config struct {
	WebsocketURL   string
	TradingKeyURL  string
	UserID         string
	Origin         string
	UserAgent      string
	MaxRetries     int // 0 = unbounded
}

// Streamer owns exactly one socket at a time and writes decoded orderbook
// levels to a CSV Sink.
type Streamer struct {
	cfg   Config
	store *token.Store
	sink  *csvsink.Sink

	mu       sync.RWMutex
	tickers  []string
	conn     *websocket.Conn
	running  bool
	stopCh   chan struct{}
	stopOnce sync.Once

	stats Stats
}

// New constructs a Streamer bound to a fixed set of tickers for this
// connection's lifetime; the Supervisor restarts it with a new Streamer
// instance when the watchlist changes.
func New(cfg Config, store *token.Store, sink *csvsink.Sink, tickers []string) *Streamer {
	return &Streamer{
		cfg:     cfg,
		store:   store,
		sink:    sink,
		tickers: tickers,
		stopCh:  make(chan struct{}),
		stats: Stats{
			ConnectionStatus: StatusStopped,
			MessageCounts:    make(map[string]int),
			LastUpdates:      make(map[string]time.Time),
		},
	}
}

// Run blocks until Stop is called or the retry budget is exhausted. It owns
// the full connect/receive/backoff/reconnect cycle.
func (s *Streamer) Run(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.stats.Running = true
	s.mu.Unlock()

	backoff := initialBackoff
	attempt := 0

	for {
		select {
		case <-s.stopCh:
			s.setStatus(StatusStopped, false)
			return
		case <-ctx.Done():
			s.setStatus(StatusStopped, false)
			return
		default:
		}

		s.setStatus(StatusConnecting, false)
		err := s.connectAndReceive(ctx)

		select {
		case <-s.stopCh:
			s.setStatus(StatusStopped, false)
			return
		default:
		}

		if err != nil {
			log.Printf("streamer: connection ended: %v", err)
			s.recordError(err)
		}

		// A bad bearer token won't fix itself by retrying the socket: the
		// Supervisor has to set a fresh token and reconnect with a new
		// Streamer. Halt here instead of backing off forever.
		if errors.Is(err, stockerr.ErrAuthInvalid) {
			s.setStatus(StatusError, false)
			return
		}

		attempt++
		s.mu.Lock()
		s.stats.RetryCount = attempt
		s.stats.TotalReconnects++
		now := time.Now()
		s.stats.LastDisconnectTime = &now
		s.mu.Unlock()

		if s.cfg.MaxRetries > 0 && attempt >= s.cfg.MaxRetries {
			s.setStatus(StatusError, false)
			return
		}

		s.setStatus(StatusRetrying, false)

		select {
		case <-time.After(backoff):
		case <-s.stopCh:
			s.setStatus(StatusStopped, false)
			return
		case <-ctx.Done():
			s.setStatus(StatusStopped, false)
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// connectAndReceive fetches a fresh trading key, dials the socket, sends the
// subscription frame, then blocks in the receive loop until the connection
// drops.
func (s *Streamer) connectAndReceive(ctx context.Context) error {
	bearer, ok := s.store.GetValid()
	if !ok {
		return stockerr.Wrap(stockerr.ErrAuthInvalid, "no valid bearer token")
	}

	tradingKey, err := s.store.FetchTradingKey(ctx, http.DefaultClient, s.cfg.TradingKeyURL)
	if err != nil {
		return fmt.Errorf("fetch trading key: %w", err)
	}
	if tradingKey == "" {
		return stockerr.Wrap(stockerr.ErrAuthInvalid, "trading key fetch requires login")
	}

	headers := http.Header{}
	headers.Set("User-Agent", s.cfg.UserAgent)
	headers.Set("Origin", s.cfg.Origin)
	if cookies := s.store.Cookies(); cookies != "" {
		headers.Set("Cookie", cookies)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.WebsocketURL, headers)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	conn.SetReadLimit(maxFrameBytes)
	// No client-initiated pings: the vendor closes chatty clients. We only
	// observe server pongs passively.
	conn.SetPongHandler(func(string) error { return nil })

	s.mu.Lock()
	s.conn = conn
	now := time.Now()
	s.stats.ConnectionTime = &now
	s.mu.Unlock()

	sub := models.Subscription{
		UserID:     s.cfg.UserID,
		Tickers:    s.tickers,
		TradingKey: tradingKey,
		Bearer:     bearer,
	}
	frame := protocol.EncodeSubscription(sub)
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("write subscription frame: %w", err)
	}

	s.setStatus(StatusConnected, true)

	return s.receiveLoop(conn)
}

func (s *Streamer) receiveLoop(conn *websocket.Conn) error {
	for {
		select {
		case <-s.stopCh:
			return nil
		default:
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.setStatus(StatusDisconnected, false)
			return fmt.Errorf("read message: %w", err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.handleBinaryMessage(data)
		case websocket.TextMessage:
			log.Printf("streamer: received text frame, ignoring: %s", truncate(string(data), 200))
		}
	}
}

func (s *Streamer) handleBinaryMessage(data []byte) {
	frame, err := protocol.DecodeInbound(data)
	if err != nil {
		log.Printf("streamer: dropped malformed frame (%d bytes), hex preview %s: %v", len(data), hexPreview(data), err)
		return
	}

	now := time.Now()
	for _, level := range frame.Levels {
		if err := s.sink.WriteLevel(frame.Ticker, now, level, frame.Side); err != nil {
			log.Printf("streamer: sink write failed for %s: %v", frame.Ticker, err)
			continue
		}
	}

	s.mu.Lock()
	s.stats.MessageCounts[frame.Ticker]++
	s.stats.LastUpdates[frame.Ticker] = now
	s.mu.Unlock()
}

// Stop idempotently closes the socket and stops the receive loop. It does
// not wait for CSV handles -- those are owned by the Supervisor/Sink
// lifecycle, not the Streamer.
func (s *Streamer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.running = false
	s.stats.Running = false
	s.mu.Unlock()
}

// Stats returns an immutable snapshot of the current metrics.
func (s *Streamer) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := s.stats
	snapshot.MessageCounts = make(map[string]int, len(s.stats.MessageCounts))
	for k, v := range s.stats.MessageCounts {
		snapshot.MessageCounts[k] = v
	}
	snapshot.LastUpdates = make(map[string]time.Time, len(s.stats.LastUpdates))
	for k, v := range s.stats.LastUpdates {
		snapshot.LastUpdates[k] = v
	}
	if s.stats.Connected && s.stats.ConnectionTime != nil {
		snapshot.UptimeSeconds = time.Since(*s.stats.ConnectionTime).Seconds()
	}
	return snapshot
}

func (s *Streamer) setStatus(status ConnectionStatus, connected bool) {
	s.mu.Lock()
	s.stats.ConnectionStatus = status
	s.stats.Connected = connected
	s.mu.Unlock()
}

func (s *Streamer) recordError(err error) {
	s.mu.Lock()
	s.stats.LastError = err.Error()
	s.mu.Unlock()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func hexPreview(data []byte) string {
	n := len(data)
	if n > 32 {
		n = 32
	}
	return fmt.Sprintf("%x", data[:n])
}
