// Package daemon implements the Streaming Supervisor: the six-state machine
// that starts, stops, and restarts the Orderbook Streamer in step with the
// Market Clock, grounded on OrderbookDaemon in the Python original.
package daemon

import (
	"context"
	"log"
	"sync"
	"time"

	"stockbit-capture/internal/bus"
	"stockbit-capture/internal/clock"
	"stockbit-capture/internal/csvsink"
	"stockbit-capture/internal/models"
	"stockbit-capture/internal/streamer"
	"stockbit-capture/internal/token"
)

// State is one of the six Supervisor states.
type State string

const (
	StateWaitingMarket State = "waiting_market"
	StateStreaming     State = "streaming"
	StatePaused        State = "paused"
	StateMarketClosed  State = "market_closed"
	StateNoTickers     State = "no_tickers"
	StateError         State = "error"
)

// StateChangeCallback fires on every state transition.
type StateChangeCallback func(old, new State)

// ReconnectAlertCallback fires when consecutive reconnects exceed threshold.
type ReconnectAlertCallback func(consecutive int)

// StreamerFactory builds a fresh Streamer bound to the given tickers --
// injected so tests can substitute a fake without a real socket.
type StreamerFactory func(tickers []string) *streamer.Streamer

// Daemon is the Streaming Supervisor.
type Daemon struct {
	mu sync.Mutex

	watchlistPath string
	watchlist     *models.Watchlist

	store        *token.Store
	sink         *csvsink.Sink
	bus          *bus.Bus
	newStreamer  StreamerFactory
	tickInterval time.Duration
	nowFn        func() time.Time

	state           State
	paused          bool
	running         bool
	currentStreamer *streamer.Streamer
	streamCancel    context.CancelFunc

	lastStateChange        time.Time
	streamStartedAt         *time.Time
	lastReconnectCount      int
	consecutiveReconnects   int
	totalReconnectsToday    int

	onStateChange     StateChangeCallback
	onReconnectAlert  ReconnectAlertCallback

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Daemon in the waiting_market/no_tickers state depending
// on whether the loaded watchlist already has tickers.
func New(watchlistPath string, store *token.Store, sink *csvsink.Sink, eventBus *bus.Bus, newStreamer StreamerFactory) *Daemon {
	d := &Daemon{
		watchlistPath: watchlistPath,
		store:         store,
		sink:          sink,
		bus:           eventBus,
		newStreamer:   newStreamer,
		tickInterval:  30 * time.Second,
		nowFn:         time.Now,
		state:         StateNoTickers,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	d.watchlist = d.loadWatchlist()
	if len(d.watchlist.Tickers) > 0 {
		d.state = StateWaitingMarket
	}
	return d
}

func (d *Daemon) loadWatchlist() *models.Watchlist {
	w, err := loadWatchlistFile(d.watchlistPath)
	if err != nil {
		log.Printf("daemon: starting with empty watchlist, could not load %s: %v", d.watchlistPath, err)
		return models.NewWatchlist()
	}
	return w
}

func (d *Daemon) persistWatchlist() {
	d.watchlist.UpdatedAt = d.nowFn()
	if err := saveWatchlistFile(d.watchlistPath, d.watchlist); err != nil {
		log.Printf("daemon: persist watchlist failed: %v", err)
	}
}

// setState transitions state, stamping the time and firing the state-change
// callback exactly once per actual change.
func (d *Daemon) setState(newState State) {
	old := d.state
	d.state = newState
	d.lastStateChange = d.nowFn()
	if old != newState {
		log.Printf("daemon: state %s -> %s", old, newState)
		if d.onStateChange != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("daemon: state change callback panicked: %v", r)
					}
				}()
				d.onStateChange(old, newState)
			}()
		}
		d.bus.Publish(bus.Event{Name: "daemon_state_change", Payload: map[string]any{
			"from": string(old), "to": string(newState),
		}})
	}
}

// Start launches the scheduler loop in the background. Start is idempotent.
func (d *Daemon) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	go d.schedulerLoop(ctx)
}

// Stop halts the scheduler and any active stream, waiting up to 5s for the
// scheduler goroutine to exit.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)
	select {
	case <-d.doneCh:
	case <-time.After(5 * time.Second):
		log.Printf("daemon: stop timed out waiting for scheduler to exit")
	}

	d.mu.Lock()
	d.stopStreamLocked()
	d.mu.Unlock()
}

func (d *Daemon) schedulerLoop(ctx context.Context) {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Daemon) tick() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.paused {
		return
	}

	market := clock.Evaluate(d.nowFn())

	switch market.Status {
	case models.StatusOpen:
		if d.state != StateStreaming {
			if len(d.watchlist.Tickers) > 0 {
				d.startStreamLocked()
			} else {
				d.setState(StateNoTickers)
			}
		} else if d.currentStreamer != nil && d.currentStreamer.Stats().Unhealthy() {
			log.Printf("daemon: stream unhealthy, restarting")
			d.restartStreamLocked()
		} else {
			d.checkReconnectsLocked()
		}
	case models.StatusBreak:
		if d.state == StateStreaming {
			log.Printf("daemon: lunch break started, stopping stream")
			d.stopStreamLocked()
			d.setState(StateWaitingMarket)
		} else if d.state != StateWaitingMarket && d.state != StateNoTickers {
			if len(d.watchlist.Tickers) > 0 {
				d.setState(StateWaitingMarket)
			} else {
				d.setState(StateNoTickers)
			}
		}
	default: // closed
		if d.state == StateStreaming {
			log.Printf("daemon: market closed (%s), stopping stream", market.Reason)
			d.stopStreamLocked()
			d.setState(StateMarketClosed)
		} else if d.state != StateMarketClosed && d.state != StateWaitingMarket && d.state != StateNoTickers {
			if len(d.watchlist.Tickers) > 0 {
				d.setState(StateWaitingMarket)
			} else {
				d.setState(StateNoTickers)
			}
		}
	}
}

func (d *Daemon) startStreamLocked() {
	if _, ok := d.store.GetValid(); !ok {
		d.setState(StateError)
		return
	}

	s := d.newStreamer(append([]string(nil), d.watchlist.Tickers...))
	ctx, cancel := context.WithCancel(context.Background())
	d.currentStreamer = s
	d.streamCancel = cancel
	now := d.nowFn()
	d.streamStartedAt = &now
	d.lastReconnectCount = 0
	d.consecutiveReconnects = 0

	go s.Run(ctx)
	d.setState(StateStreaming)
}

func (d *Daemon) stopStreamLocked() {
	if d.currentStreamer != nil {
		d.currentStreamer.Stop()
	}
	if d.streamCancel != nil {
		d.streamCancel()
	}
	d.currentStreamer = nil
	d.streamCancel = nil
}

func (d *Daemon) restartStreamLocked() {
	d.stopStreamLocked()
	d.startStreamLocked()
}

func (d *Daemon) checkReconnectsLocked() {
	if d.currentStreamer == nil {
		return
	}
	stats := d.currentStreamer.Stats()
	if stats.TotalReconnects > d.lastReconnectCount {
		diff := stats.TotalReconnects - d.lastReconnectCount
		d.consecutiveReconnects += diff
		d.totalReconnectsToday += diff
		d.lastReconnectCount = stats.TotalReconnects

		if d.consecutiveReconnects > 1 && d.onReconnectAlert != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("daemon: reconnect alert callback panicked: %v", r)
					}
				}()
				d.onReconnectAlert(d.consecutiveReconnects)
			}()
		}
	} else if d.consecutiveReconnects > 0 {
		d.consecutiveReconnects = 0
	}
}

// SetTickers replaces the watchlist entirely, persisting immediately and,
// if currently streaming with a changed ticker list, restarting the stream:
// the old Streamer is stopped and the new one started at once, with no pause
// in between.
func (d *Daemon) SetTickers(tickers []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	oldTickers := append([]string(nil), d.watchlist.Tickers...)
	d.watchlist.Replace(tickers)
	d.persistWatchlist()

	if len(d.watchlist.Tickers) == 0 {
		d.stopStreamLocked()
		d.setState(StateNoTickers)
		return
	}

	if d.state == StateStreaming && !stringSlicesEqual(oldTickers, d.watchlist.Tickers) {
		d.restartStreamLocked()
	} else if d.state == StateNoTickers {
		d.setState(StateWaitingMarket)
	}
}

// AddTickers appends new tickers (deduplicated), persisting and restarting
// the stream if currently streaming.
func (d *Daemon) AddTickers(tickers []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	changed := false
	for _, t := range tickers {
		if d.watchlist.Add(t) {
			changed = true
		}
	}
	if !changed {
		return
	}
	d.persistWatchlist()

	if d.state == StateStreaming {
		d.restartStreamLocked()
	} else if d.state == StateNoTickers {
		d.setState(StateWaitingMarket)
	}
}

// RemoveTickers deletes tickers from the watchlist, persisting and
// restarting/stopping the stream as needed.
func (d *Daemon) RemoveTickers(tickers []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	changed := false
	for _, t := range tickers {
		if d.watchlist.Remove(t) {
			changed = true
		}
	}
	if !changed {
		return
	}
	d.persistWatchlist()

	if d.state == StateStreaming {
		if len(d.watchlist.Tickers) == 0 {
			d.stopStreamLocked()
			d.setState(StateNoTickers)
		} else {
			d.restartStreamLocked()
		}
	}
}

// Pause stops any active stream and enters the paused state from any state.
func (d *Daemon) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
	if d.state == StateStreaming {
		d.stopStreamLocked()
	}
	d.setState(StatePaused)
}

// Resume leaves paused and returns to waiting_market, letting the next tick
// decide whether to start streaming.
func (d *Daemon) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
	if len(d.watchlist.Tickers) == 0 {
		d.setState(StateNoTickers)
		return
	}
	d.setState(StateWaitingMarket)
}

// SetTokenAndReconnect stores a fresh token and, if the market is open and
// the daemon was stuck in error, immediately attempts to (re)start the
// stream instead of waiting for the next tick.
func (d *Daemon) SetTokenAndReconnect(bearer, cookies string) error {
	if _, err := d.store.Set(bearer, cookies); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateStreaming {
		d.restartStreamLocked()
		return nil
	}
	if d.state == StateError {
		market := clock.Evaluate(d.nowFn())
		if market.Status == models.StatusOpen && len(d.watchlist.Tickers) > 0 {
			d.startStreamLocked()
		} else {
			d.setState(StateWaitingMarket)
		}
	}
	return nil
}

// RegisterStateChangeCallback sets the callback fired on every transition.
func (d *Daemon) RegisterStateChangeCallback(cb StateChangeCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStateChange = cb
}

// RegisterReconnectAlertCallback sets the callback fired when consecutive
// reconnects exceed one.
func (d *Daemon) RegisterReconnectAlertCallback(cb ReconnectAlertCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onReconnectAlert = cb
}

// State returns the current Supervisor state.
func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// StatusSnapshot is the public status surface returned by GetStatus.
type StatusSnapshot struct {
	State                 State
	Tickers               []string
	Paused                bool
	LastStateChange       time.Time
	StreamStartedAt        *time.Time
	ConsecutiveReconnects int
	TotalReconnectsToday  int
	Market                models.MarketState
}

// GetStatus returns a consistent snapshot of the Supervisor's state.
func (d *Daemon) GetStatus() StatusSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return StatusSnapshot{
		State:                 d.state,
		Tickers:               append([]string(nil), d.watchlist.Tickers...),
		Paused:                d.paused,
		LastStateChange:       d.lastStateChange,
		StreamStartedAt:       d.streamStartedAt,
		ConsecutiveReconnects: d.consecutiveReconnects,
		TotalReconnectsToday:  d.totalReconnectsToday,
		Market:                clock.Evaluate(d.nowFn()),
	}
}

// DailyRecap summarizes today's streaming activity for operator reporting.
type DailyRecap struct {
	Date            string
	MessageCounts   map[string]int
	TotalReconnects int
	UptimeSeconds   float64
	Tickers         []string
}

// GetDailyRecap snapshots the current streamer's stats into the watchlist's
// daily stats map and returns it, persisting the watchlist.
func (d *Daemon) GetDailyRecap() DailyRecap {
	d.mu.Lock()
	defer d.mu.Unlock()

	today := d.nowFn().Format("2006-01-02")
	recap := DailyRecap{Date: today, Tickers: append([]string(nil), d.watchlist.Tickers...)}

	if d.currentStreamer != nil {
		stats := d.currentStreamer.Stats()
		recap.MessageCounts = stats.MessageCounts
		recap.TotalReconnects = stats.TotalReconnects
		recap.UptimeSeconds = stats.UptimeSeconds

		d.watchlist.DailyStats[today] = models.DailyStats{
			MessageCounts:   stats.MessageCounts,
			TotalReconnects: stats.TotalReconnects,
			UptimeSeconds:   stats.UptimeSeconds,
			Tickers:         recap.Tickers,
			SavedAt:         d.nowFn(),
		}
		d.persistWatchlist()
	}
	return recap
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
