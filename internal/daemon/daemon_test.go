package daemon

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"stockbit-capture/internal/bus"
	"stockbit-capture/internal/csvsink"
	"stockbit-capture/internal/streamer"
	"stockbit-capture/internal/token"
)

func validToken(t *testing.T) *token.Store {
	t.Helper()
	store := token.NewStore(filepath.Join(t.TempDir(), "token.json"))
	payload := map[string]any{"exp": time.Now().Add(time.Hour).Unix(), "data": map[string]any{"uid": 1}}
	raw, _ := json.Marshal(payload)
	middle := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(raw)
	bearer := fmt.Sprintf("h.%s.s", middle)
	if _, err := store.Set(bearer, ""); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	return store
}

func newTestDaemon(t *testing.T, now time.Time) *Daemon {
	t.Helper()
	sink, err := csvsink.New(t.TempDir())
	if err != nil {
		t.Fatalf("csvsink.New failed: %v", err)
	}
	store := validToken(t)
	eventBus := bus.New()
	factory := func(tickers []string) *streamer.Streamer {
		return streamer.New(streamer.Config{WebsocketURL: "ws://unused"}, store, sink, tickers)
	}
	d := New(filepath.Join(t.TempDir(), "watchlist.json"), store, sink, eventBus, factory)
	d.nowFn = func() time.Time { return now }
	return d
}

func TestNoTickersToWaitingMarketOnSetTickers(t *testing.T) {
	d := newTestDaemon(t, time.Now())
	if d.State() != StateNoTickers {
		t.Fatalf("expected initial state no_tickers, got %s", d.State())
	}
	d.SetTickers([]string{"BBCA"})
	if d.State() != StateWaitingMarket {
		t.Fatalf("expected waiting_market after SetTickers, got %s", d.State())
	}
}

func TestSetTickersEmptyForcesNoTickers(t *testing.T) {
	d := newTestDaemon(t, time.Now())
	d.SetTickers([]string{"BBCA"})
	d.SetTickers([]string{})
	if d.State() != StateNoTickers {
		t.Fatalf("expected no_tickers after clearing tickers, got %s", d.State())
	}
}

func TestTickStartsStreamWhenMarketOpen(t *testing.T) {
	tuesdayOpen := time.Date(2025, 1, 7, 9, 0, 0, 0, clockLocation())
	d := newTestDaemon(t, tuesdayOpen)
	d.SetTickers([]string{"BBCA"})

	d.tick()

	if d.State() != StateStreaming {
		t.Fatalf("expected streaming after tick during open market, got %s", d.State())
	}
	d.mu.Lock()
	d.stopStreamLocked()
	d.mu.Unlock()
}

func TestTickStopsOnLunchBreak(t *testing.T) {
	d := newTestDaemon(t, time.Date(2025, 1, 7, 9, 0, 0, 0, clockLocation()))
	d.SetTickers([]string{"BBCA"})
	d.tick()
	if d.State() != StateStreaming {
		t.Fatalf("expected streaming, got %s", d.State())
	}

	d.nowFn = func() time.Time { return time.Date(2025, 1, 8, 12, 5, 0, 0, clockLocation()) }
	d.tick()
	if d.State() != StateWaitingMarket {
		t.Fatalf("expected waiting_market during lunch break, got %s", d.State())
	}
}

func TestTickClosesOnFridayAfterClose(t *testing.T) {
	d := newTestDaemon(t, time.Date(2025, 1, 10, 9, 0, 0, 0, clockLocation()))
	d.SetTickers([]string{"BBCA"})
	d.tick()
	if d.State() != StateStreaming {
		t.Fatalf("expected streaming, got %s", d.State())
	}

	d.nowFn = func() time.Time { return time.Date(2025, 1, 10, 15, 54, 0, 0, clockLocation()) }
	d.tick()
	if d.State() != StateMarketClosed {
		t.Fatalf("expected market_closed after Friday close, got %s", d.State())
	}
}

func TestPauseResumeIsNoOpOnStableState(t *testing.T) {
	d := newTestDaemon(t, time.Now())
	d.SetTickers([]string{"BBCA"})
	initial := d.State()

	d.Pause()
	d.Resume()
	d.Pause()
	d.Resume()

	if d.State() != initial {
		t.Fatalf("expected pause/resume cycles to return to %s, got %s", initial, d.State())
	}
}

func TestStateChangeCallbackFiresOnTransition(t *testing.T) {
	d := newTestDaemon(t, time.Now())
	var transitions []string
	d.RegisterStateChangeCallback(func(old, next State) {
		transitions = append(transitions, string(old)+"->"+string(next))
	})

	d.SetTickers([]string{"BBCA"})

	if len(transitions) == 0 {
		t.Fatal("expected at least one transition to be recorded")
	}
}

func TestStartStopIsIdempotent(t *testing.T) {
	d := newTestDaemon(t, time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.Start(ctx)
	d.Start(ctx) // idempotent
	d.Stop()
	d.Stop() // idempotent
}

func clockLocation() *time.Location {
	return time.FixedZone("WIB", 7*3600)
}
