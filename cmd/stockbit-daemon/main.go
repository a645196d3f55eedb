// Command stockbit-daemon runs the Streaming Supervisor: it keeps the
// Orderbook Streamer in step with the Market Clock for as long as the
// process lives, persisting orderbook rows to CSV and watchlist/token state
// to disk. Grounded on cmd/alpha_watcher's signal-handling shape in the
// teacher repo.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"stockbit-capture/internal/bus"
	"stockbit-capture/internal/config"
	"stockbit-capture/internal/csvsink"
	"stockbit-capture/internal/daemon"
	"stockbit-capture/internal/logger"
	"stockbit-capture/internal/streamer"
	"stockbit-capture/internal/token"
)

const (
	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:144.0) Gecko/20100101 Firefox/144.0"
	origin    = "https://stockbit.com"
)

func main() {
	cfg := config.Load()
	logger.Setup(filepath.Join(cfg.ConfigDir, "daemon.log"), cfg.MaxLogSizeMB, cfg.MaxLogBackups)

	store := token.NewStore(filepath.Join(cfg.ConfigDir, "token.json"))

	sink, err := csvsink.New(cfg.OrderbookDir)
	if err != nil {
		log.Fatalf("daemon: could not open orderbook sink: %v", err)
	}

	eventBus := bus.New()
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		tg := bus.NewTelegramSink(cfg.TelegramBotToken, cfg.TelegramChatID)
		eventBus.Subscribe(tg.Sink())
		log.Println("daemon: Telegram notifications enabled")
	} else {
		log.Println("daemon: Telegram credentials absent, running without notification sink")
	}

	tradingKeyURL := cfg.APIBase + "/auth/websocket/key"

	newStreamer := func(tickers []string) *streamer.Streamer {
		userID := strconv.FormatInt(store.UserID(), 10)
		return streamer.New(streamer.Config{
			WebsocketURL:  cfg.WebsocketURL,
			TradingKeyURL: tradingKeyURL,
			UserID:        userID,
			Origin:        origin,
			UserAgent:     userAgent,
		}, store, sink, tickers)
	}

	d := daemon.New(filepath.Join(cfg.ConfigDir, "orderbook_watchlist.json"), store, sink, eventBus, newStreamer)

	d.RegisterStateChangeCallback(func(old, next daemon.State) {
		log.Printf("daemon: state %s -> %s", old, next)
	})
	d.RegisterReconnectAlertCallback(func(consecutive int) {
		log.Printf("daemon: %d consecutive reconnects", consecutive)
		eventBus.Publish(bus.Event{Name: "reconnect_alert", Payload: map[string]any{"consecutive": consecutive}})
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	log.Println("stockbit-daemon initialized")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Println("daemon: shutdown signal received, stopping")
	cancel()
	d.Stop()
	if err := sink.CloseAll(); err != nil {
		log.Printf("daemon: error closing CSV handles: %v", err)
	}
	eventBus.Publish(bus.Event{Name: "daemon_stopped", Payload: map[string]any{"at": time.Now().Format(time.RFC3339)}})
	time.Sleep(200 * time.Millisecond) // let fire-and-forget sinks flush
}
