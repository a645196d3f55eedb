package models

import "time"

// DailyStats is a single day's aggregate counters for the streaming session,
// snapshotted by the Supervisor's GetDailyRecap while a stream is active.
type DailyStats struct {
	MessageCounts   map[string]int `json:"message_counts"`
	TotalReconnects int            `json:"total_reconnects"`
	UptimeSeconds   float64        `json:"uptime_seconds"`
	Tickers         []string       `json:"tickers"`
	SavedAt         time.Time      `json:"saved_at"`
}

// Watchlist is the persisted set of tickers the Supervisor subscribes to,
// plus a rolling history of daily stats keyed by calendar date (YYYY-MM-DD).
type Watchlist struct {
	Tickers    []string              `json:"tickers"`
	DailyStats map[string]DailyStats `json:"daily_stats"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// NewWatchlist returns an empty watchlist ready for persistence.
func NewWatchlist() *Watchlist {
	return &Watchlist{
		Tickers:    []string{},
		DailyStats: make(map[string]DailyStats),
	}
}

// Contains reports whether ticker is already present.
func (w *Watchlist) Contains(ticker string) bool {
	for _, t := range w.Tickers {
		if t == ticker {
			return true
		}
	}
	return false
}

// Add inserts ticker if absent, preserving insertion order. Returns true if
// the watchlist changed.
func (w *Watchlist) Add(ticker string) bool {
	if w.Contains(ticker) {
		return false
	}
	w.Tickers = append(w.Tickers, ticker)
	return true
}

// Remove deletes ticker if present. Returns true if the watchlist changed.
func (w *Watchlist) Remove(ticker string) bool {
	for i, t := range w.Tickers {
		if t == ticker {
			w.Tickers = append(w.Tickers[:i], w.Tickers[i+1:]...)
			return true
		}
	}
	return false
}

// Replace swaps the entire ticker set, deduplicating while preserving the
// order of first occurrence.
func (w *Watchlist) Replace(tickers []string) {
	seen := make(map[string]bool, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	w.Tickers = out
}
