// Package csvsink implements the per-ticker, append-only orderbook CSV sink,
// grounded on OrderbookCSVStorage in the Python original: one file per
// ticker per host-local calendar day, header written exactly once, every
// append flushed so an external tailer sees data promptly.
package csvsink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stockbit-capture/internal/models"
	"stockbit-capture/internal/stockerr"
)

var header = []string{"timestamp", "price", "lots", "total_value", "side"}

type handle struct {
	file   *os.File
	writer *csv.Writer
	date   string
}

// Sink owns one open file handle per ticker. It is not safe for concurrent
// writers to the same ticker -- the contract assumes a single Streamer.
type Sink struct {
	mu      sync.Mutex
	dir     string
	handles map[string]*handle
	nowFn   func() time.Time
}

// New creates a Sink rooted at dir, creating the directory if needed.
func New(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, stockerr.Wrap(stockerr.ErrStorageFailure, "create orderbook dir %s: %v", dir, err)
	}
	return &Sink{
		dir:     dir,
		handles: make(map[string]*handle),
		nowFn:   time.Now,
	}, nil
}

func (s *Sink) filename(ticker, date string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.csv", date, ticker))
}

// getOrCreateWriter returns the writer for ticker, rotating to a new file
// when the host-local calendar date has changed since the handle was opened.
func (s *Sink) getOrCreateWriter(ticker string) (*handle, error) {
	today := s.nowFn().Format("2006-01-02")

	if h, ok := s.handles[ticker]; ok {
		if h.date == today {
			return h, nil
		}
		h.writer.Flush()
		h.file.Close()
		delete(s.handles, ticker)
	}

	path := s.filename(ticker, today)
	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, stockerr.Wrap(stockerr.ErrStorageFailure, "open orderbook csv %s: %v", path, err)
	}

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(header); err != nil {
			f.Close()
			return nil, stockerr.Wrap(stockerr.ErrStorageFailure, "write header %s: %v", path, err)
		}
		w.Flush()
	}

	h := &handle{file: f, writer: w, date: today}
	s.handles[ticker] = h
	return h, nil
}

// WriteLevel appends one orderbook row for ticker. The sink is append-only
// and deliberately does not deduplicate -- writing the same row twice
// produces two rows.
func (s *Sink) WriteLevel(ticker string, timestamp time.Time, level models.OrderbookLevel, side models.Side) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.getOrCreateWriter(ticker)
	if err != nil {
		return err
	}

	row := []string{
		timestamp.Format(time.RFC3339),
		level.Price.String(),
		fmt.Sprintf("%d", level.Lots),
		level.TotalValue.String(),
		string(side),
	}
	if err := h.writer.Write(row); err != nil {
		return stockerr.Wrap(stockerr.ErrStorageFailure, "write row for %s: %v", ticker, err)
	}
	h.writer.Flush()
	if err := h.writer.Error(); err != nil {
		return stockerr.Wrap(stockerr.ErrStorageFailure, "flush row for %s: %v", ticker, err)
	}
	return nil
}

// CloseAll releases every open file handle, flushing first. Safe to call
// more than once.
func (s *Sink) CloseAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for ticker, h := range s.handles {
		h.writer.Flush()
		if err := h.file.Close(); err != nil && firstErr == nil {
			firstErr = stockerr.Wrap(stockerr.ErrStorageFailure, "close %s: %v", ticker, err)
		}
		delete(s.handles, ticker)
	}
	return firstErr
}
