package crawl

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"stockbit-capture/internal/models"
	"stockbit-capture/internal/stockerr"
)

// tradeWriter appends running-trade rows to one file per (job, ticker),
// distinct from the live orderbook Sink: a job's file spans its whole
// fromDate..untilDate range rather than rotating daily.
type tradeWriter struct {
	mu  sync.Mutex
	dir string
}

func newTradeWriter(dir string) (*tradeWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, stockerr.Wrap(stockerr.ErrStorageFailure, "create crawl dir %s: %v", dir, err)
	}
	return &tradeWriter{dir: dir}, nil
}

func (w *tradeWriter) filename(job *models.Job, ticker string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%s_%s.csv", ticker, job.FromDate, job.UntilDate))
}

// outputFiles returns the filenames this writer would use for job; exposed
// for ListOutputFiles.
func (w *tradeWriter) outputFiles(job *models.Job) []string {
	names := make([]string, 0, len(job.Tickers))
	for _, ticker := range job.Tickers {
		names = append(names, w.filename(job, ticker))
	}
	return names
}

// append writes trades to the job's per-ticker CSV, creating the file and
// its header row if this is the first write. Not deduplicating: the caller
// (Engine) is responsible for not refetching pages already written.
func (w *tradeWriter) append(job *models.Job, ticker string, trades []models.RunningTrade) error {
	if len(trades) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	path := w.filename(job, ticker)
	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return stockerr.Wrap(stockerr.ErrStorageFailure, "open trade csv %s: %v", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if isNew {
		if err := cw.Write(models.TradeCSVColumns); err != nil {
			return stockerr.Wrap(stockerr.ErrStorageFailure, "write header %s: %v", path, err)
		}
	}
	for _, trade := range trades {
		if err := cw.Write(trade.Row()); err != nil {
			return stockerr.Wrap(stockerr.ErrStorageFailure, "write row %s: %v", path, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return stockerr.Wrap(stockerr.ErrStorageFailure, "flush trade csv %s: %v", path, err)
	}
	return nil
}
