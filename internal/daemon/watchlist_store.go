package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"

	"stockbit-capture/internal/models"
	"stockbit-capture/internal/stockerr"
)

// loadWatchlistFile reads the persisted watchlist JSON. A missing file is
// not an error -- the caller starts with an empty watchlist.
func loadWatchlistFile(path string) (*models.Watchlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.NewWatchlist(), nil
		}
		return nil, stockerr.Wrap(stockerr.ErrStorageFailure, "read watchlist %s: %v", path, err)
	}
	var w models.Watchlist
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, stockerr.Wrap(stockerr.ErrStorageFailure, "decode watchlist %s: %v", path, err)
	}
	if w.DailyStats == nil {
		w.DailyStats = make(map[string]models.DailyStats)
	}
	return &w, nil
}

// saveWatchlistFile persists atomically: temp file, fsync, rename, matching
// the teacher's SaveState pattern.
func saveWatchlistFile(path string, w *models.Watchlist) error {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return stockerr.Wrap(stockerr.ErrStorageFailure, "marshal watchlist: %v", err)
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return stockerr.Wrap(stockerr.ErrStorageFailure, "mkdir %s: %v", dir, err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".watchlist-*.tmp")
	if err != nil {
		return stockerr.Wrap(stockerr.ErrStorageFailure, "create temp watchlist file: %v", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return stockerr.Wrap(stockerr.ErrStorageFailure, "write temp watchlist file: %v", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return stockerr.Wrap(stockerr.ErrStorageFailure, "fsync temp watchlist file: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return stockerr.Wrap(stockerr.ErrStorageFailure, "close temp watchlist file: %v", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return stockerr.Wrap(stockerr.ErrStorageFailure, "rename watchlist file into place: %v", err)
	}
	return nil
}
