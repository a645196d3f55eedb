// Package crawl implements the Historical Crawl Engine: job/task expansion,
// a bounded worker pool, opaque-cursor pagination against the REST Fetcher,
// and pause/resume on authentication failure. Grounded on JobManager in the
// Python original (jobs.py).
package crawl

import (
	"time"

	"github.com/google/uuid"

	"stockbit-capture/internal/models"
	"stockbit-capture/internal/stockerr"
)

// expandDates returns every calendar date string in [from, until] inclusive.
// Non-trading days are not filtered here -- the Fetcher discovers them via
// empty-page results.
func expandDates(from, until string) ([]string, error) {
	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return nil, stockerr.Wrap(stockerr.ErrConfigInvalid, "invalid from_date %q: %v", from, err)
	}
	end, err := time.Parse("2006-01-02", until)
	if err != nil {
		return nil, stockerr.Wrap(stockerr.ErrConfigInvalid, "invalid until_date %q: %v", until, err)
	}
	if end.Before(start) {
		return nil, stockerr.Wrap(stockerr.ErrConfigInvalid, "until_date %q precedes from_date %q", until, from)
	}

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format("2006-01-02"))
	}
	return dates, nil
}

// newJob builds a Job with one Task per (ticker, date) combination.
func newJob(tickers []string, fromDate, untilDate string, delaySeconds float64, pageLimit, parallelWorkers int) (*models.Job, error) {
	dates, err := expandDates(fromDate, untilDate)
	if err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return nil, stockerr.Wrap(stockerr.ErrConfigInvalid, "tickers must not be empty")
	}
	if parallelWorkers < 1 || parallelWorkers > 10 {
		return nil, stockerr.Wrap(stockerr.ErrConfigInvalid, "parallel_workers %d out of range 1..10", parallelWorkers)
	}

	tasks := make([]models.Task, 0, len(tickers)*len(dates))
	for _, ticker := range tickers {
		for _, date := range dates {
			tasks = append(tasks, models.Task{Ticker: ticker, Date: date, Status: models.TaskPending})
		}
	}

	return &models.Job{
		JobID:           uuid.NewString(),
		Tickers:         tickers,
		FromDate:        fromDate,
		UntilDate:       untilDate,
		DelaySeconds:    delaySeconds,
		PageLimit:       pageLimit,
		ParallelWorkers: parallelWorkers,
		Status:          models.JobQueued,
		CreatedAt:       time.Now(),
		Tasks:           tasks,
	}, nil
}
