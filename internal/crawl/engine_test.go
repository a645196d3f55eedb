package crawl

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"stockbit-capture/internal/models"
	"stockbit-capture/internal/rest"
	"stockbit-capture/internal/stockerr"
)

// scriptedResponse is one canned reply returned in order, independent of the
// pagination cursor the Engine happens to pass -- sufficient to exercise the
// Engine's own bookkeeping without reimplementing the REST layer.
type scriptedResponse struct {
	trades        []models.RunningTrade
	requiresLogin bool
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses []scriptedResponse
	pos       int
}

func (f *fakeFetcher) FetchPage(ctx context.Context, ticker, date string, limit int, tradeNumber *int64, retryCount int) rest.PageResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= len(f.responses) {
		return rest.PageResult{Success: true, IsOpenMarket: true}
	}
	r := f.responses[f.pos]
	f.pos++
	if r.requiresLogin {
		return rest.PageResult{RequiresLogin: true, StatusCode: 401}
	}
	return rest.PageResult{Success: true, Trades: r.trades, Count: len(r.trades), IsOpenMarket: true}
}

func makeTrades(n int, startTradeNumber int64) []models.RunningTrade {
	trades := make([]models.RunningTrade, n)
	for i := 0; i < n; i++ {
		trades[i] = models.RunningTrade{
			ID:          "t",
			Date:        "2025-01-02",
			Time:        "10:00:00",
			Action:      "B",
			Code:        "BBCA",
			Price:       decimal.NewFromInt(8200),
			Lot:         10,
			TradeNumber: startTradeNumber - int64(i),
		}
	}
	return trades
}

func countCSVLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv %s: %v", path, err)
	}
	defer f.Close()
	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	return n
}

func TestPaginatedBackfillCompletesAcrossThreePages(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{responses: []scriptedResponse{
		{trades: makeTrades(50, 1050)},
		{trades: makeTrades(50, 1000)},
		{trades: makeTrades(25, 950)},
	}}

	e, err := New(fetcher, filepath.Join(dir, "jobs.json"), dir, nil, 3)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	jobID, err := e.CreateJob([]string{"BBCA"}, "2025-01-02", "2025-01-02", 0, 50, 1)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	job, ok := e.GetJob(jobID)
	if !ok {
		t.Fatal("job not found after create")
	}

	e.processJob(context.Background(), job)

	if job.Status != models.JobCompleted {
		t.Fatalf("expected job completed, got %s", job.Status)
	}
	task := job.Tasks[0]
	if task.Status != models.TaskCompleted {
		t.Fatalf("expected task completed, got %s", task.Status)
	}
	if task.RecordsFetched != 125 {
		t.Fatalf("expected 125 records fetched, got %d", task.RecordsFetched)
	}
	if task.PagesFetched != 3 {
		t.Fatalf("expected 3 pages fetched, got %d", task.PagesFetched)
	}

	csvPath := filepath.Join(dir, "BBCA_2025-01-02_2025-01-02.csv")
	if lines := countCSVLines(t, csvPath); lines != 126 {
		t.Fatalf("expected 126 CSV lines (125 rows + header), got %d", lines)
	}
}

func TestTokenExpiryMidJobPausesThenResumesWithoutDuplication(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{responses: []scriptedResponse{
		{trades: makeTrades(50, 1050)},
		{requiresLogin: true},
		{trades: makeTrades(50, 1000)},
		{trades: makeTrades(25, 950)},
	}}

	e, err := New(fetcher, filepath.Join(dir, "jobs.json"), dir, nil, 3)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	jobID, err := e.CreateJob([]string{"BBCA"}, "2025-01-02", "2025-01-02", 0, 50, 1)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	job, _ := e.GetJob(jobID)

	e.processJob(context.Background(), job)

	if job.Status != models.JobPaused {
		t.Fatalf("expected job paused after 401, got %s", job.Status)
	}
	if job.Tasks[0].Status != models.TaskPending {
		t.Fatalf("expected task pending after pause, got %s", job.Tasks[0].Status)
	}
	if job.Tasks[0].RecordsFetched != 50 {
		t.Fatalf("expected 50 records fetched before pause, got %d", job.Tasks[0].RecordsFetched)
	}

	resumed, err := e.AutoResumePausedJobs()
	if err != nil {
		t.Fatalf("AutoResumePausedJobs failed: %v", err)
	}
	if resumed != 1 {
		t.Fatalf("expected 1 job resumed, got %d", resumed)
	}
	if job.Status != models.JobQueued {
		t.Fatalf("expected job queued after resume, got %s", job.Status)
	}

	e.processJob(context.Background(), job)

	if job.Status != models.JobCompleted {
		t.Fatalf("expected job completed after resume, got %s", job.Status)
	}
	if job.Tasks[0].RecordsFetched != 125 {
		t.Fatalf("expected 125 total records after resume, got %d", job.Tasks[0].RecordsFetched)
	}

	csvPath := filepath.Join(dir, "BBCA_2025-01-02_2025-01-02.csv")
	if lines := countCSVLines(t, csvPath); lines != 126 {
		t.Fatalf("expected 126 CSV lines with no duplication, got %d", lines)
	}
}

func TestCancelJobRejectsAlreadyTerminalJob(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{responses: []scriptedResponse{{trades: makeTrades(1, 1000)}}}

	e, err := New(fetcher, filepath.Join(dir, "jobs.json"), dir, nil, 3)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	jobID, err := e.CreateJob([]string{"BBCA"}, "2025-01-02", "2025-01-02", 0, 50, 1)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	job, ok := e.GetJob(jobID)
	if !ok {
		t.Fatal("job not found after create")
	}
	e.processJob(context.Background(), job)
	if job.Status != models.JobCompleted {
		t.Fatalf("expected job completed, got %s", job.Status)
	}

	if err := e.CancelJob(jobID); !errors.Is(err, stockerr.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid cancelling a completed job, got %v", err)
	}
	if job.Status != models.JobCompleted {
		t.Fatalf("expected job to remain completed after rejected cancel, got %s", job.Status)
	}
}

func TestDateExpansionRejectsInvertedRange(t *testing.T) {
	_, err := newJob([]string{"BBCA"}, "2025-01-05", "2025-01-01", 0, 50, 1)
	if err == nil {
		t.Fatal("expected error for until_date before from_date")
	}
}

func TestNewJobRejectsWorkersOutOfRange(t *testing.T) {
	if _, err := newJob([]string{"BBCA"}, "2025-01-01", "2025-01-01", 0, 50, 99); !errors.Is(err, stockerr.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for workers=99, got %v", err)
	}
	if _, err := newJob([]string{"BBCA"}, "2025-01-01", "2025-01-01", 0, 50, 0); !errors.Is(err, stockerr.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for workers=0, got %v", err)
	}
}

func TestNewJobRejectsEmptyTickers(t *testing.T) {
	if _, err := newJob(nil, "2025-01-01", "2025-01-01", 0, 50, 1); !errors.Is(err, stockerr.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for empty tickers, got %v", err)
	}
}
