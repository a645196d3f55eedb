package crawl

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"stockbit-capture/internal/bus"
	"stockbit-capture/internal/models"
	"stockbit-capture/internal/rest"
	"stockbit-capture/internal/stockerr"
)

// sessionStartBound is the cutoff from the Python original: pagination
// stops once a trade's wire time is at or before the session open, since
// anything earlier belongs to the previous trading day's close auction.
const sessionStartBound = "09:00:00"

// persistEvery matches the original's "persist progress every 5 completed
// tasks" cadence.
const persistEvery = 5

// Fetcher is the subset of rest.Fetcher the Engine depends on; satisfied by
// *rest.Fetcher and by test doubles.
type Fetcher interface {
	FetchPage(ctx context.Context, ticker, date string, limit int, tradeNumber *int64, retryCount int) rest.PageResult
}

// Engine runs jobs one at a time off a queue, each job's tasks either
// sequentially or through a bounded worker pool, grounded on JobManager in
// the Python original.
type Engine struct {
	fetcher    Fetcher
	store      *jobStore
	writer     *tradeWriter
	bus        *bus.Bus
	retryCount int

	mu          sync.Mutex
	pauseFlags  map[string]bool
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// New constructs an Engine. storePath is the job-table JSON document;
// crawlDir is where per-job trade CSVs are written.
func New(fetcher Fetcher, storePath, crawlDir string, eventBus *bus.Bus, retryCount int) (*Engine, error) {
	writer, err := newTradeWriter(crawlDir)
	if err != nil {
		return nil, err
	}
	return &Engine{
		fetcher:    fetcher,
		store:      openJobStore(storePath),
		writer:     writer,
		bus:        eventBus,
		retryCount: retryCount,
		pauseFlags: make(map[string]bool),
		stopCh:     make(chan struct{}),
	}, nil
}

// CreateJob expands tickers x dates into tasks, persists the job queued,
// and returns its id. The scheduler loop (Start) picks it up.
func (e *Engine) CreateJob(tickers []string, fromDate, untilDate string, delaySeconds float64, pageLimit, parallelWorkers int) (string, error) {
	job, err := newJob(tickers, fromDate, untilDate, delaySeconds, pageLimit, parallelWorkers)
	if err != nil {
		return "", err
	}
	if err := e.store.upsert(job); err != nil {
		return "", err
	}
	return job.JobID, nil
}

// GetJob returns a job snapshot by id.
func (e *Engine) GetJob(jobID string) (*models.Job, bool) {
	return e.store.get(jobID)
}

// ListJobs returns every job currently in the hot set, newest first.
func (e *Engine) ListJobs() []*models.Job {
	return e.store.list()
}

// ListOutputFiles returns the CSV paths a job writes to, for operators who
// want to locate output without guessing the naming convention.
func (e *Engine) ListOutputFiles(jobID string) ([]string, error) {
	job, ok := e.store.get(jobID)
	if !ok {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	return e.writer.outputFiles(job), nil
}

// PauseJob requests a cooperative pause; in-flight tasks finish, no new
// tasks for this job start after the next boundary.
func (e *Engine) PauseJob(jobID string) {
	e.mu.Lock()
	e.pauseFlags[jobID] = true
	e.mu.Unlock()
}

// CancelJob marks a job failed outright, matching the original's cancel
// semantics (no graceful drain). A job already in a terminal state never
// transitions again.
func (e *Engine) CancelJob(jobID string) error {
	job, ok := e.store.get(jobID)
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.Status.Terminal() {
		return stockerr.Wrap(stockerr.ErrConfigInvalid, "job %s is already %s, cannot cancel", jobID, job.Status)
	}
	e.mu.Lock()
	job.Status = models.JobFailed
	err := e.store.upsert(job)
	e.mu.Unlock()
	return err
}

// AutoResumePausedJobs requeues every paused job, typically called after a
// fresh bearer token is set. Returns the number resumed.
func (e *Engine) AutoResumePausedJobs() (int, error) {
	resumed := 0
	for _, job := range e.store.list() {
		if job.Status != models.JobPaused {
			continue
		}
		job.Status = models.JobQueued
		e.mu.Lock()
		delete(e.pauseFlags, job.JobID)
		e.mu.Unlock()
		if err := e.store.upsert(job); err != nil {
			return resumed, err
		}
		resumed++
	}
	return resumed, nil
}

// Start launches the scheduler loop that drains queued jobs one at a time.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.schedulerLoop(ctx)
}

// Stop signals the scheduler loop to exit and waits for it to return. The
// loop checks for Stop only between jobs: a job already being processed runs
// its remaining tasks to the end and is not paused.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Engine) schedulerLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			job := e.nextQueuedJob()
			if job != nil {
				e.processJob(ctx, job)
			}
		}
	}
}

func (e *Engine) nextQueuedJob() *models.Job {
	var oldest *models.Job
	for _, job := range e.store.list() {
		if job.Status != models.JobQueued {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	return oldest
}

func (e *Engine) processJob(ctx context.Context, job *models.Job) {
	job.Status = models.JobRunning
	now := time.Now()
	job.StartedAt = &now
	e.persistJob(job)
	e.publish("job_started", job, nil)

	limiter := rateLimiterFor(job.DelaySeconds)
	pending := pendingTaskIndices(job)

	var paused bool
	if job.ParallelWorkers <= 1 {
		paused = e.runSequential(ctx, job, pending, limiter)
	} else {
		paused = e.runPooled(ctx, job, pending, limiter)
	}

	if paused || job.Status == models.JobPaused || job.Status.Terminal() {
		return
	}

	progress := job.GetProgress()
	job.Status = models.JobCompleted
	doneAt := time.Now()
	job.CompletedAt = &doneAt
	e.persistJob(job)
	e.publish("job_completed", job, map[string]any{
		"total_records":   progress.TotalRecords,
		"completed_tasks": progress.CompletedTasks,
		"failed_tasks":    progress.FailedTasks,
	})
}

func (e *Engine) runSequential(ctx context.Context, job *models.Job, pending []int, limiter *rate.Limiter) bool {
	completed := 0
	for _, idx := range pending {
		if e.isPauseRequested(job.JobID) {
			e.transitionToPaused(job, &job.Tasks[idx], "paused by request")
			return true
		}

		task := &job.Tasks[idx]
		if e.processTask(ctx, job, task) == taskOutcomeAuthPaused {
			return true
		}

		completed++
		if completed%persistEvery == 0 {
			e.persistJob(job)
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return true
			}
		}
	}
	return false
}

func (e *Engine) runPooled(ctx context.Context, job *models.Job, pending []int, limiter *rate.Limiter) bool {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(job.ParallelWorkers)

	var mu sync.Mutex
	completed := 0
	var pausedByAuth bool

	for _, idx := range pending {
		idx := idx
		if e.isPauseRequested(job.JobID) {
			break
		}

		g.Go(func() error {
			task := &job.Tasks[idx]
			outcome := e.processTask(gctx, job, task)

			mu.Lock()
			if outcome == taskOutcomeAuthPaused {
				pausedByAuth = true
			}
			completed++
			if completed%persistEvery == 0 {
				e.persistJob(job)
			}
			mu.Unlock()

			// Spacer on the completion channel: paces how quickly the pool
			// drains into the next task rather than bounding concurrency.
			if limiter != nil {
				_ = limiter.Wait(gctx)
			}
			return nil
		})
	}
	g.Wait()

	if pausedByAuth {
		return true
	}
	if e.isPauseRequested(job.JobID) {
		e.transitionToPaused(job, nil, "paused by request")
		return true
	}
	return false
}

type taskOutcome int

const (
	taskOutcomeDone taskOutcome = iota
	taskOutcomeAuthPaused
)

// processTask runs the full pagination loop for one (ticker, date) task.
// Every mutation of shared job/task fields is made under e.mu, since in the
// pooled path multiple tasks belonging to the same job run concurrently
// while persistJob marshals the whole job -- without this, the marshal
// races with another goroutine's field writes.
func (e *Engine) processTask(ctx context.Context, job *models.Job, task *models.Task) taskOutcome {
	e.mu.Lock()
	task.Status = models.TaskRunning
	task.Attempts++
	task.CurrentPage = 0
	cursor := task.Cursor
	e.mu.Unlock()

	for {
		e.mu.Lock()
		task.CurrentPage++
		e.mu.Unlock()

		result := e.fetcher.FetchPage(ctx, task.Ticker, task.Date, job.PageLimit, cursor, e.retryCount)

		if !result.Success {
			if result.RequiresLogin {
				e.transitionToPaused(job, task, "token expired - job paused")
				return taskOutcomeAuthPaused
			}
			e.mu.Lock()
			task.Status = models.TaskFailed
			if result.Err != nil {
				task.Error = result.Err.Error()
			} else {
				task.Error = fmt.Sprintf("request failed (status %d)", result.StatusCode)
			}
			e.mu.Unlock()
			log.Printf("crawl: task %s %s failed: %s", task.Ticker, task.Date, task.Error)
			return taskOutcomeDone
		}

		if len(result.Trades) == 0 {
			e.mu.Lock()
			task.Status = models.TaskCompleted
			e.mu.Unlock()
			return taskOutcomeDone
		}

		if err := e.writer.append(job, task.Ticker, result.Trades); err != nil {
			e.mu.Lock()
			task.Status = models.TaskFailed
			task.Error = err.Error()
			e.mu.Unlock()
			return taskOutcomeDone
		}

		e.mu.Lock()
		task.RecordsFetched += len(result.Trades)
		task.PagesFetched++
		e.mu.Unlock()

		if len(result.Trades) < job.PageLimit {
			e.mu.Lock()
			task.Status = models.TaskCompleted
			e.mu.Unlock()
			return taskOutcomeDone
		}

		oldest := result.Trades[len(result.Trades)-1]
		if oldest.Time != "" && oldest.Time <= sessionStartBound {
			e.mu.Lock()
			task.Status = models.TaskCompleted
			e.mu.Unlock()
			return taskOutcomeDone
		}

		next := oldest.TradeNumber
		cursor = &next
		e.mu.Lock()
		task.Cursor = cursor
		e.mu.Unlock()

		if job.DelaySeconds > 0 {
			select {
			case <-time.After(time.Duration(job.DelaySeconds * float64(time.Second))):
			case <-ctx.Done():
				e.mu.Lock()
				task.Status = models.TaskFailed
				task.Error = ctx.Err().Error()
				e.mu.Unlock()
				return taskOutcomeDone
			}
		}
	}
}

func (e *Engine) transitionToPaused(job *models.Job, task *models.Task, reason string) {
	e.mu.Lock()
	job.Status = models.JobPaused
	if task != nil {
		task.Status = models.TaskPending
		task.Error = reason
		task.CurrentPage = 0
	}
	e.mu.Unlock()
	e.persistJob(job)
	e.publish("job_paused", job, map[string]any{"reason": reason})
}

func (e *Engine) isPauseRequested(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pauseFlags[jobID]
}

// persistJob serializes the whole job via the job store. Held under e.mu so
// the marshal never overlaps a concurrent task field write from another
// pooled worker on the same job.
func (e *Engine) persistJob(job *models.Job) {
	e.mu.Lock()
	err := e.store.upsert(job)
	e.mu.Unlock()
	if err != nil {
		log.Printf("crawl: failed to persist job %s: %v", job.JobID, err)
	}
}

func (e *Engine) publish(name string, job *models.Job, extra map[string]any) {
	if e.bus == nil {
		return
	}
	progress := job.GetProgress()
	payload := map[string]any{
		"job_id":     job.JobID,
		"tickers":    job.Tickers,
		"from_date":  job.FromDate,
		"until_date": job.UntilDate,
		"total_tasks": progress.TotalTasks,
	}
	for k, v := range extra {
		payload[k] = v
	}
	e.bus.Publish(bus.Event{Name: name, Payload: payload})
}

func pendingTaskIndices(job *models.Job) []int {
	var idx []int
	for i, t := range job.Tasks {
		if t.Status == models.TaskCompleted || t.Status == models.TaskSkipped {
			continue
		}
		idx = append(idx, i)
	}
	return idx
}

// rateLimiterFor builds a polite-pacing limiter from a per-job delay; a
// non-positive delay disables pacing entirely rather than dividing by zero.
func rateLimiterFor(delaySeconds float64) *rate.Limiter {
	if delaySeconds <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Duration(delaySeconds*float64(time.Second))), 1)
}
