package models

import "time"

// JobStatus is the lifecycle state of a Historical Crawl Engine job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether status can never transition again.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// TaskStatus is the lifecycle state of one (ticker, date) unit of work.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// Task is one ticker-day unit of backfill work within a Job.
type Task struct {
	Ticker         string     `json:"ticker"`
	Date           string     `json:"date"`
	Status         TaskStatus `json:"status"`
	Error          string     `json:"error,omitempty"`
	Attempts       int        `json:"attempts"`
	RecordsFetched int        `json:"records_fetched"`
	PagesFetched   int        `json:"pages_fetched"`
	CurrentPage    int        `json:"current_page"`
	// Cursor is the last trade_number seen before a pause interrupted
	// pagination, so a resume continues instead of refetching pages
	// already appended to the job's CSV.
	Cursor *int64 `json:"cursor,omitempty"`
}

// Job describes one historical backfill request and its tasks.
type Job struct {
	JobID           string     `json:"job_id"`
	Tickers         []string   `json:"tickers"`
	FromDate        string     `json:"from_date"`
	UntilDate       string     `json:"until_date"`
	DelaySeconds    float64    `json:"delay_seconds"`
	PageLimit       int        `json:"page_limit"`
	ParallelWorkers int        `json:"parallel_workers"`
	Status          JobStatus  `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Tasks           []Task     `json:"tasks"`
}

// Progress summarizes task completion counts for status reporting.
type Progress struct {
	TotalTasks     int `json:"total_tasks"`
	CompletedTasks int `json:"completed_tasks"`
	FailedTasks    int `json:"failed_tasks"`
	TotalRecords   int `json:"total_records"`
}

// GetProgress aggregates the Job's task states.
func (j *Job) GetProgress() Progress {
	p := Progress{TotalTasks: len(j.Tasks)}
	for _, t := range j.Tasks {
		switch t.Status {
		case TaskCompleted:
			p.CompletedTasks++
		case TaskFailed:
			p.FailedTasks++
		}
		p.TotalRecords += t.RecordsFetched
	}
	return p
}
