package domain

import "time"

// RunStatus is the outcome of one pipeline run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// RunResult captures statistics of a pipeline run.
type RunResult struct {
	RunID             string    `json:"run_id"`
	Status            RunStatus `json:"status"`
	Error             string    `json:"error,omitempty"`
	TotalFetched      int       `json:"total_fetched"`
	TotalSaved        int       `json:"total_saved"`
	DuplicatesSkipped int       `json:"duplicates_skipped"`
	OldPostsDeleted   int64     `json:"old_posts_deleted"`
	DroppedInvalid    int       `json:"dropped_invalid"`
	DroppedKeyword    int       `json:"dropped_keyword"`
	DroppedAdvert     int       `json:"dropped_advert"`
	DroppedEngagement int       `json:"dropped_engagement"`
	PersistErrors     int       `json:"persist_errors"`
	FailedCollections []string  `json:"failed_collections,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	CompletedAt       time.Time `json:"completed_at"`
	NextRunAt         time.Time `json:"next_run_at,omitempty"`
}

// Failed reports whether the run is marked as failed.
func (r RunResult) Failed() bool {
	return r.Status == RunFailed
}

// JobStatus is the scheduler's view of one periodic job.
type JobStatus struct {
	LastRun time.Time `json:"last_run,omitempty"`
	NextRun time.Time `json:"next_run,omitempty"`
	Running bool      `json:"running"`
}
