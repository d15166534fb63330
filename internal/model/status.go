package model

import "time"

// CrawlState is the coarse state of a crawl run.
type CrawlState string

const (
	// StateIdle means no run has been started.
	StateIdle CrawlState = "idle"

	// StateRunning means a run is in progress.
	StateRunning CrawlState = "running"

	// StateStopped means the run ended because a stop was requested.
	StateStopped CrawlState = "stopped"

	// StateCompleted means the frontier was exhausted.
	StateCompleted CrawlState = "completed"

	// StateErrored means the run failed during setup or panicked.
	StateErrored CrawlState = "errored"
)

// Finished reports whether the state is final.
func (s CrawlState) Finished() bool {
	return s == StateStopped || s == StateCompleted || s == StateErrored
}

// CrawlStatus is a point-in-time snapshot of a crawl run.
type CrawlStatus struct {
	// RunID identifies the run the snapshot belongs to.
	RunID string `json:"run_id,omitempty"`

	// SeedURL is the normalized seed of the run.
	SeedURL string `json:"seed_url,omitempty"`

	// State is the coarse run state.
	State CrawlState `json:"state"`

	// IsRunning is true while the run is in progress.
	IsRunning bool `json:"is_running"`

	// MaxDepth is the depth bound the run was started with.
	MaxDepth int `json:"max_depth"`

	// CurrentDepth is the maximum depth processed so far.
	CurrentDepth int `json:"current_depth"`

	// URLsProcessed is the number of pages dispatched for processing.
	URLsProcessed int `json:"urls_processed"`

	// PDFsFound is the number of PDF records created.
	PDFsFound int `json:"pdfs_found"`

	// Error is the fatal error message, if any.
	Error string `json:"error,omitempty"`

	// StartedAt and FinishedAt bound the run. FinishedAt is zero while running.
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Duration returns how long the run took, or has taken so far.
func (s CrawlStatus) Duration() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := s.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartedAt)
}
