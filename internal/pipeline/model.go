package pipeline

import (
	"time"

	"github.com/linnemanlabs/newsdesk/internal/news"
)

// Status tracks where a run is in its lifecycle and how it ended.
type Status string

const (
	// StatusRunning means submitted and not yet finished
	StatusRunning Status = "running"

	// StatusComplete means at least one item was processed
	StatusComplete Status = "complete"

	// StatusEmpty means every source answered but there was no news
	StatusEmpty Status = "empty"

	// StatusDegraded means fetching failed and the run is empty because of an outage
	StatusDegraded Status = "degraded"

	// StatusUnavailable means the engine was built without a required collaborator
	StatusUnavailable Status = "unavailable"

	// StatusCanceled means the run was abandoned between items
	StatusCanceled Status = "canceled"
)

// Finished reports whether the run has reached a terminal status.
func (s Status) Finished() bool {
	return s != StatusRunning && s != ""
}

// RunResult is the outcome of one pipeline run.
type RunResult struct {
	ID          string       `json:"id"`
	Status      Status       `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	Processed   []*news.Item `json:"processed_items"`
	Alerts      []news.Alert `json:"alerts"`
	TotalCount  int          `json:"total_count"`
	Clusters    [][]int      `json:"clusters,omitempty"`
	Degraded    int          `json:"degraded_stages,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at,omitempty"`
	Duration    float64      `json:"duration_seconds,omitempty"`
}

// Clone returns a deep copy so callers can hand results across goroutines.
func (r *RunResult) Clone() *RunResult {
	cp := *r
	if r.Processed != nil {
		cp.Processed = make([]*news.Item, len(r.Processed))
		for i, it := range r.Processed {
			cp.Processed[i] = it.Clone()
		}
	}
	if r.Alerts != nil {
		cp.Alerts = append([]news.Alert(nil), r.Alerts...)
	}
	if r.Clusters != nil {
		cp.Clusters = make([][]int, len(r.Clusters))
		for i, c := range r.Clusters {
			cp.Clusters[i] = append([]int(nil), c...)
		}
	}
	return &cp
}

func emptyResult(status Status, reason string) *RunResult {
	return &RunResult{
		Status:    status,
		Reason:    reason,
		Processed: []*news.Item{},
		Alerts:    []news.Alert{},
	}
}
