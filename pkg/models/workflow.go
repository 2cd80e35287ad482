package models

import (
	"time"
)

// Task is one planned unit of work: a role and what it should do.
type Task struct {
	Role        string `json:"role"`
	Description string `json:"task"`
}

// AgentResult is the output of a single task. Failed tasks keep their slot in
// the result sequence with Status set to AgentStatusFailed and a zero duration.
type AgentResult struct {
	Role     string      `json:"agent_name"`
	Task     string      `json:"task"`
	Status   AgentStatus `json:"status"`
	Content  string      `json:"content"`
	Duration float64     `json:"duration"` // seconds
	Error    string      `json:"error,omitempty"`
}

// Failed reports whether the result carries the error marker.
func (r AgentResult) Failed() bool {
	return r.Status == AgentStatusFailed
}

// WorkflowRecord is one persisted, owner-tagged outcome of an orchestration run.
type WorkflowRecord struct {
	ID        string        `json:"workflow_id"`
	Owner     Identity      `json:"user_id"`
	Topic     string        `json:"topic"`
	Results   []AgentResult `json:"results"`
	TotalTime float64       `json:"total_time"` // wall-clock seconds across the fan-out
	Deleted   bool          `json:"is_deleted"`
	DeletedAt *time.Time    `json:"deleted_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// FailedCount returns how many results carry the error marker.
func (w *WorkflowRecord) FailedCount() int {
	n := 0
	for _, r := range w.Results {
		if r.Failed() {
			n++
		}
	}
	return n
}
