package taskrunner

import (
	"encoding/json"
	"time"
)

// Job kinds executed off the notify.jobs queue.
const (
	KindReminderSweep = "reminder.sweep"
	KindDailySummary  = "summary.daily"
	KindDeadlineAlert = "deadline.alert"
)

// QueueName and RoutingKey identify the durable notification job queue.
const (
	QueueName  = "notify.jobs"
	RoutingKey = "notify.job"
)

// Job is the wire contract for one unit of background notification work.
type Job struct {
	ID     string `json:"job_id"`
	Kind   string `json:"kind"`
	UserID string `json:"user_id,omitempty"`

	// WindowMinutes bounds the lookahead of a deadline.alert job.
	WindowMinutes int `json:"window_minutes,omitempty"`
}

// JobID extracts the job id from a raw message for retry accounting.
func JobID(data json.RawMessage) string {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return ""
	}
	return j.ID
}

// Status is the cache-backed execution record of a job. It is how a job
// reports permanent failure without raising into any caller.
type Status struct {
	JobID     string    `json:"job_id"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"` // running, done, failed
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
