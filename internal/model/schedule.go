package model

import "time"

// Schedule is the slice of the external schedules table the notification core
// reads: enough to resolve a reminder target and compute relative notify times.
type Schedule struct {
	ID      int64     `json:"schedule_id"`
	UserID  string    `json:"user_id"`
	Title   string    `json:"title"`
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}
