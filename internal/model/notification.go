package model

import "time"

// Notification is the persisted reminder row. IsSent is flipped only by a
// reconciliation claim; IsChecked only by explicit user action. Both flags
// move false -> true and never back.
type Notification struct {
	ID         int64     `json:"notification_id"`
	UserID     string    `json:"user_id"`
	ScheduleID *int64    `json:"schedule_id"`
	Message    string    `json:"message"`
	NotifyAt   time.Time `json:"notify_at"`
	IsSent     bool      `json:"is_sent"`
	IsChecked  bool      `json:"is_checked"`
}
