package event

import (
	"encoding/json"
	"time"
)

// Type classifies the closed set of topics the bus routes.
type Type string

const (
	NotificationCreated Type = "notification.created"
	NotificationSent    Type = "notification.sent"
	NotificationChecked Type = "notification.checked"
	ScheduleCreated     Type = "schedule.created"
	ScheduleUpdated     Type = "schedule.updated"
	ScheduleDeleted     Type = "schedule.deleted"
	ScheduleReminder    Type = "schedule.reminder"
	LectureCreated      Type = "lecture.created"
	LectureUpdated      Type = "lecture.updated"
	LectureDeleted      Type = "lecture.deleted"
	UserLogin           Type = "user.login"
	UserLogout          Type = "user.logout"
	DailySummary        Type = "summary.daily"
	DeadlineAlert       Type = "deadline.alert"
)

var allTypes = []Type{
	NotificationCreated,
	NotificationSent,
	NotificationChecked,
	ScheduleCreated,
	ScheduleUpdated,
	ScheduleDeleted,
	ScheduleReminder,
	LectureCreated,
	LectureUpdated,
	LectureDeleted,
	UserLogin,
	UserLogout,
	DailySummary,
	DeadlineAlert,
}

// AllTypes returns the full topic set the listener subscribes to.
func AllTypes() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

// Payload is the transient message carried over the pub/sub transport.
// Constructed at publish time and immutable afterwards; it has no persisted
// identity.
type Payload struct {
	Type      Type           `json:"event_type"`
	UserID    string         `json:"user_id"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

func NewPayload(t Type, userID string, data map[string]any) Payload {
	return Payload{
		Type:      t,
		UserID:    userID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func UnmarshalPayload(raw []byte) (Payload, error) {
	var p Payload
	err := json.Unmarshal(raw, &p)
	return p, err
}

// GlobalChannel is the transport channel shared by all users for one topic.
func GlobalChannel(t Type) string {
	return "events:global:" + string(t)
}

// UserChannel is the per-user transport channel. The in-process listener does
// not subscribe to it (that would double-deliver); it exists for external
// consumers that follow a single user.
func UserChannel(userID string) string {
	return "events:user:" + userID
}
