package sse

import (
	"context"

	"schednotify/internal/event"
)

// forwardedTypes are the bus topics bridged into live SSE queues. Session
// events (user.login/logout) stay off the stream; they carry nothing a
// connected client of that same user needs.
var forwardedTypes = []event.Type{
	event.NotificationCreated,
	event.NotificationSent,
	event.NotificationChecked,
	event.ScheduleCreated,
	event.ScheduleUpdated,
	event.ScheduleDeleted,
	event.ScheduleReminder,
	event.LectureCreated,
	event.LectureUpdated,
	event.LectureDeleted,
	event.DailySummary,
	event.DeadlineAlert,
}

// Bind registers the fan-out bridge on the bus: every forwarded event type
// gets a named binding that enqueues the payload onto the publishing user's
// live connections.
func Bind(bus *event.Bus, m *Manager) {
	for _, t := range forwardedTypes {
		bus.Subscribe(t, "sse-fanout", func(_ context.Context, p event.Payload) {
			m.Send(p.UserID, string(p.Type), p.Data)
		})
	}
}
