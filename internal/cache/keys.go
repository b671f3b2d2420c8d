package cache

import "fmt"

// Key namespaces. Every mutation path that can stale a cached read must
// invalidate the matching per-user pattern.

func PendingNotificationsKey(userID string) string {
	return "notifications:pending:" + userID
}

func NotificationsPattern(userID string) string {
	return "notifications:*:" + userID
}

func SchedulesPattern(userID string) string {
	return "schedules:*:" + userID
}

func LecturesKey(userID string) string {
	return "lectures:" + userID
}

func TaskStatusKey(jobID string) string {
	return fmt.Sprintf("task:status:%s", jobID)
}
