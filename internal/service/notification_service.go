package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"schednotify/internal/cache"
	"schednotify/internal/event"
	"schednotify/internal/model"
	"schednotify/pkg/metrics"
)

var (
	ErrScheduleNotFound     = errors.New("schedule not found")
	ErrNotificationNotFound = errors.New("notification not found")
)

// PendingTTL is how long a claimed pending batch is replayed from cache.
// A client polling faster than this sees the same already-claimed set again,
// which is the intended idempotent re-display, not staleness.
const PendingTTL = 30 * time.Second

// NotificationStore is the relational slice the reconciler needs.
type NotificationStore interface {
	ClaimDue(ctx context.Context, userID string, now time.Time) ([]model.Notification, error)
	ClaimAllDue(ctx context.Context, now time.Time) ([]model.Notification, error)
	Insert(ctx context.Context, n *model.Notification) error
	CheckMany(ctx context.Context, userID string, ids []int64) (int64, error)
	Delete(ctx context.Context, userID string, id int64) (bool, error)
}

type ScheduleStore interface {
	GetByID(ctx context.Context, userID string, id int64) (*model.Schedule, error)
	FindByTitle(ctx context.Context, userID, title string) (*model.Schedule, error)
}

// Cache is the best-effort snapshot store; absence is always a miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration) bool
	DeletePattern(ctx context.Context, pattern string) int
}

// Publisher is the fire-and-forget event side of the bus.
type Publisher interface {
	Publish(ctx context.Context, t event.Type, userID string, data map[string]any) bool
}

// NotificationService is the reconciler: it converts due persisted
// notifications into delivered events and owns the notification write paths.
// It stays correct with both the cache and the bus down, because the claim
// query alone enforces at-most-one delivery per reconciliation pass.
type NotificationService struct {
	store      NotificationStore
	schedules  ScheduleStore
	cache      Cache
	bus        Publisher
	logger     *zap.Logger
	pendingTTL time.Duration
}

func NewNotificationService(
	store NotificationStore,
	schedules ScheduleStore,
	cache Cache,
	bus Publisher,
	logger *zap.Logger,
) *NotificationService {
	return &NotificationService{
		store:      store,
		schedules:  schedules,
		cache:      cache,
		bus:        bus,
		logger:     logger,
		pendingTTL: PendingTTL,
	}
}

// WithPendingTTL overrides the replay window of pending snapshots.
func (s *NotificationService) WithPendingTTL(ttl time.Duration) *NotificationService {
	if ttl > 0 {
		s.pendingTTL = ttl
	}
	return s
}

// GetPending returns the user's due notifications, claiming them as sent.
// Inside the cache TTL the previously claimed batch is replayed verbatim;
// fresh claims additionally publish a notification.sent event per row so
// live SSE clients see them without polling.
func (s *NotificationService) GetPending(ctx context.Context, userID string, now time.Time) ([]model.Notification, error) {
	key := cache.PendingNotificationsKey(userID)

	if raw, ok := s.cache.Get(ctx, key); ok {
		var cached []model.Notification
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			metrics.PendingReads.WithLabelValues("hit").Inc()
			return cached, nil
		}
		s.logger.Warn("Discarding corrupt pending snapshot", zap.String("user_id", userID))
	}
	metrics.PendingReads.WithLabelValues("miss").Inc()

	claimed, err := s.store.ClaimDue(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	s.snapshot(ctx, key, claimed)
	s.publishSent(ctx, claimed)

	return claimed, nil
}

// SweepDue claims due notifications across all users and publishes their
// events. Invoked by the periodic sweeper and by reminder background jobs; it
// is safe to run concurrently with request-time polling because overlapping
// claims return disjoint sets.
func (s *NotificationService) SweepDue(ctx context.Context, now time.Time) ([]model.Notification, error) {
	claimed, err := s.store.ClaimAllDue(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return claimed, nil
	}

	// The sweep bypasses per-user snapshots; invalidate instead so the next
	// poll does not miss what the sweep already claimed.
	for _, n := range claimed {
		s.cache.DeletePattern(ctx, cache.NotificationsPattern(n.UserID))
	}
	s.publishSent(ctx, claimed)

	s.logger.Info("Reconciliation sweep claimed notifications", zap.Int("count", len(claimed)))
	return claimed, nil
}

// CreateInput identifies the reminder target either by schedule id or by a
// loose title match, and its delivery time either absolutely or as minutes
// before the schedule's start.
type CreateInput struct {
	ScheduleID    *int64     `json:"schedule_id"`
	ScheduleTitle string     `json:"schedule_title"`
	Message       string     `json:"message"`
	NotifyAt      *time.Time `json:"notify_at"`
	MinutesBefore *int       `json:"minutes_before"`
}

func (s *NotificationService) Create(ctx context.Context, userID string, in CreateInput) (*model.Notification, error) {
	var sched *model.Schedule
	var err error

	switch {
	case in.ScheduleID != nil:
		sched, err = s.schedules.GetByID(ctx, userID, *in.ScheduleID)
	case in.ScheduleTitle != "":
		sched, err = s.schedules.FindByTitle(ctx, userID, in.ScheduleTitle)
	}
	if err != nil {
		return nil, err
	}
	if sched == nil && (in.ScheduleID != nil || in.ScheduleTitle != "") {
		return nil, ErrScheduleNotFound
	}

	var notifyAt time.Time
	switch {
	case in.NotifyAt != nil:
		notifyAt = *in.NotifyAt
	case in.MinutesBefore != nil:
		if sched == nil {
			return nil, ErrScheduleNotFound
		}
		notifyAt = sched.StartAt.Add(-time.Duration(*in.MinutesBefore) * time.Minute)
	default:
		notifyAt = time.Now().UTC()
	}

	n := &model.Notification{
		UserID:   userID,
		Message:  in.Message,
		NotifyAt: notifyAt,
	}
	if sched != nil {
		id := sched.ID
		n.ScheduleID = &id
	}

	if err := s.store.Insert(ctx, n); err != nil {
		return nil, err
	}

	// The next poll must see the new row, not a snapshot that predates it.
	s.cache.DeletePattern(ctx, cache.NotificationsPattern(userID))

	s.bus.Publish(ctx, event.NotificationCreated, userID, map[string]any{
		"notification_id": n.ID,
		"message":         n.Message,
		"notify_at":       n.NotifyAt,
	})

	return n, nil
}

// Check bulk-marks the user's notifications checked and returns how many rows
// changed. Unknown or foreign ids are skipped, not errors.
func (s *NotificationService) Check(ctx context.Context, userID string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	updated, err := s.store.CheckMany(ctx, userID, ids)
	if err != nil {
		return 0, err
	}

	if updated > 0 {
		s.cache.DeletePattern(ctx, cache.NotificationsPattern(userID))
		s.bus.Publish(ctx, event.NotificationChecked, userID, map[string]any{
			"notification_ids": ids,
			"updated":          updated,
		})
	}

	return updated, nil
}

func (s *NotificationService) Delete(ctx context.Context, userID string, id int64) error {
	deleted, err := s.store.Delete(ctx, userID, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotificationNotFound
	}

	s.cache.DeletePattern(ctx, cache.NotificationsPattern(userID))
	return nil
}

func (s *NotificationService) snapshot(ctx context.Context, key string, batch []model.Notification) {
	body, err := json.Marshal(batch)
	if err != nil {
		s.logger.Error("Failed to marshal pending snapshot", zap.Error(err))
		return
	}
	// Empty batches are cached too: an empty list is a valid answer.
	s.cache.Set(ctx, key, string(body), s.pendingTTL)
}

func (s *NotificationService) publishSent(ctx context.Context, batch []model.Notification) {
	for _, n := range batch {
		metrics.NotificationsClaimed.Inc()
		s.bus.Publish(ctx, event.NotificationSent, n.UserID, map[string]any{
			"notification_id": n.ID,
			"schedule_id":     n.ScheduleID,
			"message":         n.Message,
			"notify_at":       n.NotifyAt,
		})
	}
}
