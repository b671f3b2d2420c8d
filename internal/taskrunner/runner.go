package taskrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"schednotify/internal/cache"
	"schednotify/internal/event"
	"schednotify/internal/model"
	"schednotify/pkg/metrics"
)

const (
	statusTTL            = 24 * time.Hour
	defaultWindowMinutes = 60
)

// Reconciler is the slice of the notification service a sweep job needs.
type Reconciler interface {
	SweepDue(ctx context.Context, now time.Time) ([]model.Notification, error)
}

// ScheduleSource feeds summary and deadline jobs.
type ScheduleSource interface {
	DueBetween(ctx context.Context, from, until time.Time) ([]model.Schedule, error)
	UsersWithSchedulesOn(ctx context.Context, day time.Time) ([]string, error)
}

// StatusStore records job execution state; best-effort, a failed write is
// only logged.
type StatusStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) bool
}

// Publisher is the fire-and-forget event side of the bus.
type Publisher interface {
	Publish(ctx context.Context, t event.Type, userID string, data map[string]any) bool
}

// Runner executes notification jobs delivered from the durable queue. A
// returned error means "retry me"; permanent failure is recorded through
// Discard once the consumer exhausts its retry budget.
type Runner struct {
	reconciler Reconciler
	schedules  ScheduleSource
	status     StatusStore
	bus        Publisher
	logger     *zap.Logger
}

func NewRunner(
	reconciler Reconciler,
	schedules ScheduleSource,
	status StatusStore,
	bus Publisher,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		reconciler: reconciler,
		schedules:  schedules,
		status:     status,
		bus:        bus,
		logger:     logger,
	}
}

// Handle is the queue consumer entry point.
func (r *Runner) Handle(ctx context.Context, data json.RawMessage) error {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		// Malformed jobs are not retryable; log and drop.
		r.logger.Error("Dropping malformed job", zap.Error(err))
		return nil
	}

	r.writeStatus(ctx, job, "running", nil)

	var err error
	switch job.Kind {
	case KindReminderSweep:
		err = r.runReminderSweep(ctx)
	case KindDailySummary:
		err = r.runDailySummary(ctx, job)
	case KindDeadlineAlert:
		err = r.runDeadlineAlert(ctx, job)
	default:
		r.logger.Error("Dropping job of unknown kind",
			zap.String("job_id", job.ID),
			zap.String("kind", job.Kind),
		)
		return nil
	}

	if err != nil {
		metrics.JobRetries.WithLabelValues(job.Kind).Inc()
		return fmt.Errorf("job %s (%s): %w", job.ID, job.Kind, err)
	}

	r.writeStatus(ctx, job, "done", nil)
	metrics.JobsProcessed.WithLabelValues(job.Kind, "done").Inc()
	return nil
}

// Discard records a permanently failed job in the status store. Wired as the
// consumer's discard handler; it must never raise.
func (r *Runner) Discard(ctx context.Context, data json.RawMessage, cause error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return
	}

	r.writeStatus(ctx, job, "failed", cause)
	metrics.JobsProcessed.WithLabelValues(job.Kind, "failed").Inc()
	r.logger.Error("Job permanently failed",
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Error(cause),
	)
}

func (r *Runner) runReminderSweep(ctx context.Context) error {
	claimed, err := r.reconciler.SweepDue(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	r.logger.Info("Reminder sweep completed", zap.Int("claimed", len(claimed)))
	return nil
}

func (r *Runner) runDailySummary(ctx context.Context, job Job) error {
	now := time.Now().UTC()

	users := []string{job.UserID}
	if job.UserID == "" {
		var err error
		users, err = r.schedules.UsersWithSchedulesOn(ctx, now)
		if err != nil {
			return err
		}
	}

	for _, uid := range users {
		r.bus.Publish(ctx, event.DailySummary, uid, map[string]any{
			"date": now.Format("2006-01-02"),
		})
	}

	r.logger.Info("Daily summary published", zap.Int("users", len(users)))
	return nil
}

func (r *Runner) runDeadlineAlert(ctx context.Context, job Job) error {
	window := job.WindowMinutes
	if window <= 0 {
		window = defaultWindowMinutes
	}

	now := time.Now().UTC()
	due, err := r.schedules.DueBetween(ctx, now, now.Add(time.Duration(window)*time.Minute))
	if err != nil {
		return err
	}

	for _, s := range due {
		r.bus.Publish(ctx, event.DeadlineAlert, s.UserID, map[string]any{
			"schedule_id": s.ID,
			"title":       s.Title,
			"start_at":    s.StartAt,
		})
	}

	r.logger.Info("Deadline alerts published", zap.Int("schedules", len(due)))
	return nil
}

func (r *Runner) writeStatus(ctx context.Context, job Job, state string, cause error) {
	st := Status{
		JobID:     job.ID,
		Kind:      job.Kind,
		State:     state,
		UpdatedAt: time.Now().UTC(),
	}
	if cause != nil {
		st.Error = cause.Error()
	}

	body, err := json.Marshal(st)
	if err != nil {
		return
	}
	if !r.status.Set(ctx, cache.TaskStatusKey(job.ID), string(body), statusTTL) {
		r.logger.Warn("Failed to record job status",
			zap.String("job_id", job.ID),
			zap.String("state", state),
		)
	}
}
