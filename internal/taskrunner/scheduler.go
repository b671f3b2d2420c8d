package taskrunner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"schednotify/pkg/mq"
)

// Scheduler enqueues recurring reminder-sweep jobs onto the durable queue.
// Sweeps also run inside the API process; overlapping passes are harmless
// because the claim query hands concurrent runners disjoint rows.
type Scheduler struct {
	publisher *mq.Publisher
	interval  time.Duration
	logger    *zap.Logger
}

func NewScheduler(publisher *mq.Publisher, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		publisher: publisher,
		interval:  interval,
		logger:    logger,
	}
}

// Start runs until the context is cancelled; call it in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting job scheduler", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Job scheduler stopped")
			return
		case <-ticker.C:
			job := Job{
				ID:   uuid.New().String(),
				Kind: KindReminderSweep,
			}
			if err := s.publisher.Publish(RoutingKey, job); err != nil {
				s.logger.Error("Failed to enqueue reminder sweep", zap.Error(err))
			}
		}
	}
}
