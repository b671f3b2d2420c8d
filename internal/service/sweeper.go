package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically runs a cross-user reconciliation pass so due
// notifications reach connected clients even when nobody is polling.
type Sweeper struct {
	svc      *NotificationService
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(svc *NotificationService, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		svc:      svc,
		interval: interval,
		logger:   logger,
	}
}

// Start runs until the context is cancelled; call it in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Starting notification sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Notification sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.svc.SweepDue(ctx, time.Now().UTC()); err != nil {
				s.logger.Error("Reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}
