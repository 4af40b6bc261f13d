package workspaces

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/psychon7/vibe-kanban/pkg/observability"
)

// Sweeper periodically moves pending invitations past their expiry to
// the expired state. Acceptance also expires lazily, so the sweep is
// about keeping listings and metrics honest, not correctness.
type Sweeper struct {
	store   Store
	logger  *observability.Logger
	metrics *observability.Metrics
	cron    *cron.Cron
	timeout time.Duration
}

// NewSweeper creates a sweeper. schedule is a cron expression; the
// default runs hourly.
func NewSweeper(store Store, logger *observability.Logger, metrics *observability.Metrics) *Sweeper {
	return &Sweeper{
		store:   store,
		logger:  logger,
		metrics: metrics,
		cron:    cron.New(),
		timeout: time.Minute,
	}
}

// Start registers the sweep and starts the scheduler.
func (s *Sweeper) Start(schedule string) error {
	if schedule == "" {
		schedule = "@hourly"
	}
	if _, err := s.cron.AddFunc(schedule, s.Sweep); err != nil {
		return fmt.Errorf("failed to schedule invitation sweep: %w", err)
	}
	s.cron.Start()
	s.logger.WithField("schedule", schedule).Info("invitation sweeper started")
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one expiry pass.
func (s *Sweeper) Sweep() {
	defer observability.RecoverPanic(s.logger, "invitation sweep")
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	expired, err := s.store.ExpireInvitations(ctx)
	if err != nil {
		s.logger.WithError(err).Error("invitation sweep failed")
		return
	}
	if s.metrics != nil {
		s.metrics.InvitationSweepsTotal.Inc()
		s.metrics.InvitationsExpiredTotal.Add(float64(expired))
	}
	if expired > 0 {
		s.logger.WithField("expired", expired).Info("expired stale invitations")
	}
}
