// Package scheduler runs the membership housekeeping sweep: flipping
// CANCELLED rows past their paid-through date and abandoned PENDING rows to
// EXPIRED. Access checks never depend on the sweep; it only keeps stored
// state close to effective state.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/homecare/internal/clock"
	"github.com/smallbiznis/homecare/internal/config"
	membershipdomain "github.com/smallbiznis/homecare/internal/membership/domain"
	obsmetrics "github.com/smallbiznis/homecare/internal/observability/metrics"
	"github.com/smallbiznis/homecare/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	jobExpireDue    = "expire_due"
	jobExpireStale  = "expire_stale_pending"
	sweepJobTimeout = 30 * time.Second
)

var ErrInvalidConfig = errors.New("invalid scheduler config")

type Params struct {
	fx.In

	Log           *zap.Logger
	Clock         clock.Clock
	Cfg           config.Config
	Holder        *config.MembershipConfigHolder
	MembershipSvc membershipdomain.Service
	Limiter       *ratelimit.PaymentLimiter `optional:"true"`
	Metrics       *obsmetrics.Metrics       `optional:"true"`
}

type Scheduler struct {
	log           *zap.Logger
	clock         clock.Clock
	cfg           config.Config
	holder        *config.MembershipConfigHolder
	membershipSvc membershipdomain.Service
	limiter       *ratelimit.PaymentLimiter
	metrics       *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Holder == nil || p.MembershipSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:           p.Log.Named("scheduler"),
		clock:         p.Clock,
		cfg:           p.Cfg,
		holder:        p.Holder,
		membershipSvc: p.MembershipSvc,
		limiter:       p.Limiter,
		metrics:       p.Metrics,
	}, nil
}

// RunOnce executes one sweep pass. The redis lock keeps multiple replicas
// from sweeping at once; the status-guarded updates make a lost race
// harmless anyway.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	token, ok, err := s.limiter.TryLockSweep(ctx)
	if err != nil {
		s.log.Warn("sweep lock unavailable", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	defer func() {
		if err := s.limiter.ReleaseSweep(ctx, token); err != nil {
			s.log.Warn("sweep lock release failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, sweepJobTimeout)
	defer cancel()

	now := s.clock.Now()

	var sweepErr error
	sweepErr = errors.Join(sweepErr, s.runJob(ctx, jobExpireDue, func(ctx context.Context) (int64, error) {
		return s.membershipSvc.ExpireDue(ctx, now)
	}))

	cutoff := now.Add(-s.holder.Get().PendingMaxAge())
	sweepErr = errors.Join(sweepErr, s.runJob(ctx, jobExpireStale, func(ctx context.Context) (int64, error) {
		return s.membershipSvc.ExpireStalePending(ctx, cutoff)
	}))

	return sweepErr
}

func (s *Scheduler) runJob(ctx context.Context, name string, fn func(ctx context.Context) (int64, error)) error {
	start := s.clock.Now()
	expired, err := fn(ctx)
	s.metrics.RecordSweep(name, expired, s.clock.Now().Sub(start))

	if err != nil {
		s.log.Warn("sweep job failed", zap.String("job", name), zap.Error(err))
		return err
	}
	if expired > 0 {
		s.log.Info("sweep expired memberships",
			zap.String("job", name),
			zap.Int64("count", expired),
		)
	}
	return nil
}

// RunForever sweeps on the configured interval until ctx is cancelled. The
// interval is re-read every pass so config reloads apply without restart.
func (s *Scheduler) RunForever(ctx context.Context) {
	timer := time.NewTimer(s.holder.Get().SweepInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweep run failed", zap.Error(err))
		}

		timer.Reset(s.holder.Get().SweepInterval())
	}
}
