package call

import (
	"context"
	"time"

	"go.uber.org/zap"

	"voxlink-backend/internal/domain"
	"voxlink-backend/pkg/constants"
	"voxlink-backend/pkg/logger"
)

// Reaper expires calls that have been ringing past the ring timeout.
// It applies a missed event for every still-open invitation through the
// regular service path, so reaped calls produce exactly the notifications,
// archive rows and trail entries a client-reported timeout would.
type Reaper struct {
	service     *Service
	ringTimeout time.Duration
	interval    time.Duration
}

// NewReaper creates a reaper. Zero durations fall back to defaults.
func NewReaper(service *Service, ringTimeout, interval time.Duration) *Reaper {
	if ringTimeout <= 0 {
		ringTimeout = constants.DefaultRingTimeout
	}
	if interval <= 0 {
		interval = constants.DefaultReaperInterval
	}
	return &Reaper{
		service:     service,
		ringTimeout: ringTimeout,
		interval:    interval,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled
func (r *Reaper) Run(ctx context.Context) {
	logger.Info("call reaper started",
		zap.Duration("ring_timeout", r.ringTimeout),
		zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("call reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep expires every call whose ringing phase outlived the timeout.
// Returns the number of calls reaped. A failure on one call never stops
// the sweep; concurrent client answers simply win the per-call gate and
// the reaper's late events land as rejected or no-op transitions.
func (r *Reaper) Sweep(ctx context.Context) int {
	cutoff := r.service.now().Add(-r.ringTimeout)
	ids := r.service.sessions.RingingBefore(ctx, cutoff)

	reaped := 0
	for _, callID := range ids {
		c, err := r.service.sessions.Get(ctx, callID)
		if err != nil {
			continue // answered and archived between listing and now
		}

		expired := false
		for _, p := range c.Participants {
			if p.Status != domain.ParticipantInvited {
				continue
			}
			if _, err := r.service.Missed(ctx, callID, p.UserID); err != nil {
				logger.Warn("reaper failed to expire invitation",
					zap.String("call_id", callID.String()),
					zap.String("user_id", p.UserID.String()),
					zap.Error(err))
				continue
			}
			expired = true
		}
		if expired {
			reaped++
			logger.Info("reaped stale ringing call",
				zap.String("call_id", callID.String()))
		}
	}

	if r.service.metrics != nil {
		r.service.metrics.RecordReaperSweep(reaped)
	}
	return reaped
}
