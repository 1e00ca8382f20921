package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// RetentionPolicy sets the sweep schedule and age limits. A zero max age
// disables that part of the sweep.
type RetentionPolicy struct {
	Cron          string // cron expression, e.g. "0 * * * *"
	PairingMaxAge time.Duration
	SessionMaxAge time.Duration
}

// RetentionSweeper periodically deletes expired pairing requests and
// idle sessions.
type RetentionSweeper struct {
	stores *Stores
	policy RetentionPolicy
}

func NewRetentionSweeper(stores *Stores, policy RetentionPolicy) (*RetentionSweeper, error) {
	if policy.Cron == "" {
		policy.Cron = "0 * * * *"
	}
	if !gronx.New().IsValid(policy.Cron) {
		return nil, fmt.Errorf("invalid retention cron %q", policy.Cron)
	}
	return &RetentionSweeper{stores: stores, policy: policy}, nil
}

// Run blocks until ctx is done, sweeping at each cron tick.
func (s *RetentionSweeper) Run(ctx context.Context) error {
	for {
		next, err := gronx.NextTick(s.policy.Cron, false)
		if err != nil {
			return fmt.Errorf("compute next retention tick: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
		}

		pairings, sweptSessions, err := s.SweepOnce(ctx)
		if err != nil {
			slog.Warn("retention sweep failed", "error", err)
			continue
		}
		if pairings > 0 || sweptSessions > 0 {
			slog.Info("retention sweep", "expired_pairings", pairings, "idle_sessions", sweptSessions)
		}
	}
}

// SweepOnce deletes expired pairing requests and idle sessions once and
// returns how many of each were removed.
func (s *RetentionSweeper) SweepOnce(ctx context.Context) (pairings, sweptSessions int, err error) {
	now := time.Now()
	if s.policy.PairingMaxAge > 0 && s.stores.Pairing != nil {
		n, perr := s.stores.Pairing.DeleteExpired(ctx, now.Add(-s.policy.PairingMaxAge))
		if perr != nil {
			return 0, 0, fmt.Errorf("sweep pairing requests: %w", perr)
		}
		pairings = n
	}
	if s.policy.SessionMaxAge > 0 && s.stores.Sessions != nil {
		n, serr := s.stores.Sessions.DeleteIdleBefore(ctx, now.Add(-s.policy.SessionMaxAge))
		if serr != nil {
			return pairings, 0, fmt.Errorf("sweep idle sessions: %w", serr)
		}
		sweptSessions = n
	}
	return pairings, sweptSessions, nil
}
