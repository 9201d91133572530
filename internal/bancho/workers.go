package bancho

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/kv"
	"github.com/shirokane/gobancho/internal/session"
)

// Cluster-wide sweep leases. One replica wins each tick; the rest skip.
const (
	spamResetLease = "bancho:sweeps:spam_reset"
	reaperLease    = "bancho:sweeps:reaper"
)

// RunWorkers runs the periodic sweeps until the context ends. Every
// replica starts them; the per-sweep lease keeps each tick's work on a
// single replica.
func (s *Server) RunWorkers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.runSweep(ctx, spamResetLease, s.cfg.Workers.SpamResetInterval, s.sweepSpamRates)
	})
	g.Go(func() error {
		return s.runSweep(ctx, reaperLease, s.cfg.Workers.ReaperInterval, s.sweepStaleSessions)
	})
	return g.Wait()
}

func (s *Server) runSweep(ctx context.Context, leaseName string, intervalSecs int, fn func(context.Context) error) error {
	interval := time.Duration(intervalSecs) * time.Second
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		if err := s.svc.Clock.Sleep(ctx, interval); err != nil {
			return err
		}
		lease, err := s.svc.Store.AcquireLease(ctx, leaseName, kv.DefaultLeaseTTL)
		if errors.Is(err, kv.ErrLockTimeout) {
			// Another replica took this tick.
			continue
		}
		if err != nil {
			slog.Warn("acquiring sweep lease", "lease", leaseName, "error", err)
			continue
		}
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("sweep failed", "lease", leaseName, "error", err)
		}
		if err := lease.Release(context.Background()); err != nil {
			slog.Warn("releasing sweep lease", "lease", leaseName, "error", err)
		}
	}
}

// sweepSpamRates zeroes every session's spam counter so the rate limit
// measures messages per interval rather than per lifetime.
func (s *Server) sweepSpamRates(ctx context.Context) error {
	if err := s.svc.Sessions.ResetSpamRates(ctx); err != nil {
		return fmt.Errorf("resetting spam rates: %w", err)
	}
	return nil
}

// sweepStaleSessions destroys sessions whose ping stamp went stale.
// The bot, IRC bridges and tournament clients never time out. Each
// candidate is re-read under its processing lock before teardown, so a
// packet arriving mid-sweep keeps its session alive.
func (s *Server) sweepStaleSessions(ctx context.Context) error {
	tokens, err := s.svc.Sessions.All(ctx)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	timeout := int64(s.cfg.Workers.SessionTimeout)
	now := s.svc.Clock.Now().Unix()
	for _, t := range tokens {
		if t.UserID < constants.MinHumanUserID || t.IRC || t.Tournament {
			continue
		}
		if now-t.PingTime <= timeout {
			continue
		}
		if err := s.reapSession(ctx, t.ID); err != nil {
			slog.Warn("reaping stale session", "token_id", t.ID, "user_id", t.UserID, "error", err)
		}
	}
	return nil
}

func (s *Server) reapSession(ctx context.Context, tokenID string) error {
	lease, err := s.svc.Store.AcquireLease(ctx, session.ProcessingLock(tokenID), kv.DefaultLeaseTTL)
	if errors.Is(err, kv.ErrLockTimeout) {
		// Busy session; it is alive enough to skip this round.
		return nil
	}
	if err != nil {
		return fmt.Errorf("locking session: %w", err)
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			slog.Warn("releasing session lock", "token_id", tokenID, "error", err)
		}
	}()

	t, err := s.svc.Sessions.Get(ctx, tokenID)
	if errors.Is(err, session.ErrTokenNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reloading session: %w", err)
	}
	if s.svc.Clock.Now().Unix()-t.PingTime <= int64(s.cfg.Workers.SessionTimeout) {
		return nil
	}

	slog.Info("reaping timed out session", "token_id", t.ID, "user_id", t.UserID, "username", t.Username)
	return s.logoutLocked(ctx, t)
}
