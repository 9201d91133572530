package bancho

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shirokane/gobancho/internal/kv"
	"github.com/shirokane/gobancho/internal/serverpackets"
	"github.com/shirokane/gobancho/internal/session"
	"github.com/shirokane/gobancho/internal/stream"
)

// logout acquires the session's processing lock and tears the session
// down. Calling it on an already-deleted session is a no-op, so the
// connection teardown and an explicit logout packet can both run it.
func (s *Server) logout(ctx context.Context, tokenID string) error {
	lease, err := s.svc.Store.AcquireLease(ctx, session.ProcessingLock(tokenID), kv.DefaultLeaseTTL)
	if err != nil {
		return fmt.Errorf("locking session for logout: %w", err)
	}
	defer lease.Release(context.Background())

	t, err := s.svc.Sessions.Get(ctx, tokenID)
	if errors.Is(err, session.ErrTokenNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.logoutLocked(ctx, t)
}

// logoutLocked is the teardown body. The caller holds the session's
// processing lock; the reaper and the pub/sub bridge call it directly
// from under their own leases.
func (s *Server) logoutLocked(ctx context.Context, t *session.Token) error {
	// Stop watching anyone, then detach everyone watching us.
	if err := s.svc.Spectators.Stop(ctx, t.ID); err != nil {
		slog.Warn("stopping spectating on logout failed", "user_id", t.UserID, "error", err)
	}
	followers, err := s.svc.Sessions.Spectators(ctx, t.ID)
	if err != nil {
		slog.Warn("listing spectators on logout failed", "user_id", t.UserID, "error", err)
	}
	for _, follower := range followers {
		if err := s.svc.Spectators.Stop(ctx, follower); err != nil {
			slog.Warn("detaching spectator failed", "token_id", follower, "error", err)
		}
	}

	if err := s.svc.Matches.Leave(ctx, t.ID); err != nil {
		slog.Warn("leaving match on logout failed", "user_id", t.UserID, "error", err)
	}

	channels, err := s.svc.Sessions.Channels(ctx, t.ID)
	if err != nil {
		slog.Warn("listing channels on logout failed", "user_id", t.UserID, "error", err)
	}
	for _, name := range channels {
		if _, err := s.svc.Chat.Part(ctx, t.ID, name, false); err != nil {
			slog.Warn("parting channel on logout failed", "channel", name, "error", err)
		}
	}

	if err := s.svc.Streams.LeaveAll(ctx, t.ID); err != nil {
		slog.Warn("leaving streams on logout failed", "user_id", t.UserID, "error", err)
	}

	if err := s.svc.Sessions.Delete(ctx, t.ID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	// Only the user's last session marks them offline; a tournament
	// side-session going away must not.
	remaining, err := s.svc.Sessions.AllByUserID(ctx, t.UserID)
	if err != nil {
		slog.Warn("counting remaining sessions failed", "user_id", t.UserID, "error", err)
	}
	if len(remaining) == 0 && !t.Restricted() {
		if err := s.svc.Streams.Broadcast(ctx, stream.Main, serverpackets.UserLogout(t.UserID)); err != nil {
			slog.Warn("broadcasting logout failed", "user_id", t.UserID, "error", err)
		}
	}

	if err := s.svc.Users.UpdateLatestActivity(ctx, t.UserID); err != nil {
		slog.Warn("recording logout activity failed", "user_id", t.UserID, "error", err)
	}

	slog.Info("user logged out", "username", t.Username, "user_id", t.UserID)
	return nil
}
