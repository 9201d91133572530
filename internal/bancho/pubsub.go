package bancho

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shirokane/gobancho/internal/kv"
	"github.com/shirokane/gobancho/internal/serverpackets"
	"github.com/shirokane/gobancho/internal/session"
)

// Control channels published by the website and admin tools. Numeric
// channels carry a bare user id; the rest carry small JSON objects.
const (
	chanBan            = "peppy:ban"
	chanUnban          = "peppy:unban"
	chanSilence        = "peppy:silence"
	chanDisconnect     = "peppy:disconnect"
	chanNotification   = "peppy:notification"
	chanChangeUsername = "peppy:change_username"
	chanUpdateStats    = "peppy:update_cached_stats"
	chanWipe           = "peppy:wipe"
)

var pubSubChannels = []string{
	chanBan, chanUnban, chanSilence, chanDisconnect,
	chanNotification, chanChangeUsername, chanUpdateStats, chanWipe,
}

// RunPubSub consumes the external control channels until the context
// ends. Messages for users with no live session are dropped.
func (s *Server) RunPubSub(ctx context.Context) error {
	sub := s.svc.Store.Subscribe(ctx, pubSubChannels...)
	defer sub.Close()

	slog.Info("pub/sub bridge listening", "channels", len(pubSubChannels))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Messages():
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("pub/sub subscription closed")
			}
			if err := s.handleControlMessage(ctx, msg); err != nil {
				slog.Warn("pub/sub handler failed",
					"channel", msg.Channel, "payload", string(msg.Payload), "error", err)
			}
		}
	}
}

func (s *Server) handleControlMessage(ctx context.Context, msg kv.Message) error {
	switch msg.Channel {
	case chanBan:
		return s.forEachUserSession(ctx, msg.Payload, s.applyBan)
	case chanUnban:
		return s.forEachUserSession(ctx, msg.Payload, s.applyUnban)
	case chanSilence:
		return s.forEachUserSession(ctx, msg.Payload, s.applySilenceRefresh)
	case chanUpdateStats, chanWipe:
		// A wipe is a stats change like any other; sessions refresh
		// their cache and republish.
		return s.forEachUserSession(ctx, msg.Payload, s.applyStatsRefresh)
	case chanDisconnect:
		var ev struct {
			UserID int32  `json:"userID"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("decoding disconnect event: %w", err)
		}
		return s.forUserSessions(ctx, ev.UserID, func(ctx context.Context, t *session.Token) error {
			return s.applyDisconnect(ctx, t, ev.Reason)
		})
	case chanNotification:
		var ev struct {
			UserID  int32  `json:"userID"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("decoding notification event: %w", err)
		}
		return s.forUserSessions(ctx, ev.UserID, func(ctx context.Context, t *session.Token) error {
			return s.svc.Sessions.Enqueue(ctx, t.ID, serverpackets.Notification(ev.Message))
		})
	case chanChangeUsername:
		var ev struct {
			UserID      int32  `json:"userID"`
			NewUsername string `json:"newUsername"`
		}
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("decoding username event: %w", err)
		}
		notice := fmt.Sprintf("Your username has been changed to %s. Please log in again.", ev.NewUsername)
		return s.forUserSessions(ctx, ev.UserID, func(ctx context.Context, t *session.Token) error {
			return s.applyDisconnect(ctx, t, notice)
		})
	default:
		slog.Warn("unknown pub/sub channel", "channel", msg.Channel)
		return nil
	}
}

// forEachUserSession parses a bare numeric user id payload and applies
// fn to every live session of that user.
func (s *Server) forEachUserSession(ctx context.Context, payload []byte, fn func(context.Context, *session.Token) error) error {
	userID, err := strconv.ParseInt(string(payload), 10, 32)
	if err != nil {
		return fmt.Errorf("decoding user id: %w", err)
	}
	return s.forUserSessions(ctx, int32(userID), fn)
}

// forUserSessions runs fn on every live session of the user, all of
// them locked up front so packet handlers and the bridge never
// interleave on the same session.
func (s *Server) forUserSessions(ctx context.Context, userID int32, fn func(context.Context, *session.Token) error) error {
	tokens, err := s.svc.Sessions.AllByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	names := make([]string, len(tokens))
	for i, t := range tokens {
		names[i] = session.ProcessingLock(t.ID)
	}
	leases, err := kv.AcquireOrdered(ctx, s.svc.Store, kv.DefaultLeaseTTL, names...)
	if err != nil {
		return fmt.Errorf("locking sessions: %w", err)
	}
	defer kv.ReleaseAll(context.Background(), leases)

	for _, t := range tokens {
		// The session may have logged out while we were locking.
		fresh, err := s.svc.Sessions.Get(ctx, t.ID)
		if errors.Is(err, session.ErrTokenNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reloading session %s: %w", t.ID, err)
		}
		if err := fn(ctx, fresh); err != nil {
			return fmt.Errorf("session %s: %w", t.ID, err)
		}
	}
	return nil
}

// applyBan re-reads privileges, and when the account turned out
// banned, pushes the ban notice and tears the session down.
func (s *Server) applyBan(ctx context.Context, t *session.Token) error {
	banned, err := s.svc.Sessions.CheckBanned(ctx, t.ID)
	if err != nil {
		return err
	}
	if !banned {
		return nil
	}
	return s.logoutLocked(ctx, t)
}

// applyUnban refreshes privileges so a lifted restriction or ban takes
// effect without waiting for the next login.
func (s *Server) applyUnban(ctx context.Context, t *session.Token) error {
	return s.svc.Sessions.CheckRestricted(ctx, t.ID)
}

// applySilenceRefresh reloads the silence end time from the database.
func (s *Server) applySilenceRefresh(ctx context.Context, t *session.Token) error {
	return s.svc.Sessions.Silence(ctx, t.ID, -1, "")
}

func (s *Server) applyStatsRefresh(ctx context.Context, t *session.Token) error {
	if err := s.svc.Sessions.UpdateCachedStats(ctx, t.ID); err != nil {
		return err
	}
	return s.publishPresence(ctx, t.ID)
}

func (s *Server) applyDisconnect(ctx context.Context, t *session.Token, reason string) error {
	if reason != "" {
		if err := s.svc.Sessions.Enqueue(ctx, t.ID, serverpackets.Notification(reason)); err != nil {
			slog.Warn("queueing disconnect notice failed", "token_id", t.ID, "error", err)
		}
	}
	return s.logoutLocked(ctx, t)
}
