package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/serverpackets"
)

// spamRateLimit is the number of messages inside one decay window
// after which the sender is silenced automatically.
const spamRateLimit = 10

const (
	autoSilenceSeconds = 600
	autoSilenceReason  = "Spamming (auto spam protection)"

	restrictedNotice   = "Your account is currently in restricted mode. Please visit the website for more information."
	unrestrictedNotice = "Your account has been unrestricted! Please log in again."
)

// Silence mutes the user for the given seconds, pushes the new end
// time to their client and announces it on the main stream. Negative
// seconds refreshes the cached end time from the database instead of
// writing a new silence.
func (r *Registry) Silence(ctx context.Context, tokenID string, seconds int32, reason string) error {
	t, err := r.Get(ctx, tokenID)
	if err != nil {
		return err
	}
	now := r.clk.Now()

	if seconds < 0 {
		user, err := r.users.GetUserByID(ctx, t.UserID)
		if err != nil {
			return fmt.Errorf("reading silence from database: %w", err)
		}
		if user == nil {
			return fmt.Errorf("reading silence: user %d not found", t.UserID)
		}
		seconds = user.SilenceSecondsLeft(now)
	} else if err := r.users.SetSilence(ctx, t.UserID, now.Add(time.Duration(seconds)*time.Second), reason); err != nil {
		return fmt.Errorf("writing silence: %w", err)
	}

	err = r.setFields(ctx, tokenID, map[string]string{
		"silence_end_time": strconv.FormatInt(now.Unix()+int64(seconds), 10),
	})
	if err != nil {
		return err
	}

	if err := r.Enqueue(ctx, tokenID, serverpackets.SilenceEnd(uint32(seconds))); err != nil {
		slog.Warn("pushing silence to user failed", "token_id", tokenID, "error", err)
	}
	if r.broadcaster != nil {
		if err := r.broadcaster.Broadcast(ctx, "main", serverpackets.UserSilenced(t.UserID)); err != nil {
			slog.Warn("announcing silence failed", "user_id", t.UserID, "error", err)
		}
	}
	return nil
}

// SpamProtect bumps the session's message counter and silences the
// user once it passes the limit. The counter decays to zero on the
// periodic sweep, so the limit is per window, not per session.
func (r *Registry) SpamProtect(ctx context.Context, tokenID string) error {
	t, err := r.Get(ctx, tokenID)
	if err != nil {
		return err
	}

	rate := t.SpamRate + 1
	if err := r.setFields(ctx, tokenID, map[string]string{"spam_rate": itoa32(rate)}); err != nil {
		return err
	}
	if rate <= spamRateLimit {
		return nil
	}

	if err := r.Silence(ctx, tokenID, autoSilenceSeconds, autoSilenceReason); err != nil {
		return fmt.Errorf("auto-silencing spammer: %w", err)
	}
	if r.hook != nil {
		r.hook.Moderation(fmt.Sprintf("%s has been silenced for %d seconds: %s",
			t.Username, autoSilenceSeconds, autoSilenceReason))
	}
	return nil
}

// ResetSpamRates zeroes every session's message counter. Called by the
// periodic sweep.
func (r *Registry) ResetSpamRates(ctx context.Context) error {
	ids, err := r.TokenIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		err := r.setFields(ctx, id, map[string]string{"spam_rate": "0"})
		if err != nil && !errors.Is(err, ErrTokenNotFound) {
			slog.Warn("resetting spam rate failed", "token_id", id, "error", err)
		}
	}
	return nil
}

// CheckRestricted refreshes the session's privileges from the
// database and tells the user when they are restricted, or when a
// restriction was just lifted.
func (r *Registry) CheckRestricted(ctx context.Context, tokenID string) error {
	t, err := r.Get(ctx, tokenID)
	if err != nil {
		return err
	}
	privileges, err := r.users.GetPrivileges(ctx, t.UserID)
	if err != nil {
		return fmt.Errorf("refreshing privileges: %w", err)
	}
	if err := r.SetPrivileges(ctx, tokenID, privileges); err != nil {
		return err
	}

	wasRestricted := t.Restricted()
	switch {
	case constants.IsRestricted(privileges):
		r.notifyFromBot(ctx, t, restrictedNotice)
	case wasRestricted:
		r.notifyFromBot(ctx, t, unrestrictedNotice)
	}
	return nil
}

// CheckBanned reports whether the user's account is banned and, when
// it is, queues the ban notice. The caller runs the logout.
func (r *Registry) CheckBanned(ctx context.Context, tokenID string) (bool, error) {
	t, err := r.Get(ctx, tokenID)
	if err != nil {
		return false, err
	}
	privileges, err := r.users.GetPrivileges(ctx, t.UserID)
	if err != nil {
		return false, fmt.Errorf("refreshing privileges: %w", err)
	}
	if !constants.IsBanned(privileges) {
		return false, nil
	}
	if err := r.Enqueue(ctx, tokenID, serverpackets.LoginBanned()); err != nil {
		slog.Warn("pushing ban notice failed", "token_id", tokenID, "error", err)
	}
	return true, nil
}

// UpdateCachedStats refreshes the session's stats cache from the
// database row matching its current mode.
func (r *Registry) UpdateCachedStats(ctx context.Context, tokenID string) error {
	t, err := r.Get(ctx, tokenID)
	if err != nil {
		return err
	}

	stats, err := r.users.GetStats(ctx, t.UserID, t.GameMode, t.specialMode())
	if err != nil {
		return fmt.Errorf("reading stats: %w", err)
	}
	if stats == nil {
		slog.Warn("stats query returned nothing",
			"user_id", t.UserID, "mode", t.GameMode, "special", t.specialMode())
		return nil
	}

	return r.setFields(ctx, tokenID, map[string]string{
		"ranked_score": strconv.FormatInt(stats.RankedScore, 10),
		"accuracy":     ftoa(stats.Accuracy / 100),
		"playcount":    itoa32(stats.Playcount),
		"total_score":  strconv.FormatInt(stats.TotalScore, 10),
		"game_rank":    itoa32(stats.GameRank),
		"pp":           itoa32(stats.PP),
	})
}

func (r *Registry) notifyFromBot(ctx context.Context, t *Token, text string) {
	data := serverpackets.SendMessage(r.botName, text, t.Username, constants.ChatBotUserID)
	if err := r.Enqueue(ctx, t.ID, data); err != nil {
		slog.Warn("sending bot notice failed", "token_id", t.ID, "error", err)
	}
}
