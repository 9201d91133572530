package session

import (
	"context"
	"fmt"
	"strconv"
)

const (
	maxHistoryLines     = 100
	maxHistoryLineRunes = 1000
)

// Status is the client-reported action snapshot from a change-action
// frame.
type Status struct {
	ActionID   byte
	ActionText string
	ActionMD5  string
	ActionMods int32
	GameMode   byte
	Relax      bool
	Autopilot  bool
	BeatmapID  int32
}

// UpdatePing stamps the session's last-activity time. The reaper
// destroys sessions whose stamp goes stale.
func (r *Registry) UpdatePing(ctx context.Context, tokenID string) error {
	return r.setFields(ctx, tokenID, map[string]string{
		"ping_time": strconv.FormatInt(r.clk.Now().Unix(), 10),
	})
}

// SetStatus stores the client's current action. Callers refresh the
// cached stats afterwards when the mode or mods changed.
func (r *Registry) SetStatus(ctx context.Context, tokenID string, s Status) error {
	return r.setFields(ctx, tokenID, map[string]string{
		"action_id":   strconv.Itoa(int(s.ActionID)),
		"action_text": s.ActionText,
		"action_md5":  s.ActionMD5,
		"action_mods": itoa32(s.ActionMods),
		"game_mode":   strconv.Itoa(int(s.GameMode)),
		"relax":       btoa(s.Relax),
		"autopilot":   btoa(s.Autopilot),
		"beatmap_id":  itoa32(s.BeatmapID),
	})
}

// SetLocation stores the session's coordinates.
func (r *Registry) SetLocation(ctx context.Context, tokenID string, lat, lon float32) error {
	return r.setFields(ctx, tokenID, map[string]string{
		"latitude":  ftoa(lat),
		"longitude": ftoa(lon),
	})
}

// SetCountry stores the session's country code.
func (r *Registry) SetCountry(ctx context.Context, tokenID string, country byte) error {
	return r.setFields(ctx, tokenID, map[string]string{
		"country": strconv.Itoa(int(country)),
	})
}

// SetPrivileges overwrites the cached privilege bitmask.
func (r *Registry) SetPrivileges(ctx context.Context, tokenID string, privileges int32) error {
	return r.setFields(ctx, tokenID, map[string]string{
		"privileges": itoa32(privileges),
	})
}

// SetProtocolVersion records the protocol revision the client spoke at
// login.
func (r *Registry) SetProtocolVersion(ctx context.Context, tokenID string, version int32) error {
	return r.setFields(ctx, tokenID, map[string]string{
		"protocol_version": itoa32(version),
	})
}

// SetBlockNonFriendsDM toggles rejection of private messages from
// strangers.
func (r *Registry) SetBlockNonFriendsDM(ctx context.Context, tokenID string, block bool) error {
	return r.setFields(ctx, tokenID, map[string]string{
		"block_non_friends_dm": btoa(block),
	})
}

// SetAwayMessage stores the away autoreply. Changing it forgets who
// already received the old one, so everyone gets the new text once.
func (r *Registry) SetAwayMessage(ctx context.Context, tokenID, message string) error {
	if err := r.store.Del(ctx, sentAwayKey(tokenID)); err != nil {
		return fmt.Errorf("resetting away receipts: %w", err)
	}
	return r.setFields(ctx, tokenID, map[string]string{
		"away_message": message,
	})
}

// AwayCheck reports whether the away autoreply should be sent to the
// sender, and marks it sent. Each sender sees the autoreply once per
// away message.
func (r *Registry) AwayCheck(ctx context.Context, tokenID string, senderUserID int32) (bool, error) {
	t, err := r.Get(ctx, tokenID)
	if err != nil {
		return false, err
	}
	if t.AwayMessage == "" {
		return false, nil
	}
	sent, err := r.store.SIsMember(ctx, sentAwayKey(tokenID), itoa32(senderUserID))
	if err != nil {
		return false, fmt.Errorf("reading away receipts: %w", err)
	}
	if sent {
		return false, nil
	}
	if err := r.store.SAdd(ctx, sentAwayKey(tokenID), itoa32(senderUserID)); err != nil {
		return false, fmt.Errorf("recording away receipt: %w", err)
	}
	return true, nil
}

// AddMessageHistory appends a rendered chat line to the session's
// report buffer, keeping the last hundred lines.
func (r *Registry) AddMessageHistory(ctx context.Context, tokenID, line string) error {
	if runes := []rune(line); len(runes) > maxHistoryLineRunes {
		line = string(runes[:maxHistoryLineRunes])
	}
	if err := r.store.RPush(ctx, historyKey(tokenID), []byte(line)); err != nil {
		return fmt.Errorf("recording chat line: %w", err)
	}
	if err := r.store.LTrim(ctx, historyKey(tokenID), -maxHistoryLines, -1); err != nil {
		return fmt.Errorf("trimming chat history: %w", err)
	}
	return nil
}

// MessageHistory returns the session's recent chat lines, oldest
// first.
func (r *Registry) MessageHistory(ctx context.Context, tokenID string) ([]string, error) {
	chunks, err := r.store.LRange(ctx, historyKey(tokenID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("reading chat history: %w", err)
	}
	lines := make([]string, len(chunks))
	for i, c := range chunks {
		lines[i] = string(c)
	}
	return lines, nil
}

// SetMatch records the match the session joined.
func (r *Registry) SetMatch(ctx context.Context, tokenID string, matchID int32) error {
	return r.setFields(ctx, tokenID, map[string]string{
		"match_id": itoa32(matchID),
	})
}

// ClearMatch records that the session left its match.
func (r *Registry) ClearMatch(ctx context.Context, tokenID string) error {
	return r.SetMatch(ctx, tokenID, -1)
}

// SetSpectating records the host this session is watching.
func (r *Registry) SetSpectating(ctx context.Context, tokenID, hostTokenID string, hostUserID int32) error {
	return r.setFields(ctx, tokenID, map[string]string{
		"spectating_token_id": hostTokenID,
		"spectating_user_id":  itoa32(hostUserID),
	})
}

// ClearSpectating records that the session stopped watching.
func (r *Registry) ClearSpectating(ctx context.Context, tokenID string) error {
	return r.setFields(ctx, tokenID, map[string]string{
		"spectating_token_id": "",
		"spectating_user_id":  "0",
	})
}

// AddSpectator adds a follower to the host's spectator set.
func (r *Registry) AddSpectator(ctx context.Context, hostTokenID, followerTokenID string) error {
	if err := r.store.SAdd(ctx, spectatorsKey(hostTokenID), followerTokenID); err != nil {
		return fmt.Errorf("adding spectator: %w", err)
	}
	return nil
}

// RemoveSpectator removes a follower from the host's spectator set.
func (r *Registry) RemoveSpectator(ctx context.Context, hostTokenID, followerTokenID string) error {
	if err := r.store.SRem(ctx, spectatorsKey(hostTokenID), followerTokenID); err != nil {
		return fmt.Errorf("removing spectator: %w", err)
	}
	return nil
}

// Spectators lists the token ids watching the host.
func (r *Registry) Spectators(ctx context.Context, hostTokenID string) ([]string, error) {
	return r.store.SMembers(ctx, spectatorsKey(hostTokenID))
}

// AddChannel records channel membership on the session.
func (r *Registry) AddChannel(ctx context.Context, tokenID, channel string) error {
	if err := r.store.SAdd(ctx, channelsKey(tokenID), channel); err != nil {
		return fmt.Errorf("recording channel join: %w", err)
	}
	return nil
}

// RemoveChannel drops channel membership from the session.
func (r *Registry) RemoveChannel(ctx context.Context, tokenID, channel string) error {
	if err := r.store.SRem(ctx, channelsKey(tokenID), channel); err != nil {
		return fmt.Errorf("recording channel part: %w", err)
	}
	return nil
}

// Channels lists the channels the session has joined.
func (r *Registry) Channels(ctx context.Context, tokenID string) ([]string, error) {
	return r.store.SMembers(ctx, channelsKey(tokenID))
}

// InChannel reports whether the session has joined the channel.
func (r *Registry) InChannel(ctx context.Context, tokenID, channel string) (bool, error) {
	return r.store.SIsMember(ctx, channelsKey(tokenID), channel)
}

func (r *Registry) setFields(ctx context.Context, tokenID string, fields map[string]string) error {
	if err := r.store.HSet(ctx, tokenKey(tokenID), fields); err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return nil
}
