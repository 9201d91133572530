package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shirokane/gobancho/internal/channel"
	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/serverpackets"
	"github.com/shirokane/gobancho/internal/session"
	"github.com/shirokane/gobancho/internal/stream"
)

// maxMessageBytes caps one chat line. Longer lines are truncated, not
// rejected.
const maxMessageBytes = 2000

// SendResult tells the caller how a message send ended.
type SendResult int

const (
	SendOK SendResult = iota
	SendSilenced
	SendNoPermission
	SendUnknownTarget
	SendTargetBlockingDMs
)

// Send delivers one chat line from the session to a channel or, when
// the target does not start with '#', to another user.
func (m *Manager) Send(ctx context.Context, fromTokenID, target, message string) (SendResult, error) {
	from, err := m.sessions.Get(ctx, fromTokenID)
	if err != nil {
		return 0, err
	}
	now := m.clk.Now()

	if from.IsSilenced(now) {
		data := serverpackets.SilenceEnd(uint32(from.SilenceSecondsLeft(now)))
		if err := m.sessions.Enqueue(ctx, fromTokenID, data); err != nil {
			slog.Warn("notifying silenced sender failed", "token_id", fromTokenID, "error", err)
		}
		return SendSilenced, nil
	}

	if len(message) > maxMessageBytes {
		slog.Warn("truncating oversized chat message",
			"user_id", from.UserID, "bytes", len(message))
		message = message[:maxMessageBytes]
	}

	var result SendResult
	if strings.HasPrefix(target, "#") {
		result, err = m.sendToChannel(ctx, from, target, message)
	} else {
		result, err = m.sendPrivate(ctx, from, target, message)
	}
	if err != nil || result != SendOK {
		return result, err
	}

	line := fmt.Sprintf("%s - %s@%s: %s", now.Format("15:04"), from.Username, target, message)
	if err := m.sessions.AddMessageHistory(ctx, fromTokenID, line); err != nil {
		slog.Warn("recording chat history failed", "token_id", fromTokenID, "error", err)
	}

	if from.UserID >= constants.MinHumanUserID && !from.Staff() {
		if err := m.sessions.SpamProtect(ctx, fromTokenID); err != nil {
			slog.Warn("spam protection failed", "token_id", fromTokenID, "error", err)
		}
	}
	return SendOK, nil
}

func (m *Manager) sendToChannel(ctx context.Context, from *session.Token, target, message string) (SendResult, error) {
	name := resolveInternalName(from, target)

	ch, err := m.channels.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	if ch == nil {
		return SendUnknownTarget, nil
	}

	in, err := m.sessions.InChannel(ctx, from.ID, name)
	if err != nil {
		return 0, err
	}
	if !in {
		return SendNoPermission, nil
	}
	if from.Restricted() {
		return SendNoPermission, nil
	}
	if !ch.PublicWrite && !from.Staff() && from.UserID != constants.ChatBotUserID {
		return SendNoPermission, nil
	}

	data := serverpackets.SendMessage(from.Username, message, channel.ClientName(name), from.UserID)
	if err := m.streams.Broadcast(ctx, stream.Chat(name), data, from.ID); err != nil {
		return 0, fmt.Errorf("broadcasting chat line: %w", err)
	}
	return SendOK, nil
}

func (m *Manager) sendPrivate(ctx context.Context, from *session.Token, target, message string) (SendResult, error) {
	to, err := m.sessions.GetByUsername(ctx, target)
	if errors.Is(err, session.ErrTokenNotFound) {
		return SendUnknownTarget, nil
	}
	if err != nil {
		return 0, err
	}

	// Restricted users only ever talk to the bot.
	if from.Restricted() && to.UserID != constants.ChatBotUserID {
		return SendNoPermission, nil
	}

	if to.BlockNonFriendsDM && !from.Staff() && from.UserID != constants.ChatBotUserID {
		friend, err := m.isFriend(ctx, to.UserID, from.UserID)
		if err != nil {
			return 0, err
		}
		if !friend {
			data := serverpackets.TargetBlockingDMs(to.Username, from.Username, to.UserID)
			if err := m.sessions.Enqueue(ctx, from.ID, data); err != nil {
				slog.Warn("notifying blocked sender failed", "token_id", from.ID, "error", err)
			}
			return SendTargetBlockingDMs, nil
		}
	}

	// Away autoreply, once per sender.
	send, err := m.sessions.AwayCheck(ctx, to.ID, from.UserID)
	if err != nil {
		return 0, err
	}
	if send {
		data := serverpackets.SendMessage(to.Username, "/away "+to.AwayMessage, from.Username, to.UserID)
		if err := m.sessions.Enqueue(ctx, from.ID, data); err != nil {
			slog.Warn("sending away autoreply failed", "token_id", from.ID, "error", err)
		}
	}

	// A silenced recipient still reads; the sender just learns that no
	// reply is coming.
	if to.IsSilenced(m.clk.Now()) {
		data := serverpackets.TargetSilenced(to.Username, from.Username, to.UserID)
		if err := m.sessions.Enqueue(ctx, from.ID, data); err != nil {
			slog.Warn("notifying sender of silenced target failed", "token_id", from.ID, "error", err)
		}
	}

	data := serverpackets.SendMessage(from.Username, message, to.Username, from.UserID)
	if err := m.sessions.Enqueue(ctx, to.ID, data); err != nil {
		return 0, fmt.Errorf("delivering private message: %w", err)
	}
	return SendOK, nil
}

func (m *Manager) isFriend(ctx context.Context, ownerID, otherID int32) (bool, error) {
	friends, err := m.friends.GetFriends(ctx, ownerID)
	if err != nil {
		return false, fmt.Errorf("reading friends: %w", err)
	}
	for _, id := range friends {
		if id == otherID {
			return true, nil
		}
	}
	return false, nil
}
