// Package chat implements channel membership and message delivery on
// top of the session, channel and stream registries.
package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shirokane/gobancho/internal/channel"
	"github.com/shirokane/gobancho/internal/clock"
	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/serverpackets"
	"github.com/shirokane/gobancho/internal/session"
	"github.com/shirokane/gobancho/internal/stream"
)

// JoinResult tells the caller how a channel join ended. Handlers act
// on the variant; none of them is an error.
type JoinResult int

const (
	JoinOK JoinResult = iota
	JoinAlreadyJoined
	JoinNoPermission
	JoinUnknownChannel
)

// PartResult tells the caller how a channel part ended.
type PartResult int

const (
	PartOK PartResult = iota
	PartNotInChannel
	PartUnknownChannel
)

// FriendStore answers friendship lookups for DM blocking.
type FriendStore interface {
	GetFriends(ctx context.Context, userID int32) ([]int32, error)
}

// Manager wires chat behaviour over the shared registries.
type Manager struct {
	sessions *session.Registry
	channels *channel.Registry
	streams  *stream.Registry
	friends  FriendStore
	clk      clock.Clock
}

// New builds a Manager.
func New(sessions *session.Registry, channels *channel.Registry, streams *stream.Registry, friends FriendStore, clk clock.Clock) *Manager {
	return &Manager{
		sessions: sessions,
		channels: channels,
		streams:  streams,
		friends:  friends,
		clk:      clk,
	}
}

// Join puts the session into the channel. force skips the permission
// checks; internal joins (spectator and match channels) use it.
func (m *Manager) Join(ctx context.Context, tokenID, channelName string, force bool) (JoinResult, error) {
	t, err := m.sessions.Get(ctx, tokenID)
	if err != nil {
		return 0, err
	}
	name := resolveInternalName(t, channelName)

	in, err := m.sessions.InChannel(ctx, tokenID, name)
	if err != nil {
		return 0, err
	}
	if in {
		return JoinAlreadyJoined, nil
	}

	ch, err := m.channels.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	if ch == nil {
		return JoinUnknownChannel, nil
	}

	if !force && !m.mayRead(t, ch) {
		return JoinNoPermission, nil
	}

	if err := m.sessions.AddChannel(ctx, tokenID, name); err != nil {
		return 0, err
	}
	if err := m.streams.Join(ctx, stream.Chat(name), tokenID); err != nil {
		return 0, fmt.Errorf("joining channel stream: %w", err)
	}

	data := serverpackets.ChannelJoinSuccess(channel.ClientName(name))
	if err := m.sessions.Enqueue(ctx, tokenID, data); err != nil {
		slog.Warn("confirming channel join failed", "token_id", tokenID, "error", err)
	}

	m.advertise(ctx, ch)
	return JoinOK, nil
}

// Part removes the session from the channel. kick also closes the
// channel tab on the client. Instance channels are collected when the
// last member leaves.
func (m *Manager) Part(ctx context.Context, tokenID, channelName string, kick bool) (PartResult, error) {
	t, err := m.sessions.Get(ctx, tokenID)
	if err != nil {
		return 0, err
	}
	name := resolveInternalName(t, channelName)

	ch, err := m.channels.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	if ch == nil {
		return PartUnknownChannel, nil
	}

	in, err := m.sessions.InChannel(ctx, tokenID, name)
	if err != nil {
		return 0, err
	}
	if !in {
		return PartNotInChannel, nil
	}

	if err := m.sessions.RemoveChannel(ctx, tokenID, name); err != nil {
		return 0, err
	}
	if err := m.streams.Leave(ctx, stream.Chat(name), tokenID); err != nil {
		return 0, fmt.Errorf("leaving channel stream: %w", err)
	}

	if kick {
		data := serverpackets.ChannelKicked(channel.ClientName(name))
		if err := m.sessions.Enqueue(ctx, tokenID, data); err != nil {
			slog.Warn("kicking channel tab failed", "token_id", tokenID, "error", err)
		}
	}

	if ch.Instance {
		count, err := m.streams.ClientCount(ctx, stream.Chat(name))
		if err != nil {
			return 0, fmt.Errorf("counting channel members: %w", err)
		}
		if count == 0 {
			if err := m.channels.Remove(ctx, name); err != nil {
				return 0, fmt.Errorf("collecting empty channel: %w", err)
			}
			return PartOK, nil
		}
	}

	m.advertise(ctx, ch)
	return PartOK, nil
}

// mayRead applies the channel's read gate. The bot bypasses all of
// them.
func (m *Manager) mayRead(t *session.Token, ch *channel.Channel) bool {
	if t.UserID == constants.ChatBotUserID {
		return true
	}
	switch {
	case ch.Name == "#premium" && t.Privileges&constants.UserPremium == 0:
		return false
	case ch.Name == "#supporter" && t.Privileges&constants.UserDonor == 0:
		return false
	case !ch.PublicRead && !t.Staff():
		return false
	}
	return true
}

// advertise pushes the channel's refreshed member count to clients.
// Hidden channels only reach staff; instance channels share one client
// alias across hosts, so they are never advertised.
func (m *Manager) advertise(ctx context.Context, ch *channel.Channel) {
	if ch.Instance {
		return
	}
	count, err := m.streams.ClientCount(ctx, stream.Chat(ch.Name))
	if err != nil {
		slog.Warn("counting channel members failed", "channel", ch.Name, "error", err)
		return
	}
	info := serverpackets.ChannelInfo(ch.Name, ch.Description, uint16(count))
	if ch.PublicRead {
		err = m.streams.Broadcast(ctx, stream.Main, info)
	} else {
		err = m.streams.BroadcastLimited(ctx, stream.Main, info, constants.AdminChatMod)
	}
	if err != nil {
		slog.Warn("advertising channel failed", "channel", ch.Name, "error", err)
	}
}

// resolveInternalName maps the aliases the client speaks to the
// per-entity channels behind them.
func resolveInternalName(t *session.Token, name string) string {
	switch name {
	case "#spectator":
		if t.SpectatingUserID > 0 {
			return channel.SpectatorChannel(t.SpectatingUserID)
		}
		return channel.SpectatorChannel(t.UserID)
	case "#multiplayer":
		return channel.MatchChannel(t.MatchID)
	default:
		return name
	}
}
