// Package spectator relays one player's replay frames to the clients
// watching them. The host and every follower share a stream and an
// instance chat channel, both created with the first follower and torn
// down with the last.
package spectator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shirokane/gobancho/internal/channel"
	"github.com/shirokane/gobancho/internal/chat"
	"github.com/shirokane/gobancho/internal/serverpackets"
	"github.com/shirokane/gobancho/internal/session"
	"github.com/shirokane/gobancho/internal/stream"
)

// Manager runs the spectating choreography over the shared registries.
type Manager struct {
	sessions *session.Registry
	channels *channel.Registry
	streams  *stream.Registry
	chat     *chat.Manager
}

// New builds a Manager.
func New(sessions *session.Registry, channels *channel.Registry, streams *stream.Registry, chatman *chat.Manager) *Manager {
	return &Manager{
		sessions: sessions,
		channels: channels,
		streams:  streams,
		chat:     chatman,
	}
}

// Start makes the session spectate the host. A negative host id is the
// client's way of asking to stop, and an offline host resolves to a
// stop as well.
func (m *Manager) Start(ctx context.Context, tokenID string, hostUserID int32) error {
	if hostUserID < 0 {
		return m.Stop(ctx, tokenID)
	}
	host, err := m.sessions.GetByUserID(ctx, hostUserID)
	if errors.Is(err, session.ErrTokenNotFound) {
		slog.Warn("spectate target is offline", "host_user_id", hostUserID)
		return m.Stop(ctx, tokenID)
	}
	if err != nil {
		return err
	}

	// Hopping between hosts runs the full stop first so the previous
	// host's overlay and channel stay consistent.
	if err := m.Stop(ctx, tokenID); err != nil {
		return err
	}
	t, err := m.sessions.Get(ctx, tokenID)
	if err != nil {
		return err
	}

	if err := m.sessions.SetSpectating(ctx, tokenID, host.ID, host.UserID); err != nil {
		return err
	}
	if err := m.sessions.AddSpectator(ctx, host.ID, tokenID); err != nil {
		return err
	}

	name := stream.Spectator(host.UserID)
	if err := m.streams.Add(ctx, name); err != nil {
		return fmt.Errorf("creating spectator stream: %w", err)
	}
	if err := m.streams.Join(ctx, name, tokenID); err != nil {
		return fmt.Errorf("joining spectator stream: %w", err)
	}
	if err := m.streams.Join(ctx, name, host.ID); err != nil {
		return fmt.Errorf("joining host to spectator stream: %w", err)
	}

	if err := m.sessions.Enqueue(ctx, host.ID, serverpackets.SpectatorJoined(t.UserID)); err != nil {
		slog.Warn("notifying spectate host failed",
			"host_user_id", host.UserID, "error", err)
	}

	chName := channel.SpectatorChannel(host.UserID)
	err = m.channels.Add(ctx, channel.Channel{
		Name:        chName,
		Description: fmt.Sprintf("Spectator lobby for host %s", host.Username),
		PublicRead:  true,
		Instance:    true,
	})
	if err != nil {
		return fmt.Errorf("creating spectator channel: %w", err)
	}
	if _, err := m.chat.Join(ctx, tokenID, chName, true); err != nil {
		return fmt.Errorf("joining spectator channel: %w", err)
	}

	followers, err := m.sessions.Spectators(ctx, host.ID)
	if err != nil {
		return err
	}
	if len(followers) == 1 {
		// First follower pulls the host into their own channel.
		if _, err := m.chat.Join(ctx, host.ID, chName, true); err != nil {
			return fmt.Errorf("joining host to spectator channel: %w", err)
		}
	}

	if err := m.streams.Broadcast(ctx, name, serverpackets.FellowSpectatorJoined(t.UserID)); err != nil {
		slog.Warn("announcing fellow spectator failed", "stream", name, "error", err)
	}

	// The newcomer still needs the followers who were already here.
	for _, fid := range followers {
		if fid == tokenID {
			continue
		}
		fellow, err := m.sessions.Get(ctx, fid)
		if err != nil {
			continue
		}
		if err := m.sessions.Enqueue(ctx, tokenID, serverpackets.FellowSpectatorJoined(fellow.UserID)); err != nil {
			slog.Warn("backfilling fellow spectator failed", "error", err)
		}
	}
	return nil
}

// Stop ends the session's spectating. The last follower to leave takes
// the host out of the stream and channel and disposes both. Not
// spectating anyone is a no-op.
func (m *Manager) Stop(ctx context.Context, tokenID string) error {
	t, err := m.sessions.Get(ctx, tokenID)
	if err != nil {
		return err
	}
	if t.SpectatingTokenID == "" || t.SpectatingUserID <= 0 {
		return nil
	}

	name := stream.Spectator(t.SpectatingUserID)
	chName := channel.SpectatorChannel(t.SpectatingUserID)

	if err := m.streams.Leave(ctx, name, tokenID); err != nil {
		return fmt.Errorf("leaving spectator stream: %w", err)
	}

	host, err := m.sessions.Get(ctx, t.SpectatingTokenID)
	switch {
	case errors.Is(err, session.ErrTokenNotFound):
		// Host already logged out and took their cleanup with them.
	case err != nil:
		return err
	default:
		if err := m.sessions.RemoveSpectator(ctx, host.ID, tokenID); err != nil {
			return err
		}
		if err := m.sessions.Enqueue(ctx, host.ID, serverpackets.SpectatorLeft(t.UserID)); err != nil {
			slog.Warn("notifying spectate host failed",
				"host_user_id", host.UserID, "error", err)
		}

		followers, err := m.sessions.Spectators(ctx, host.ID)
		if err != nil {
			return err
		}
		left := serverpackets.FellowSpectatorLeft(t.UserID)
		for _, fid := range followers {
			if err := m.sessions.Enqueue(ctx, fid, left); err != nil {
				slog.Warn("notifying fellow spectator failed", "error", err)
			}
		}

		if len(followers) == 0 {
			if _, err := m.chat.Part(ctx, host.ID, chName, true); err != nil {
				return fmt.Errorf("parting host from spectator channel: %w", err)
			}
			if err := m.streams.Leave(ctx, name, host.ID); err != nil {
				return fmt.Errorf("removing host from spectator stream: %w", err)
			}
			if err := m.streams.Remove(ctx, name); err != nil {
				return fmt.Errorf("disposing spectator stream: %w", err)
			}
		}
	}

	if _, err := m.chat.Part(ctx, tokenID, chName, true); err != nil {
		return fmt.Errorf("parting spectator channel: %w", err)
	}
	return m.sessions.ClearSpectating(ctx, tokenID)
}

// HandleFrames relays the host's raw replay frames to every follower.
func (m *Manager) HandleFrames(ctx context.Context, tokenID string, frames []byte) error {
	t, err := m.sessions.Get(ctx, tokenID)
	if err != nil {
		return err
	}
	data := serverpackets.SpectateFrames(frames)
	return m.streams.Broadcast(ctx, stream.Spectator(t.UserID), data, tokenID)
}

// CantSpectate tells the host and fellow followers that this client is
// missing the beatmap being played.
func (m *Manager) CantSpectate(ctx context.Context, tokenID string) error {
	t, err := m.sessions.Get(ctx, tokenID)
	if err != nil {
		return err
	}
	if t.SpectatingUserID <= 0 {
		return nil
	}
	data := serverpackets.SpectatorCantSpectate(t.UserID)
	return m.streams.Broadcast(ctx, stream.Spectator(t.SpectatingUserID), data, tokenID)
}
