package bancho

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shirokane/gobancho/internal/clientpackets"
	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/serverpackets"
	"github.com/shirokane/gobancho/internal/session"
	"github.com/shirokane/gobancho/internal/stream"
)

// handleChangeAction stores the client's new action and fans the
// refreshed panel and stats out on main. Restricted users only see
// their own updates.
func (s *Server) handleChangeAction(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseChangeAction(payload)
	if err != nil {
		return fmt.Errorf("parsing change action: %w", err)
	}

	st := session.Status{
		ActionID:   pkt.ActionID,
		ActionText: pkt.ActionText,
		ActionMD5:  pkt.ActionMD5,
		ActionMods: pkt.ActionMods,
		GameMode:   pkt.GameMode,
		Relax:      pkt.ActionMods&constants.ModRelax != 0,
		Autopilot:  pkt.ActionMods&constants.ModAutopilot != 0,
		BeatmapID:  pkt.BeatmapID,
	}
	if err := s.svc.Sessions.SetStatus(ctx, t.ID, st); err != nil {
		return fmt.Errorf("storing status: %w", err)
	}
	// The selected mode may have changed; the stats cache follows it.
	if err := s.svc.Sessions.UpdateCachedStats(ctx, t.ID); err != nil {
		slog.Warn("refreshing cached stats failed", "user_id", t.UserID, "error", err)
	}

	return s.publishPresence(ctx, t.ID)
}

// publishPresence re-reads the session and fans its panel and stats
// out on main. Restricted users only see their own updates.
func (s *Server) publishPresence(ctx context.Context, tokenID string) error {
	fresh, err := s.svc.Sessions.Get(ctx, tokenID)
	if err != nil {
		return err
	}
	panel := serverpackets.UserPanel(fresh.Panel())
	stats := serverpackets.UserStats(fresh.Stats())
	if fresh.Restricted() {
		if err := s.svc.Sessions.Enqueue(ctx, tokenID, panel); err != nil {
			return err
		}
		return s.svc.Sessions.Enqueue(ctx, tokenID, stats)
	}
	if err := s.svc.Streams.Broadcast(ctx, stream.Main, panel); err != nil {
		return fmt.Errorf("broadcasting panel: %w", err)
	}
	if err := s.svc.Streams.Broadcast(ctx, stream.Main, stats); err != nil {
		return fmt.Errorf("broadcasting stats: %w", err)
	}
	return nil
}

func (s *Server) handleRequestStatusUpdate(ctx context.Context, t *session.Token) error {
	if err := s.svc.Sessions.UpdateCachedStats(ctx, t.ID); err != nil {
		slog.Warn("refreshing cached stats failed", "user_id", t.UserID, "error", err)
	}
	fresh, err := s.svc.Sessions.Get(ctx, t.ID)
	if err != nil {
		return err
	}
	return s.svc.Sessions.Enqueue(ctx, t.ID, serverpackets.UserStats(fresh.Stats()))
}

func (s *Server) handlePing(ctx context.Context, t *session.Token) error {
	// The dispatcher already stamped ping_time.
	return s.svc.Sessions.Enqueue(ctx, t.ID, serverpackets.Pong())
}

func (s *Server) handleSetAwayMessage(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseSetAwayMessage(payload)
	if err != nil {
		return fmt.Errorf("parsing away message: %w", err)
	}
	if err := s.svc.Sessions.SetAwayMessage(ctx, t.ID, pkt.Message); err != nil {
		return fmt.Errorf("storing away message: %w", err)
	}
	text := "You are no longer marked as away"
	if pkt.Message != "" {
		text = "You are now marked as away: " + pkt.Message
	}
	return s.notifyFromBot(ctx, t, text)
}

func (s *Server) handleToggleBlockNonFriendDMs(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseToggleBlockNonFriendDMs(payload)
	if err != nil {
		return fmt.Errorf("parsing dm toggle: %w", err)
	}
	return s.svc.Sessions.SetBlockNonFriendsDM(ctx, t.ID, pkt.Value != 0)
}

func (s *Server) handleChangeProtocolVersion(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseChangeProtocolVersion(payload)
	if err != nil {
		return fmt.Errorf("parsing protocol version: %w", err)
	}
	if err := s.svc.Sessions.SetProtocolVersion(ctx, t.ID, pkt.Version); err != nil {
		return fmt.Errorf("storing protocol version: %w", err)
	}
	slog.Info("client switched protocol", "user_id", t.UserID, "version", pkt.Version)
	return nil
}

// notifyFromBot whispers text to the session as the resident bot.
func (s *Server) notifyFromBot(ctx context.Context, t *session.Token, text string) error {
	pkt := serverpackets.SendMessage(s.svc.Sessions.BotName(), text, t.Username, constants.ChatBotUserID)
	return s.svc.Sessions.Enqueue(ctx, t.ID, pkt)
}
