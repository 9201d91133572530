package bancho

import (
	"context"
	"fmt"

	"github.com/shirokane/gobancho/internal/chat"
	"github.com/shirokane/gobancho/internal/clientpackets"
	"github.com/shirokane/gobancho/internal/session"
)

// handleTournamentMatchInfoRequest answers tournament managers and
// staff with a censored settings snapshot of any match.
func (s *Server) handleTournamentMatchInfoRequest(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseTournamentMatchInfoRequest(payload)
	if err != nil {
		return fmt.Errorf("parsing match info request: %w", err)
	}
	if !t.Tournament && !t.Staff() {
		return nil
	}
	update, err := s.svc.Matches.InfoPacket(ctx, pkt.MatchID)
	if err != nil {
		return fmt.Errorf("building match info: %w", err)
	}
	if update == nil {
		return nil
	}
	return s.svc.Sessions.Enqueue(ctx, t.ID, update)
}

// handleTournamentJoinMatchChannel puts a tournament manager into a
// match's chat without seating them. Binding match_id first makes the
// #multiplayer alias resolve for them.
func (s *Server) handleTournamentJoinMatchChannel(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseTournamentMatchChannel(payload)
	if err != nil {
		return fmt.Errorf("parsing match channel request: %w", err)
	}
	if !t.Tournament {
		return nil
	}
	if err := s.svc.Sessions.SetMatch(ctx, t.ID, pkt.MatchID); err != nil {
		return fmt.Errorf("binding match: %w", err)
	}
	result, err := s.svc.Chat.Join(ctx, t.ID, "#multiplayer", true)
	if err != nil {
		return fmt.Errorf("joining match channel: %w", err)
	}
	if result == chat.JoinUnknownChannel {
		// No such match; undo the binding.
		return s.svc.Sessions.ClearMatch(ctx, t.ID)
	}
	return nil
}

func (s *Server) handleTournamentLeaveMatchChannel(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseTournamentMatchChannel(payload)
	if err != nil {
		return fmt.Errorf("parsing match channel request: %w", err)
	}
	if !t.Tournament || t.MatchID != pkt.MatchID {
		return nil
	}
	if _, err := s.svc.Chat.Part(ctx, t.ID, "#multiplayer", false); err != nil {
		return fmt.Errorf("parting match channel: %w", err)
	}
	if err := s.svc.Sessions.ClearMatch(ctx, t.ID); err != nil {
		return fmt.Errorf("unbinding match: %w", err)
	}
	return nil
}
