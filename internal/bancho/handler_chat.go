package bancho

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shirokane/gobancho/internal/chat"
	"github.com/shirokane/gobancho/internal/clientpackets"
	"github.com/shirokane/gobancho/internal/serverpackets"
	"github.com/shirokane/gobancho/internal/session"
)

// handleSendMessage covers both the public and the private message
// packets; the chat manager resolves the target either way and has
// already answered the client on refusals.
func (s *Server) handleSendMessage(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseSendMessage(payload)
	if err != nil {
		return fmt.Errorf("parsing message: %w", err)
	}
	if _, err := s.svc.Chat.Send(ctx, t.ID, pkt.Target, pkt.Message); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

func (s *Server) handleChannelJoin(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseChannelJoin(payload)
	if err != nil {
		return fmt.Errorf("parsing channel join: %w", err)
	}
	result, err := s.svc.Chat.Join(ctx, t.ID, pkt.Channel, false)
	if err != nil {
		return fmt.Errorf("joining %s: %w", pkt.Channel, err)
	}
	switch result {
	case chat.JoinNoPermission, chat.JoinUnknownChannel:
		// The client opened a tab the moment it asked; kick it shut.
		slog.Warn("channel join refused", "user_id", t.UserID, "channel", pkt.Channel)
		return s.svc.Sessions.Enqueue(ctx, t.ID, serverpackets.ChannelKicked(pkt.Channel))
	default:
		return nil
	}
}

func (s *Server) handleChannelPart(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseChannelPart(payload)
	if err != nil {
		return fmt.Errorf("parsing channel part: %w", err)
	}
	if _, err := s.svc.Chat.Part(ctx, t.ID, pkt.Channel, false); err != nil {
		return fmt.Errorf("parting %s: %w", pkt.Channel, err)
	}
	return nil
}
