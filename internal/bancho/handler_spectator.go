package bancho

import (
	"context"
	"fmt"

	"github.com/shirokane/gobancho/internal/clientpackets"
	"github.com/shirokane/gobancho/internal/session"
)

func (s *Server) handleStartSpectating(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseStartSpectating(payload)
	if err != nil {
		return fmt.Errorf("parsing spectate request: %w", err)
	}
	return s.svc.Spectators.Start(ctx, t.ID, pkt.UserID)
}
