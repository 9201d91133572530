package bancho

import (
	"context"
	"fmt"

	"github.com/shirokane/gobancho/internal/clientpackets"
	"github.com/shirokane/gobancho/internal/match"
	"github.com/shirokane/gobancho/internal/session"
	"github.com/shirokane/gobancho/internal/stream"
)

// handleJoinLobby subscribes the client to match listing traffic and
// replays the current listing, one packet per live match.
func (s *Server) handleJoinLobby(ctx context.Context, t *session.Token) error {
	if err := s.svc.Streams.Join(ctx, stream.Lobby, t.ID); err != nil {
		return fmt.Errorf("joining lobby: %w", err)
	}
	packets, err := s.svc.Matches.ListingPackets(ctx)
	if err != nil {
		return fmt.Errorf("listing matches: %w", err)
	}
	for _, data := range packets {
		if err := s.svc.Sessions.Enqueue(ctx, t.ID, data); err != nil {
			return err
		}
	}
	return nil
}

// handleCreateMatch opens a room and seats the creator as host. The
// creator may come straight from another room or from spectating, so
// both get torn down first.
func (s *Server) handleCreateMatch(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseCreateMatch(payload)
	if err != nil {
		return fmt.Errorf("parsing create match: %w", err)
	}

	if err := s.svc.Spectators.Stop(ctx, t.ID); err != nil {
		return err
	}
	if err := s.svc.Matches.Leave(ctx, t.ID); err != nil {
		return err
	}

	m, err := s.svc.Matches.Create(ctx, match.CreateOptions{
		Name:        pkt.Name,
		Password:    pkt.Password,
		BeatmapID:   pkt.BeatmapID,
		BeatmapName: pkt.BeatmapName,
		BeatmapMD5:  pkt.BeatmapMD5,
		GameMode:    pkt.GameMode,
		HostUserID:  t.UserID,
		Seed:        pkt.Seed,
		Tourney:     t.Tournament,
	})
	if err != nil {
		return fmt.Errorf("creating match: %w", err)
	}
	if _, err := s.svc.Matches.Join(ctx, t.ID, m.ID, m.Password); err != nil {
		return fmt.Errorf("seating host: %w", err)
	}
	return nil
}

func (s *Server) handleJoinMatch(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseJoinMatch(payload)
	if err != nil {
		return fmt.Errorf("parsing join match: %w", err)
	}
	if err := s.svc.Spectators.Stop(ctx, t.ID); err != nil {
		return err
	}
	if err := s.svc.Matches.Leave(ctx, t.ID); err != nil {
		return err
	}
	if _, err := s.svc.Matches.Join(ctx, t.ID, pkt.MatchID, pkt.Password); err != nil {
		return fmt.Errorf("joining match %d: %w", pkt.MatchID, err)
	}
	return nil
}

func (s *Server) handleMatchChangeSlot(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseChangeSlot(payload)
	if err != nil {
		return fmt.Errorf("parsing slot change: %w", err)
	}
	return s.svc.Matches.ChangeSlot(ctx, t.ID, int(pkt.SlotID))
}

func (s *Server) handleMatchLock(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseLockSlot(payload)
	if err != nil {
		return fmt.Errorf("parsing slot lock: %w", err)
	}
	return s.svc.Matches.Lock(ctx, t.ID, int(pkt.SlotID))
}

func (s *Server) handleMatchChangeSettings(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseChangeMatchSettings(payload)
	if err != nil {
		return fmt.Errorf("parsing settings change: %w", err)
	}
	return s.svc.Matches.ChangeSettings(ctx, t.ID, matchSettings(pkt))
}

func (s *Server) handleMatchChangeMods(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseChangeMods(payload)
	if err != nil {
		return fmt.Errorf("parsing mods change: %w", err)
	}
	return s.svc.Matches.ChangeMods(ctx, t.ID, pkt.Mods)
}

func (s *Server) handleMatchTransferHost(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseTransferHost(payload)
	if err != nil {
		return fmt.Errorf("parsing host transfer: %w", err)
	}
	return s.svc.Matches.TransferHost(ctx, t.ID, int(pkt.SlotID))
}

func (s *Server) handleMatchChangePassword(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseChangeMatchPassword(payload)
	if err != nil {
		return fmt.Errorf("parsing password change: %w", err)
	}
	return s.svc.Matches.ChangePassword(ctx, t.ID, pkt.Password)
}

func (s *Server) handleInvite(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseInvite(payload)
	if err != nil {
		return fmt.Errorf("parsing invite: %w", err)
	}
	return s.svc.Matches.Invite(ctx, t.ID, pkt.UserID)
}

// matchSettings maps a client match frame onto the host settings the
// engine rewrites.
func matchSettings(m *clientpackets.MatchData) match.Settings {
	return match.Settings{
		Name:        m.Name,
		Password:    m.Password,
		InProgress:  m.InProgress,
		BeatmapID:   m.BeatmapID,
		BeatmapName: m.BeatmapName,
		BeatmapMD5:  m.BeatmapMD5,
		HostUserID:  m.HostUserID,
		GameMode:    m.GameMode,
		Mods:        m.Mods,
		ScoringType: m.ScoringType,
		TeamType:    m.TeamType,
		ModMode:     m.FreeMod,
		Seed:        m.Seed,
	}
}
