package bancho

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirokane/gobancho/internal/clientpackets"
	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/serverpackets"
	"github.com/shirokane/gobancho/internal/session"
)

func (s *Server) handleFriendAdd(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseFriendChange(payload)
	if err != nil {
		return fmt.Errorf("parsing friend change: %w", err)
	}
	if err := s.svc.Users.AddFriend(ctx, t.UserID, pkt.UserID); err != nil {
		return fmt.Errorf("adding friend: %w", err)
	}
	return nil
}

func (s *Server) handleFriendRemove(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseFriendChange(payload)
	if err != nil {
		return fmt.Errorf("parsing friend change: %w", err)
	}
	if err := s.svc.Users.RemoveFriend(ctx, t.UserID, pkt.UserID); err != nil {
		return fmt.Errorf("removing friend: %w", err)
	}
	return nil
}

func (s *Server) handleUserStatsRequest(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseUserIDList(payload)
	if err != nil {
		return fmt.Errorf("parsing stats request: %w", err)
	}
	for _, userID := range pkt.UserIDs {
		if userID == constants.ChatBotUserID {
			if err := s.svc.Sessions.Enqueue(ctx, t.ID, serverpackets.BotStats()); err != nil {
				return err
			}
			continue
		}
		target, err := s.resolveVisible(ctx, t, userID)
		if err != nil {
			return err
		}
		if target == nil {
			continue
		}
		if err := s.svc.Sessions.Enqueue(ctx, t.ID, serverpackets.UserStats(target.Stats())); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleUserPanelRequest(ctx context.Context, t *session.Token, payload []byte) error {
	pkt, err := clientpackets.ParseUserIDList(payload)
	if err != nil {
		return fmt.Errorf("parsing panel request: %w", err)
	}
	for _, userID := range pkt.UserIDs {
		if userID == constants.ChatBotUserID {
			if err := s.svc.Sessions.Enqueue(ctx, t.ID, serverpackets.BotPanel(s.svc.Sessions.BotName())); err != nil {
				return err
			}
			continue
		}
		target, err := s.resolveVisible(ctx, t, userID)
		if err != nil {
			return err
		}
		if target == nil {
			continue
		}
		if err := s.svc.Sessions.Enqueue(ctx, t.ID, serverpackets.UserPanel(target.Panel())); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleUserPanelRequestAll(ctx context.Context, t *session.Token) error {
	online, err := s.visibleUserIDs(ctx, t)
	if err != nil {
		return err
	}
	return s.svc.Sessions.Enqueue(ctx, t.ID, serverpackets.UserPresenceBundle(online))
}

// resolveVisible finds the online session behind a user id if the
// viewer may see it. Offline and hidden users resolve to nil.
func (s *Server) resolveVisible(ctx context.Context, viewer *session.Token, userID int32) (*session.Token, error) {
	if userID == viewer.UserID {
		return viewer, nil
	}
	target, err := s.svc.Sessions.GetByUserID(ctx, userID)
	if errors.Is(err, session.ErrTokenNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	visible, err := s.visibleTo(ctx, viewer, target)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, nil
	}
	return target, nil
}
