package bancho

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shirokane/gobancho/internal/kv"
	"github.com/shirokane/gobancho/internal/packetid"
	"github.com/shirokane/gobancho/internal/serverpackets"
	"github.com/shirokane/gobancho/internal/session"
	"github.com/shirokane/gobancho/internal/stream"
)

// errLoggedOut signals a client-requested logout up the read loop. The
// connection teardown performs the actual cleanup.
var errLoggedOut = errors.New("client requested logout")

const busyNotice = "The server is busy handling your previous action, please try again."

// dispatch routes one inbound frame. Every packet runs under the
// session's processing lock, so handlers for one session never
// interleave, not even across replicas. A lock timeout drops the
// packet and tells the client instead of killing the connection.
func (s *Server) dispatch(ctx context.Context, tokenID string, id uint16, payload []byte) error {
	s.svc.Metrics.IncPacketsIn()

	if id == packetid.ClientLogout {
		return errLoggedOut
	}

	lease, err := s.svc.Store.AcquireLease(ctx, session.ProcessingLock(tokenID), kv.DefaultLeaseTTL)
	if errors.Is(err, kv.ErrLockTimeout) {
		s.svc.Metrics.IncLockTimeouts()
		slog.Warn("session busy, packet dropped", "token_id", tokenID, "packet_id", id)
		if err := s.svc.Sessions.Enqueue(ctx, tokenID, serverpackets.Notification(busyNotice)); err != nil {
			slog.Warn("queueing busy notice failed", "token_id", tokenID, "error", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("locking session: %w", err)
	}
	defer lease.Release(context.Background())

	t, err := s.svc.Sessions.Get(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	// Any traffic counts as liveness for the reaper.
	if err := s.svc.Sessions.UpdatePing(ctx, tokenID); err != nil {
		slog.Warn("updating ping failed", "token_id", tokenID, "error", err)
	}

	switch id {
	case packetid.ClientChangeAction:
		return s.handleChangeAction(ctx, t, payload)
	case packetid.ClientSendPublicMessage, packetid.ClientSendPrivateMessage:
		return s.handleSendMessage(ctx, t, payload)
	case packetid.ClientRequestStatusUpdate:
		return s.handleRequestStatusUpdate(ctx, t)
	case packetid.ClientPing:
		return s.handlePing(ctx, t)

	case packetid.ClientStartSpectating:
		return s.handleStartSpectating(ctx, t, payload)
	case packetid.ClientStopSpectating:
		return s.svc.Spectators.Stop(ctx, t.ID)
	case packetid.ClientSpectateFrames:
		return s.svc.Spectators.HandleFrames(ctx, t.ID, payload)
	case packetid.ClientCantSpectate:
		return s.svc.Spectators.CantSpectate(ctx, t.ID)

	case packetid.ClientJoinLobby:
		return s.handleJoinLobby(ctx, t)
	case packetid.ClientPartLobby:
		return s.svc.Streams.Leave(ctx, stream.Lobby, t.ID)
	case packetid.ClientCreateMatch:
		return s.handleCreateMatch(ctx, t, payload)
	case packetid.ClientJoinMatch:
		return s.handleJoinMatch(ctx, t, payload)
	case packetid.ClientPartMatch:
		return s.svc.Matches.Leave(ctx, t.ID)
	case packetid.ClientMatchChangeSlot:
		return s.handleMatchChangeSlot(ctx, t, payload)
	case packetid.ClientMatchReady:
		return s.svc.Matches.Ready(ctx, t.ID)
	case packetid.ClientMatchNotReady:
		return s.svc.Matches.NotReady(ctx, t.ID)
	case packetid.ClientMatchLock:
		return s.handleMatchLock(ctx, t, payload)
	case packetid.ClientMatchChangeSettings:
		return s.handleMatchChangeSettings(ctx, t, payload)
	case packetid.ClientMatchStart:
		return s.svc.Matches.Start(ctx, t.ID)
	case packetid.ClientMatchScoreUpdate:
		return s.svc.Matches.ScoreUpdate(ctx, t.ID, payload)
	case packetid.ClientMatchComplete:
		return s.svc.Matches.Complete(ctx, t.ID)
	case packetid.ClientMatchChangeMods:
		return s.handleMatchChangeMods(ctx, t, payload)
	case packetid.ClientMatchLoadComplete:
		return s.svc.Matches.LoadComplete(ctx, t.ID)
	case packetid.ClientMatchNoBeatmap:
		return s.svc.Matches.NoBeatmap(ctx, t.ID)
	case packetid.ClientMatchHasBeatmap:
		return s.svc.Matches.HasBeatmap(ctx, t.ID)
	case packetid.ClientMatchFailed:
		return s.svc.Matches.PlayerFailed(ctx, t.ID)
	case packetid.ClientMatchSkipRequest:
		return s.svc.Matches.SkipRequest(ctx, t.ID)
	case packetid.ClientMatchChangeTeam:
		return s.svc.Matches.ChangeTeam(ctx, t.ID)
	case packetid.ClientMatchTransferHost:
		return s.handleMatchTransferHost(ctx, t, payload)
	case packetid.ClientMatchChangePassword:
		return s.handleMatchChangePassword(ctx, t, payload)
	case packetid.ClientInvite:
		return s.handleInvite(ctx, t, payload)

	case packetid.ClientChannelJoin:
		return s.handleChannelJoin(ctx, t, payload)
	case packetid.ClientChannelPart:
		return s.handleChannelPart(ctx, t, payload)

	case packetid.ClientFriendAdd:
		return s.handleFriendAdd(ctx, t, payload)
	case packetid.ClientFriendRemove:
		return s.handleFriendRemove(ctx, t, payload)
	case packetid.ClientUserStatsRequest:
		return s.handleUserStatsRequest(ctx, t, payload)
	case packetid.ClientUserPanelRequest:
		return s.handleUserPanelRequest(ctx, t, payload)
	case packetid.ClientUserPanelRequestAll:
		return s.handleUserPanelRequestAll(ctx, t)

	case packetid.ClientSetAwayMessage:
		return s.handleSetAwayMessage(ctx, t, payload)
	case packetid.ClientToggleBlockNonFriendDMs:
		return s.handleToggleBlockNonFriendDMs(ctx, t, payload)
	case packetid.ClientChangeProtocolVersion:
		return s.handleChangeProtocolVersion(ctx, t, payload)

	case packetid.ClientTournamentMatchInfoRequest:
		return s.handleTournamentMatchInfoRequest(ctx, t, payload)
	case packetid.ClientTournamentJoinMatchChannel:
		return s.handleTournamentJoinMatchChannel(ctx, t, payload)
	case packetid.ClientTournamentLeaveMatchChannel:
		return s.handleTournamentLeaveMatchChannel(ctx, t, payload)

	case packetid.ClientReceiveUpdates:
		// Presence filter requests carry nothing we act on.
		return nil

	default:
		slog.Warn("unknown packet id", "packet_id", id, "user_id", t.UserID)
		return nil
	}
}
