package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shirokane/gobancho/internal/channel"
	"github.com/shirokane/gobancho/internal/chat"
	"github.com/shirokane/gobancho/internal/clock"
	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/kv"
	"github.com/shirokane/gobancho/internal/serverpackets"
	"github.com/shirokane/gobancho/internal/session"
	"github.com/shirokane/gobancho/internal/stream"
)

// Engine mutates matches under their per-match lease. Host-only
// requests from other users and operations against disposed matches
// are silent no-ops.
type Engine struct {
	store    kv.KV
	sessions *session.Registry
	streams  *stream.Registry
	channels *channel.Registry
	chat     *chat.Manager
	clk      clock.Clock
}

// New builds an Engine.
func New(store kv.KV, sessions *session.Registry, streams *stream.Registry, channels *channel.Registry, chatman *chat.Manager, clk clock.Clock) *Engine {
	return &Engine{
		store:    store,
		sessions: sessions,
		streams:  streams,
		channels: channels,
		chat:     chatman,
		clk:      clk,
	}
}

// CreateOptions seeds a fresh match.
type CreateOptions struct {
	Name        string
	Password    string
	BeatmapID   int32
	BeatmapName string
	BeatmapMD5  string
	GameMode    byte
	HostUserID  int32
	Seed        uint32
	Tourney     bool
}

// Settings carries the fields the host's change-settings request
// rewrites wholesale.
type Settings struct {
	Name        string
	Password    string
	InProgress  bool
	BeatmapID   int32
	BeatmapName string
	BeatmapMD5  string
	HostUserID  int32
	GameMode    byte
	Mods        int32
	ScoringType byte
	TeamType    byte
	ModMode     byte
	Seed        uint32
}

// Create registers a match, its streams and its room channel, and
// announces it to the lobby. The creator still joins through Join.
func (e *Engine) Create(ctx context.Context, opts CreateOptions) (*Match, error) {
	id, err := e.nextID(ctx)
	if err != nil {
		return nil, err
	}
	now := e.clk.Now().Unix()
	m := &Match{
		ID:          id,
		Name:        opts.Name,
		Password:    opts.Password,
		BeatmapID:   opts.BeatmapID,
		BeatmapName: opts.BeatmapName,
		BeatmapMD5:  opts.BeatmapMD5,
		HostUserID:  opts.HostUserID,
		GameMode:    opts.GameMode,
		Seed:        opts.Seed,
		Tourney:     opts.Tourney,
		CreatedAt:   now,
	}
	var slots Slots
	for i := range slots {
		slots[i].clear()
	}

	if err := e.saveMatch(ctx, m); err != nil {
		return nil, err
	}
	if err := e.saveSlots(ctx, id, &slots); err != nil {
		return nil, err
	}
	if err := e.store.SAdd(ctx, matchesSetKey, itoa32(id)); err != nil {
		return nil, fmt.Errorf("registering match: %w", err)
	}

	if err := e.streams.Add(ctx, stream.Multiplayer(id)); err != nil {
		return nil, fmt.Errorf("creating match stream: %w", err)
	}
	if err := e.streams.Add(ctx, stream.MultiplayerPlaying(id)); err != nil {
		return nil, fmt.Errorf("creating playing stream: %w", err)
	}
	err = e.channels.Add(ctx, channel.Channel{
		Name:        channel.MatchChannel(id),
		Description: fmt.Sprintf("Multiplayer lobby for match %d", id),
		PublicRead:  true,
		PublicWrite: true,
		Instance:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating match channel: %w", err)
	}

	if err := e.streams.Broadcast(ctx, stream.Lobby, serverpackets.NewMatch(data(m, &slots))); err != nil {
		slog.Warn("announcing new match failed", "match_id", id, "error", err)
	}
	slog.Info("match created", "match_id", id, "name", m.Name, "host_user_id", m.HostUserID)
	return m, nil
}

// InfoPacket builds a censored settings update for one match, used to
// answer tournament manager info requests. Returns nil when the match
// no longer exists.
func (e *Engine) InfoPacket(ctx context.Context, matchID int32) ([]byte, error) {
	m, slots, err := e.load(ctx, matchID)
	if err != nil || m == nil {
		return nil, err
	}
	return serverpackets.UpdateMatch(data(m, slots), true), nil
}

// ListingPackets builds the listing for a client entering the lobby,
// one packet per live match.
func (e *Engine) ListingPackets(ctx context.Context) ([][]byte, error) {
	ids, err := e.IDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		m, slots, err := e.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		out = append(out, serverpackets.NewMatch(data(m, slots)))
	}
	return out, nil
}

// Join seats the session in the match. The caller has already stopped
// spectating and left any previous match. The returned bool says
// whether the client actually got a seat; a refusal has already been
// answered with a join-fail packet.
func (e *Engine) Join(ctx context.Context, tokenID string, matchID int32, password string) (bool, error) {
	t, err := e.sessions.Get(ctx, tokenID)
	if err != nil {
		return false, err
	}

	lease, err := e.store.AcquireLease(ctx, lockKey(matchID), kv.DefaultLeaseTTL)
	if err != nil {
		return false, err
	}
	defer lease.Release(context.Background())

	m, slots, err := e.load(ctx, matchID)
	if err != nil {
		return false, err
	}
	if m == nil {
		return e.joinFail(ctx, tokenID)
	}
	if m.Password != "" && m.Password != password {
		return e.joinFail(ctx, tokenID)
	}

	// A leftover seat for this user means an earlier leave never
	// finished; free it before seating them again.
	for i := range slots {
		if slots[i].occupied() && slots[i].UserID == t.UserID {
			slots[i].clear()
			if err := e.saveSlot(ctx, matchID, i, &slots[i]); err != nil {
				return false, err
			}
		}
	}

	seat := -1
	for i := range slots {
		if slots[i].Status == constants.SlotFree {
			seat = i
			break
		}
	}
	if seat == -1 {
		return e.joinFail(ctx, tokenID)
	}

	team := constants.TeamNone
	if m.TeamType == constants.TeamTypeTeamVS || m.TeamType == constants.TeamTypeTagTeamVS {
		if seat%2 == 0 {
			team = constants.TeamRed
		} else {
			team = constants.TeamBlue
		}
	}
	slots[seat] = Slot{
		Status:  constants.SlotNotReady,
		Team:    team,
		UserID:  t.UserID,
		TokenID: tokenID,
	}
	if err := e.saveSlot(ctx, matchID, seat, &slots[seat]); err != nil {
		return false, err
	}

	if err := e.sessions.SetMatch(ctx, tokenID, matchID); err != nil {
		return false, err
	}
	if err := e.streams.Join(ctx, stream.Multiplayer(matchID), tokenID); err != nil {
		return false, fmt.Errorf("joining match stream: %w", err)
	}
	if t.Tournament {
		// Tourney clients watch gameplay traffic from the moment they
		// enter the room.
		if err := e.streams.Join(ctx, stream.MultiplayerPlaying(matchID), tokenID); err != nil {
			return false, fmt.Errorf("joining playing stream: %w", err)
		}
	}
	if _, err := e.chat.Join(ctx, tokenID, channel.MatchChannel(matchID), true); err != nil {
		slog.Warn("joining match channel failed", "match_id", matchID, "error", err)
	}

	if err := e.sessions.Enqueue(ctx, tokenID, serverpackets.MatchJoinSuccess(data(m, slots))); err != nil {
		slog.Warn("confirming match join failed", "token_id", tokenID, "error", err)
	}
	e.sendUpdates(ctx, m, slots)
	return true, nil
}

func (e *Engine) joinFail(ctx context.Context, tokenID string) (bool, error) {
	if err := e.sessions.Enqueue(ctx, tokenID, serverpackets.MatchJoinFail()); err != nil {
		slog.Warn("refusing match join failed", "token_id", tokenID, "error", err)
	}
	return false, nil
}

// Leave frees the session's seat. The host role moves to the lowest
// occupied seat when the host walks out, and the room is disposed when
// the last player does. Not being in a match is a no-op.
func (e *Engine) Leave(ctx context.Context, tokenID string) error {
	t, err := e.sessions.Get(ctx, tokenID)
	if err != nil {
		return err
	}
	if !t.InMatch() {
		return nil
	}
	matchID := t.MatchID

	if _, err := e.chat.Part(ctx, tokenID, channel.MatchChannel(matchID), true); err != nil {
		slog.Warn("parting match channel failed", "match_id", matchID, "error", err)
	}
	if err := e.streams.Leave(ctx, stream.Multiplayer(matchID), tokenID); err != nil {
		return fmt.Errorf("leaving match stream: %w", err)
	}
	if err := e.streams.Leave(ctx, stream.MultiplayerPlaying(matchID), tokenID); err != nil {
		return fmt.Errorf("leaving playing stream: %w", err)
	}
	if err := e.sessions.ClearMatch(ctx, tokenID); err != nil {
		return err
	}

	return e.withMatch(ctx, matchID, func(m *Match, slots *Slots) error {
		seat := seatOf(slots, t.UserID)
		if seat == -1 {
			return nil
		}
		slots[seat].clear()
		if err := e.saveSlot(ctx, matchID, seat, &slots[seat]); err != nil {
			return err
		}

		if countOccupied(slots) == 0 && !m.Tourney {
			return e.dispose(ctx, m)
		}

		if t.UserID == m.HostUserID {
			for i := range slots {
				if slots[i].occupied() {
					if err := e.setHost(ctx, m, slots[i].UserID, slots[i].TokenID); err != nil {
						return err
					}
					break
				}
			}
		}
		e.sendUpdates(ctx, m, slots)
		return nil
	})
}

// ChangeSettings rewrites the room settings from the host's client.
// Changing anything gameplay-relevant unreadies the room, and the two
// tag team types always force shared mods.
func (e *Engine) ChangeSettings(ctx context.Context, tokenID string, s Settings) error {
	return e.withHost(ctx, tokenID, func(m *Match, slots *Slots, _ *session.Token) error {
		if s.TeamType == constants.TeamTypeTagCoop || s.TeamType == constants.TeamTypeTagTeamVS {
			s.ModMode = constants.ModModeNormal
		}

		old := *m
		m.Name = s.Name
		m.Password = s.Password
		m.InProgress = s.InProgress
		m.BeatmapID = s.BeatmapID
		m.BeatmapName = s.BeatmapName
		m.BeatmapMD5 = s.BeatmapMD5
		m.HostUserID = s.HostUserID
		m.GameMode = s.GameMode
		m.Mods = s.Mods
		m.ScoringType = s.ScoringType
		m.TeamType = s.TeamType
		m.ModMode = s.ModMode
		m.Seed = s.Seed

		if old.Mods != m.Mods || old.BeatmapMD5 != m.BeatmapMD5 ||
			old.ScoringType != m.ScoringType || old.TeamType != m.TeamType ||
			old.ModMode != m.ModMode {
			resetReady(slots)
		}

		if old.ModMode != m.ModMode {
			if m.ModMode == constants.ModModeNormal {
				// Free mod turned off: the host's personal mods become
				// the room's.
				for i := range slots {
					if slots[i].occupied() && slots[i].UserID == m.HostUserID {
						m.Mods = slots[i].Mods
						break
					}
				}
			} else {
				// Free mod turned on: everyone starts from the room
				// mods, and only speed mods stay shared.
				for i := range slots {
					if slots[i].occupied() {
						slots[i].Mods = m.Mods
					}
				}
				m.Mods &= constants.ModsSpeedChanging
			}
		}

		if old.TeamType != m.TeamType {
			initTeams(m, slots)
		}

		if err := e.saveMatch(ctx, m); err != nil {
			return err
		}
		if err := e.saveSlots(ctx, m.ID, slots); err != nil {
			return err
		}
		e.sendUpdates(ctx, m, slots)
		return nil
	})
}

// ChangeSlot moves the session to a free seat.
func (e *Engine) ChangeSlot(ctx context.Context, tokenID string, seat int) error {
	if seat < 0 || seat >= constants.MatchSlots {
		return nil
	}
	return e.withMember(ctx, tokenID, func(m *Match, slots *Slots, _ *session.Token, current int) error {
		if seat == current || slots[seat].Status != constants.SlotFree {
			return nil
		}
		slots[seat] = slots[current]
		slots[current].clear()
		if err := e.saveSlot(ctx, m.ID, seat, &slots[seat]); err != nil {
			return err
		}
		if err := e.saveSlot(ctx, m.ID, current, &slots[current]); err != nil {
			return err
		}
		e.sendUpdates(ctx, m, slots)
		return nil
	})
}

// Ready marks the session's seat ready.
func (e *Engine) Ready(ctx context.Context, tokenID string) error {
	return e.setOwnStatus(ctx, tokenID, constants.SlotReady)
}

// NotReady marks the session's seat not ready.
func (e *Engine) NotReady(ctx context.Context, tokenID string) error {
	return e.setOwnStatus(ctx, tokenID, constants.SlotNotReady)
}

// NoBeatmap marks the session's seat as missing the selected beatmap.
func (e *Engine) NoBeatmap(ctx context.Context, tokenID string) error {
	return e.setOwnStatus(ctx, tokenID, constants.SlotNoMap)
}

// HasBeatmap clears a previous missing-beatmap state back to not ready.
func (e *Engine) HasBeatmap(ctx context.Context, tokenID string) error {
	return e.setOwnStatus(ctx, tokenID, constants.SlotNotReady)
}

func (e *Engine) setOwnStatus(ctx context.Context, tokenID string, status byte) error {
	return e.withMember(ctx, tokenID, func(m *Match, slots *Slots, _ *session.Token, seat int) error {
		slots[seat].Status = status
		if err := e.saveSlot(ctx, m.ID, seat, &slots[seat]); err != nil {
			return err
		}
		e.sendUpdates(ctx, m, slots)
		return nil
	})
}

// Lock toggles a seat between locked and free. Locking an occupied
// seat kicks its occupant back to the lobby view; the client follows
// up with a part. Hosts cannot lock their own seat.
func (e *Engine) Lock(ctx context.Context, tokenID string, seat int) error {
	if seat < 0 || seat >= constants.MatchSlots {
		return nil
	}
	return e.withHost(ctx, tokenID, func(m *Match, slots *Slots, t *session.Token) error {
		if seatOf(slots, t.UserID) == seat {
			return nil
		}
		target := &slots[seat]
		if target.Status == constants.SlotLocked {
			target.clear()
		} else {
			if target.occupied() {
				if err := e.sessions.Enqueue(ctx, target.TokenID, serverpackets.UpdateMatch(data(m, slots), false)); err != nil {
					slog.Warn("notifying kicked player failed", "user_id", target.UserID, "error", err)
				}
			}
			target.clear()
			target.Status = constants.SlotLocked
		}
		if err := e.saveSlot(ctx, m.ID, seat, target); err != nil {
			return err
		}
		e.sendUpdates(ctx, m, slots)
		return nil
	})
}

// ChangeMods applies a mod change. Under free mod everyone owns their
// seat's mods and the host additionally owns the shared speed mods;
// otherwise only the host can touch the room mods. Changing the room
// mods unreadies the room.
func (e *Engine) ChangeMods(ctx context.Context, tokenID string, mods int32) error {
	return e.withMember(ctx, tokenID, func(m *Match, slots *Slots, t *session.Token, seat int) error {
		if m.ModMode == constants.ModModeFreeMod {
			if t.UserID == m.HostUserID {
				speed := mods & constants.ModsSpeedChanging
				if speed != m.Mods {
					m.Mods = speed
					resetReady(slots)
					if err := e.saveMatch(ctx, m); err != nil {
						return err
					}
				}
			}
			slots[seat].Mods = mods
			if err := e.saveSlots(ctx, m.ID, slots); err != nil {
				return err
			}
		} else {
			if t.UserID != m.HostUserID {
				return nil
			}
			if mods != m.Mods {
				m.Mods = mods
				resetReady(slots)
			}
			if err := e.saveMatch(ctx, m); err != nil {
				return err
			}
			if err := e.saveSlots(ctx, m.ID, slots); err != nil {
				return err
			}
		}
		e.sendUpdates(ctx, m, slots)
		return nil
	})
}

// ChangeTeam flips the session between red and blue. Team-less match
// types ignore the request.
func (e *Engine) ChangeTeam(ctx context.Context, tokenID string) error {
	return e.withMember(ctx, tokenID, func(m *Match, slots *Slots, _ *session.Token, seat int) error {
		if m.TeamType != constants.TeamTypeTeamVS && m.TeamType != constants.TeamTypeTagTeamVS {
			return nil
		}
		if slots[seat].Team == constants.TeamRed {
			slots[seat].Team = constants.TeamBlue
		} else {
			slots[seat].Team = constants.TeamRed
		}
		if err := e.saveSlot(ctx, m.ID, seat, &slots[seat]); err != nil {
			return err
		}
		e.sendUpdates(ctx, m, slots)
		return nil
	})
}

// TransferHost hands the host role to the occupant of the chosen
// seat.
func (e *Engine) TransferHost(ctx context.Context, tokenID string, seat int) error {
	if seat < 0 || seat >= constants.MatchSlots {
		return nil
	}
	return e.withHost(ctx, tokenID, func(m *Match, slots *Slots, _ *session.Token) error {
		if !slots[seat].occupied() {
			return nil
		}
		if err := e.setHost(ctx, m, slots[seat].UserID, slots[seat].TokenID); err != nil {
			return err
		}
		e.sendUpdates(ctx, m, slots)
		return nil
	})
}

// Start moves every ready seat into gameplay. With nobody ready the
// request is dropped.
func (e *Engine) Start(ctx context.Context, tokenID string) error {
	return e.withHost(ctx, tokenID, func(m *Match, slots *Slots, _ *session.Token) error {
		ready := 0
		for i := range slots {
			if slots[i].Status == constants.SlotReady {
				ready++
			}
		}
		if ready == 0 {
			return nil
		}

		m.InProgress = true
		playing := stream.MultiplayerPlaying(m.ID)
		if err := e.streams.Add(ctx, playing); err != nil {
			return fmt.Errorf("creating playing stream: %w", err)
		}
		for i := range slots {
			if slots[i].Status != constants.SlotReady {
				continue
			}
			slots[i].Status = constants.SlotPlaying
			slots[i].Loaded = false
			slots[i].Skipped = false
			slots[i].Complete = false
			slots[i].Failed = false
			if err := e.streams.Join(ctx, playing, slots[i].TokenID); err != nil {
				slog.Warn("joining player to playing stream failed",
					"user_id", slots[i].UserID, "error", err)
			}
		}
		if err := e.saveMatch(ctx, m); err != nil {
			return err
		}
		if err := e.saveSlots(ctx, m.ID, slots); err != nil {
			return err
		}

		if err := e.streams.Broadcast(ctx, playing, serverpackets.MatchStart(data(m, slots))); err != nil {
			slog.Warn("broadcasting match start failed", "match_id", m.ID, "error", err)
		}
		e.sendUpdates(ctx, m, slots)
		return nil
	})
}

// LoadComplete records that the session finished loading the map.
// Once every playing seat has, the gameplay barrier is released.
func (e *Engine) LoadComplete(ctx context.Context, tokenID string) error {
	return e.withMember(ctx, tokenID, func(m *Match, slots *Slots, _ *session.Token, seat int) error {
		if slots[seat].Status != constants.SlotPlaying {
			return nil
		}
		slots[seat].Loaded = true
		if err := e.saveSlot(ctx, m.ID, seat, &slots[seat]); err != nil {
			return err
		}
		if allPlaying(slots, func(s *Slot) bool { return s.Loaded }) {
			if err := e.streams.Broadcast(ctx, stream.MultiplayerPlaying(m.ID), serverpackets.MatchAllPlayersLoaded()); err != nil {
				slog.Warn("releasing load barrier failed", "match_id", m.ID, "error", err)
			}
		}
		return nil
	})
}

// PlayerFailed marks the seat failed and tells the other players.
func (e *Engine) PlayerFailed(ctx context.Context, tokenID string) error {
	return e.withMember(ctx, tokenID, func(m *Match, slots *Slots, _ *session.Token, seat int) error {
		if slots[seat].Status != constants.SlotPlaying {
			return nil
		}
		slots[seat].Failed = true
		if err := e.saveSlot(ctx, m.ID, seat, &slots[seat]); err != nil {
			return err
		}
		if err := e.streams.Broadcast(ctx, stream.MultiplayerPlaying(m.ID), serverpackets.MatchPlayerFailed(uint32(seat))); err != nil {
			slog.Warn("broadcasting player failure failed", "match_id", m.ID, "error", err)
		}
		return nil
	})
}

// Complete records that the session finished the map. When the last
// playing seat completes, gameplay ends and the room unreadies.
func (e *Engine) Complete(ctx context.Context, tokenID string) error {
	return e.withMember(ctx, tokenID, func(m *Match, slots *Slots, _ *session.Token, seat int) error {
		if slots[seat].Status != constants.SlotPlaying {
			return nil
		}
		slots[seat].Complete = true
		if err := e.saveSlot(ctx, m.ID, seat, &slots[seat]); err != nil {
			return err
		}
		if !allPlaying(slots, func(s *Slot) bool { return s.Complete }) {
			return nil
		}

		if err := e.finishGameplay(ctx, m, slots); err != nil {
			return err
		}
		if err := e.streams.Broadcast(ctx, stream.Multiplayer(m.ID), serverpackets.MatchComplete()); err != nil {
			slog.Warn("broadcasting match completion failed", "match_id", m.ID, "error", err)
		}
		e.sendUpdates(ctx, m, slots)
		return nil
	})
}

// SkipRequest records a skip vote and relays it. Once every playing
// seat votes, the intro skip goes out.
func (e *Engine) SkipRequest(ctx context.Context, tokenID string) error {
	return e.withMember(ctx, tokenID, func(m *Match, slots *Slots, t *session.Token, seat int) error {
		if slots[seat].Status != constants.SlotPlaying {
			return nil
		}
		slots[seat].Skipped = true
		if err := e.saveSlot(ctx, m.ID, seat, &slots[seat]); err != nil {
			return err
		}

		playing := stream.MultiplayerPlaying(m.ID)
		if err := e.streams.Broadcast(ctx, playing, serverpackets.MatchPlayerSkipped(t.UserID)); err != nil {
			slog.Warn("relaying skip vote failed", "match_id", m.ID, "error", err)
		}
		if allPlaying(slots, func(s *Slot) bool { return s.Skipped }) {
			if err := e.streams.Broadcast(ctx, playing, serverpackets.MatchSkip()); err != nil {
				slog.Warn("broadcasting skip failed", "match_id", m.ID, "error", err)
			}
		}
		return nil
	})
}

// ScoreUpdate relays a gameplay score frame, stamped with the
// sender's seat, to everyone watching the gameplay stream.
func (e *Engine) ScoreUpdate(ctx context.Context, tokenID string, frame []byte) error {
	return e.withMember(ctx, tokenID, func(m *Match, slots *Slots, _ *session.Token, seat int) error {
		pkt := serverpackets.MatchScoreUpdate(byte(seat), frame)
		if err := e.streams.Broadcast(ctx, stream.MultiplayerPlaying(m.ID), pkt); err != nil {
			return fmt.Errorf("relaying score frame: %w", err)
		}
		return nil
	})
}

// ChangePassword sets the room password and tells the members.
func (e *Engine) ChangePassword(ctx context.Context, tokenID, password string) error {
	return e.withHost(ctx, tokenID, func(m *Match, slots *Slots, _ *session.Token) error {
		m.Password = password
		if err := e.saveMatch(ctx, m); err != nil {
			return err
		}
		if err := e.streams.Broadcast(ctx, stream.Multiplayer(m.ID), serverpackets.MatchChangePassword(password)); err != nil {
			slog.Warn("broadcasting password change failed", "match_id", m.ID, "error", err)
		}
		e.sendUpdates(ctx, m, slots)
		return nil
	})
}

// Abort cancels gameplay mid-run and unreadies the room.
func (e *Engine) Abort(ctx context.Context, tokenID string) error {
	return e.withHost(ctx, tokenID, func(m *Match, slots *Slots, _ *session.Token) error {
		if !m.InProgress {
			return nil
		}
		if err := e.streams.Broadcast(ctx, stream.MultiplayerPlaying(m.ID), serverpackets.MatchAbort()); err != nil {
			slog.Warn("broadcasting abort failed", "match_id", m.ID, "error", err)
		}
		if err := e.finishGameplay(ctx, m, slots); err != nil {
			return err
		}
		e.sendUpdates(ctx, m, slots)
		return nil
	})
}

// Invite sends the invitee a join link carrying the room password.
// The chat bot and tournament clients cannot be invited.
func (e *Engine) Invite(ctx context.Context, tokenID string, inviteeUserID int32) error {
	if inviteeUserID == constants.ChatBotUserID {
		return nil
	}
	t, err := e.sessions.Get(ctx, tokenID)
	if err != nil {
		return err
	}
	if !t.InMatch() {
		return nil
	}
	return e.withMatch(ctx, t.MatchID, func(m *Match, slots *Slots) error {
		invitee, err := e.sessions.GetByUserID(ctx, inviteeUserID)
		if errors.Is(err, session.ErrTokenNotFound) {
			slog.Warn("match invitee is offline", "user_id", inviteeUserID)
			return nil
		}
		if err != nil {
			return err
		}
		if invitee.Tournament {
			return nil
		}
		message := fmt.Sprintf("Come join my multiplayer match: \"[osump://%d/%s %s]\"",
			m.ID, strings.ReplaceAll(m.Password, " ", "_"), m.Name)
		pkt := serverpackets.MatchInvite(t.Username, message, invitee.Username, t.UserID)
		if err := e.sessions.Enqueue(ctx, invitee.ID, pkt); err != nil {
			slog.Warn("delivering match invite failed", "user_id", inviteeUserID, "error", err)
		}
		return nil
	})
}

// withMatch runs fn holding the match lease. A match disposed between
// lookup and lock is a silent no-op.
func (e *Engine) withMatch(ctx context.Context, matchID int32, fn func(m *Match, slots *Slots) error) error {
	lease, err := e.store.AcquireLease(ctx, lockKey(matchID), kv.DefaultLeaseTTL)
	if err != nil {
		return err
	}
	defer lease.Release(context.Background())

	m, slots, err := e.load(ctx, matchID)
	if err != nil || m == nil {
		return err
	}
	return fn(m, slots)
}

// withMember locks the session's current match and hands fn their
// seat. Sessions outside a match and missing seats are no-ops.
func (e *Engine) withMember(ctx context.Context, tokenID string, fn func(m *Match, slots *Slots, t *session.Token, seat int) error) error {
	t, err := e.sessions.Get(ctx, tokenID)
	if err != nil {
		return err
	}
	if !t.InMatch() {
		return nil
	}
	return e.withMatch(ctx, t.MatchID, func(m *Match, slots *Slots) error {
		seat := seatOf(slots, t.UserID)
		if seat == -1 {
			return nil
		}
		return fn(m, slots, t, seat)
	})
}

// withHost is withMatch gated on the session being the room host.
// Tourney hosts manage without occupying a seat, so no seat is
// required here.
func (e *Engine) withHost(ctx context.Context, tokenID string, fn func(m *Match, slots *Slots, t *session.Token) error) error {
	t, err := e.sessions.Get(ctx, tokenID)
	if err != nil {
		return err
	}
	if !t.InMatch() {
		return nil
	}
	return e.withMatch(ctx, t.MatchID, func(m *Match, slots *Slots) error {
		if t.UserID != m.HostUserID {
			return nil
		}
		return fn(m, slots, t)
	})
}

func (e *Engine) setHost(ctx context.Context, m *Match, userID int32, tokenID string) error {
	m.HostUserID = userID
	if err := e.saveMatch(ctx, m); err != nil {
		return err
	}
	if err := e.sessions.Enqueue(ctx, tokenID, serverpackets.MatchTransferHost()); err != nil {
		slog.Warn("notifying new host failed", "user_id", userID, "error", err)
	}
	return nil
}

// finishGameplay resets every playing seat to not ready and takes it
// off the gameplay stream. Tourney manager clients stay subscribed.
func (e *Engine) finishGameplay(ctx context.Context, m *Match, slots *Slots) error {
	m.InProgress = false
	playing := stream.MultiplayerPlaying(m.ID)
	for i := range slots {
		if slots[i].Status != constants.SlotPlaying {
			continue
		}
		slots[i].Status = constants.SlotNotReady
		slots[i].Loaded = false
		slots[i].Skipped = false
		slots[i].Complete = false
		slots[i].Failed = false
		if err := e.streams.Leave(ctx, playing, slots[i].TokenID); err != nil {
			slog.Warn("removing player from playing stream failed",
				"user_id", slots[i].UserID, "error", err)
		}
	}
	if err := e.saveMatch(ctx, m); err != nil {
		return err
	}
	return e.saveSlots(ctx, m.ID, slots)
}

// dispose tears the room down: state keys, streams, channel and the
// lobby listing entry.
func (e *Engine) dispose(ctx context.Context, m *Match) error {
	if err := e.deleteKeys(ctx, m.ID); err != nil {
		return err
	}
	if err := e.channels.Remove(ctx, channel.MatchChannel(m.ID)); err != nil {
		slog.Warn("removing match channel failed", "match_id", m.ID, "error", err)
	}
	if err := e.streams.Remove(ctx, stream.Multiplayer(m.ID)); err != nil {
		slog.Warn("removing match stream failed", "match_id", m.ID, "error", err)
	}
	if err := e.streams.Remove(ctx, stream.MultiplayerPlaying(m.ID)); err != nil {
		slog.Warn("removing playing stream failed", "match_id", m.ID, "error", err)
	}
	if err := e.streams.Broadcast(ctx, stream.Lobby, serverpackets.DisposeMatch(uint32(m.ID))); err != nil {
		slog.Warn("announcing match disposal failed", "match_id", m.ID, "error", err)
	}
	slog.Info("match disposed", "match_id", m.ID, "name", m.Name)
	return nil
}

// sendUpdates pushes the room state to its members and a censored
// copy to the lobby listing. Tourney rooms mirror the uncensored form
// onto the gameplay stream for manager clients.
func (e *Engine) sendUpdates(ctx context.Context, m *Match, slots *Slots) {
	d := data(m, slots)
	if err := e.streams.Broadcast(ctx, stream.Multiplayer(m.ID), serverpackets.UpdateMatch(d, false)); err != nil {
		slog.Warn("broadcasting match update failed", "match_id", m.ID, "error", err)
	}
	if m.Tourney {
		if err := e.streams.Broadcast(ctx, stream.MultiplayerPlaying(m.ID), serverpackets.UpdateMatch(d, false)); err != nil {
			slog.Warn("broadcasting tourney update failed", "match_id", m.ID, "error", err)
		}
	}
	if err := e.streams.Broadcast(ctx, stream.Lobby, serverpackets.UpdateMatch(d, true)); err != nil {
		slog.Warn("broadcasting lobby update failed", "match_id", m.ID, "error", err)
	}
}

func seatOf(slots *Slots, userID int32) int {
	for i := range slots {
		if slots[i].occupied() && slots[i].UserID == userID {
			return i
		}
	}
	return -1
}

func countOccupied(slots *Slots) int {
	n := 0
	for i := range slots {
		if slots[i].occupied() {
			n++
		}
	}
	return n
}

// resetReady drops ready seats back to not ready.
func resetReady(slots *Slots) {
	for i := range slots {
		if slots[i].Status == constants.SlotReady {
			slots[i].Status = constants.SlotNotReady
		}
	}
}

// initTeams reseats everyone's team for the room's team type:
// alternating red and blue for the versus types, none otherwise.
func initTeams(m *Match, slots *Slots) {
	for i := range slots {
		if !slots[i].occupied() {
			continue
		}
		switch m.TeamType {
		case constants.TeamTypeTeamVS, constants.TeamTypeTagTeamVS:
			if i%2 == 0 {
				slots[i].Team = constants.TeamRed
			} else {
				slots[i].Team = constants.TeamBlue
			}
		default:
			slots[i].Team = constants.TeamNone
		}
	}
}

// allPlaying reports whether every playing seat satisfies done, with
// at least one seat playing.
func allPlaying(slots *Slots, done func(*Slot) bool) bool {
	any := false
	for i := range slots {
		if slots[i].Status != constants.SlotPlaying {
			continue
		}
		any = true
		if !done(&slots[i]) {
			return false
		}
	}
	return any
}
