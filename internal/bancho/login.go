package bancho

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/serverpackets"
	"github.com/shirokane/gobancho/internal/session"
	"github.com/shirokane/gobancho/internal/stream"
)

var (
	errWrongCredentials = errors.New("wrong credentials")
	errBanned           = errors.New("account banned")
)

// loginRequest is the parsed three-line handshake a client opens the
// connection with: username, password hash and the client info line.
type loginRequest struct {
	Username    string
	PasswordMD5 string

	// Fields of the client info line: build|utc_offset|display_city|
	// client_hashes|block_non_friends_dm.
	Build             string
	UTCOffset         int32
	ClientHashes      string
	BlockNonFriendsDM bool

	// Tournament clients announce themselves through the build suffix
	// and coexist with the user's regular session.
	Tournament bool
}

func readLoginRequest(br *bufio.Reader) (*loginRequest, error) {
	username, err := readLoginLine(br)
	if err != nil {
		return nil, fmt.Errorf("reading username: %w", err)
	}
	password, err := readLoginLine(br)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	info, err := readLoginLine(br)
	if err != nil {
		return nil, fmt.Errorf("reading client info: %w", err)
	}
	return parseLoginRequest(username, password, info)
}

func readLoginLine(br *bufio.Reader) (string, error) {
	line, isPrefix, err := br.ReadLine()
	if err != nil {
		return "", err
	}
	if isPrefix {
		return "", errors.New("line too long")
	}
	return string(line), nil
}

func parseLoginRequest(username, password, info string) (*loginRequest, error) {
	if username == "" || password == "" {
		return nil, errors.New("empty username or password")
	}
	parts := strings.Split(info, "|")
	if len(parts) < 5 {
		return nil, fmt.Errorf("client info has %d fields, want 5", len(parts))
	}
	utcOffset, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("parsing utc offset: %w", err)
	}
	return &loginRequest{
		Username:          username,
		PasswordMD5:       password,
		Build:             parts[0],
		UTCOffset:         int32(utcOffset),
		ClientHashes:      parts[3],
		BlockNonFriendsDM: parts[4] == "1",
		Tournament:        strings.HasSuffix(parts[0], "tourney"),
	}, nil
}

// login authenticates the request and registers the session, leaving
// the full login packet run in its queue. Refusals come back as
// errWrongCredentials or errBanned; anything else is a server fault.
func (s *Server) login(ctx context.Context, req *loginRequest, ip string) (*session.Token, error) {
	user, err := s.svc.Users.GetUserByName(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if user == nil {
		return nil, errWrongCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.PasswordMD5)); err != nil {
		return nil, errWrongCredentials
	}
	if constants.IsBanned(user.Privileges) {
		return nil, errBanned
	}

	// One live session per user. Tournament clients are the exception
	// and run alongside the regular one.
	if !req.Tournament {
		if err := s.evictSessions(ctx, user.ID); err != nil {
			return nil, err
		}
	}

	t, err := s.svc.Sessions.Create(ctx, user, session.CreateOptions{
		IP:                ip,
		Tournament:        req.Tournament,
		UTCOffset:         req.UTCOffset,
		BlockNonFriendsDM: req.BlockNonFriendsDM,
	})
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	if err := s.svc.Streams.Join(ctx, stream.Main, t.ID); err != nil {
		return nil, fmt.Errorf("joining main stream: %w", err)
	}

	if err := s.loginSequence(ctx, t); err != nil {
		return nil, err
	}

	if !t.Restricted() {
		if err := s.svc.Streams.Broadcast(ctx, stream.Main, serverpackets.UserPanel(t.Panel()), t.ID); err != nil {
			slog.Warn("announcing login failed", "user_id", t.UserID, "error", err)
		}
	}
	if err := s.svc.Sessions.CheckRestricted(ctx, t.ID); err != nil {
		slog.Warn("restriction check failed", "user_id", t.UserID, "error", err)
	}
	if err := s.svc.Users.UpdateLatestActivity(ctx, user.ID); err != nil {
		slog.Warn("recording login activity failed", "user_id", user.ID, "error", err)
	}

	slog.Info("user logged in",
		"username", user.Username,
		"user_id", user.ID,
		"build", req.Build,
		"tournament", req.Tournament)

	return t, nil
}

func (s *Server) evictSessions(ctx context.Context, userID int32) error {
	others, err := s.svc.Sessions.AllByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing existing sessions: %w", err)
	}
	for _, old := range others {
		if old.Tournament {
			continue
		}
		slog.Info("evicting older session", "user_id", userID, "token_id", old.ID)
		if err := s.logout(ctx, old.ID); err != nil {
			return fmt.Errorf("evicting session %s: %w", old.ID, err)
		}
	}
	return nil
}

// loginSequence queues the canonical post-login packet run: identity,
// silence state, protocol handshake, rank flags, friends, the client's
// own panel and stats, the channel catalogue, the bot and the online
// bundle.
func (s *Server) loginSequence(ctx context.Context, t *session.Token) error {
	friends, err := s.svc.Users.GetFriends(ctx, t.UserID)
	if err != nil {
		return fmt.Errorf("loading friends: %w", err)
	}

	seq := [][]byte{
		serverpackets.UserID(t.UserID),
		serverpackets.SilenceEnd(uint32(t.SilenceSecondsLeft(s.svc.Clock.Now()))),
		serverpackets.ProtocolVersion(constants.ProtocolVersion),
		serverpackets.SupporterGMT(
			t.Privileges&constants.UserDonor != 0,
			t.Staff(),
			t.Privileges&constants.UserTournamentStaff != 0,
		),
		serverpackets.FriendsList(friends),
		serverpackets.UserPanel(t.Panel()),
		serverpackets.UserStats(t.Stats()),
	}

	channels, err := s.svc.Channels.All(ctx)
	if err != nil {
		return fmt.Errorf("listing channels: %w", err)
	}
	sortChannels(channels)
	for _, c := range channels {
		if c.Instance {
			continue
		}
		if !c.PublicRead && !t.Staff() {
			continue
		}
		count, err := s.svc.Streams.ClientCount(ctx, stream.Chat(c.Name))
		if err != nil {
			return fmt.Errorf("counting %s members: %w", c.Name, err)
		}
		seq = append(seq, serverpackets.ChannelInfo(c.Name, c.Description, uint16(count)))
	}
	seq = append(seq, serverpackets.ChannelInfoEnd())

	seq = append(seq,
		serverpackets.BotPanel(s.svc.Sessions.BotName()),
		serverpackets.BotStats(),
	)

	online, err := s.visibleUserIDs(ctx, t)
	if err != nil {
		return err
	}
	seq = append(seq, serverpackets.UserPresenceBundle(online))

	for _, data := range seq {
		if err := s.svc.Sessions.Enqueue(ctx, t.ID, data); err != nil {
			return fmt.Errorf("queueing login sequence: %w", err)
		}
	}
	return nil
}

// visibleUserIDs lists the online user ids the viewer may see.
// Restricted users stay visible to themselves and to their friends.
func (s *Server) visibleUserIDs(ctx context.Context, viewer *session.Token) ([]int32, error) {
	tokens, err := s.svc.Sessions.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	seen := make(map[int32]bool, len(tokens))
	ids := make([]int32, 0, len(tokens))
	for _, other := range tokens {
		if seen[other.UserID] {
			continue
		}
		visible, err := s.visibleTo(ctx, viewer, other)
		if err != nil {
			return nil, err
		}
		if !visible {
			continue
		}
		seen[other.UserID] = true
		ids = append(ids, other.UserID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Server) visibleTo(ctx context.Context, viewer, target *session.Token) (bool, error) {
	if !target.Restricted() || target.UserID == viewer.UserID {
		return true, nil
	}
	friends, err := s.svc.Users.GetFriends(ctx, target.UserID)
	if err != nil {
		return false, fmt.Errorf("loading friends of %d: %w", target.UserID, err)
	}
	return slices.Contains(friends, viewer.UserID), nil
}
