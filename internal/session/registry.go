// Package session keeps every connected client's state in the shared
// store, one hash per token plus collection keys for channels,
// spectators and the outbound queue. Replicas never cache a session:
// each operation reads or writes the store directly, so a handler on
// any replica sees the same user.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shirokane/gobancho/internal/clock"
	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/db"
	"github.com/shirokane/gobancho/internal/kv"
	"github.com/shirokane/gobancho/internal/metrics"
)

// ErrTokenNotFound marks a lookup for a session that does not exist
// or has already been destroyed.
var ErrTokenNotFound = errors.New("session: token not found")

// UserStore is the slice of the database the session layer needs.
type UserStore interface {
	GetUserByID(ctx context.Context, userID int32) (*db.User, error)
	GetPrivileges(ctx context.Context, userID int32) (int32, error)
	GetStats(ctx context.Context, userID int32, mode byte, special int16) (*db.Stats, error)
	SetSilence(ctx context.Context, userID int32, end time.Time, reason string) error
}

// Broadcaster fans bytes out to a stream's members. Implemented by the
// stream registry and wired in after construction, because streams
// resolve their members back through this package.
type Broadcaster interface {
	Broadcast(ctx context.Context, stream string, data []byte, except ...string) error
}

// ModerationHook receives human-readable moderation events.
type ModerationHook interface {
	Moderation(message string)
}

// Registry owns session lifecycle and per-session state transitions.
type Registry struct {
	store       kv.KV
	clk         clock.Clock
	users       UserStore
	sink        metrics.Sink
	broadcaster Broadcaster
	hook        ModerationHook
	botName     string
}

// New builds a Registry. The broadcaster and moderation hook are wired
// separately since they depend on this registry themselves.
func New(store kv.KV, clk clock.Clock, users UserStore, sink metrics.Sink, botName string) *Registry {
	return &Registry{
		store:   store,
		clk:     clk,
		users:   users,
		sink:    sink,
		botName: botName,
	}
}

// SetBroadcaster wires the stream fan-out used for silence announces.
func (r *Registry) SetBroadcaster(b Broadcaster) { r.broadcaster = b }

// SetModerationHook wires the webhook notifier for auto-silences.
func (r *Registry) SetModerationHook(h ModerationHook) { r.hook = h }

// BotName returns the configured chat bot display name.
func (r *Registry) BotName() string { return r.botName }

// CreateOptions carries the connection-scoped parts of a new session.
type CreateOptions struct {
	// TokenID overrides the generated id when non-empty.
	TokenID           string
	IP                string
	IRC               bool
	Tournament        bool
	UTCOffset         int32
	BlockNonFriendsDM bool
}

// Create registers a session for the user and caches their stats. The
// caller joins the main stream and runs the login packet sequence.
func (r *Registry) Create(ctx context.Context, user *db.User, opts CreateOptions) (*Token, error) {
	now := r.clk.Now()
	tokenID := opts.TokenID
	if tokenID == "" {
		tokenID = uuid.NewString()
	}

	t := &Token{
		ID:                tokenID,
		UserID:            user.ID,
		Username:          user.Username,
		SafeUsername:      user.SafeUsername,
		Privileges:        user.Privileges,
		Whitelist:         byte(user.Whitelist),
		IP:                opts.IP,
		IRC:               opts.IRC,
		Tournament:        opts.Tournament,
		UTCOffset:         opts.UTCOffset,
		LoginTime:         now.Unix(),
		PingTime:          now.Unix(),
		SilenceEndTime:    user.SilenceEnd.Unix(),
		ProtocolVersion:   constants.ProtocolVersion,
		MatchID:           -1,
		GameMode:          constants.GameModeStd,
		ActionID:          constants.ActionIdle,
		BlockNonFriendsDM: opts.BlockNonFriendsDM,
	}
	if t.SilenceEndTime < 0 {
		t.SilenceEndTime = 0
	}

	if err := r.store.HSet(ctx, tokenKey(tokenID), t.fields()); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}
	if err := r.store.SAdd(ctx, tokensSetKey, tokenID); err != nil {
		return nil, fmt.Errorf("registering session: %w", err)
	}

	if err := r.UpdateCachedStats(ctx, tokenID); err != nil {
		slog.Warn("caching stats at login failed",
			"user_id", user.ID, "error", err)
	}

	// Record the ip for the website's login cache.
	if opts.IP != "" {
		if err := r.store.SAdd(ctx, ipSetKey(user.ID), opts.IP); err != nil {
			slog.Warn("recording session ip failed", "user_id", user.ID, "error", err)
		}
	}

	r.updateOnlineCount(ctx)
	return r.Get(ctx, tokenID)
}

// CreateBot registers the resident chat bot session. The bot has no
// socket and no database row behind it.
func (r *Registry) CreateBot(ctx context.Context) (*Token, error) {
	now := r.clk.Now()
	t := &Token{
		ID:              uuid.NewString(),
		UserID:          constants.ChatBotUserID,
		Username:        r.botName,
		SafeUsername:    db.SafeUsername(r.botName),
		Privileges:      constants.UserPublic | constants.UserNormal | constants.AdminChatMod,
		LoginTime:       now.Unix(),
		PingTime:        now.Unix(),
		ProtocolVersion: constants.ProtocolVersion,
		MatchID:         -1,
	}

	if err := r.store.HSet(ctx, tokenKey(t.ID), t.fields()); err != nil {
		return nil, fmt.Errorf("storing bot session: %w", err)
	}
	if err := r.store.SAdd(ctx, tokensSetKey, t.ID); err != nil {
		return nil, fmt.Errorf("registering bot session: %w", err)
	}
	r.updateOnlineCount(ctx)
	return t, nil
}

// Delete destroys the session and every key hanging off it. Stream
// memberships are the stream registry's keys; callers leave streams
// before deleting.
func (r *Registry) Delete(ctx context.Context, tokenID string) error {
	t, err := r.Get(ctx, tokenID)
	if errors.Is(err, ErrTokenNotFound) {
		slog.Warn("deleting a session that does not exist", "token_id", tokenID)
		return nil
	}
	if err != nil {
		return err
	}

	if err := r.store.SRem(ctx, tokensSetKey, tokenID); err != nil {
		return fmt.Errorf("unregistering session: %w", err)
	}
	if t.IP != "" {
		if err := r.store.SRem(ctx, ipSetKey(t.UserID), t.IP); err != nil {
			slog.Warn("removing session ip failed", "user_id", t.UserID, "error", err)
		}
	}
	err = r.store.Del(ctx,
		tokenKey(tokenID),
		queueKey(tokenID),
		queueSizeKey(tokenID),
		channelsKey(tokenID),
		spectatorsKey(tokenID),
		sentAwayKey(tokenID),
		historyKey(tokenID),
	)
	if err != nil {
		return fmt.Errorf("deleting session keys: %w", err)
	}

	r.updateOnlineCount(ctx)
	return nil
}

// Get returns a snapshot of the session.
func (r *Registry) Get(ctx context.Context, tokenID string) (*Token, error) {
	fields, err := r.store.HGetAll(ctx, tokenKey(tokenID))
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
	}
	return tokenFromFields(tokenID, fields)
}

// Exists reports whether the token id is registered.
func (r *Registry) Exists(ctx context.Context, tokenID string) (bool, error) {
	return r.store.SIsMember(ctx, tokensSetKey, tokenID)
}

// Privileges returns the session's cached privilege bitmask without
// loading the whole hash.
func (r *Registry) Privileges(ctx context.Context, tokenID string) (int32, error) {
	raw, err := r.store.HGet(ctx, tokenKey(tokenID), "privileges")
	if errors.Is(err, kv.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
	}
	if err != nil {
		return 0, fmt.Errorf("reading session: %w", err)
	}
	privileges, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing session privileges: %w", err)
	}
	return int32(privileges), nil
}

// TokenIDs lists every registered token id.
func (r *Registry) TokenIDs(ctx context.Context) ([]string, error) {
	return r.store.SMembers(ctx, tokensSetKey)
}

// All returns a snapshot of every session. Tokens destroyed mid-scan
// are skipped.
func (r *Registry) All(ctx context.Context) ([]*Token, error) {
	ids, err := r.TokenIDs(ctx)
	if err != nil {
		return nil, err
	}
	tokens := make([]*Token, 0, len(ids))
	for _, id := range ids {
		t, err := r.Get(ctx, id)
		if errors.Is(err, ErrTokenNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, nil
}

// GetByUserID returns the first session belonging to the user.
func (r *Registry) GetByUserID(ctx context.Context, userID int32) (*Token, error) {
	tokens, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		if t.UserID == userID {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: user %d", ErrTokenNotFound, userID)
}

// AllByUserID returns every session belonging to the user. Multiple
// sessions appear while tournament clients are connected alongside the
// game client.
func (r *Registry) AllByUserID(ctx context.Context, userID int32) ([]*Token, error) {
	tokens, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	var matched []*Token
	for _, t := range tokens {
		if t.UserID == userID {
			matched = append(matched, t)
		}
	}
	return matched, nil
}

// GetByUsername returns the first session matching the name, compared
// in safe form.
func (r *Registry) GetByUsername(ctx context.Context, username string) (*Token, error) {
	safe := db.SafeUsername(username)
	tokens, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		if t.SafeUsername == safe {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, username)
}

// EnqueueAll queues bytes for every session.
func (r *Registry) EnqueueAll(ctx context.Context, data []byte) error {
	ids, err := r.TokenIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := r.Enqueue(ctx, id, data); err != nil {
			slog.Warn("enqueue failed during fan-out", "token_id", id, "error", err)
		}
	}
	return nil
}

// EnqueueToUsers queues bytes for every session of the listed users.
func (r *Registry) EnqueueToUsers(ctx context.Context, data []byte, userIDs ...int32) error {
	wanted := make(map[int32]struct{}, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = struct{}{}
	}
	tokens, err := r.All(ctx)
	if err != nil {
		return err
	}
	for _, t := range tokens {
		if _, ok := wanted[t.UserID]; !ok {
			continue
		}
		if err := r.Enqueue(ctx, t.ID, data); err != nil {
			slog.Warn("enqueue failed during fan-out", "token_id", t.ID, "error", err)
		}
	}
	return nil
}

// OnlineCount returns the number of registered sessions.
func (r *Registry) OnlineCount(ctx context.Context) (int64, error) {
	return r.store.SCard(ctx, tokensSetKey)
}

// updateOnlineCount mirrors the session count into the store for the
// website and into the metrics gauge.
func (r *Registry) updateOnlineCount(ctx context.Context) {
	n, err := r.OnlineCount(ctx)
	if err != nil {
		slog.Warn("counting online users failed", "error", err)
		return
	}
	if err := r.store.Set(ctx, onlineUsersKey, fmt.Sprintf("%d", n)); err != nil {
		slog.Warn("publishing online user count failed", "error", err)
	}
	r.sink.SetOnlineUsers(n)
}
