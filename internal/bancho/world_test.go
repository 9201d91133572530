package bancho

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/shirokane/gobancho/internal/channel"
	"github.com/shirokane/gobancho/internal/chat"
	"github.com/shirokane/gobancho/internal/clientpackets"
	"github.com/shirokane/gobancho/internal/clock"
	"github.com/shirokane/gobancho/internal/config"
	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/db"
	"github.com/shirokane/gobancho/internal/kv"
	"github.com/shirokane/gobancho/internal/match"
	"github.com/shirokane/gobancho/internal/metrics"
	"github.com/shirokane/gobancho/internal/packet"
	"github.com/shirokane/gobancho/internal/session"
	"github.com/shirokane/gobancho/internal/spectator"
	"github.com/shirokane/gobancho/internal/stream"
)

const (
	plebPrivileges = constants.UserPublic | constants.UserNormal
	testPassword   = "0cc175b9c0f1b6a831c399e269772661"
)

// fakeUsers backs both the session registry and the server's own user
// store. The mutex matters for the socket tests, where server
// goroutines hit it concurrently.
type fakeUsers struct {
	mu       sync.Mutex
	users    map[int32]*db.User
	stats    map[int32]*db.Stats
	friends  map[int32][]int32
	activity map[int32]int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		users:    map[int32]*db.User{},
		stats:    map[int32]*db.Stats{},
		friends:  map[int32][]int32{},
		activity: map[int32]int{},
	}
}

func (f *fakeUsers) add(u *db.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
}

func (f *fakeUsers) setPrivileges(id, privileges int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.Privileges = privileges
	}
}

func (f *fakeUsers) setStats(id int32, s *db.Stats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[id] = s
}

func (f *fakeUsers) befriend(userID, friendID int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.friends[userID] = append(f.friends[userID], friendID)
}

func (f *fakeUsers) GetUserByID(_ context.Context, id int32) (*db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id], nil
}

func (f *fakeUsers) GetUserByName(_ context.Context, username string) (*db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	safe := db.SafeUsername(username)
	for _, u := range f.users {
		if u.SafeUsername == safe {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) GetPrivileges(_ context.Context, id int32) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return u.Privileges, nil
	}
	return 0, nil
}

func (f *fakeUsers) GetStats(_ context.Context, id int32, _ byte, _ int16) (*db.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.stats[id]; ok {
		return s, nil
	}
	return &db.Stats{}, nil
}

func (f *fakeUsers) SetSilence(_ context.Context, id int32, end time.Time, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.SilenceEnd = end
		u.SilenceReason = reason
	}
	return nil
}

func (f *fakeUsers) GetFriends(_ context.Context, userID int32) ([]int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.friends[userID]), nil
}

func (f *fakeUsers) AddFriend(_ context.Context, userID, friendID int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !slices.Contains(f.friends[userID], friendID) {
		f.friends[userID] = append(f.friends[userID], friendID)
	}
	return nil
}

func (f *fakeUsers) RemoveFriend(_ context.Context, userID, friendID int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.friends[userID] = slices.DeleteFunc(f.friends[userID], func(id int32) bool {
		return id == friendID
	})
	return nil
}

func (f *fakeUsers) UpdateLatestActivity(_ context.Context, userID int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity[userID]++
	return nil
}

type world struct {
	store    kv.KV
	clk      *clock.Virtual
	users    *fakeUsers
	cfg      config.Config
	sessions *session.Registry
	streams  *stream.Registry
	channels *channel.Registry
	chatman  *chat.Manager
	engine   *match.Engine
	srv      *Server
}

func newWorld(t *testing.T) *world {
	t.Helper()
	store := kv.NewMemory()
	clk := clock.NewVirtual(time.Unix(1700000000, 0))
	w := buildWorld(t, store, clk)
	w.clk = clk
	return w
}

func buildWorld(t *testing.T, store kv.KV, clk clock.Clock) *world {
	t.Helper()
	cfg := config.Default()
	users := newFakeUsers()

	sessions := session.New(store, clk, users, metrics.Noop{}, cfg.Server.BotName)
	streams := stream.New(store, sessions, metrics.Noop{})
	sessions.SetBroadcaster(streams)
	channels := channel.New(store, streams)
	chatman := chat.New(sessions, channels, streams, users, clk)
	spectators := spectator.New(sessions, channels, streams, chatman)
	engine := match.New(store, sessions, streams, channels, chatman, clk)

	srv := New(cfg, Services{
		Store:      store,
		Users:      users,
		Clock:      clk,
		Metrics:    metrics.Noop{},
		Sessions:   sessions,
		Streams:    streams,
		Channels:   channels,
		Chat:       chatman,
		Spectators: spectators,
		Matches:    engine,
	})
	if err := srv.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	return &world{
		store:    store,
		users:    users,
		cfg:      cfg,
		sessions: sessions,
		streams:  streams,
		channels: channels,
		chatman:  chatman,
		engine:   engine,
		srv:      srv,
	}
}

func (w *world) addUser(t *testing.T, id int32, name string, privileges int32) *db.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	u := &db.User{
		ID:           id,
		Username:     name,
		SafeUsername: db.SafeUsername(name),
		PasswordHash: string(hash),
		Privileges:   privileges,
	}
	w.users.add(u)
	return u
}

func (w *world) request(name string, tourney bool) *loginRequest {
	build := "b20250815"
	if tourney {
		build += "tourney"
	}
	return &loginRequest{
		Username:    name,
		PasswordMD5: testPassword,
		Build:       build,
		UTCOffset:   2,
		Tournament:  tourney,
	}
}

// login registers the user if needed, runs the full login flow and
// leaves the queue drained.
func (w *world) login(t *testing.T, id int32, name string) *session.Token {
	t.Helper()
	return w.loginPriv(t, id, name, plebPrivileges)
}

func (w *world) loginPriv(t *testing.T, id int32, name string, privileges int32) *session.Token {
	t.Helper()
	if _, ok := w.users.users[id]; !ok {
		w.addUser(t, id, name, privileges)
	}
	tok, err := w.srv.login(context.Background(), w.request(name, false), "127.0.0.1")
	if err != nil {
		t.Fatalf("logging in %s: %v", name, err)
	}
	w.drain(t, tok.ID)
	return tok
}

func (w *world) loginTourney(t *testing.T, id int32, name string) *session.Token {
	t.Helper()
	if _, ok := w.users.users[id]; !ok {
		w.addUser(t, id, name, plebPrivileges)
	}
	tok, err := w.srv.login(context.Background(), w.request(name, true), "127.0.0.1")
	if err != nil {
		t.Fatalf("logging in %s (tourney): %v", name, err)
	}
	w.drain(t, tok.ID)
	return tok
}

func (w *world) drain(t *testing.T, tokenID string) [][]byte {
	t.Helper()
	chunks, err := w.sessions.Drain(context.Background(), tokenID)
	if err != nil {
		t.Fatalf("draining queue: %v", err)
	}
	return chunks
}

func (w *world) reload(t *testing.T, tokenID string) *session.Token {
	t.Helper()
	tok, err := w.sessions.Get(context.Background(), tokenID)
	if err != nil {
		t.Fatalf("reloading token: %v", err)
	}
	return tok
}

func (w *world) exists(t *testing.T, tokenID string) bool {
	t.Helper()
	ok, err := w.sessions.Exists(context.Background(), tokenID)
	if err != nil {
		t.Fatalf("checking session: %v", err)
	}
	return ok
}

func (w *world) dispatch(t *testing.T, tokenID string, id uint16, payload []byte) {
	t.Helper()
	if err := w.srv.dispatch(context.Background(), tokenID, id, payload); err != nil {
		t.Fatalf("dispatching packet %d: %v", id, err)
	}
}

// frameIDs decodes the packet ids of every frame in the drained
// chunks, in queue order.
func frameIDs(t *testing.T, chunks [][]byte) []uint16 {
	t.Helper()
	var ids []uint16
	for _, c := range chunks {
		for len(c) > 0 {
			h, err := packet.ParseHeader(c)
			if err != nil {
				t.Fatalf("parsing frame header: %v", err)
			}
			ids = append(ids, h.ID)
			c = c[packet.HeaderLength+int(h.Length):]
		}
	}
	return ids
}

// framePayload returns the payload of the first frame with the given
// id, failing the test when none is queued.
func framePayload(t *testing.T, chunks [][]byte, id uint16) []byte {
	t.Helper()
	for _, c := range chunks {
		for len(c) > 0 {
			h, err := packet.ParseHeader(c)
			if err != nil {
				t.Fatalf("parsing frame header: %v", err)
			}
			if h.ID == id {
				return c[packet.HeaderLength : packet.HeaderLength+int(h.Length)]
			}
			c = c[packet.HeaderLength+int(h.Length):]
		}
	}
	t.Fatalf("no frame with id %d queued", id)
	return nil
}

func hasFrame(t *testing.T, chunks [][]byte, id uint16) bool {
	t.Helper()
	return slices.Contains(frameIDs(t, chunks), id)
}

func i32Payload(v int32) []byte {
	w := packet.NewWriter(4)
	w.WriteInt32(v)
	return w.Bytes()
}

func idListPayload(ids ...int32) []byte {
	w := packet.NewWriter(2 + 4*len(ids))
	w.WriteIntList(ids)
	return w.Bytes()
}

func channelPayload(name string) []byte {
	w := packet.NewWriter(32)
	w.WriteString(name)
	return w.Bytes()
}

func messagePayload(message, target string) []byte {
	w := packet.NewWriter(64)
	w.WriteString("")
	w.WriteString(message)
	w.WriteString(target)
	w.WriteInt32(0)
	return w.Bytes()
}

func awayPayload(message string) []byte {
	w := packet.NewWriter(32)
	w.WriteString("")
	w.WriteString(message)
	w.WriteString("")
	w.WriteInt32(0)
	return w.Bytes()
}

func actionPayload(a clientpackets.ChangeAction) []byte {
	w := packet.NewWriter(64)
	w.WriteByte(a.ActionID)
	w.WriteString(a.ActionText)
	w.WriteString(a.ActionMD5)
	w.WriteUint32(uint32(a.ActionMods))
	w.WriteByte(a.GameMode)
	w.WriteInt32(a.BeatmapID)
	return w.Bytes()
}

func joinMatchPayload(matchID int32, password string) []byte {
	w := packet.NewWriter(64)
	w.WriteInt32(matchID)
	w.WriteString(password)
	return w.Bytes()
}

// busyStore simulates a contended session: acquiring the named lease
// times out, everything else passes through.
type busyStore struct {
	kv.KV
	busy string
}

func (b *busyStore) AcquireLease(ctx context.Context, name string, ttl time.Duration) (kv.Lease, error) {
	if name == b.busy {
		return nil, kv.ErrLockTimeout
	}
	return b.KV.AcquireLease(ctx, name, ttl)
}

// withBusyLock builds a second server over the same world whose store
// refuses the given lease.
func (w *world) withBusyLock(name string) *Server {
	svc := w.srv.svc
	svc.Store = &busyStore{KV: w.store, busy: name}
	return New(w.cfg, svc)
}
