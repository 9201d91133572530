package match

import (
	"bytes"
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shirokane/gobancho/internal/channel"
	"github.com/shirokane/gobancho/internal/chat"
	"github.com/shirokane/gobancho/internal/clock"
	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/db"
	"github.com/shirokane/gobancho/internal/kv"
	"github.com/shirokane/gobancho/internal/metrics"
	"github.com/shirokane/gobancho/internal/serverpackets"
	"github.com/shirokane/gobancho/internal/session"
	"github.com/shirokane/gobancho/internal/stream"
)

const plebPrivileges = constants.UserPublic | constants.UserNormal

type fakeUsers struct {
	users map[int32]*db.User
}

func (f *fakeUsers) GetUserByID(_ context.Context, id int32) (*db.User, error) {
	return f.users[id], nil
}

func (f *fakeUsers) GetPrivileges(_ context.Context, id int32) (int32, error) {
	if u, ok := f.users[id]; ok {
		return u.Privileges, nil
	}
	return 0, nil
}

func (f *fakeUsers) GetStats(context.Context, int32, byte, int16) (*db.Stats, error) {
	return &db.Stats{}, nil
}

func (f *fakeUsers) SetSilence(_ context.Context, id int32, end time.Time, reason string) error {
	if u, ok := f.users[id]; ok {
		u.SilenceEnd = end
		u.SilenceReason = reason
	}
	return nil
}

type fakeFriends struct{}

func (fakeFriends) GetFriends(context.Context, int32) ([]int32, error) { return nil, nil }

type world struct {
	sessions *session.Registry
	channels *channel.Registry
	streams  *stream.Registry
	engine   *Engine
	users    *fakeUsers
}

func newWorld(t *testing.T) *world {
	t.Helper()
	store := kv.NewMemory()
	clk := clock.NewVirtual(time.Unix(1700000000, 0))
	users := &fakeUsers{users: map[int32]*db.User{}}

	sessions := session.New(store, clk, users, metrics.Noop{}, "BanchoBot")
	streams := stream.New(store, sessions, metrics.Noop{})
	sessions.SetBroadcaster(streams)
	channels := channel.New(store, streams)
	chatman := chat.New(sessions, channels, streams, fakeFriends{}, clk)

	for _, name := range []string{stream.Main, stream.Lobby} {
		if err := streams.Add(context.Background(), name); err != nil {
			t.Fatalf("adding %s stream: %v", name, err)
		}
	}
	return &world{
		sessions: sessions,
		channels: channels,
		streams:  streams,
		engine:   New(store, sessions, streams, channels, chatman, clk),
		users:    users,
	}
}

func (w *world) login(t *testing.T, id int32, name string) *session.Token {
	return w.loginOpts(t, id, name, session.CreateOptions{})
}

func (w *world) loginOpts(t *testing.T, id int32, name string, opts session.CreateOptions) *session.Token {
	t.Helper()
	u := &db.User{ID: id, Username: name, SafeUsername: db.SafeUsername(name), Privileges: plebPrivileges}
	w.users.users[id] = u

	tok, err := w.sessions.Create(context.Background(), u, opts)
	if err != nil {
		t.Fatalf("creating session for %s: %v", name, err)
	}
	if err := w.streams.Join(context.Background(), stream.Main, tok.ID); err != nil {
		t.Fatalf("joining main stream: %v", err)
	}
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

func (w *world) drainAll(t *testing.T, toks ...*session.Token) {
	t.Helper()
	for _, tok := range toks {
		w.drain(t, tok.ID)
	}
}

func (w *world) reload(t *testing.T, tokenID string) *session.Token {
	t.Helper()
	tok, err := w.sessions.Get(context.Background(), tokenID)
	if err != nil {
		t.Fatalf("reloading token: %v", err)
	}
	return tok
}

// room creates a match and seats the given players in order, leaving
// every queue drained.
func (w *world) room(t *testing.T, opts CreateOptions, players ...*session.Token) *Match {
	t.Helper()
	m, err := w.engine.Create(context.Background(), opts)
	if err != nil {
		t.Fatalf("creating match: %v", err)
	}
	for _, p := range players {
		ok, err := w.engine.Join(context.Background(), p.ID, m.ID, opts.Password)
		if err != nil {
			t.Fatalf("joining match: %v", err)
		}
		if !ok {
			t.Fatalf("join refused for %s", p.Username)
		}
	}
	for _, p := range players {
		w.drain(t, p.ID)
	}
	return m
}

func (w *world) snapshot(t *testing.T, matchID int32) (*Match, *Slots) {
	t.Helper()
	m, slots, err := w.engine.Snapshot(context.Background(), matchID)
	if err != nil {
		t.Fatalf("snapshotting match: %v", err)
	}
	if m == nil {
		t.Fatalf("match %d is gone", matchID)
	}
	return m, slots
}

func roomOptions(hostUserID int32) CreateOptions {
	return CreateOptions{
		Name:        "glover's game",
		BeatmapID:   727,
		BeatmapName: "xi - Blue Zenith [FOUR DIMENSIONS]",
		BeatmapMD5:  "0cc175b9c0f1b6a831c399e269772661",
		GameMode:    constants.GameModeStd,
		HostUserID:  hostUserID,
	}
}

func settingsFrom(m *Match) Settings {
	return Settings{
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
		ModMode:     m.ModMode,
		Seed:        m.Seed,
	}
}

func assertPackets(t *testing.T, got, want [][]byte) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d packets, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("packet %d = %x, want %x", i, got[i], want[i])
		}
	}
}

func TestCreateAnnouncesToLobby(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	lurker := w.login(t, 1001, "lobbyist")
	if err := w.streams.Join(ctx, stream.Lobby, lurker.ID); err != nil {
		t.Fatalf("joining lobby: %v", err)
	}

	m, err := w.engine.Create(ctx, roomOptions(1002))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if m.ID != 1 {
		t.Errorf("first match id = %d, want 1", m.ID)
	}

	c, err := w.channels.Get(ctx, "#multi_1")
	if err != nil || c == nil {
		t.Fatalf("match channel missing: %v %v", c, err)
	}
	if !c.Instance || c.Description != "Multiplayer lobby for match 1" {
		t.Errorf("match channel metadata wrong: %+v", c)
	}
	for _, name := range []string{stream.Multiplayer(1), stream.MultiplayerPlaying(1)} {
		exists, err := w.streams.Exists(ctx, name)
		if err != nil || !exists {
			t.Errorf("stream %s missing: %v", name, err)
		}
	}

	var empty Slots
	for i := range empty {
		empty[i].clear()
	}
	assertPackets(t, w.drain(t, lurker.ID), [][]byte{
		serverpackets.NewMatch(data(m, &empty)),
	})
}

func TestJoinSeatsPlayerAndConfirms(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")

	m, err := w.engine.Create(ctx, roomOptions(1001))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	ok, err := w.engine.Join(ctx, host.ID, m.ID, "")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if !ok {
		t.Fatal("Join() refused")
	}

	host = w.reload(t, host.ID)
	if host.MatchID != m.ID {
		t.Errorf("MatchID = %d, want %d", host.MatchID, m.ID)
	}
	in, err := w.sessions.InChannel(ctx, host.ID, "#multi_1")
	if err != nil || !in {
		t.Errorf("host not in match channel: %v", err)
	}

	m2, slots := w.snapshot(t, m.ID)
	if slots[0].UserID != 1001 || slots[0].Status != constants.SlotNotReady || slots[0].TokenID != host.ID {
		t.Errorf("seat 0 wrong: %+v", slots[0])
	}

	d := data(m2, slots)
	assertPackets(t, w.drain(t, host.ID), [][]byte{
		serverpackets.ChannelJoinSuccess("#multiplayer"),
		serverpackets.MatchJoinSuccess(d),
		serverpackets.UpdateMatch(d, false),
	})
}

func TestJoinCensorsLobbyListing(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	lurker := w.login(t, 1002, "lobbyist")
	if err := w.streams.Join(ctx, stream.Lobby, lurker.ID); err != nil {
		t.Fatalf("joining lobby: %v", err)
	}

	opts := roomOptions(1001)
	opts.Password = "hunter2"
	m, err := w.engine.Create(ctx, opts)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	w.drain(t, lurker.ID)

	if ok, _ := w.engine.Join(ctx, host.ID, m.ID, "hunter2"); !ok {
		t.Fatal("Join() refused")
	}

	m2, slots := w.snapshot(t, m.ID)
	assertPackets(t, w.drain(t, lurker.ID), [][]byte{
		serverpackets.UpdateMatch(data(m2, slots), true),
	})
}

func TestJoinWrongPassword(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")

	opts := roomOptions(1001)
	opts.Password = "hunter2"
	m := w.room(t, opts, host)

	ok, err := w.engine.Join(ctx, guest.ID, m.ID, "wrong")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if ok {
		t.Fatal("Join() accepted a wrong password")
	}

	guest = w.reload(t, guest.ID)
	if guest.InMatch() {
		t.Errorf("refused guest still has MatchID %d", guest.MatchID)
	}
	assertPackets(t, w.drain(t, guest.ID), [][]byte{serverpackets.MatchJoinFail()})
}

func TestJoinFullMatch(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")
	m := w.room(t, roomOptions(1001), host)

	for seat := 1; seat < constants.MatchSlots; seat++ {
		if err := w.engine.Lock(ctx, host.ID, seat); err != nil {
			t.Fatalf("locking seat %d: %v", seat, err)
		}
	}
	w.drainAll(t, host, guest)

	ok, err := w.engine.Join(ctx, guest.ID, m.ID, "")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if ok {
		t.Fatal("Join() accepted into a full match")
	}
	assertPackets(t, w.drain(t, guest.ID), [][]byte{serverpackets.MatchJoinFail()})
}

func TestJoinTwiceKeepsOneSeat(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")
	m := w.room(t, roomOptions(1001), host, guest)

	ok, err := w.engine.Join(ctx, guest.ID, m.ID, "")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if !ok {
		t.Fatal("rejoin refused")
	}

	_, slots := w.snapshot(t, m.ID)
	seats := 0
	for i := range slots {
		if slots[i].occupied() && slots[i].UserID == 1002 {
			seats++
		}
	}
	if seats != 1 {
		t.Errorf("guest occupies %d seats, want 1", seats)
	}
}

func TestLeaveFreesSeatAndTransfersHost(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")
	m := w.room(t, roomOptions(1001), host, guest)

	if err := w.engine.Leave(ctx, host.ID); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}

	host = w.reload(t, host.ID)
	if host.InMatch() {
		t.Errorf("leaver still has MatchID %d", host.MatchID)
	}
	m2, slots := w.snapshot(t, m.ID)
	if slots[0].occupied() {
		t.Errorf("seat 0 still occupied: %+v", slots[0])
	}
	if m2.HostUserID != 1002 {
		t.Errorf("HostUserID = %d, want 1002", m2.HostUserID)
	}

	assertPackets(t, w.drain(t, host.ID), [][]byte{
		serverpackets.ChannelKicked("#multiplayer"),
	})
	assertPackets(t, w.drain(t, guest.ID), [][]byte{
		serverpackets.MatchTransferHost(),
		serverpackets.UpdateMatch(data(m2, slots), false),
	})
}

func TestLastLeaveDisposes(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	lurker := w.login(t, 1002, "lobbyist")
	if err := w.streams.Join(ctx, stream.Lobby, lurker.ID); err != nil {
		t.Fatalf("joining lobby: %v", err)
	}
	m := w.room(t, roomOptions(1001), host)
	w.drain(t, lurker.ID)

	if err := w.engine.Leave(ctx, host.ID); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}

	got, _, err := w.engine.Snapshot(ctx, m.ID)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if got != nil {
		t.Error("disposed match still loads")
	}
	ids, err := w.engine.IDs(ctx)
	if err != nil {
		t.Fatalf("IDs() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("IDs() = %v, want empty", ids)
	}
	if c, _ := w.channels.Get(ctx, "#multi_1"); c != nil {
		t.Error("match channel survived disposal")
	}
	for _, name := range []string{stream.Multiplayer(1), stream.MultiplayerPlaying(1)} {
		if exists, _ := w.streams.Exists(ctx, name); exists {
			t.Errorf("stream %s survived disposal", name)
		}
	}
	assertPackets(t, w.drain(t, lurker.ID), [][]byte{
		serverpackets.DisposeMatch(1),
	})
}

func TestTourneyMatchPersistsWhenEmpty(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")

	opts := roomOptions(1001)
	opts.Tourney = true
	m := w.room(t, opts, host)

	if err := w.engine.Leave(ctx, host.ID); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}

	m2, slots := w.snapshot(t, m.ID)
	if countOccupied(slots) != 0 {
		t.Errorf("empty tourney match has %d occupants", countOccupied(slots))
	}
	if !m2.Tourney {
		t.Error("tourney flag lost")
	}
	if exists, _ := w.streams.Exists(ctx, stream.Multiplayer(m.ID)); !exists {
		t.Error("tourney match stream removed")
	}
}

func TestTourneyClientMirrorsUpdates(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	manager := w.loginOpts(t, 1001, "referee", session.CreateOptions{Tournament: true})
	player := w.login(t, 1002, "rrtyui")

	opts := roomOptions(1001)
	opts.Tourney = true
	m := w.room(t, opts, manager)

	members, err := w.streams.Members(ctx, stream.MultiplayerPlaying(m.ID))
	if err != nil {
		t.Fatalf("reading playing stream: %v", err)
	}
	if len(members) != 1 || members[0] != manager.ID {
		t.Errorf("playing stream members = %v, want the tourney client", members)
	}

	if ok, _ := w.engine.Join(ctx, player.ID, m.ID, ""); !ok {
		t.Fatal("Join() refused")
	}

	m2, slots := w.snapshot(t, m.ID)
	update := serverpackets.UpdateMatch(data(m2, slots), false)
	assertPackets(t, w.drain(t, manager.ID), [][]byte{update, update})
}

func TestChangeSettingsUnreadiesOnMapChange(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")
	m := w.room(t, roomOptions(1001), host, guest)

	if err := w.engine.Ready(ctx, guest.ID); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	w.drainAll(t, host, guest)

	m2, _ := w.snapshot(t, m.ID)
	s := settingsFrom(m2)
	s.BeatmapID = 131891
	s.BeatmapName = "xi - FREEDOM DiVE [FOUR DIMENSIONS]"
	s.BeatmapMD5 = "different-md5"
	if err := w.engine.ChangeSettings(ctx, host.ID, s); err != nil {
		t.Fatalf("ChangeSettings() error = %v", err)
	}

	m3, slots := w.snapshot(t, m.ID)
	if m3.BeatmapID != 131891 || m3.BeatmapMD5 != "different-md5" {
		t.Errorf("beatmap not updated: %+v", m3)
	}
	if slots[1].Status != constants.SlotNotReady {
		t.Errorf("guest seat status = %d, want not ready", slots[1].Status)
	}
}

func TestChangeSettingsRenameKeepsReady(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")
	m := w.room(t, roomOptions(1001), host, guest)

	if err := w.engine.Ready(ctx, guest.ID); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}

	m2, _ := w.snapshot(t, m.ID)
	s := settingsFrom(m2)
	s.Name = "renamed room"
	if err := w.engine.ChangeSettings(ctx, host.ID, s); err != nil {
		t.Fatalf("ChangeSettings() error = %v", err)
	}

	m3, slots := w.snapshot(t, m.ID)
	if m3.Name != "renamed room" {
		t.Errorf("name not updated: %q", m3.Name)
	}
	if slots[1].Status != constants.SlotReady {
		t.Errorf("rename unreadied the guest: %d", slots[1].Status)
	}
}

func TestChangeSettingsFreeModHandoff(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")
	m := w.room(t, roomOptions(1001), host, guest)

	if err := w.engine.ChangeMods(ctx, host.ID, constants.ModHidden|constants.ModDoubleTime); err != nil {
		t.Fatalf("ChangeMods() error = %v", err)
	}

	// Turning free mod on hands everyone the room mods and strips the
	// room down to the shared speed mods.
	m2, _ := w.snapshot(t, m.ID)
	s := settingsFrom(m2)
	s.ModMode = constants.ModModeFreeMod
	if err := w.engine.ChangeSettings(ctx, host.ID, s); err != nil {
		t.Fatalf("ChangeSettings() error = %v", err)
	}

	m3, slots := w.snapshot(t, m.ID)
	if m3.Mods != constants.ModDoubleTime {
		t.Errorf("room mods = %d, want only speed mods %d", m3.Mods, constants.ModDoubleTime)
	}
	for _, seat := range []int{0, 1} {
		if slots[seat].Mods != constants.ModHidden|constants.ModDoubleTime {
			t.Errorf("seat %d mods = %d, want the old room mods", seat, slots[seat].Mods)
		}
	}

	if err := w.engine.ChangeMods(ctx, host.ID, constants.ModHardRock); err != nil {
		t.Fatalf("ChangeMods() error = %v", err)
	}

	// Turning free mod back off promotes the host's personal mods.
	m4, _ := w.snapshot(t, m.ID)
	s = settingsFrom(m4)
	s.ModMode = constants.ModModeNormal
	if err := w.engine.ChangeSettings(ctx, host.ID, s); err != nil {
		t.Fatalf("ChangeSettings() error = %v", err)
	}

	m5, _ := w.snapshot(t, m.ID)
	if m5.ModMode != constants.ModModeNormal {
		t.Errorf("ModMode = %d, want normal", m5.ModMode)
	}
	if m5.Mods != constants.ModHardRock {
		t.Errorf("room mods = %d, want the host's %d", m5.Mods, constants.ModHardRock)
	}
}

func TestChangeSettingsTagForcesSharedMods(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	m := w.room(t, roomOptions(1001), host)

	m2, _ := w.snapshot(t, m.ID)
	s := settingsFrom(m2)
	s.TeamType = constants.TeamTypeTagCoop
	s.ModMode = constants.ModModeFreeMod
	if err := w.engine.ChangeSettings(ctx, host.ID, s); err != nil {
		t.Fatalf("ChangeSettings() error = %v", err)
	}

	m3, _ := w.snapshot(t, m.ID)
	if m3.TeamType != constants.TeamTypeTagCoop {
		t.Errorf("TeamType = %d, want tag coop", m3.TeamType)
	}
	if m3.ModMode != constants.ModModeNormal {
		t.Errorf("ModMode = %d, tag types must share mods", m3.ModMode)
	}
}

func TestChangeSettingsTeamTypeReseats(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")
	m := w.room(t, roomOptions(1001), host, guest)

	m2, _ := w.snapshot(t, m.ID)
	s := settingsFrom(m2)
	s.TeamType = constants.TeamTypeTeamVS
	if err := w.engine.ChangeSettings(ctx, host.ID, s); err != nil {
		t.Fatalf("ChangeSettings() error = %v", err)
	}

	_, slots := w.snapshot(t, m.ID)
	if slots[0].Team != constants.TeamRed || slots[1].Team != constants.TeamBlue {
		t.Errorf("teams = %d %d, want red blue", slots[0].Team, slots[1].Team)
	}
}

func TestChangeSettingsNonHostIgnored(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")
	m := w.room(t, roomOptions(1001), host, guest)

	m2, _ := w.snapshot(t, m.ID)
	s := settingsFrom(m2)
	s.Name = "hijacked"
	if err := w.engine.ChangeSettings(ctx, guest.ID, s); err != nil {
		t.Fatalf("ChangeSettings() error = %v", err)
	}

	m3, _ := w.snapshot(t, m.ID)
	if m3.Name != m.Name {
		t.Errorf("non-host renamed the match to %q", m3.Name)
	}
	if got := w.drain(t, host.ID); len(got) != 0 {
		t.Errorf("non-host settings change broadcast %d packets", len(got))
	}
}

func TestChangeSlot(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")
	m := w.room(t, roomOptions(1001), host, guest)

	if err := w.engine.ChangeSlot(ctx, guest.ID, 5); err != nil {
		t.Fatalf("ChangeSlot() error = %v", err)
	}
	_, slots := w.snapshot(t, m.ID)
	if slots[1].Status != constants.SlotFree {
		t.Errorf("old seat not freed: %+v", slots[1])
	}
	if slots[5].UserID != 1002 || slots[5].Status != constants.SlotNotReady || slots[5].TokenID != guest.ID {
		t.Errorf("new seat wrong: %+v", slots[5])
	}

	// Occupied and locked targets are refused.
	if err := w.engine.ChangeSlot(ctx, guest.ID, 0); err != nil {
		t.Fatalf("ChangeSlot() error = %v", err)
	}
	if err := w.engine.Lock(ctx, host.ID, 7); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if err := w.engine.ChangeSlot(ctx, guest.ID, 7); err != nil {
		t.Fatalf("ChangeSlot() error = %v", err)
	}
	_, slots = w.snapshot(t, m.ID)
	if slots[5].UserID != 1002 {
		t.Errorf("guest moved off seat 5: %+v", slots[5])
	}
	if slots[0].UserID != 1001 || slots[7].Status != constants.SlotLocked {
		t.Errorf("target seats disturbed: %+v %+v", slots[0], slots[7])
	}
}

func TestReadyAndNotReady(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")
	m := w.room(t, roomOptions(1001), host, guest)

	if err := w.engine.Ready(ctx, guest.ID); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	m2, slots := w.snapshot(t, m.ID)
	if slots[1].Status != constants.SlotReady {
		t.Errorf("seat status = %d, want ready", slots[1].Status)
	}
	assertPackets(t, w.drain(t, host.ID), [][]byte{
		serverpackets.UpdateMatch(data(m2, slots), false),
	})

	if err := w.engine.NotReady(ctx, guest.ID); err != nil {
		t.Fatalf("NotReady() error = %v", err)
	}
	_, slots = w.snapshot(t, m.ID)
	if slots[1].Status != constants.SlotNotReady {
		t.Errorf("seat status = %d, want not ready", slots[1].Status)
	}
}

func TestLockKicksOccupant(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")
	m := w.room(t, roomOptions(1001), host, guest)

	before, beforeSlots := w.snapshot(t, m.ID)
	kick := serverpackets.UpdateMatch(data(before, beforeSlots), false)

	if err := w.engine.Lock(ctx, host.ID, 1); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	m2, slots := w.snapshot(t, m.ID)
	if slots[1].Status != constants.SlotLocked || slots[1].UserID != 0 {
		t.Errorf("seat 1 = %+v, want locked and empty", slots[1])
	}
	update := serverpackets.UpdateMatch(data(m2, slots), false)
	assertPackets(t, w.drain(t, guest.ID), [][]byte{kick, update})
	assertPackets(t, w.drain(t, host.ID), [][]byte{update})

	// A second lock frees the seat again.
	if err := w.engine.Lock(ctx, host.ID, 1); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	_, slots = w.snapshot(t, m.ID)
	if slots[1].Status != constants.SlotFree {
		t.Errorf("seat 1 status = %d, want free", slots[1].Status)
	}

	// Hosts cannot lock themselves out.
	if err := w.engine.Lock(ctx, host.ID, 0); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	_, slots = w.snapshot(t, m.ID)
	if slots[0].UserID != 1001 {
		t.Errorf("host lost their own seat: %+v", slots[0])
	}
}

func TestChangeModsCentral(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")
	m := w.room(t, roomOptions(1001), host, guest)

	if err := w.engine.Ready(ctx, guest.ID); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	if err := w.engine.ChangeMods(ctx, host.ID, constants.ModHidden); err != nil {
		t.Fatalf("ChangeMods() error = %v", err)
	}
	m2, slots := w.snapshot(t, m.ID)
	if m2.Mods != constants.ModHidden {
		t.Errorf("room mods = %d, want hidden", m2.Mods)
	}
	if slots[1].Status != constants.SlotNotReady {
		t.Errorf("mod change kept seat ready: %d", slots[1].Status)
	}

	// Non-hosts cannot touch central mods.
	if err := w.engine.ChangeMods(ctx, guest.ID, constants.ModHardRock); err != nil {
		t.Fatalf("ChangeMods() error = %v", err)
	}
	m3, slots := w.snapshot(t, m.ID)
	if m3.Mods != constants.ModHidden {
		t.Errorf("non-host changed room mods to %d", m3.Mods)
	}
	if slots[1].Mods != 0 {
		t.Errorf("non-host got personal mods in central mode: %d", slots[1].Mods)
	}
}

func TestChangeModsFreeMod(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")
	m := w.room(t, roomOptions(1001), host, guest)

	m2, _ := w.snapshot(t, m.ID)
	s := settingsFrom(m2)
	s.ModMode = constants.ModModeFreeMod
	if err := w.engine.ChangeSettings(ctx, host.ID, s); err != nil {
		t.Fatalf("ChangeSettings() error = %v", err)
	}

	// Everyone owns their seat mods.
	if err := w.engine.ChangeMods(ctx, guest.ID, constants.ModHardRock|constants.ModDoubleTime); err != nil {
		t.Fatalf("ChangeMods() error = %v", err)
	}
	m3, slots := w.snapshot(t, m.ID)
	if slots[1].Mods != constants.ModHardRock|constants.ModDoubleTime {
		t.Errorf("guest seat mods = %d", slots[1].Mods)
	}
	if m3.Mods != 0 {
		t.Errorf("guest changed the shared speed mods to %d", m3.Mods)
	}

	// The host's speed mods become the room's.
	if err := w.engine.ChangeMods(ctx, host.ID, constants.ModFlashlight|constants.ModDoubleTime); err != nil {
		t.Fatalf("ChangeMods() error = %v", err)
	}
	m4, slots := w.snapshot(t, m.ID)
	if m4.Mods != constants.ModDoubleTime {
		t.Errorf("room mods = %d, want double time", m4.Mods)
	}
	if slots[0].Mods != constants.ModFlashlight|constants.ModDoubleTime {
		t.Errorf("host seat mods = %d", slots[0].Mods)
	}
}

func TestChangeTeam(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")
	m := w.room(t, roomOptions(1001), host, guest)

	// Team-less rooms ignore the request.
	if err := w.engine.ChangeTeam(ctx, guest.ID); err != nil {
		t.Fatalf("ChangeTeam() error = %v", err)
	}
	_, slots := w.snapshot(t, m.ID)
	if slots[1].Team != constants.TeamNone {
		t.Errorf("team = %d in head to head", slots[1].Team)
	}

	m2, _ := w.snapshot(t, m.ID)
	s := settingsFrom(m2)
	s.TeamType = constants.TeamTypeTeamVS
	if err := w.engine.ChangeSettings(ctx, host.ID, s); err != nil {
		t.Fatalf("ChangeSettings() error = %v", err)
	}

	if err := w.engine.ChangeTeam(ctx, guest.ID); err != nil {
		t.Fatalf("ChangeTeam() error = %v", err)
	}
	_, slots = w.snapshot(t, m.ID)
	if slots[1].Team != constants.TeamRed {
		t.Errorf("team = %d, want red after flip", slots[1].Team)
	}

	if err := w.engine.ChangeTeam(ctx, guest.ID); err != nil {
		t.Fatalf("ChangeTeam() error = %v", err)
	}
	_, slots = w.snapshot(t, m.ID)
	if slots[1].Team != constants.TeamBlue {
		t.Errorf("team = %d, want blue after second flip", slots[1].Team)
	}
}

func TestTransferHost(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")
	m := w.room(t, roomOptions(1001), host, guest)

	// Empty seats cannot receive the host role.
	if err := w.engine.TransferHost(ctx, host.ID, 9); err != nil {
		t.Fatalf("TransferHost() error = %v", err)
	}
	m2, _ := w.snapshot(t, m.ID)
	if m2.HostUserID != 1001 {
		t.Errorf("host moved to an empty seat: %d", m2.HostUserID)
	}

	if err := w.engine.TransferHost(ctx, host.ID, 1); err != nil {
		t.Fatalf("TransferHost() error = %v", err)
	}
	m3, slots := w.snapshot(t, m.ID)
	if m3.HostUserID != 1002 {
		t.Errorf("HostUserID = %d, want 1002", m3.HostUserID)
	}
	update := serverpackets.UpdateMatch(data(m3, slots), false)
	assertPackets(t, w.drain(t, guest.ID), [][]byte{
		serverpackets.MatchTransferHost(),
		update,
	})
	assertPackets(t, w.drain(t, host.ID), [][]byte{update})
}

func startedRoom(t *testing.T, w *world) (*Match, *session.Token, *session.Token) {
	t.Helper()
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")
	m := w.room(t, roomOptions(1001), host, guest)

	if err := w.engine.Ready(ctx, host.ID); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	if err := w.engine.Ready(ctx, guest.ID); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	if err := w.engine.Start(ctx, host.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	w.drainAll(t, host, guest)
	return m, host, guest
}

func TestStartMovesReadySeatsIntoPlay(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	p2 := w.login(t, 1002, "rrtyui")
	p3 := w.login(t, 1003, "azer")
	m := w.room(t, roomOptions(1001), host, p2, p3)

	// Nobody ready: the request is dropped.
	if err := w.engine.Start(ctx, host.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	m2, _ := w.snapshot(t, m.ID)
	if m2.InProgress {
		t.Error("match started with nobody ready")
	}

	if err := w.engine.Ready(ctx, host.ID); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	if err := w.engine.Ready(ctx, p2.ID); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	w.drainAll(t, host, p2, p3)

	if err := w.engine.Start(ctx, host.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	m3, slots := w.snapshot(t, m.ID)
	if !m3.InProgress {
		t.Error("match not in progress")
	}
	if slots[0].Status != constants.SlotPlaying || slots[1].Status != constants.SlotPlaying {
		t.Errorf("ready seats not playing: %d %d", slots[0].Status, slots[1].Status)
	}
	if slots[2].Status != constants.SlotNotReady {
		t.Errorf("unready seat dragged into play: %d", slots[2].Status)
	}

	members, err := w.streams.Members(ctx, stream.MultiplayerPlaying(m.ID))
	if err != nil {
		t.Fatalf("reading playing stream: %v", err)
	}
	sort.Strings(members)
	want := []string{host.ID, p2.ID}
	sort.Strings(want)
	if len(members) != 2 || members[0] != want[0] || members[1] != want[1] {
		t.Errorf("playing members = %v, want %v", members, want)
	}

	d := data(m3, slots)
	start := serverpackets.MatchStart(d)
	update := serverpackets.UpdateMatch(d, false)
	assertPackets(t, w.drain(t, host.ID), [][]byte{start, update})
	assertPackets(t, w.drain(t, p3.ID), [][]byte{update})
}

func TestLoadCompleteBarrier(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	_, host, guest := startedRoom(t, w)

	if err := w.engine.LoadComplete(ctx, host.ID); err != nil {
		t.Fatalf("LoadComplete() error = %v", err)
	}
	if got := w.drain(t, host.ID); len(got) != 0 {
		t.Errorf("barrier released early: %d packets", len(got))
	}

	if err := w.engine.LoadComplete(ctx, guest.ID); err != nil {
		t.Fatalf("LoadComplete() error = %v", err)
	}
	released := [][]byte{serverpackets.MatchAllPlayersLoaded()}
	assertPackets(t, w.drain(t, host.ID), released)
	assertPackets(t, w.drain(t, guest.ID), released)
}

func TestPlayerFailed(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	_, host, guest := startedRoom(t, w)

	if err := w.engine.PlayerFailed(ctx, guest.ID); err != nil {
		t.Fatalf("PlayerFailed() error = %v", err)
	}

	// The guest sits in seat 1, and the failure names the slot.
	failed := [][]byte{serverpackets.MatchPlayerFailed(1)}
	assertPackets(t, w.drain(t, host.ID), failed)
	assertPackets(t, w.drain(t, guest.ID), failed)
}

func TestCompleteBarrierFinishesGameplay(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	m, host, guest := startedRoom(t, w)

	if err := w.engine.Complete(ctx, host.ID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got := w.drain(t, host.ID); len(got) != 0 {
		t.Errorf("completion announced early: %d packets", len(got))
	}

	if err := w.engine.Complete(ctx, guest.ID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	m2, slots := w.snapshot(t, m.ID)
	if m2.InProgress {
		t.Error("match still in progress")
	}
	for _, seat := range []int{0, 1} {
		if slots[seat].Status != constants.SlotNotReady {
			t.Errorf("seat %d status = %d, want not ready", seat, slots[seat].Status)
		}
		if slots[seat].Complete || slots[seat].Loaded {
			t.Errorf("seat %d gameplay flags not reset: %+v", seat, slots[seat])
		}
	}
	members, err := w.streams.Members(ctx, stream.MultiplayerPlaying(m.ID))
	if err != nil {
		t.Fatalf("reading playing stream: %v", err)
	}
	if len(members) != 0 {
		t.Errorf("playing stream still has %v", members)
	}

	finished := [][]byte{
		serverpackets.MatchComplete(),
		serverpackets.UpdateMatch(data(m2, slots), false),
	}
	assertPackets(t, w.drain(t, host.ID), finished)
	assertPackets(t, w.drain(t, guest.ID), finished)
}

func TestSkipBarrier(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	_, host, guest := startedRoom(t, w)

	if err := w.engine.SkipRequest(ctx, host.ID); err != nil {
		t.Fatalf("SkipRequest() error = %v", err)
	}
	voted := [][]byte{serverpackets.MatchPlayerSkipped(1001)}
	assertPackets(t, w.drain(t, host.ID), voted)
	assertPackets(t, w.drain(t, guest.ID), voted)

	if err := w.engine.SkipRequest(ctx, guest.ID); err != nil {
		t.Fatalf("SkipRequest() error = %v", err)
	}
	all := [][]byte{
		serverpackets.MatchPlayerSkipped(1002),
		serverpackets.MatchSkip(),
	}
	assertPackets(t, w.drain(t, host.ID), all)
	assertPackets(t, w.drain(t, guest.ID), all)
}

func TestScoreUpdateStampsSlot(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	_, host, guest := startedRoom(t, w)

	frame := []byte{0x10, 0x27, 0x00, 0x00, 0xff, 0x03, 0x00, 0x05}
	if err := w.engine.ScoreUpdate(ctx, guest.ID, frame); err != nil {
		t.Fatalf("ScoreUpdate() error = %v", err)
	}

	// The guest sits in seat 1; byte 4 of the relayed frame carries it.
	want := [][]byte{serverpackets.MatchScoreUpdate(1, frame)}
	assertPackets(t, w.drain(t, host.ID), want)
	assertPackets(t, w.drain(t, guest.ID), want)
}

func TestChangePassword(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")
	m := w.room(t, roomOptions(1001), host, guest)

	if err := w.engine.ChangePassword(ctx, host.ID, "s3cret"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}

	m2, slots := w.snapshot(t, m.ID)
	if m2.Password != "s3cret" {
		t.Errorf("password = %q, want s3cret", m2.Password)
	}
	want := [][]byte{
		serverpackets.MatchChangePassword("s3cret"),
		serverpackets.UpdateMatch(data(m2, slots), false),
	}
	assertPackets(t, w.drain(t, host.ID), want)
	assertPackets(t, w.drain(t, guest.ID), want)
}

func TestAbortCancelsGameplay(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	m, host, guest := startedRoom(t, w)

	if err := w.engine.Abort(ctx, host.ID); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}

	m2, slots := w.snapshot(t, m.ID)
	if m2.InProgress {
		t.Error("match still in progress after abort")
	}
	if slots[0].Status != constants.SlotNotReady || slots[1].Status != constants.SlotNotReady {
		t.Errorf("seats not reset: %d %d", slots[0].Status, slots[1].Status)
	}

	aborted := [][]byte{
		serverpackets.MatchAbort(),
		serverpackets.UpdateMatch(data(m2, slots), false),
	}
	assertPackets(t, w.drain(t, host.ID), aborted)
	assertPackets(t, w.drain(t, guest.ID), aborted)

	// Aborting an idle match does nothing.
	if err := w.engine.Abort(ctx, host.ID); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	if got := w.drain(t, host.ID); len(got) != 0 {
		t.Errorf("idle abort broadcast %d packets", len(got))
	}
}

func TestInviteCarriesJoinLink(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	friend := w.login(t, 1002, "cookiezi")

	opts := roomOptions(1001)
	opts.Password = "top secret"
	w.room(t, opts, host)
	w.drain(t, friend.ID)

	if err := w.engine.Invite(ctx, host.ID, 1002); err != nil {
		t.Fatalf("Invite() error = %v", err)
	}

	message := "Come join my multiplayer match: \"[osump://1/top_secret glover's game]\""
	assertPackets(t, w.drain(t, friend.ID), [][]byte{
		serverpackets.MatchInvite("glover", message, "cookiezi", 1001),
	})

	// Offline invitees are dropped silently.
	if err := w.engine.Invite(ctx, host.ID, 9999); err != nil {
		t.Fatalf("Invite() error = %v", err)
	}
}

func TestDisposedMatchOperationsAreNoOps(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	m := w.room(t, roomOptions(1001), host)

	// Another replica disposed the match while this session still
	// points at it.
	if err := w.engine.deleteKeys(ctx, m.ID); err != nil {
		t.Fatalf("deleting match keys: %v", err)
	}

	if err := w.engine.Ready(ctx, host.ID); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	if got := w.drain(t, host.ID); len(got) != 0 {
		t.Errorf("stale ready broadcast %d packets", len(got))
	}

	// Leaving still cleans up the session side.
	if err := w.engine.Leave(ctx, host.ID); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	host = w.reload(t, host.ID)
	if host.InMatch() {
		t.Errorf("stale session still has MatchID %d", host.MatchID)
	}
}

func TestNonHostOperationsIgnored(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	host := w.login(t, 1001, "glover")
	guest := w.login(t, 1002, "rrtyui")
	m := w.room(t, roomOptions(1001), host, guest)

	if err := w.engine.TransferHost(ctx, guest.ID, 1); err != nil {
		t.Fatalf("TransferHost() error = %v", err)
	}
	if err := w.engine.Lock(ctx, guest.ID, 0); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if err := w.engine.ChangePassword(ctx, guest.ID, "mine now"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if err := w.engine.Start(ctx, guest.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	m2, slots := w.snapshot(t, m.ID)
	if m2.HostUserID != 1001 || m2.Password != "" || m2.InProgress {
		t.Errorf("non-host mutated the match: %+v", m2)
	}
	if slots[0].UserID != 1001 || slots[0].Status != constants.SlotNotReady {
		t.Errorf("non-host disturbed the host seat: %+v", slots[0])
	}
	if got := w.drain(t, host.ID); len(got) != 0 {
		t.Errorf("non-host operations broadcast %d packets", len(got))
	}
}
