package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/shirokane/gobancho/internal/bancho"
	"github.com/shirokane/gobancho/internal/channel"
	"github.com/shirokane/gobancho/internal/chat"
	"github.com/shirokane/gobancho/internal/clock"
	"github.com/shirokane/gobancho/internal/config"
	"github.com/shirokane/gobancho/internal/kv"
	"github.com/shirokane/gobancho/internal/match"
	"github.com/shirokane/gobancho/internal/metrics"
	"github.com/shirokane/gobancho/internal/packet"
	"github.com/shirokane/gobancho/internal/packetid"
	"github.com/shirokane/gobancho/internal/session"
	"github.com/shirokane/gobancho/internal/spectator"
	"github.com/shirokane/gobancho/internal/stream"
	"github.com/shirokane/gobancho/internal/testutil"
)

// ServerSuite runs the whole server against a real user database and
// drives it over real TCP connections. The shared store is in-memory;
// only the database is containerized.
type ServerSuite struct {
	IntegrationSuite
	cfg      config.Config
	sessions *session.Registry
	srv      *bancho.Server
	addr     string
}

// SetupSuite wires the full service around the suite's database and
// starts it on a random port.
func (s *ServerSuite) SetupSuite() {
	s.IntegrationSuite.SetupSuite()

	s.cfg = config.Default()
	store := kv.NewMemory()
	clk := clock.NewSystem()

	s.sessions = session.New(store, clk, s.db, metrics.Noop{}, s.cfg.Server.BotName)
	streams := stream.New(store, s.sessions, metrics.Noop{})
	s.sessions.SetBroadcaster(streams)
	channels := channel.New(store, streams)
	chatman := chat.New(s.sessions, channels, streams, s.db, clk)
	spectators := spectator.New(s.sessions, channels, streams, chatman)
	engine := match.New(store, s.sessions, streams, channels, chatman, clk)

	s.srv = bancho.New(s.cfg, bancho.Services{
		Store:      store,
		Users:      s.db,
		Clock:      clk,
		Metrics:    metrics.Noop{},
		Sessions:   s.sessions,
		Streams:    streams,
		Channels:   channels,
		Chat:       chatman,
		Spectators: spectators,
		Matches:    engine,
	})
	if err := s.srv.Bootstrap(context.Background()); err != nil {
		s.T().Fatalf("bootstrap: %v", err)
	}

	listener, addr := testutil.ListenTCP(s.T())
	s.addr = addr

	ctx, cancel := context.WithCancel(context.Background())
	s.T().Cleanup(cancel)
	go func() {
		if err := s.srv.Serve(ctx, listener); err != nil {
			s.T().Logf("server error: %v", err)
		}
	}()

	if err := testutil.WaitForTCPReady(s.addr, 5*time.Second); err != nil {
		s.T().Fatalf("server failed to start: %v", err)
	}
}

// loginClient seeds nothing; the caller owns the user row. It runs the
// login exchange and consumes the handshake up to the presence bundle.
func (s *ServerSuite) loginClient(username string) *testutil.Client {
	s.T().Helper()
	c := testutil.Dial(s.T(), s.addr)
	token := c.Login(username, testPasswordMD5, testClientInfo)
	s.Require().NotEqual("no", token, "login refused for %s", username)
	c.ReadUntil(packetid.ServerUserPresenceBundle)
	return c
}

// logout tears the client's session down and waits until it is gone
// from the shared store, so tests don't leak sessions into each other.
func (s *ServerSuite) logout(c *testutil.Client, userID int32) {
	s.T().Helper()
	c.WriteEmpty(packetid.ClientLogout)
	testutil.WaitForCondition(s.T(), "session teardown", func() bool {
		toks, err := s.sessions.AllByUserID(s.ctx, userID)
		return err == nil && len(toks) == 0
	}, 5*time.Second)
}

// messageFrame builds a chat packet the way the client does: its own
// name and id are filled server side.
func messageFrame(id uint16, message, target string) []byte {
	w := packet.NewWriter(64)
	w.WriteString("")
	w.WriteString(message)
	w.WriteString(target)
	w.WriteInt32(0)
	return w.Frame(id)
}

// TestLoginAgainstDatabase covers the full exchange: the token line,
// the user id frame carrying the database id, and a clean logout.
func (s *ServerSuite) TestLoginAgainstDatabase() {
	alice := seedUser(s.T(), s.db, "login alice", plebPrivileges)

	c := testutil.Dial(s.T(), s.addr)
	token := c.Login("login alice", testPasswordMD5, testClientInfo)
	s.Require().NotEqual("no", token)

	got, err := packet.NewReader(c.ReadUntil(packetid.ServerUserID)).ReadInt32()
	s.Require().NoError(err)
	s.Equal(alice, got, "the user id frame carries the database id")

	c.ReadUntil(packetid.ServerUserPresenceBundle)

	toks, err := s.sessions.AllByUserID(s.ctx, alice)
	s.Require().NoError(err)
	s.Len(toks, 1)

	s.logout(c, alice)
}

// TestLoginRefusals covers the three refusal shapes: unknown account,
// wrong password and banned account. All three answer "no" plus a
// negative user id frame.
func (s *ServerSuite) TestLoginRefusals() {
	seedUser(s.T(), s.db, "refusals bob", plebPrivileges)
	_, err := s.db.CreateUser(s.ctx, "refusals outcast", "$2b$12$x", 0, "XX")
	s.Require().NoError(err)

	cases := []struct {
		name     string
		username string
		password string
	}{
		{"unknown account", "refusals ghost", testPasswordMD5},
		{"wrong password", "refusals bob", "92eb5ffee6ae2fec3ad71c777531578f"},
		{"banned account", "refusals outcast", testPasswordMD5},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			c := testutil.Dial(s.T(), s.addr)
			token := c.Login(tc.username, tc.password, testClientInfo)
			s.Equal("no", token)

			code, err := packet.NewReader(c.ReadUntil(packetid.ServerUserID)).ReadInt32()
			s.Require().NoError(err)
			s.Negative(code)
			c.Close()
		})
	}
}

// TestPingKeepsSessionAlive proves the reader and writer loops pump
// both directions of an established connection.
func (s *ServerSuite) TestPingKeepsSessionAlive() {
	alice := seedUser(s.T(), s.db, "ping alice", plebPrivileges)
	c := s.loginClient("ping alice")

	c.WriteEmpty(packetid.ClientPing)
	c.ReadUntil(packetid.ServerPong)

	s.logout(c, alice)
}

// TestPrivateMessageBetweenConnections sends a dm across two real
// connections and checks the receiver gets the sender's database
// identity, not what the sender's client claimed.
func (s *ServerSuite) TestPrivateMessageBetweenConnections() {
	alice := seedUser(s.T(), s.db, "dm alice", plebPrivileges)
	bob := seedUser(s.T(), s.db, "dm bob", plebPrivileges)

	ca := s.loginClient("dm alice")
	cb := s.loginClient("dm bob")

	ca.WriteFrame(messageFrame(packetid.ClientSendPrivateMessage, "hi bob", "dm bob"))

	r := packet.NewReader(cb.ReadUntil(packetid.ServerSendMessage))
	from, err := r.ReadString()
	s.Require().NoError(err)
	message, err := r.ReadString()
	s.Require().NoError(err)
	to, err := r.ReadString()
	s.Require().NoError(err)
	fromID, err := r.ReadInt32()
	s.Require().NoError(err)

	s.Equal("dm alice", from)
	s.Equal("hi bob", message)
	s.Equal("dm bob", to)
	s.Equal(alice, fromID)

	s.logout(ca, alice)
	s.logout(cb, bob)
}

// TestPresenceReachesEarlierLogins verifies a login is announced to
// connections that were already online.
func (s *ServerSuite) TestPresenceReachesEarlierLogins() {
	alice := seedUser(s.T(), s.db, "presence alice", plebPrivileges)
	bob := seedUser(s.T(), s.db, "presence bob", plebPrivileges)

	ca := s.loginClient("presence alice")
	cb := s.loginClient("presence bob")

	// Bob's login fans his panel out to the main stream; the first
	// panel alice sees after her own handshake is his.
	id, err := packet.NewReader(ca.ReadUntil(packetid.ServerUserPanel)).ReadInt32()
	s.Require().NoError(err)
	s.Equal(bob, id)

	s.logout(ca, alice)
	s.logout(cb, bob)
}

// TestServerSuite is the entry point for ServerSuite.
func TestServerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	suite.Run(t, new(ServerSuite))
}
