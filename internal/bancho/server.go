// Package bancho is the TCP front of the service: it accepts client
// connections, performs the login handshake, reads framed packets into
// the dispatcher and pumps each session's outgoing queue back to its
// socket. All state lives in the shared store, so any replica can
// serve any session.
package bancho

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/shirokane/gobancho/internal/channel"
	"github.com/shirokane/gobancho/internal/chat"
	"github.com/shirokane/gobancho/internal/clock"
	"github.com/shirokane/gobancho/internal/config"
	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/db"
	"github.com/shirokane/gobancho/internal/kv"
	"github.com/shirokane/gobancho/internal/match"
	"github.com/shirokane/gobancho/internal/metrics"
	"github.com/shirokane/gobancho/internal/packet"
	"github.com/shirokane/gobancho/internal/serverpackets"
	"github.com/shirokane/gobancho/internal/session"
	"github.com/shirokane/gobancho/internal/spectator"
	"github.com/shirokane/gobancho/internal/stream"
)

const (
	// loginTimeout bounds how long a fresh connection may take to send
	// its login request before we drop it.
	loginTimeout = 10 * time.Second

	// writeInterval is the queue drain cadence per connection.
	writeInterval = 100 * time.Millisecond

	writeTimeout  = 10 * time.Second
	logoutTimeout = 10 * time.Second

	defaultReadTimeout = 300 * time.Second
)

// UserStore is the slice of the user database the front needs beyond
// what the session registry already consumes.
type UserStore interface {
	GetUserByName(ctx context.Context, username string) (*db.User, error)
	GetFriends(ctx context.Context, userID int32) ([]int32, error)
	AddFriend(ctx context.Context, userID, friendID int32) error
	RemoveFriend(ctx context.Context, userID, friendID int32) error
	UpdateLatestActivity(ctx context.Context, userID int32) error
}

// Services aggregates everything the front depends on. main wires one
// up; tests assemble theirs around the in-memory store.
type Services struct {
	Store      kv.KV
	Users      UserStore
	Clock      clock.Clock
	Metrics    metrics.Sink
	Sessions   *session.Registry
	Streams    *stream.Registry
	Channels   *channel.Registry
	Chat       *chat.Manager
	Spectators *spectator.Manager
	Matches    *match.Engine
}

// Server accepts bancho client connections and runs one reader and one
// writer goroutine per connection.
type Server struct {
	cfg config.Config
	svc Services

	listener net.Listener
	mu       sync.Mutex
}

// New creates the server. Call Bootstrap before Run.
func New(cfg config.Config, svc Services) *Server {
	return &Server{cfg: cfg, svc: svc}
}

// Bootstrap seeds the shared store with the permanent streams, the
// configured channel catalogue and the resident chat bot. Safe to run
// on every replica start; everything it creates is idempotent.
func (s *Server) Bootstrap(ctx context.Context) error {
	for _, name := range []string{stream.Main, stream.Lobby} {
		if err := s.svc.Streams.Add(ctx, name); err != nil {
			return fmt.Errorf("adding %s stream: %w", name, err)
		}
	}
	for _, c := range s.cfg.Channels {
		err := s.svc.Channels.Add(ctx, channel.Channel{
			Name:        c.Name,
			Description: c.Description,
			PublicRead:  c.PublicRead,
			PublicWrite: c.PublicWrite,
		})
		if err != nil {
			return fmt.Errorf("seeding channel %s: %w", c.Name, err)
		}
	}

	// One bot session for the whole cluster.
	_, err := s.svc.Sessions.GetByUserID(ctx, constants.ChatBotUserID)
	if errors.Is(err, session.ErrTokenNotFound) {
		if _, err := s.svc.Sessions.CreateBot(ctx); err != nil {
			return fmt.Errorf("creating bot session: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up bot session: %w", err)
	}
	return nil
}

// Addr returns the address the server is listening on, or nil before
// Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run listens on cfg.BindAddress:cfg.Port and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.BindAddress, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on a prepared listener and waits for the
// per-connection goroutines to finish. Used directly by tests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		slog.Info("bancho server started", "address", ln.Addr())
		acceptLoop(ctx, &wg, s, ln)
	})

	wg.Wait()

	return nil
}

func acceptLoop(
	ctx context.Context,
	wg *sync.WaitGroup,
	srv *Server,
	ln net.Listener,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Error("failed to accept new connection", "error", err)
				continue
			}

			// Keepalive catches peers that vanish without a FIN long
			// before the session reaper would.
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				if err := tcpConn.SetKeepAlive(true); err != nil {
					slog.Warn("set keepalive failed", "error", err)
				}
				if err := tcpConn.SetKeepAlivePeriod(30 * time.Second); err != nil {
					slog.Warn("set keepalive period failed", "error", err)
				}
			}

			wg.Go(func() {
				handleConnection(ctx, srv, conn)
			})
		}
	}
}

func handleConnection(ctx context.Context, srv *Server, conn net.Conn) {
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		slog.Error("failed to split host port", "connection", conn.RemoteAddr(), "error", err)
		return
	}

	slog.Debug("new connection", "remote", host)

	// The same buffered reader carries the login lines and every frame
	// after them.
	br := bufio.NewReader(conn)
	if err := conn.SetReadDeadline(srv.svc.Clock.Now().Add(loginTimeout)); err != nil {
		slog.Warn("setting login deadline failed", "remote", host, "error", err)
		return
	}

	req, err := readLoginRequest(br)
	if err != nil {
		slog.Warn("malformed login request", "remote", host, "error", err)
		return
	}

	t, err := srv.login(ctx, req, host)
	if err != nil {
		refuseLogin(conn, req.Username, host, err)
		return
	}

	defer func() {
		logoutCtx, cancelLogout := context.WithTimeout(context.Background(), logoutTimeout)
		defer cancelLogout()
		if err := srv.logout(logoutCtx, t.ID); err != nil {
			slog.Warn("logout cleanup failed", "user_id", t.UserID, "error", err)
		}
	}()

	// First reply goes out before the write loop takes over the socket:
	// the token line, then whatever login queued up.
	chunks, err := srv.svc.Sessions.Drain(ctx, t.ID)
	if err != nil {
		slog.Error("draining login reply failed", "user_id", t.UserID, "error", err)
		return
	}
	if err := writeLoginReply(conn, t.ID, chunks); err != nil {
		slog.Warn("writing login reply failed", "user_id", t.UserID, "error", err)
		return
	}

	go func() {
		srv.writeLoop(connCtx, conn, t.ID)
		conn.Close()
	}()

	readTimeout := time.Duration(srv.cfg.Workers.SessionTimeout) * time.Second
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	for {
		select {
		case <-connCtx.Done():
			return
		default:
			if err := conn.SetReadDeadline(srv.svc.Clock.Now().Add(readTimeout)); err != nil {
				return
			}
			id, payload, err := packet.ReadFrame(br)
			if err != nil {
				logReadEnd(t, err)
				return
			}
			if err := srv.dispatch(connCtx, t.ID, id, payload); err != nil {
				if errors.Is(err, errLoggedOut) {
					slog.Info("client logged out", "username", t.Username, "user_id", t.UserID)
					return
				}
				slog.Error("packet handling error", "user_id", t.UserID, "packet_id", id, "error", err)
				return
			}
		}
	}
}

func logReadEnd(t *session.Token, err error) {
	switch {
	case errors.Is(err, net.ErrClosed):
		// Writer closed the socket first; nothing to report.
	case errors.Is(err, context.Canceled):
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			slog.Info("client read timed out", "username", t.Username, "user_id", t.UserID)
			return
		}
		slog.Info("client disconnected", "username", t.Username, "user_id", t.UserID, "error", err)
	}
}

// refuseLogin answers a failed handshake with the no-token line and
// the matching refusal packet, then lets the caller close the socket.
func refuseLogin(conn net.Conn, username, host string, err error) {
	var body []byte
	switch {
	case errors.Is(err, errWrongCredentials):
		slog.Warn("login refused: wrong credentials", "username", username, "remote", host)
		body = serverpackets.LoginFailed()
	case errors.Is(err, errBanned):
		slog.Warn("login refused: banned", "username", username, "remote", host)
		body = serverpackets.LoginBanned()
	default:
		slog.Error("login failed", "username", username, "remote", host, "error", err)
		body = serverpackets.LoginError()
	}
	if werr := writeLoginReply(conn, "no", [][]byte{body}); werr != nil {
		slog.Warn("writing login refusal failed", "remote", host, "error", werr)
	}
}

func writeLoginReply(conn net.Conn, tokenID string, chunks [][]byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	bufs := make(net.Buffers, 0, len(chunks)+1)
	bufs = append(bufs, []byte("cho-token: "+tokenID+"\n"))
	bufs = append(bufs, chunks...)
	if _, err := bufs.WriteTo(conn); err != nil {
		return fmt.Errorf("writing login reply: %w", err)
	}
	return nil
}

// sortChannels orders a catalogue listing for the client. The store
// returns set members in arbitrary order.
func sortChannels(channels []*channel.Channel) {
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].Name < channels[j].Name
	})
}
