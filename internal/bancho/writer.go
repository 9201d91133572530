package bancho

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/shirokane/gobancho/internal/kv"
)

// errSessionGone ends a write loop whose session was evicted by a
// newer login or reclaimed by the reaper.
var errSessionGone = errors.New("session gone")

// writeLoop pumps the session's outgoing queue to the socket until the
// context ends or the connection breaks. On shutdown it flushes what
// is still queued within the configured grace period. The caller
// closes the connection after this returns.
func (s *Server) writeLoop(ctx context.Context, conn net.Conn, tokenID string) {
	ticker := time.NewTicker(writeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drainForShutdown(conn, tokenID)
			return
		case <-ticker.C:
			if err := s.flushQueue(ctx, conn, tokenID); err != nil {
				if !errors.Is(err, errSessionGone) && !errors.Is(err, context.Canceled) {
					slog.Debug("write loop ended", "token_id", tokenID, "error", err)
				}
				return
			}
		}
	}
}

// flushQueue writes one drain's worth of queued bytes. An empty drain
// doubles as a liveness probe, so an evicted session's socket closes
// within a tick instead of idling until its next read.
func (s *Server) flushQueue(ctx context.Context, conn net.Conn, tokenID string) error {
	chunks, err := s.svc.Sessions.Drain(ctx, tokenID)
	if errors.Is(err, kv.ErrLockTimeout) {
		// Somebody is holding the buffer; the next tick retries.
		return nil
	}
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		ok, err := s.svc.Sessions.Exists(ctx, tokenID)
		if err != nil {
			return err
		}
		if !ok {
			return errSessionGone
		}
		return nil
	}
	return writeChunks(conn, chunks)
}

// drainForShutdown gives the client one last flush before the socket
// closes under it.
func (s *Server) drainForShutdown(conn net.Conn, tokenID string) {
	grace := time.Duration(s.cfg.Server.ShutdownConnectionTimeout) * time.Second
	if grace <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	chunks, err := s.svc.Sessions.Drain(ctx, tokenID)
	if err != nil || len(chunks) == 0 {
		return
	}
	if err := writeChunks(conn, chunks); err != nil {
		slog.Debug("shutdown flush failed", "token_id", tokenID, "error", err)
	}
}

func writeChunks(conn net.Conn, chunks [][]byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	bufs := net.Buffers(chunks)
	if _, err := bufs.WriteTo(conn); err != nil {
		return err
	}
	return nil
}
