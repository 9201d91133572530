package bancho

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shirokane/gobancho/internal/packet"
	"github.com/shirokane/gobancho/internal/packetid"
	"github.com/shirokane/gobancho/internal/session"
)

func TestDispatchPingPongAndLiveness(t *testing.T) {
	w := newWorld(t)
	tok := w.login(t, 1001, "alice")

	w.clk.Advance(42 * time.Second)
	w.dispatch(t, tok.ID, packetid.ClientPing, nil)

	if !hasFrame(t, w.drain(t, tok.ID), packetid.ServerPong) {
		t.Fatal("no pong queued")
	}
	fresh := w.reload(t, tok.ID)
	if fresh.PingTime != w.clk.Now().Unix() {
		t.Fatalf("ping time = %d, want %d", fresh.PingTime, w.clk.Now().Unix())
	}
}

func TestDispatchLogoutSignalsReadLoop(t *testing.T) {
	w := newWorld(t)
	tok := w.login(t, 1001, "alice")

	err := w.srv.dispatch(context.Background(), tok.ID, packetid.ClientLogout, nil)
	if !errors.Is(err, errLoggedOut) {
		t.Fatalf("err = %v, want logged out signal", err)
	}
	// The teardown belongs to the connection loop, not the dispatcher.
	if !w.exists(t, tok.ID) {
		t.Fatal("dispatcher tore the session down itself")
	}
}

func TestDispatchIgnoresUnknownPacket(t *testing.T) {
	w := newWorld(t)
	tok := w.login(t, 1001, "alice")

	w.dispatch(t, tok.ID, 9999, nil)

	if chunks := w.drain(t, tok.ID); len(chunks) != 0 {
		t.Fatalf("unknown packet produced %d chunks", len(chunks))
	}
}

func TestDispatchBusySessionDropsPacket(t *testing.T) {
	w := newWorld(t)
	tok := w.login(t, 1001, "alice")

	busy := w.withBusyLock(session.ProcessingLock(tok.ID))
	if err := busy.dispatch(context.Background(), tok.ID, packetid.ClientPing, nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	chunks := w.drain(t, tok.ID)
	if hasFrame(t, chunks, packetid.ServerPong) {
		t.Fatal("dropped packet was still handled")
	}
	text, err := packet.NewReader(framePayload(t, chunks, packetid.ServerNotification)).ReadString()
	if err != nil {
		t.Fatalf("reading notice: %v", err)
	}
	if text != busyNotice {
		t.Fatalf("notice = %q", text)
	}
}
