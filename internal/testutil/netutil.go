package testutil

import (
	"net"
	"testing"
)

// ListenTCP opens a TCP listener on a random localhost port and closes
// it via t.Cleanup. Returns the listener and its "host:port" address.
func ListenTCP(t testing.TB) (net.Listener, string) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create TCP listener: %v", err)
	}

	t.Cleanup(func() {
		_ = listener.Close()
	})

	return listener, listener.Addr().String()
}
