package testutil

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/shirokane/gobancho/internal/packet"
)

// ioTimeout bounds every single read and write on a test connection.
const ioTimeout = 10 * time.Second

// Client speaks the plain TCP form of the protocol: a three line login
// followed by length framed packets both ways. Integration and e2e
// tests drive a running server through it.
type Client struct {
	// Token is the session id the server assigned, or "no" when the
	// login was refused.
	Token string

	tb   testing.TB
	conn net.Conn
	br   *bufio.Reader
}

// Dial connects to a running server without logging in. The connection
// is closed by t.Cleanup.
func Dial(tb testing.TB, addr string) *Client {
	tb.Helper()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		tb.Fatalf("dialing %s: %v", addr, err)
	}
	tb.Cleanup(func() { _ = conn.Close() })

	return &Client{tb: tb, conn: conn, br: bufio.NewReader(conn)}
}

// Login sends the login request and reads the token reply line. The
// clientInfo line carries build, utc offset, display flag, client
// hashes and the friends-only dm flag, pipe separated.
func (c *Client) Login(username, passwordMD5, clientInfo string) string {
	c.tb.Helper()
	c.stamp()

	if _, err := fmt.Fprintf(c.conn, "%s\n%s\n%s\n", username, passwordMD5, clientInfo); err != nil {
		c.tb.Fatalf("writing login request: %v", err)
	}
	line, err := c.br.ReadString('\n')
	if err != nil {
		c.tb.Fatalf("reading token line: %v", err)
	}
	if !strings.HasPrefix(line, "cho-token: ") {
		c.tb.Fatalf("unexpected first line %q", line)
	}
	c.Token = strings.TrimSpace(strings.TrimPrefix(line, "cho-token: "))
	return c.Token
}

// WriteEmpty sends a framed packet with no payload.
func (c *Client) WriteEmpty(id uint16) {
	c.tb.Helper()
	c.WriteFrame(packet.Empty(id))
}

// WriteFrame sends an already framed packet.
func (c *Client) WriteFrame(frame []byte) {
	c.tb.Helper()
	c.stamp()
	if _, err := c.conn.Write(frame); err != nil {
		c.tb.Fatalf("writing frame: %v", err)
	}
}

// ReadFrame reads the next framed packet.
func (c *Client) ReadFrame() (uint16, []byte) {
	c.tb.Helper()
	c.stamp()
	id, payload, err := packet.ReadFrame(c.br)
	if err != nil {
		c.tb.Fatalf("reading frame: %v", err)
	}
	return id, payload
}

// ReadUntil consumes frames until the wanted id shows up and returns
// its payload.
func (c *Client) ReadUntil(want uint16) []byte {
	c.tb.Helper()
	for range 64 {
		id, payload := c.ReadFrame()
		if id == want {
			return payload
		}
	}
	c.tb.Fatalf("frame %d never arrived", want)
	return nil
}

// Close closes the connection early. Safe to call twice.
func (c *Client) Close() {
	_ = c.conn.Close()
}

func (c *Client) stamp() {
	_ = c.conn.SetDeadline(time.Now().Add(ioTimeout))
}
