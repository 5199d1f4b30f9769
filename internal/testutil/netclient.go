// Package testutil provides test client utilities for exercising the
// game transport over real sockets.
package testutil

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stormfell/gameserver/internal/protocol"
)

// TCPGameClient is a framed game-protocol test client for integration
// testing.
type TCPGameClient struct {
	conn net.Conn
	t    *testing.T
}

// NewTCPGameClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected TCPGameClient or fails the test.
func NewTCPGameClient(t *testing.T, addr string) *TCPGameClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("game client connected to %s [%s]", addr, time.Since(start))
	return &TCPGameClient{conn: conn, t: t}
}

// Send frames and writes a message to the server.
//
// Postcondition: The length-prefixed encoding of msg is written, or the
// test fails.
func (c *TCPGameClient) Send(msg *protocol.Message) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write(protocol.EncodeFrame(msg)); err != nil {
		c.t.Fatalf("sending %s message: %v", msg.Kind, err)
	}
}

// ReadMessage reads one framed message from the server, failing the test
// on error or timeout.
func (c *TCPGameClient) ReadMessage(timeout time.Duration) *protocol.Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

	header := make([]byte, protocol.FrameHeaderSize)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		c.t.Fatalf("reading frame header: %v", err)
	}
	body := make([]byte, binary.BigEndian.Uint32(header))
	if _, err := io.ReadFull(c.conn, body); err != nil {
		c.t.Fatalf("reading frame body: %v", err)
	}

	msg, err := protocol.Decode(body, c.Addr())
	if err != nil {
		c.t.Fatalf("decoding message: %v", err)
	}
	return msg
}

// ExpectClose asserts that the server closes the connection within timeout.
//
// Precondition: All pending inbound messages have been read.
func (c *TCPGameClient) ExpectClose(timeout time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

	buf := make([]byte, 1)
	n, err := c.conn.Read(buf)
	if err == nil {
		c.t.Fatalf("expected connection close, read %d unexpected bytes", n)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		c.t.Fatal("connection still open after deadline")
	}
}

// Addr returns the client's local address.
func (c *TCPGameClient) Addr() netip.AddrPort {
	c.t.Helper()
	tcpAddr, ok := c.conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		c.t.Fatalf("unexpected local address type %T", c.conn.LocalAddr())
	}
	return tcpAddr.AddrPort()
}

// Close closes the underlying connection.
func (c *TCPGameClient) Close() {
	c.conn.Close()
}

// UDPGameClient exchanges bare datagram-encoded messages with the server.
type UDPGameClient struct {
	conn *net.UDPConn
	t    *testing.T
}

// NewUDPGameClient creates a connected UDP socket aimed at the given address.
func NewUDPGameClient(t *testing.T, addr string) *UDPGameClient {
	t.Helper()

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		t.Fatalf("resolving %s: %v", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		t.Fatalf("dialing udp %s: %v", addr, err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return &UDPGameClient{conn: conn, t: t}
}

// Send writes one message as a single datagram.
func (c *UDPGameClient) Send(msg *protocol.Message) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write(protocol.Encode(msg)); err != nil {
		c.t.Fatalf("sending %s datagram: %v", msg.Kind, err)
	}
}

// ReadMessage reads one datagram and decodes it, failing the test on
// error or timeout.
func (c *UDPGameClient) ReadMessage(timeout time.Duration) *protocol.Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

	buf := make([]byte, 65536)
	n, err := c.conn.Read(buf)
	if err != nil {
		c.t.Fatalf("reading datagram: %v", err)
	}

	msg, err := protocol.Decode(buf[:n], c.Addr())
	if err != nil {
		c.t.Fatalf("decoding datagram: %v", err)
	}
	return msg
}

// Addr returns the client's local address.
func (c *UDPGameClient) Addr() netip.AddrPort {
	c.t.Helper()
	udpAddr, ok := c.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		c.t.Fatalf("unexpected local address type %T", c.conn.LocalAddr())
	}
	return udpAddr.AddrPort()
}
