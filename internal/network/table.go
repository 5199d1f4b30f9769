package network

import (
	"net"
	"net/netip"
	"sync"

	"github.com/stormfell/gameserver/internal/protocol"
)

// tcpClient is the bookkeeping for one accepted TCP connection: the
// socket, a correlation ID for log lines, and the stream reassembly
// state owned by the TCP reader.
type tcpClient struct {
	id     string
	addr   netip.AddrPort
	conn   *net.TCPConn
	frames *protocol.FrameAccumulator
}

// connTable maps client addresses to their accepted TCP connections.
// The accept loop inserts, the close path removes, and the send path
// looks up, all under the same single lock.
type connTable struct {
	mu      sync.RWMutex
	clients map[netip.AddrPort]*tcpClient
}

func newConnTable() *connTable {
	return &connTable{clients: make(map[netip.AddrPort]*tcpClient)}
}

// add registers c under its address, replacing any stale entry.
func (t *connTable) add(c *tcpClient) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[c.addr] = c
}

// get returns the connection registered under addr.
func (t *connTable) get(addr netip.AddrPort) (*tcpClient, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.clients[addr]
	return c, ok
}

// remove deletes and returns the connection registered under addr.
// Exactly one caller gets (c, true) for a given registration; closing
// the socket is the caller's job.
func (t *connTable) remove(addr netip.AddrPort) (*tcpClient, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.clients[addr]
	if !ok {
		return nil, false
	}
	delete(t.clients, addr)
	return c, true
}

// snapshot returns the registered connections at this instant. The
// TCP reader iterates the snapshot so it never holds the lock across a
// socket read.
func (t *connTable) snapshot() []*tcpClient {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*tcpClient, 0, len(t.clients))
	for _, c := range t.clients {
		out = append(out, c)
	}
	return out
}

// len returns the number of registered connections.
func (t *connTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}
