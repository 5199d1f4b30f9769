// Package network implements the transport core of the game server: a
// TCP listener and a UDP socket bound to the same well-known port,
// reader and writer workers for both transports, the client address to
// socket table, the shared inbound message queue consumed by the game
// loop, and deferred two-phase client disconnection.
package network

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"

	"github.com/stormfell/gameserver/internal/config"
	"github.com/stormfell/gameserver/internal/protocol"
	"github.com/stormfell/gameserver/internal/stats"
)

// invalidVersionNotice is the client-visible reply to traffic carrying
// an unsupported protocol version.
const invalidVersionNotice = "Invalid client version: Update client"

// udpTrafficClass requests low-delay, high-throughput handling
// (IPTOS_LOWDELAY | IPTOS_THROUGHPUT) for game datagrams.
const udpTrafficClass = 0x10 | 0x08

// Banlist is the admission predicate consulted before any byte of a
// message is parsed.
type Banlist interface {
	IsBanned(ip netip.Addr) bool
}

// tcpSendReq pairs an outbound message with the connection it was
// routed to at submission time. A nil msg is a close request: the writer
// tears the connection down after draining everything queued before it.
type tcpSendReq struct {
	client *tcpClient
	msg    *protocol.Message
}

// Manager owns the sockets, the workers, the connection table, and the
// inbound queue. Readers push into the queue via ReceiveMessage; the
// game loop drains it with GetMessage and its timed and non-blocking
// variants, sends with SendMessage, and tears clients down with the
// DisconnectClient / FlushPendingDisconnects pair.
type Manager struct {
	cfg    config.NetworkConfig
	bans   Banlist
	sink   stats.Sink
	logger *zap.Logger

	queue *messageQueue
	table *connTable

	// pending holds addresses marked for disconnection; it has its own
	// lock, never held together with the table lock.
	pendingMu sync.Mutex
	pending   map[netip.AddrPort]struct{}

	listener *net.TCPListener
	udp      *net.UDPConn

	tcpSend chan tcpSendReq
	udpSend chan *protocol.Message

	quit chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	running bool

	banLog *rate.Limiter
}

// NewManager creates a stopped Manager.
//
// Precondition: bans, sink, and logger must be non-nil.
// Postcondition: Returns a Manager ready to be started once.
func NewManager(cfg config.NetworkConfig, bans Banlist, sink stats.Sink, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		bans:    bans,
		sink:    sink,
		logger:  logger,
		queue:   newMessageQueue(),
		table:   newConnTable(),
		pending: make(map[netip.AddrPort]struct{}),
		tcpSend: make(chan tcpSendReq, cfg.SendQueueSize),
		udpSend: make(chan *protocol.Message, cfg.SendQueueSize),
		quit:    make(chan struct{}),
		banLog:  rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Start binds the TCP listener and, when enabled, the UDP socket on the
// same port, then launches the transport workers. A failure to bind
// either socket is fatal and leaves nothing running.
//
// Precondition: The manager must not already be running.
// Postcondition: All workers are running, or a bind error is returned.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New("network manager already running")
	}

	lis, err := net.Listen("tcp", m.cfg.Addr())
	if err != nil {
		return fmt.Errorf("binding tcp %s: %w", m.cfg.Addr(), err)
	}
	m.listener = lis.(*net.TCPListener)

	// With port 0 the kernel picks the TCP port; UDP reuses it so both
	// transports still share one number.
	port := m.listener.Addr().(*net.TCPAddr).Port

	if m.cfg.EnableUDP {
		if err := m.bindUDP(port); err != nil {
			m.listener.Close()
			m.listener = nil
			return err
		}
	}

	m.running = true

	m.wg.Add(3)
	go m.acceptLoop()
	go m.tcpReadLoop()
	go m.tcpWriteLoop()
	if m.udp != nil {
		m.wg.Add(2)
		go m.udpReadLoop()
		go m.udpWriteLoop()
	}

	m.logger.Info("network manager started",
		zap.String("addr", m.listener.Addr().String()),
		zap.Int("port", port),
		zap.Bool("udp", m.udp != nil),
	)
	return nil
}

func (m *Manager) bindUDP(port int) error {
	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(m.cfg.Host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("resolving udp address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("binding udp port %d: %w", port, err)
	}

	if err := conn.SetWriteBuffer(m.cfg.UDPSendBuffer); err != nil {
		m.logger.Warn("setting udp send buffer",
			zap.Int("bytes", m.cfg.UDPSendBuffer),
			zap.Error(err),
		)
	}
	// Best effort: some stacks refuse TOS on dual-stack sockets.
	if err := ipv4.NewPacketConn(conn).SetTOS(udpTrafficClass); err != nil {
		m.logger.Warn("setting udp traffic class", zap.Error(err))
	}

	m.udp = conn
	return nil
}

// Stop raises the quit flag and blocks until every worker has exited.
// The accept loop closes the listener on its way out; remaining client
// connections and the UDP socket are closed here. Stopping a stopped
// manager is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.quit)
	m.mu.Unlock()

	m.wg.Wait()

	for _, c := range m.table.snapshot() {
		m.disconnectNow(c.addr)
	}
	if m.udp != nil {
		m.udp.Close()
	}

	m.logger.Info("network manager stopped")
}

// IsRunning reports whether the workers are live.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Addr returns the actual TCP listen address, or empty before Start.
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Port returns the bound port number shared by both transports, or 0
// before Start.
func (m *Manager) Port() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return 0
	}
	return m.listener.Addr().(*net.TCPAddr).Port
}

// ReceiveMessage admits one complete unit of inbound traffic: the ban
// filter first, then the codec, then the queue. Readers call this with
// fully reassembled bodies; socket-level errors never reach it.
//
// A banned source is dropped silently. A version mismatch is counted
// and answered with a KindInvalidMessage reply; any other decode
// failure is counted and dropped without a reply.
func (m *Manager) ReceiveMessage(data []byte, src netip.AddrPort) {
	if m.bans.IsBanned(src.Addr()) {
		if m.banLog.Allow() {
			m.logger.Debug("dropping traffic from banned address",
				zap.String("remote_addr", src.String()),
			)
		}
		return
	}

	msg, err := protocol.Decode(data, src)
	if err != nil {
		var verr *protocol.InvalidVersionError
		if errors.As(err, &verr) {
			m.sink.Add(stats.MessagesInvalidVersion, 1)
			m.logger.Warn("rejecting client with unsupported protocol version",
				zap.String("remote_addr", src.String()),
				zap.Uint8("version", verr.Got),
			)
			m.SendMessage(protocol.NewMessage(
				protocol.KindInvalidMessage, protocol.ClientIDNone, src,
				[]byte(invalidVersionNotice),
			))
			return
		}
		m.sink.Add(stats.MessagesMalformed, 1)
		m.logger.Warn("dropping malformed message",
			zap.String("remote_addr", src.String()),
			zap.Error(err),
		)
		return
	}

	m.sink.Add(stats.MessagesReceived, 1)
	m.queue.push(msg)
}

// GetMessage blocks until an inbound message is available and returns
// the queue head.
func (m *Manager) GetMessage() *protocol.Message {
	return m.queue.get()
}

// GetMessageTimeout waits up to d for an inbound message.
//
// Postcondition: Returns (head, true) as soon as a message is
// available, or (nil, false) once d has elapsed with the queue empty.
func (m *Manager) GetMessageTimeout(d time.Duration) (*protocol.Message, bool) {
	return m.queue.getTimeout(d)
}

// TryGetMessage returns the queue head without waiting.
func (m *Manager) TryGetMessage() (*protocol.Message, bool) {
	return m.queue.tryGet()
}

// QueueLen returns the number of inbound messages awaiting the consumer.
func (m *Manager) QueueLen() int {
	return m.queue.len()
}

// SendMessage routes msg to the transport serving msg.Addr: the
// registered TCP connection when one exists, otherwise UDP. Fire and
// forget; a full send queue or a missing route drops the message with
// a log line and a counter, never an error.
func (m *Manager) SendMessage(msg *protocol.Message) {
	if c, ok := m.table.get(msg.Addr); ok {
		select {
		case m.tcpSend <- tcpSendReq{client: c, msg: msg}:
		default:
			m.sink.Add(stats.SendQueueDrops, 1)
			m.logger.Warn("tcp send queue full, dropping message",
				zap.String("conn_id", c.id),
				zap.String("remote_addr", msg.Addr.String()),
				zap.Stringer("kind", msg.Kind),
			)
		}
		return
	}

	if m.udp == nil {
		m.sink.Add(stats.MessagesUnroutable, 1)
		m.logger.Warn("no route to client, dropping message",
			zap.String("remote_addr", msg.Addr.String()),
			zap.Stringer("kind", msg.Kind),
		)
		return
	}

	select {
	case m.udpSend <- msg:
	default:
		m.sink.Add(stats.SendQueueDrops, 1)
		m.logger.Warn("udp send queue full, dropping message",
			zap.String("remote_addr", msg.Addr.String()),
			zap.Stringer("kind", msg.Kind),
		)
	}
}

// DisconnectClient marks addr for disconnection at the next flush. The
// socket stays registered until then, so replies already on their way
// out can still be delivered. Marking the same address twice is a
// no-op.
func (m *Manager) DisconnectClient(addr netip.AddrPort) {
	m.pendingMu.Lock()
	m.pending[addr] = struct{}{}
	m.pendingMu.Unlock()

	m.logger.Debug("client marked for disconnect",
		zap.String("remote_addr", addr.String()),
	)
}

// FlushPendingDisconnects closes every marked connection and clears the
// marks. The game loop calls this once per tick, after the tick's
// outbound traffic has been handed to the writers.
//
// Closes for live TCP connections travel through the send queue, behind
// any farewell queued earlier in the tick, so the writer delivers the
// farewell before tearing the connection down. Messages submitted after
// the flush find the address gone and are dropped as unroutable.
func (m *Manager) FlushPendingDisconnects() {
	m.pendingMu.Lock()
	if len(m.pending) == 0 {
		m.pendingMu.Unlock()
		return
	}
	marked := make([]netip.AddrPort, 0, len(m.pending))
	for addr := range m.pending {
		marked = append(marked, addr)
	}
	clear(m.pending)
	m.pendingMu.Unlock()

	// The pending lock is released before any table work so the two
	// locks are never held together.
	for _, addr := range marked {
		c, ok := m.table.get(addr)
		if !ok {
			// Nothing registered under the mark; a UDP-only client or a
			// connection that already dropped.
			continue
		}
		select {
		case m.tcpSend <- tcpSendReq{client: c}:
		default:
			m.disconnectNow(addr)
		}
	}
}

// disconnectNow closes and forgets the connection registered under
// addr. Safe to call for addresses that were never registered or are
// already gone; only the caller that wins the table removal closes the
// socket.
func (m *Manager) disconnectNow(addr netip.AddrPort) {
	c, ok := m.table.remove(addr)
	if !ok {
		return
	}
	if err := c.conn.Close(); err != nil {
		m.logger.Debug("closing connection",
			zap.String("conn_id", c.id),
			zap.Error(err),
		)
	}
	m.logger.Info("client disconnected",
		zap.String("conn_id", c.id),
		zap.String("remote_addr", addr.String()),
	)
}

// ConnCount returns the number of registered TCP connections.
func (m *Manager) ConnCount() int {
	return m.table.len()
}

// canonicalAddrPort normalizes a socket address for use as a table key.
// IPv4-mapped IPv6 addresses collapse to plain IPv4 so TCP and UDP
// traffic from the same client key identically.
func canonicalAddrPort(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// isTimeout reports whether err is a deadline expiry rather than a real
// transport failure.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
