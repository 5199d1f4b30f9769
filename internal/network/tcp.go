package network

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stormfell/gameserver/internal/protocol"
	"github.com/stormfell/gameserver/internal/stats"
)

// tcpProbeTimeout is the deadline for a single probe read. The TCP
// reader multiplexes every connection, so each probe must return almost
// immediately when a peer has nothing to say.
const tcpProbeTimeout = time.Millisecond

// tcpReadBufSize is the per-read scratch buffer size; larger frames
// arrive across multiple reads and are reassembled by the accumulator.
const tcpReadBufSize = 8192

// acceptLoop accepts TCP connections until the quit flag is raised.
// The listener deadline bounds each accept wait so the flag is observed
// within cfg.AcceptTimeout; the loop closes the listener on its way
// out.
func (m *Manager) acceptLoop() {
	defer m.wg.Done()
	defer m.listener.Close()

	for {
		select {
		case <-m.quit:
			return
		default:
		}

		_ = m.listener.SetDeadline(time.Now().Add(m.cfg.AcceptTimeout))
		conn, err := m.listener.AcceptTCP()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-m.quit:
				return
			default:
			}
			m.logger.Error("accepting connection", zap.Error(err))
			continue
		}

		m.registerConn(conn)
	}
}

// registerConn derives the peer's address key and inserts the
// connection into the table, where the TCP reader's next pass picks it
// up.
func (m *Manager) registerConn(conn *net.TCPConn) {
	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		m.logger.Warn("rejecting connection with unusable remote address",
			zap.String("remote_addr", conn.RemoteAddr().String()),
		)
		conn.Close()
		return
	}

	c := &tcpClient{
		id:     uuid.NewString(),
		addr:   canonicalAddrPort(tcpAddr.AddrPort()),
		conn:   conn,
		frames: protocol.NewFrameAccumulator(m.cfg.MaxMessageSize),
	}
	_ = conn.SetReadDeadline(time.Now().Add(m.cfg.TCPReadTimeout))
	m.table.add(c)

	m.logger.Info("client connected",
		zap.String("conn_id", c.id),
		zap.String("remote_addr", c.addr.String()),
	)
}

// tcpReadLoop is the single reader worker for every TCP connection.
// Each pass probes a snapshot of the table; connections with bytes
// ready are drained into their frame accumulators and completed bodies
// are admitted. A pass with no traffic at all sleeps for the poll
// interval so the loop never spins hot.
func (m *Manager) tcpReadLoop() {
	defer m.wg.Done()

	buf := make([]byte, tcpReadBufSize)
	for {
		select {
		case <-m.quit:
			return
		default:
		}

		busy := false
		for _, c := range m.table.snapshot() {
			if m.serviceConn(c, buf) {
				busy = true
			}
		}

		if !busy {
			select {
			case <-m.quit:
				return
			case <-time.After(m.cfg.PollInterval):
			}
		}
	}
}

// serviceConn drains whatever c has ready, bounded by the configured
// TCP read timeout so one chatty peer cannot starve the other
// connections for a whole pass. Returns true when any bytes arrived.
//
// A socket error tears down only this connection; a corrupt stream
// (bad frame length) does the same, since framing cannot resynchronize.
func (m *Manager) serviceConn(c *tcpClient, buf []byte) bool {
	budget := time.Now().Add(m.cfg.TCPReadTimeout)
	got := false

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(tcpProbeTimeout))
		n, err := c.conn.Read(buf)
		if n > 0 {
			got = true
			m.sink.Add(stats.BytesReceived, int64(n))
			c.frames.Feed(buf[:n])
			if !m.admitFrames(c) {
				return true
			}
		}

		switch {
		case err == nil:
			if time.Now().After(budget) {
				return got
			}
		case isTimeout(err):
			return got
		case errors.Is(err, io.EOF):
			m.logger.Info("client closed connection",
				zap.String("conn_id", c.id),
				zap.String("remote_addr", c.addr.String()),
			)
			m.disconnectNow(c.addr)
			return got
		default:
			m.logger.Warn("connection read failed",
				zap.String("conn_id", c.id),
				zap.String("remote_addr", c.addr.String()),
				zap.Error(err),
			)
			m.disconnectNow(c.addr)
			return got
		}
	}
}

// admitFrames feeds every completed body to the admission path.
// Returns false when the stream turned out corrupt and the connection
// was dropped.
func (m *Manager) admitFrames(c *tcpClient) bool {
	for {
		body, err := c.frames.Next()
		if err != nil {
			m.logger.Warn("closing connection with corrupt stream",
				zap.String("conn_id", c.id),
				zap.String("remote_addr", c.addr.String()),
				zap.Error(err),
			)
			m.disconnectNow(c.addr)
			return false
		}
		if body == nil {
			return true
		}
		m.ReceiveMessage(body, c.addr)
	}
}

// tcpWriteLoop is the single writer worker for the TCP transport. It
// drains the ordered send queue; messages to the same connection go out
// in submission order, and a close request lands only after everything
// queued ahead of it has been written.
func (m *Manager) tcpWriteLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.quit:
			return
		case req := <-m.tcpSend:
			if req.msg == nil {
				m.disconnectNow(req.client.addr)
				continue
			}
			m.writeTCP(req.client, req.msg)
		}
	}
}

// writeTCP frames and writes one message. A write failure is a
// transport error for that connection only: logged, counted as a
// disconnect, and the socket removed from the table.
func (m *Manager) writeTCP(c *tcpClient, msg *protocol.Message) {
	frame := protocol.EncodeFrame(msg)

	_ = c.conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	n, err := c.conn.Write(frame)
	if n > 0 {
		m.sink.Add(stats.BytesSent, int64(n))
	}
	if err != nil {
		m.logger.Warn("connection write failed",
			zap.String("conn_id", c.id),
			zap.String("remote_addr", c.addr.String()),
			zap.Stringer("kind", msg.Kind),
			zap.Error(err),
		)
		m.disconnectNow(c.addr)
	}
}
