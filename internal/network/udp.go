package network

import (
	"time"

	"go.uber.org/zap"

	"github.com/stormfell/gameserver/internal/protocol"
	"github.com/stormfell/gameserver/internal/stats"
)

// maxDatagramSize covers the largest UDP payload the socket can hand
// us; one datagram carries exactly one message body.
const maxDatagramSize = 65536

// udpReadLoop is the reader worker for the UDP transport. Each receive
// waits at most cfg.UDPReadTimeout, so the quit flag is observed within
// a bounded interval even when no traffic arrives.
func (m *Manager) udpReadLoop() {
	defer m.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-m.quit:
			return
		default:
		}

		_ = m.udp.SetReadDeadline(time.Now().Add(m.cfg.UDPReadTimeout))
		n, src, err := m.udp.ReadFromUDPAddrPort(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-m.quit:
				return
			default:
			}
			m.logger.Warn("udp read failed", zap.Error(err))
			continue
		}

		m.sink.Add(stats.BytesReceived, int64(n))

		// The scratch buffer is reused; the admission path gets a copy.
		body := make([]byte, n)
		copy(body, buf[:n])
		m.ReceiveMessage(body, canonicalAddrPort(src))
	}
}

// udpWriteLoop is the writer worker for the UDP transport, draining the
// ordered send queue. Datagram send failures are logged and dropped;
// there is no per-client socket to tear down.
func (m *Manager) udpWriteLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.quit:
			return
		case msg := <-m.udpSend:
			body := protocol.Encode(msg)
			n, err := m.udp.WriteToUDPAddrPort(body, msg.Addr)
			if n > 0 {
				m.sink.Add(stats.BytesSent, int64(n))
			}
			if err != nil {
				m.logger.Warn("udp write failed",
					zap.String("remote_addr", msg.Addr.String()),
					zap.Stringer("kind", msg.Kind),
					zap.Error(err),
				)
			}
		}
	}
}
