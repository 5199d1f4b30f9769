// Package game runs the tick-driven server loop that consumes inbound
// messages from the transport and answers them.
package game

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/stormfell/gameserver/internal/protocol"
)

// Transport is the synchronous surface the loop needs from the network
// layer: non-blocking retrieval, fire-and-forget sends, and two-phase
// disconnection.
type Transport interface {
	TryGetMessage() (*protocol.Message, bool)
	SendMessage(*protocol.Message)
	DisconnectClient(addr netip.AddrPort)
	FlushPendingDisconnects()
}

// Loop is a minimal message pump: logins are assigned client IDs,
// keepalives are acknowledged, actions are echoed back as perceptions,
// and logouts are acknowledged and then disconnected. Each tick drains
// every queued message and then flushes pending disconnects exactly
// once, so a logout's farewell is handed to the writer before its
// socket is torn down.
type Loop struct {
	transport Transport
	logger    *zap.Logger
	tick      time.Duration

	nextID atomic.Int32

	quit chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewLoop creates a stopped Loop.
//
// Precondition: transport and logger must be non-nil; tick must be > 0.
func NewLoop(transport Transport, tick time.Duration, logger *zap.Logger) *Loop {
	if tick <= 0 {
		panic("game.NewLoop: tick must be > 0")
	}
	return &Loop{
		transport: transport,
		logger:    logger,
		tick:      tick,
		quit:      make(chan struct{}),
	}
}

// Start launches the loop goroutine.
//
// Precondition: The loop must not already be running.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}
	l.running = true

	l.wg.Add(1)
	go l.run()

	l.logger.Info("game loop started", zap.Duration("tick", l.tick))
	return nil
}

// Stop stops the loop and waits for the in-flight tick to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.quit)
	l.mu.Unlock()

	l.wg.Wait()
	l.logger.Info("game loop stopped")
}

func (l *Loop) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	for {
		select {
		case <-l.quit:
			return
		case <-ticker.C:
			l.runTick()
		}
	}
}

// runTick drains every queued message, then applies deferred
// disconnects.
func (l *Loop) runTick() {
	for {
		msg, ok := l.transport.TryGetMessage()
		if !ok {
			break
		}
		l.dispatch(msg)
	}
	l.transport.FlushPendingDisconnects()
}

func (l *Loop) dispatch(msg *protocol.Message) {
	switch msg.Kind {
	case protocol.KindLogin:
		l.handleLogin(msg)
	case protocol.KindLogout:
		l.handleLogout(msg)
	case protocol.KindKeepalive:
		l.handleKeepalive(msg)
	case protocol.KindAction:
		l.handleAction(msg)
	default:
		l.logger.Debug("ignoring message",
			zap.Stringer("kind", msg.Kind),
			zap.String("remote_addr", msg.Addr.String()),
		)
	}
}

// handleLogin assigns the next client ID and acknowledges with it.
func (l *Loop) handleLogin(msg *protocol.Message) {
	id := l.nextID.Add(1)
	l.logger.Info("client logged in",
		zap.Int32("client_id", id),
		zap.String("remote_addr", msg.Addr.String()),
	)
	l.transport.SendMessage(protocol.NewMessage(protocol.KindLoginAck, id, msg.Addr, msg.Payload))
}

// handleLogout acknowledges first, then marks the client for
// disconnection; the end-of-tick flush closes the socket after the
// farewell is on its way.
func (l *Loop) handleLogout(msg *protocol.Message) {
	l.logger.Info("client logged out",
		zap.Int32("client_id", msg.ClientID),
		zap.String("remote_addr", msg.Addr.String()),
	)
	l.transport.SendMessage(protocol.NewMessage(protocol.KindLogoutAck, msg.ClientID, msg.Addr, nil))
	l.transport.DisconnectClient(msg.Addr)
}

func (l *Loop) handleKeepalive(msg *protocol.Message) {
	l.transport.SendMessage(protocol.NewMessage(protocol.KindServerInfo, msg.ClientID, msg.Addr, nil))
}

// handleAction echoes the action payload back as a perception.
func (l *Loop) handleAction(msg *protocol.Message) {
	l.transport.SendMessage(protocol.NewMessage(protocol.KindPerception, msg.ClientID, msg.Addr, msg.Payload))
}
