package game

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/stormfell/gameserver/internal/protocol"
)

// fakeTransport is an in-memory Transport that records sends and
// disconnect marks.
type fakeTransport struct {
	mu      sync.Mutex
	inbound []*protocol.Message
	sent    []*protocol.Message
	marked  []netip.AddrPort
	flushed int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) push(msgs ...*protocol.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, msgs...)
}

func (f *fakeTransport) TryGetMessage() (*protocol.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 {
		return nil, false
	}
	m := f.inbound[0]
	f.inbound = f.inbound[1:]
	return m, true
}

func (f *fakeTransport) SendMessage(m *protocol.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
}

func (f *fakeTransport) DisconnectClient(addr netip.AddrPort) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, addr)
}

func (f *fakeTransport) FlushPendingDisconnects() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
}

func (f *fakeTransport) sentMessages() []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*protocol.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) flushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushed
}

var clientAddr = netip.MustParseAddrPort("192.0.2.20:42000")

func waitForSent(t *testing.T, f *fakeTransport, want int) []*protocol.Message {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := f.sentMessages(); len(msgs) >= want {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("transport never saw %d sends (have %d)", want, len(f.sentMessages()))
	return nil
}

func startLoop(t *testing.T, f *fakeTransport) *Loop {
	t.Helper()
	l := NewLoop(f, 10*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, l.Start())
	t.Cleanup(l.Stop)
	return l
}

func TestLoopAssignsClientIDsOnLogin(t *testing.T) {
	f := newFakeTransport()
	f.push(
		protocol.NewMessage(protocol.KindLogin, protocol.ClientIDNone, clientAddr, []byte("hero")),
		protocol.NewMessage(protocol.KindLogin, protocol.ClientIDNone, netip.MustParseAddrPort("192.0.2.21:42000"), []byte("mage")),
	)
	startLoop(t, f)

	sent := waitForSent(t, f, 2)
	assert.Equal(t, protocol.KindLoginAck, sent[0].Kind)
	assert.Equal(t, int32(1), sent[0].ClientID)
	assert.Equal(t, protocol.KindLoginAck, sent[1].Kind)
	assert.Equal(t, int32(2), sent[1].ClientID)
}

func TestLoopLogoutAcksBeforeDisconnect(t *testing.T) {
	f := newFakeTransport()
	f.push(protocol.NewMessage(protocol.KindLogout, 5, clientAddr, nil))
	startLoop(t, f)

	sent := waitForSent(t, f, 1)
	assert.Equal(t, protocol.KindLogoutAck, sent[0].Kind)
	assert.Equal(t, int32(5), sent[0].ClientID)

	f.mu.Lock()
	marked := append([]netip.AddrPort{}, f.marked...)
	f.mu.Unlock()
	require.Len(t, marked, 1)
	assert.Equal(t, clientAddr, marked[0])
}

func TestLoopKeepaliveAnswered(t *testing.T) {
	f := newFakeTransport()
	f.push(protocol.NewMessage(protocol.KindKeepalive, 3, clientAddr, nil))
	startLoop(t, f)

	sent := waitForSent(t, f, 1)
	assert.Equal(t, protocol.KindServerInfo, sent[0].Kind)
	assert.Equal(t, int32(3), sent[0].ClientID)
}

func TestLoopActionEchoedAsPerception(t *testing.T) {
	f := newFakeTransport()
	f.push(protocol.NewMessage(protocol.KindAction, 3, clientAddr, []byte("move north")))
	startLoop(t, f)

	sent := waitForSent(t, f, 1)
	assert.Equal(t, protocol.KindPerception, sent[0].Kind)
	assert.Equal(t, []byte("move north"), sent[0].Payload)
}

func TestLoopIgnoresServerKinds(t *testing.T) {
	f := newFakeTransport()
	f.push(protocol.NewMessage(protocol.KindPerception, 3, clientAddr, nil))
	startLoop(t, f)

	// Give the loop a few ticks; nothing should be sent back.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.sentMessages())
}

func TestLoopFlushesEveryTick(t *testing.T) {
	f := newFakeTransport()
	startLoop(t, f)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if f.flushCount() >= 3 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected at least 3 flushes, saw %d", f.flushCount())
}

func TestLoopStopIsIdempotent(t *testing.T) {
	f := newFakeTransport()
	l := NewLoop(f, 10*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, l.Start())

	l.Stop()
	l.Stop()
}

func TestLoopDrainsBurstWithinOneTick(t *testing.T) {
	f := newFakeTransport()
	for i := int32(0); i < 20; i++ {
		f.push(protocol.NewMessage(protocol.KindKeepalive, i, clientAddr, nil))
	}
	startLoop(t, f)

	sent := waitForSent(t, f, 20)
	assert.Len(t, sent, 20)
}
