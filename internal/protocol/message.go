// Package protocol defines the wire format shared by both transports:
// the message kinds, the fixed binary header, and the length-prefixed
// framing used on TCP streams.
package protocol

import (
	"fmt"
	"net/netip"
	"time"
)

// Version is the wire protocol version. The first byte of every message
// must match it; mismatches are answered with a KindInvalidMessage reply.
const Version byte = 1

// ClientIDNone marks a message with no assigned client identity: the
// login request itself, and server replies addressed to clients that
// never completed a login.
const ClientIDNone int32 = -1

// Kind identifies the purpose of a message. Clients produce the request
// kinds, the server produces the reply kinds; the transport itself does
// not enforce direction.
type Kind uint8

const (
	// KindUnknown is the zero value and never valid on the wire.
	KindUnknown Kind = iota
	// KindLogin asks the server to admit the sender and assign a client ID.
	KindLogin
	// KindLoginAck carries the assigned client ID back to the sender.
	KindLoginAck
	// KindLogout announces that the sender is leaving.
	KindLogout
	// KindLogoutAck confirms a logout before the connection is torn down.
	KindLogoutAck
	// KindAction carries a game action from a client.
	KindAction
	// KindKeepalive keeps an otherwise idle client registered.
	KindKeepalive
	// KindPerception carries a world-state update to a client.
	KindPerception
	// KindServerInfo carries server metadata to a client.
	KindServerInfo
	// KindInvalidMessage tells a client its traffic was rejected.
	KindInvalidMessage

	kindCount
)

// Valid reports whether k is a kind defined by the protocol.
func (k Kind) Valid() bool {
	return k > KindUnknown && k < kindCount
}

func (k Kind) String() string {
	switch k {
	case KindLogin:
		return "login"
	case KindLoginAck:
		return "login_ack"
	case KindLogout:
		return "logout"
	case KindLogoutAck:
		return "logout_ack"
	case KindAction:
		return "action"
	case KindKeepalive:
		return "keepalive"
	case KindPerception:
		return "perception"
	case KindServerInfo:
		return "server_info"
	case KindInvalidMessage:
		return "invalid_message"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Message is one unit of traffic between a client address and the server.
// Addr is the source on receive and the destination on send; Payload is
// opaque to the transport.
type Message struct {
	Kind      Kind
	ClientID  int32
	Timestamp int64 // unix milliseconds, stamped at creation
	Addr      netip.AddrPort
	Payload   []byte
}

// NewMessage builds a message stamped with the current time.
//
// Postcondition: Returns a Message with Timestamp set to now in unix milliseconds.
func NewMessage(kind Kind, clientID int32, addr netip.AddrPort, payload []byte) *Message {
	return &Message{
		Kind:      kind,
		ClientID:  clientID,
		Timestamp: time.Now().UnixMilli(),
		Addr:      addr,
		Payload:   payload,
	}
}
