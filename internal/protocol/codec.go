package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// headerSize is version(1) + kind(1) + clientID(4) + timestamp(8).
const headerSize = 14

// FrameHeaderSize is the length prefix preceding each message body on a
// TCP stream. UDP datagrams carry a bare body with no prefix.
const FrameHeaderSize = 4

// ErrTruncated reports input shorter than the fixed message header.
var ErrTruncated = errors.New("message truncated")

// InvalidVersionError reports a message whose leading version byte does
// not match Version. The transport answers these with a client-visible
// rejection instead of dropping them silently.
type InvalidVersionError struct {
	Got byte
}

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("unsupported protocol version %d (want %d)", e.Got, Version)
}

// Encode serializes m into its wire body, without any stream framing.
//
// Postcondition: Returns a slice of exactly headerSize + len(m.Payload) bytes.
func Encode(m *Message) []byte {
	buf := make([]byte, headerSize+len(m.Payload))
	buf[0] = Version
	buf[1] = byte(m.Kind)
	binary.BigEndian.PutUint32(buf[2:6], uint32(m.ClientID))
	binary.BigEndian.PutUint64(buf[6:14], uint64(m.Timestamp))
	copy(buf[headerSize:], m.Payload)
	return buf
}

// EncodeFrame serializes m with the uint32 length prefix used on TCP
// streams.
func EncodeFrame(m *Message) []byte {
	body := Encode(m)
	buf := make([]byte, FrameHeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(body)))
	copy(buf[FrameHeaderSize:], body)
	return buf
}

// Decode parses a wire body received from src.
//
// Postcondition: Returns *InvalidVersionError when the version byte is
// wrong, ErrTruncated (wrapped) when data is shorter than the header, or
// a plain error for kinds the protocol does not define. The payload is
// copied, so data may be reused by the caller.
func Decode(data []byte, src netip.AddrPort) (*Message, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	if data[0] != Version {
		return nil, &InvalidVersionError{Got: data[0]}
	}
	kind := Kind(data[1])
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown message kind %d", data[1])
	}

	m := &Message{
		Kind:      kind,
		ClientID:  int32(binary.BigEndian.Uint32(data[2:6])),
		Timestamp: int64(binary.BigEndian.Uint64(data[6:14])),
		Addr:      src,
	}
	if n := len(data) - headerSize; n > 0 {
		m.Payload = make([]byte, n)
		copy(m.Payload, data[headerSize:])
	}
	return m, nil
}

// FrameAccumulator reassembles length-prefixed message bodies from an
// arbitrarily chunked TCP byte stream.
//
// Invariant: bodies come out in exactly the order their bytes arrived.
type FrameAccumulator struct {
	maxBody int
	buf     []byte
}

// NewFrameAccumulator bounds reassembled bodies at maxBody bytes.
//
// Precondition: maxBody must be >= the fixed header size.
func NewFrameAccumulator(maxBody int) *FrameAccumulator {
	if maxBody < headerSize {
		maxBody = headerSize
	}
	return &FrameAccumulator{maxBody: maxBody}
}

// Feed appends raw stream bytes to the accumulator.
func (f *FrameAccumulator) Feed(data []byte) {
	f.buf = append(f.buf, data...)
}

// Next returns the next complete body, or (nil, nil) when more bytes are
// needed. A declared frame length of zero or beyond the configured
// maximum is an error; the stream cannot be resynchronized after that.
func (f *FrameAccumulator) Next() ([]byte, error) {
	if len(f.buf) < FrameHeaderSize {
		return nil, nil
	}
	n := binary.BigEndian.Uint32(f.buf[0:4])
	if n == 0 || int64(n) > int64(f.maxBody) {
		return nil, fmt.Errorf("frame length %d out of range (max %d)", n, f.maxBody)
	}
	total := FrameHeaderSize + int(n)
	if len(f.buf) < total {
		return nil, nil
	}

	body := make([]byte, n)
	copy(body, f.buf[FrameHeaderSize:total])
	f.buf = append(f.buf[:0], f.buf[total:]...)
	return body, nil
}

// Pending returns the number of buffered bytes not yet returned as a body.
func (f *FrameAccumulator) Pending() int {
	return len(f.buf)
}
