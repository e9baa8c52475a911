// Package frame seals payloads into authenticated radio frames and verifies
// them on receipt.
//
// Wire layout (big endian):
//
//	0  u8  version
//	1  u8  payload type
//	2  u8  hop count
//	3  u8  flags (zero in version 1)
//	4  u16 sender id
//	6  u32 sequence
//	10 u16 payload length
//	12 ... payload
//	.. [16] mac
//
// The MAC is HMAC-SHA256 over nonce(sender, sequence), the 12 header bytes
// and the payload, truncated to 16 bytes. The nonce is derived, never sent.
package frame

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	Version   = 1
	HeaderLen = 12
	MACLen    = 16
	NonceLen  = 6
	Overhead  = HeaderLen + MACLen

	// DefaultMaxFrame fits a single LoRa packet.
	DefaultMaxFrame = 255
)

// PayloadType tags what a frame carries.
type PayloadType uint8

const (
	PayloadObject  PayloadType = 1
	PayloadDetail  PayloadType = 2
	PayloadInvite  PayloadType = 3
	PayloadControl PayloadType = 4
)

func (t PayloadType) String() string {
	switch t {
	case PayloadObject:
		return "object"
	case PayloadDetail:
		return "detail"
	case PayloadInvite:
		return "invite"
	case PayloadControl:
		return "control"
	default:
		return fmt.Sprintf("payload(%d)", uint8(t))
	}
}

var (
	ErrShortFrame         = errors.New("frame: short frame")
	ErrFrameTooLarge      = errors.New("frame: frame too large")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrLengthMismatch     = errors.New("frame: payload length mismatch")
	ErrUnsupportedFlags   = errors.New("frame: unsupported flags")
)

// Header is the fixed wire header.
type Header struct {
	Version    uint8
	Type       PayloadType
	Hops       uint8
	Flags      uint8
	Sender     uint16
	Sequence   uint32
	PayloadLen uint16
}

// Frame is one complete wire frame. Payload aliases the parsed buffer.
type Frame struct {
	Header  Header
	Payload []byte
	MAC     [MACLen]byte
}

// Limits constrains frame size to what the radio can carry.
type Limits struct {
	MaxFrameBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: DefaultMaxFrame}
}

func (l Limits) MaxPayload() int {
	return l.MaxFrameBytes - Overhead
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	putHeader(buf, h)
	return buf
}

func putHeader(buf []byte, h Header) {
	buf[0] = h.Version
	buf[1] = byte(h.Type)
	buf[2] = h.Hops
	buf[3] = h.Flags
	binary.BigEndian.PutUint16(buf[4:6], h.Sender)
	binary.BigEndian.PutUint32(buf[6:10], h.Sequence)
	binary.BigEndian.PutUint16(buf[10:12], h.PayloadLen)
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortFrame
	}
	return Header{
		Version:    b[0],
		Type:       PayloadType(b[1]),
		Hops:       b[2],
		Flags:      b[3],
		Sender:     binary.BigEndian.Uint16(b[4:6]),
		Sequence:   binary.BigEndian.Uint32(b[6:10]),
		PayloadLen: binary.BigEndian.Uint16(b[10:12]),
	}, nil
}

// Parse checks the frame structure without authenticating it.
func Parse(raw []byte, limits Limits) (Frame, error) {
	if len(raw) < Overhead {
		return Frame{}, ErrShortFrame
	}
	if len(raw) > limits.MaxFrameBytes {
		return Frame{}, ErrFrameTooLarge
	}
	h, err := DecodeHeader(raw)
	if err != nil {
		return Frame{}, err
	}
	if h.Version != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Flags != 0 {
		return Frame{}, fmt.Errorf("%w: %#02x", ErrUnsupportedFlags, h.Flags)
	}
	if int(h.PayloadLen) != len(raw)-Overhead {
		return Frame{}, fmt.Errorf("%w: header %d, frame carries %d", ErrLengthMismatch, h.PayloadLen, len(raw)-Overhead)
	}
	f := Frame{Header: h, Payload: raw[HeaderLen : HeaderLen+int(h.PayloadLen)]}
	copy(f.MAC[:], raw[HeaderLen+int(h.PayloadLen):])
	return f, nil
}

// Marshal returns the wire bytes of f.
func Marshal(f Frame) []byte {
	out := make([]byte, HeaderLen+len(f.Payload)+MACLen)
	h := f.Header
	h.PayloadLen = uint16(len(f.Payload))
	putHeader(out, h)
	copy(out[HeaderLen:], f.Payload)
	copy(out[HeaderLen+len(f.Payload):], f.MAC[:])
	return out
}

func Nonce(sender uint16, seq uint32) [NonceLen]byte {
	var n [NonceLen]byte
	binary.BigEndian.PutUint16(n[0:2], sender)
	binary.BigEndian.PutUint32(n[2:6], seq)
	return n
}

// ComputeMAC authenticates h and payload under key.
func ComputeMAC(key []byte, h Header, payload []byte) [MACLen]byte {
	h.PayloadLen = uint16(len(payload))
	nonce := Nonce(h.Sender, h.Sequence)
	var hdr [HeaderLen]byte
	putHeader(hdr[:], h)

	m := hmac.New(sha256.New, key)
	m.Write(nonce[:])
	m.Write(hdr[:])
	m.Write(payload)
	var out [MACLen]byte
	copy(out[:], m.Sum(nil))
	return out
}
