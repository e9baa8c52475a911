package protocol

import (
	"fmt"

	"github.com/arx-os/arxlink/internal/protocol/detail"
	"github.com/arx-os/arxlink/internal/protocol/frame"
	"github.com/arx-os/arxlink/internal/protocol/invite"
	"github.com/arx-os/arxlink/internal/protocol/object"
)

// Payload is the closed set of things a frame can carry.
type Payload interface {
	PayloadType() frame.PayloadType
	payload()
}

type ObjectPayload struct {
	Object object.ArxObject
}

type DetailPayload struct {
	Packet detail.Packet
}

type InvitePayload struct {
	Token invite.Token
}

func (ObjectPayload) PayloadType() frame.PayloadType { return frame.PayloadObject }
func (DetailPayload) PayloadType() frame.PayloadType { return frame.PayloadDetail }
func (InvitePayload) PayloadType() frame.PayloadType { return frame.PayloadInvite }
func (Control) PayloadType() frame.PayloadType       { return frame.PayloadControl }

func (ObjectPayload) payload() {}
func (DetailPayload) payload() {}
func (InvitePayload) payload() {}
func (Control) payload()       {}

// Building reports the building a payload targets. Invites and control
// messages are building agnostic.
func Building(p Payload) (uint16, bool) {
	switch v := p.(type) {
	case ObjectPayload:
		return v.Object.BuildingID, true
	case DetailPayload:
		return v.Packet.BuildingID, true
	default:
		return 0, false
	}
}

// EncodePayload returns the frame payload type and bytes for p.
func EncodePayload(p Payload) (frame.PayloadType, []byte, error) {
	var (
		b   []byte
		err error
	)
	switch v := p.(type) {
	case ObjectPayload:
		b, err = object.Encode(v.Object)
	case DetailPayload:
		b, err = detail.Encode(v.Packet)
	case InvitePayload:
		b = v.Token.Marshal()
	case Control:
		b, err = EncodeControl(v)
	default:
		return 0, nil, fmt.Errorf("%w: %T", ErrUnknownPayload, p)
	}
	if err != nil {
		return 0, nil, err
	}
	return p.PayloadType(), b, nil
}

// DecodePayload parses b as the payload named by typ.
func DecodePayload(typ frame.PayloadType, b []byte) (Payload, error) {
	switch typ {
	case frame.PayloadObject:
		o, err := object.Decode(b)
		if err != nil {
			return nil, err
		}
		return ObjectPayload{Object: o}, nil
	case frame.PayloadDetail:
		p, err := detail.Decode(b)
		if err != nil {
			return nil, err
		}
		return DetailPayload{Packet: p}, nil
	case frame.PayloadInvite:
		t, err := invite.Unmarshal(b)
		if err != nil {
			return nil, err
		}
		return InvitePayload{Token: t}, nil
	case frame.PayloadControl:
		c, err := DecodeControl(b)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownPayload, typ)
	}
}
