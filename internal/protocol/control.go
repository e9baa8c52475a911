package protocol

import (
	"fmt"

	"github.com/arx-os/arxlink/internal/protocol/tlv"
)

// ControlType selects a control message.
type ControlType uint8

const (
	ControlAnnounce ControlType = 1
	ControlPing     ControlType = 2
)

func (c ControlType) String() string {
	switch c {
	case ControlAnnounce:
		return "announce"
	case ControlPing:
		return "ping"
	default:
		return fmt.Sprintf("control(%d)", uint8(c))
	}
}

// Control field ids.
const (
	FieldNodeID    uint8 = 1
	FieldBuilding  uint8 = 2
	FieldRole      uint8 = 3
	FieldMaxDetail uint8 = 4
	FieldBootID    uint8 = 5
	FieldNonce     uint8 = 6
)

// MaxControlFields bounds decode work for one control message.
const MaxControlFields = 16

// Control is a small node-to-node message: a type byte followed by tlv
// fields. Unknown fields are kept so newer peers can extend a message.
type Control struct {
	Type   ControlType
	Fields []tlv.Field
}

type requirement struct {
	id  uint8
	typ uint8
}

var controlRequirements = map[ControlType][]requirement{
	ControlAnnounce: {
		{FieldNodeID, tlv.TypeU16},
		{FieldBuilding, tlv.TypeU16},
		{FieldRole, tlv.TypeU8},
	},
	ControlPing: {
		{FieldNonce, tlv.TypeU32},
	},
}

// Validate enforces required fields and their types. Extra fields are
// ignored.
func (c Control) Validate() error {
	reqs, ok := controlRequirements[c.Type]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownControl, c.Type)
	}
	for _, req := range reqs {
		f, found := tlv.GetField(c.Fields, req.id)
		if !found {
			return fmt.Errorf("%w: %s field %d", ErrMissingField, c.Type, req.id)
		}
		if f.Type != req.typ {
			return fmt.Errorf("%w: %s field %d", ErrFieldTypeMismatch, c.Type, req.id)
		}
	}
	return nil
}

func EncodeControl(c Control) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if len(c.Fields) > MaxControlFields {
		return nil, ErrTooManyFields
	}
	body, err := tlv.EncodeFields(c.Fields)
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(c.Type)}, body...), nil
}

func DecodeControl(b []byte) (Control, error) {
	if len(b) < 1 {
		return Control{}, ErrTruncated
	}
	fields, err := tlv.DecodeFields(b[1:], MaxControlFields)
	if err != nil {
		return Control{}, err
	}
	c := Control{Type: ControlType(b[0]), Fields: fields}
	if err := c.Validate(); err != nil {
		return Control{}, err
	}
	return c, nil
}

// Announce is the typed view of a ControlAnnounce message.
type Announce struct {
	NodeID    uint16
	Building  uint16
	Role      uint8
	MaxDetail uint8
	BootID    []byte
}

func NewAnnounce(a Announce) Control {
	fields := []tlv.Field{
		tlv.NewU16(FieldNodeID, a.NodeID),
		tlv.NewU16(FieldBuilding, a.Building),
		tlv.NewU8(FieldRole, a.Role),
		tlv.NewU8(FieldMaxDetail, a.MaxDetail),
	}
	if len(a.BootID) > 0 {
		fields = append(fields, tlv.NewBytes(FieldBootID, a.BootID))
	}
	return Control{Type: ControlAnnounce, Fields: fields}
}

// ParseAnnounce reads the typed view from c. Optional fields default to zero.
func ParseAnnounce(c Control) (Announce, error) {
	if c.Type != ControlAnnounce {
		return Announce{}, fmt.Errorf("%w: %s is not announce", ErrUnknownControl, c.Type)
	}
	if err := c.Validate(); err != nil {
		return Announce{}, err
	}
	var (
		a    Announce
		errs [3]error
	)
	f, _ := tlv.GetField(c.Fields, FieldNodeID)
	a.NodeID, errs[0] = f.U16()
	f, _ = tlv.GetField(c.Fields, FieldBuilding)
	a.Building, errs[1] = f.U16()
	f, _ = tlv.GetField(c.Fields, FieldRole)
	a.Role, errs[2] = f.U8()
	for _, err := range errs {
		if err != nil {
			return Announce{}, fmt.Errorf("%w: %v", ErrFieldTypeMismatch, err)
		}
	}
	if f, ok := tlv.GetField(c.Fields, FieldMaxDetail); ok {
		v, err := f.U8()
		if err != nil {
			return Announce{}, fmt.Errorf("%w: max detail", ErrFieldTypeMismatch)
		}
		a.MaxDetail = v
	}
	if f, ok := tlv.GetField(c.Fields, FieldBootID); ok {
		v, err := f.Bytes()
		if err != nil {
			return Announce{}, fmt.Errorf("%w: boot id", ErrFieldTypeMismatch)
		}
		a.BootID = v
	}
	return a, nil
}

func NewPing(nonce uint32) Control {
	return Control{Type: ControlPing, Fields: []tlv.Field{tlv.NewU32(FieldNonce, nonce)}}
}
