// Package tlv holds the compact type-length-value primitives shared by
// object properties and control messages.
//
// A value is encoded as type(1) len(1) bytes(len). A field prefixes the value
// with a one byte id. Lengths are capped at 255 so a value can never claim more
// than a radio frame can carry.
package tlv

import (
	"errors"
	"fmt"
)

const (
	ValueHeaderLen = 2
	FieldHeaderLen = 1 + ValueHeaderLen
	MaxValueLen    = 255
)

var (
	ErrShortFieldHeader  = errors.New("tlv: short field header")
	ErrShortFieldValue   = errors.New("tlv: short field value")
	ErrValueTooLong      = errors.New("tlv: value too long")
	ErrTooManyFields     = errors.New("tlv: too many fields")
	ErrFieldTypeMismatch = errors.New("tlv: field type mismatch")
	ErrInvalidLength     = errors.New("tlv: invalid length")
	ErrInvalidBool       = errors.New("tlv: invalid bool value")
)

// Type IDs from tlv contract.
const (
	TypeU8     uint8 = 1
	TypeU16    uint8 = 2
	TypeU32    uint8 = 3
	TypeBool   uint8 = 5
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
	TypeInt    uint8 = 8
	TypeFixed  uint8 = 9
)

// Field is one decoded TLV field. Value aliases the decode buffer.
type Field struct {
	ID    uint8
	Type  uint8
	Value []byte
}

// AppendValue appends type, length and value bytes to dst.
func AppendValue(dst []byte, typ uint8, val []byte) ([]byte, error) {
	if len(val) > MaxValueLen {
		return dst, ErrValueTooLong
	}
	dst = append(dst, typ, byte(len(val)))
	return append(dst, val...), nil
}

// ReadValue reads one value from the front of buf and reports how many bytes
// it consumed. The returned slice aliases buf.
func ReadValue(buf []byte) (typ uint8, val []byte, n int, err error) {
	if len(buf) < ValueHeaderLen {
		return 0, nil, 0, ErrShortFieldHeader
	}
	typ = buf[0]
	l := int(buf[1])
	if len(buf)-ValueHeaderLen < l {
		return 0, nil, 0, ErrShortFieldValue
	}
	return typ, buf[ValueHeaderLen : ValueHeaderLen+l], ValueHeaderLen + l, nil
}

func AppendField(dst []byte, f Field) ([]byte, error) {
	return AppendValue(append(dst, f.ID), f.Type, f.Value)
}

func EncodeFields(fields []Field) ([]byte, error) {
	size := 0
	for _, f := range fields {
		size += FieldHeaderLen + len(f.Value)
	}
	out := make([]byte, 0, size)
	var err error
	for _, f := range fields {
		if out, err = AppendField(out, f); err != nil {
			return nil, fmt.Errorf("tlv: field %d: %w", f.ID, err)
		}
	}
	return out, nil
}

// DecodeFields parses at most max fields from payload. Values alias payload.
func DecodeFields(payload []byte, max int) ([]Field, error) {
	fields := make([]Field, 0, 4)
	i := 0
	for i < len(payload) {
		if len(fields) == max {
			return nil, ErrTooManyFields
		}
		if len(payload)-i < FieldHeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := payload[i]
		typ, val, n, err := ReadValue(payload[i+1:])
		if err != nil {
			return nil, err
		}
		i += 1 + n
		fields = append(fields, Field{ID: id, Type: typ, Value: val})
	}
	return fields, nil
}

func GetField(fields []Field, id uint8) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func MustType(f Field, expected uint8) error {
	if f.Type != expected {
		return fmt.Errorf("tlv: field %d type mismatch: got %d want %d", f.ID, f.Type, expected)
	}
	return nil
}
