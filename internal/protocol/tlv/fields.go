package tlv

import "encoding/binary"

func NewU8(id uint8, v uint8) Field {
	return Field{ID: id, Type: TypeU8, Value: []byte{v}}
}

func NewU16(id uint8, v uint16) Field {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	return Field{ID: id, Type: TypeU16, Value: buf}
}

func NewU32(id uint8, v uint32) Field {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return Field{ID: id, Type: TypeU32, Value: buf}
}

// NewInt creates a signed 32-bit integer field.
func NewInt(id uint8, v int32) Field {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(v))
	return Field{ID: id, Type: TypeInt, Value: buf}
}

// NewFixed creates a fixed-point field holding thousandths.
func NewFixed(id uint8, milli int32) Field {
	f := NewInt(id, milli)
	f.Type = TypeFixed
	return f
}

func NewBool(id uint8, v bool) Field {
	b := byte(0)
	if v {
		b = 1
	}
	return Field{ID: id, Type: TypeBool, Value: []byte{b}}
}

func NewString(id uint8, v string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(v)}
}

func NewBytes(id uint8, v []byte) Field {
	buf := make([]byte, len(v))
	copy(buf, v)
	return Field{ID: id, Type: TypeBytes, Value: buf}
}

func (f Field) U8() (uint8, error) {
	if f.Type != TypeU8 {
		return 0, ErrFieldTypeMismatch
	}
	if len(f.Value) != 1 {
		return 0, ErrInvalidLength
	}
	return f.Value[0], nil
}

func (f Field) U16() (uint16, error) {
	if f.Type != TypeU16 {
		return 0, ErrFieldTypeMismatch
	}
	if len(f.Value) != 2 {
		return 0, ErrInvalidLength
	}
	return binary.BigEndian.Uint16(f.Value), nil
}

func (f Field) U32() (uint32, error) {
	if f.Type != TypeU32 {
		return 0, ErrFieldTypeMismatch
	}
	if len(f.Value) != 4 {
		return 0, ErrInvalidLength
	}
	return binary.BigEndian.Uint32(f.Value), nil
}

func (f Field) Int() (int32, error) {
	if f.Type != TypeInt {
		return 0, ErrFieldTypeMismatch
	}
	return f.int32()
}

// Fixed returns the raw thousandths of a fixed-point field.
func (f Field) Fixed() (int32, error) {
	if f.Type != TypeFixed {
		return 0, ErrFieldTypeMismatch
	}
	return f.int32()
}

func (f Field) int32() (int32, error) {
	if len(f.Value) != 4 {
		return 0, ErrInvalidLength
	}
	return int32(binary.BigEndian.Uint32(f.Value)), nil
}

func (f Field) Bool() (bool, error) {
	if f.Type != TypeBool {
		return false, ErrFieldTypeMismatch
	}
	if len(f.Value) != 1 {
		return false, ErrInvalidLength
	}
	switch f.Value[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrInvalidBool
	}
}

func (f Field) Str() (string, error) {
	if f.Type != TypeString {
		return "", ErrFieldTypeMismatch
	}
	return string(f.Value), nil
}

func (f Field) Bytes() ([]byte, error) {
	if f.Type != TypeBytes {
		return nil, ErrFieldTypeMismatch
	}
	buf := make([]byte, len(f.Value))
	copy(buf, f.Value)
	return buf, nil
}
