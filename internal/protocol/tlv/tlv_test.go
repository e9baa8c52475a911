package tlv

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	in := []Field{
		NewString(1, "announce"),
		{ID: 200, Type: TypeBytes, Value: []byte{0xAA, 0xBB}}, // unknown field id
	}
	b, err := EncodeFields(in)
	if err != nil {
		t.Fatalf("encode fields: %v", err)
	}
	out, err := DecodeFields(b, 8)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 200 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2}, 8)
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{1, TypeString, 5, 'a', 'b'}
	_, err := DecodeFields(payload, 8)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestDecodeFieldsEnforcesMaxCount(t *testing.T) {
	b, err := EncodeFields([]Field{NewU8(1, 1), NewU8(2, 2), NewU8(3, 3)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeFields(b, 2); !errors.Is(err, ErrTooManyFields) {
		t.Fatalf("expected ErrTooManyFields, got %v", err)
	}
}

func TestAppendValueRejectsOversize(t *testing.T) {
	_, err := AppendValue(nil, TypeString, []byte(strings.Repeat("x", MaxValueLen+1)))
	if !errors.Is(err, ErrValueTooLong) {
		t.Fatalf("expected ErrValueTooLong, got %v", err)
	}
}

func TestTypedAccessors(t *testing.T) {
	if v, err := NewInt(1, -42).Int(); err != nil || v != -42 {
		t.Fatalf("int: v=%d err=%v", v, err)
	}
	if v, err := NewFixed(1, 12500).Fixed(); err != nil || v != 12500 {
		t.Fatalf("fixed: v=%d err=%v", v, err)
	}
	if _, err := NewFixed(1, 1).Int(); !errors.Is(err, ErrFieldTypeMismatch) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
	if v, err := NewU16(1, 0xBEEF).U16(); err != nil || v != 0xBEEF {
		t.Fatalf("u16: v=%x err=%v", v, err)
	}
	if v, err := NewBool(1, true).Bool(); err != nil || !v {
		t.Fatalf("bool: v=%v err=%v", v, err)
	}
	bad := Field{ID: 1, Type: TypeBool, Value: []byte{7}}
	if _, err := bad.Bool(); !errors.Is(err, ErrInvalidBool) {
		t.Fatalf("expected ErrInvalidBool, got %v", err)
	}
	if err := MustType(NewString(9, "x"), TypeU32); err == nil {
		t.Fatalf("expected MustType mismatch")
	}
}
