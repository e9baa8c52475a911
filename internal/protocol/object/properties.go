package object

import (
	"fmt"
	"strconv"

	"github.com/arx-os/arxlink/internal/protocol/tlv"
)

// Key names a property either by a small numeric id or by a short name.
// Exactly one form is used: a non-empty Name makes ID irrelevant and must
// leave it zero.
type Key struct {
	ID   uint8
	Name string
}

func NumKey(id uint8) Key     { return Key{ID: id} }
func NameKey(name string) Key { return Key{Name: name} }
func (k Key) IsName() bool    { return k.Name != "" }
func (k Key) encodedLen() int { return 1 + len(k.Name) }

func (k Key) String() string {
	if k.IsName() {
		return k.Name
	}
	return "#" + strconv.Itoa(int(k.ID))
}

func keyLess(a, b Key) bool {
	if a.IsName() != b.IsName() {
		return !a.IsName()
	}
	if a.IsName() {
		return a.Name < b.Name
	}
	return a.ID < b.ID
}

func validateKey(k Key) error {
	if k.IsName() {
		if k.ID != 0 {
			return fmt.Errorf("%w: %q carries both id and name", ErrInvalidKey, k.Name)
		}
		if len(k.Name) > MaxKeyLen {
			return fmt.Errorf("%w: key %q longer than %d", ErrLimitExceeded, k.Name, MaxKeyLen)
		}
		return nil
	}
	if k.ID > maxNumericKey {
		return fmt.Errorf("%w: numeric key %d above %d", ErrInvalidKey, k.ID, maxNumericKey)
	}
	return nil
}

func keyHeader(k Key) byte {
	if k.IsName() {
		return nameKeyFlag | byte(len(k.Name))
	}
	return k.ID
}

// ValueType mirrors the tlv type ids used on the wire.
type ValueType uint8

const (
	ValueInt    ValueType = ValueType(tlv.TypeInt)
	ValueFixed  ValueType = ValueType(tlv.TypeFixed)
	ValueString ValueType = ValueType(tlv.TypeString)
	ValueBool   ValueType = ValueType(tlv.TypeBool)
)

// Value is a typed scalar. Fixed values keep thousandths in Int.
type Value struct {
	Type ValueType
	Int  int32
	Str  string
	Bool bool
}

func IntValue(v int32) Value       { return Value{Type: ValueInt, Int: v} }
func FixedValue(milli int32) Value { return Value{Type: ValueFixed, Int: milli} }
func StringValue(s string) Value   { return Value{Type: ValueString, Str: s} }
func BoolValue(b bool) Value       { return Value{Type: ValueBool, Bool: b} }

func (v Value) String() string {
	switch v.Type {
	case ValueInt:
		return strconv.Itoa(int(v.Int))
	case ValueFixed:
		return strconv.FormatFloat(float64(v.Int)/1000, 'f', -1, 64)
	case ValueString:
		return v.Str
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	default:
		return fmt.Sprintf("value(%d)", v.Type)
	}
}

func (v Value) field() (tlv.Field, error) {
	switch v.Type {
	case ValueInt:
		return tlv.NewInt(0, v.Int), nil
	case ValueFixed:
		return tlv.NewFixed(0, v.Int), nil
	case ValueString:
		if len(v.Str) > MaxStringLen {
			return tlv.Field{}, fmt.Errorf("%w: string value longer than %d", ErrLimitExceeded, MaxStringLen)
		}
		return tlv.NewString(0, v.Str), nil
	case ValueBool:
		return tlv.NewBool(0, v.Bool), nil
	default:
		return tlv.Field{}, fmt.Errorf("%w: value type %d", ErrInvalidValue, v.Type)
	}
}

func valueFromField(f tlv.Field) (Value, error) {
	switch ValueType(f.Type) {
	case ValueInt:
		n, err := f.Int()
		return IntValue(n), wrapValueErr(err)
	case ValueFixed:
		n, err := f.Fixed()
		return FixedValue(n), wrapValueErr(err)
	case ValueString:
		if len(f.Value) > MaxStringLen {
			return Value{}, ErrLimitExceeded
		}
		s, err := f.Str()
		return StringValue(s), wrapValueErr(err)
	case ValueBool:
		b, err := f.Bool()
		return BoolValue(b), wrapValueErr(err)
	default:
		return Value{}, fmt.Errorf("%w: value type %d", ErrInvalidValue, f.Type)
	}
}

func wrapValueErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidValue, err)
}

func (v Value) encodedLen() int {
	switch v.Type {
	case ValueInt, ValueFixed:
		return tlv.ValueHeaderLen + 4
	case ValueBool:
		return tlv.ValueHeaderLen + 1
	default:
		return tlv.ValueHeaderLen + len(v.Str)
	}
}

// Properties maps keys to values. Order is irrelevant; encoding sorts keys.
type Properties map[Key]Value

func (p Properties) Get(k Key) (Value, bool) {
	v, ok := p[k]
	return v, ok
}

// Keys returns keys in wire order. Insertion sort keeps this iterative and
// the input never exceeds MaxProperties on a valid object.
func (p Properties) Keys() []Key {
	keys := make([]Key, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

func (p Properties) Clone() Properties {
	if len(p) == 0 {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func sortKeys(keys []Key) {
	for i := 1; i < len(keys); i++ {
		k := keys[i]
		j := i - 1
		for j >= 0 && keyLess(k, keys[j]) {
			keys[j+1] = keys[j]
			j--
		}
		keys[j+1] = k
	}
}

// AppendProperty appends one key/value entry in wire form.
func AppendProperty(dst []byte, k Key, v Value) ([]byte, error) {
	if err := validateKey(k); err != nil {
		return dst, err
	}
	f, err := v.field()
	if err != nil {
		return dst, err
	}
	dst = append(dst, keyHeader(k))
	dst = append(dst, k.Name...)
	return tlv.AppendValue(dst, f.Type, f.Value)
}

// AppendKey appends a bare key header, used by removal lists.
func AppendKey(dst []byte, k Key) ([]byte, error) {
	if err := validateKey(k); err != nil {
		return dst, err
	}
	dst = append(dst, keyHeader(k))
	return append(dst, k.Name...), nil
}

// ReadKey reads a key header from the front of buf.
func ReadKey(buf []byte) (Key, int, error) {
	if len(buf) < 1 {
		return Key{}, 0, ErrTruncated
	}
	h := buf[0]
	if h&nameKeyFlag == 0 {
		return Key{ID: h}, 1, nil
	}
	n := int(h &^ nameKeyFlag)
	if n == 0 || n > MaxKeyLen {
		return Key{}, 0, fmt.Errorf("%w: key length %d", ErrLimitExceeded, n)
	}
	if len(buf)-1 < n {
		return Key{}, 0, ErrTruncated
	}
	return Key{Name: string(buf[1 : 1+n])}, 1 + n, nil
}

// ReadProperty reads one entry from the front of buf.
func ReadProperty(buf []byte) (Key, Value, int, error) {
	k, kn, err := ReadKey(buf)
	if err != nil {
		return Key{}, Value{}, 0, err
	}
	typ, raw, vn, err := tlv.ReadValue(buf[kn:])
	if err != nil {
		return Key{}, Value{}, 0, ErrTruncated
	}
	v, err := valueFromField(tlv.Field{Type: typ, Value: raw})
	if err != nil {
		return Key{}, Value{}, 0, err
	}
	return k, v, kn + vn, nil
}

// PropertyLen is the encoded size of one entry.
func PropertyLen(k Key, v Value) int {
	return k.encodedLen() + v.encodedLen()
}
