// Package detail carries incremental updates that raise an object's detail
// level without resending the whole record.
//
// Layout (big endian):
//
//	0 u8  version
//	1 u16 building_id
//	3 u32 object_id
//	7 u8  from_level
//	8 u8  to_level
//	9 u8  flags (bit0 precision, bit1 properties)
//	precision:  u8 count, count x i32 nanometer corrections
//	properties: u8 set count, entries; u8 remove count, keys
package detail

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/arx-os/arxlink/internal/protocol/object"
)

const (
	Version   = 1
	HeaderLen = 10

	// MaxCorrections covers the largest geometry (a full mesh).
	MaxCorrections = 3 * object.MaxMeshVertices

	flagPrecision  = 0x01
	flagProperties = 0x02
)

var (
	ErrInvalidLevels   = errors.New("detail: invalid level transition")
	ErrEmpty           = errors.New("detail: packet carries no payload")
	ErrLevelMismatch   = errors.New("detail: object level does not match from_level")
	ErrObjectMismatch  = errors.New("detail: packet targets another object")
	ErrCorrectionCount = errors.New("detail: correction count does not match geometry")
	ErrOverflow        = errors.New("detail: coordinate overflow")
)

// Packet raises one object from From to To.
type Packet struct {
	BuildingID  uint16
	ObjectID    uint32
	From        uint8
	To          uint8
	Corrections []int32
	Set         object.Properties
	Remove      []object.Key
}

func (p Packet) Ref() object.Ref {
	return object.Ref{BuildingID: p.BuildingID, ObjectID: p.ObjectID}
}

func (p Packet) hasProperties() bool {
	return len(p.Set) > 0 || len(p.Remove) > 0
}

// Validate checks the packet on its own, without a target object.
func (p Packet) Validate() error {
	if p.From >= p.To || p.To > object.MaxDetailLevel {
		return fmt.Errorf("%w: %d -> %d", ErrInvalidLevels, p.From, p.To)
	}
	if len(p.Corrections) == 0 && !p.hasProperties() {
		return ErrEmpty
	}
	if len(p.Corrections) > MaxCorrections {
		return fmt.Errorf("%w: %d corrections", object.ErrLimitExceeded, len(p.Corrections))
	}
	if len(p.Remove) > object.MaxProperties {
		return fmt.Errorf("%w: %d removals", object.ErrLimitExceeded, len(p.Remove))
	}
	return object.ValidateProperties(p.Set)
}

// Encode returns the wire form of p.
func Encode(p Packet) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var flags byte
	if len(p.Corrections) > 0 {
		flags |= flagPrecision
	}
	if p.hasProperties() {
		flags |= flagProperties
	}
	out := make([]byte, 0, HeaderLen+1+4*len(p.Corrections)+64)
	out = append(out, Version)
	out = binary.BigEndian.AppendUint16(out, p.BuildingID)
	out = binary.BigEndian.AppendUint32(out, p.ObjectID)
	out = append(out, p.From, p.To, flags)

	if flags&flagPrecision != 0 {
		out = append(out, byte(len(p.Corrections)))
		for _, c := range p.Corrections {
			out = binary.BigEndian.AppendUint32(out, uint32(c))
		}
	}
	if flags&flagProperties != 0 {
		var err error
		out = append(out, byte(len(p.Set)))
		for _, k := range p.Set.Keys() {
			if out, err = object.AppendProperty(out, k, p.Set[k]); err != nil {
				return nil, err
			}
		}
		out = append(out, byte(len(p.Remove)))
		for _, k := range p.Remove {
			if out, err = object.AppendKey(out, k); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// Decode parses one complete packet.
func Decode(b []byte) (Packet, error) {
	p, off, err := decode(b)
	if err != nil {
		return Packet{}, &object.DecodeError{Offset: off, Err: err}
	}
	if off != len(b) {
		return Packet{}, &object.DecodeError{Offset: off, Err: object.ErrTrailingBytes}
	}
	return p, nil
}

func decode(b []byte) (Packet, int, error) {
	var p Packet
	if len(b) < HeaderLen {
		return p, 0, object.ErrTruncated
	}
	if b[0] != Version {
		return p, 0, fmt.Errorf("%w: %d", object.ErrUnsupportedVersion, b[0])
	}
	p.BuildingID = binary.BigEndian.Uint16(b[1:])
	p.ObjectID = binary.BigEndian.Uint32(b[3:])
	p.From, p.To = b[7], b[8]
	flags := b[9]
	off := HeaderLen
	if flags&^(flagPrecision|flagProperties) != 0 {
		return p, 9, fmt.Errorf("%w: flags %#x", object.ErrInvalidValue, flags)
	}

	if flags&flagPrecision != 0 {
		if len(b)-off < 1 {
			return p, off, object.ErrTruncated
		}
		n := int(b[off])
		off++
		if n == 0 || n > MaxCorrections {
			return p, off - 1, fmt.Errorf("%w: %d corrections", object.ErrLimitExceeded, n)
		}
		if len(b)-off < 4*n {
			return p, off, object.ErrTruncated
		}
		p.Corrections = make([]int32, n)
		for i := range p.Corrections {
			p.Corrections[i] = int32(binary.BigEndian.Uint32(b[off:]))
			off += 4
		}
	}

	if flags&flagProperties != 0 {
		if len(b)-off < 1 {
			return p, off, object.ErrTruncated
		}
		n := int(b[off])
		off++
		if n > object.MaxProperties {
			return p, off - 1, fmt.Errorf("%w: %d properties", object.ErrLimitExceeded, n)
		}
		if n > 0 {
			p.Set = make(object.Properties, n)
		}
		for i := 0; i < n; i++ {
			k, v, used, err := object.ReadProperty(b[off:])
			if err != nil {
				return p, off, err
			}
			if _, dup := p.Set[k]; dup {
				return p, off, fmt.Errorf("%w: %s", object.ErrDuplicateKey, k)
			}
			p.Set[k] = v
			off += used
		}

		if len(b)-off < 1 {
			return p, off, object.ErrTruncated
		}
		n = int(b[off])
		off++
		if n > object.MaxProperties {
			return p, off - 1, fmt.Errorf("%w: %d removals", object.ErrLimitExceeded, n)
		}
		for i := 0; i < n; i++ {
			k, used, err := object.ReadKey(b[off:])
			if err != nil {
				return p, off, err
			}
			p.Remove = append(p.Remove, k)
			off += used
		}
	}

	if err := p.Validate(); err != nil {
		return p, off, err
	}
	return p, off, nil
}

// Apply returns o advanced by p. o is not modified.
func Apply(o object.ArxObject, p Packet) (object.ArxObject, error) {
	if o.Ref() != p.Ref() {
		return o, fmt.Errorf("%w: %s vs %s", ErrObjectMismatch, p.Ref(), o.Ref())
	}
	if o.DetailLevel != p.From {
		return o, fmt.Errorf("%w: object at %d, packet from %d", ErrLevelMismatch, o.DetailLevel, p.From)
	}
	if err := p.Validate(); err != nil {
		return o, err
	}
	out := o.Clone()

	if len(p.Corrections) > 0 {
		coords := object.Coordinates(o.Geometry)
		if len(coords) != len(p.Corrections) {
			return o, fmt.Errorf("%w: %s has %d coordinates, packet %d",
				ErrCorrectionCount, o.Geometry.Kind(), len(coords), len(p.Corrections))
		}
		for i, c := range p.Corrections {
			d := int64(c)
			if (d > 0 && coords[i] > math.MaxInt64-d) || (d < 0 && coords[i] < math.MinInt64-d) {
				return o, fmt.Errorf("%w: coordinate %d", ErrOverflow, i)
			}
			coords[i] += d
		}
		g, err := object.WithCoordinates(o.Geometry, coords)
		if err != nil {
			return o, err
		}
		out.Geometry = g
	}

	if p.hasProperties() {
		if out.Properties == nil {
			out.Properties = make(object.Properties, len(p.Set))
		}
		for _, k := range p.Remove {
			delete(out.Properties, k)
		}
		for k, v := range p.Set {
			out.Properties[k] = v
		}
		if len(out.Properties) == 0 {
			out.Properties = nil
		}
	}

	out.DetailLevel = p.To
	if err := object.Validate(out); err != nil {
		return o, err
	}
	return out, nil
}
