package object

import (
	"encoding/binary"
	"fmt"
)

// Encode validates o and returns its record bytes.
func Encode(o ArxObject) ([]byte, error) {
	n, err := EncodedLen(o)
	if err != nil {
		return nil, err
	}
	return AppendEncode(make([]byte, 0, n), o)
}

// EncodedLen returns the record size of a valid object.
func EncodedLen(o ArxObject) (int, error) {
	if err := Validate(o); err != nil {
		return 0, err
	}
	n := HeaderLen + geometryLen(o.Geometry) + 1
	for k, v := range o.Properties {
		n += PropertyLen(k, v)
	}
	if o.Provenance != nil {
		n += ProvenanceLen
	}
	return n, nil
}

// AppendEncode appends the record for o to dst.
func AppendEncode(dst []byte, o ArxObject) ([]byte, error) {
	if err := Validate(o); err != nil {
		return dst, err
	}
	var flags byte
	if o.Provenance != nil {
		flags |= flagProvenance
	}
	dst = append(dst, Version, flags)
	dst = binary.BigEndian.AppendUint16(dst, o.BuildingID)
	dst = binary.BigEndian.AppendUint32(dst, o.ObjectID)
	dst = append(dst, byte(o.Type), o.DetailLevel, byte(o.Geometry.Kind()))
	dst = AppendGeometry(dst, o.Geometry)

	dst = append(dst, byte(len(o.Properties)))
	var err error
	for _, k := range o.Properties.Keys() {
		if dst, err = AppendProperty(dst, k, o.Properties[k]); err != nil {
			return dst, fmt.Errorf("object: property %s: %w", k, err)
		}
	}
	if o.Provenance != nil {
		dst = binary.BigEndian.AppendUint32(dst, o.Provenance.SourcePoints)
		dst = binary.BigEndian.AppendUint32(dst, o.Provenance.CompressionMilli)
	}
	return dst, nil
}

// AppendGeometry appends the geometry payload without its kind tag.
func AppendGeometry(dst []byte, g Geometry) []byte {
	switch v := g.(type) {
	case Parametric:
		dst = append(dst, byte(v.Shape))
	case Mesh:
		dst = append(dst, byte(len(v.Vertices)))
	}
	for _, c := range Coordinates(g) {
		dst = binary.BigEndian.AppendUint64(dst, uint64(c))
	}
	return dst
}

func geometryLen(g Geometry) int {
	n := 8 * CoordinateCount(g)
	switch g.(type) {
	case Parametric, Mesh:
		n++
	}
	return n
}

// Decode parses one complete record. Any bytes past the record are an error.
func Decode(b []byte) (ArxObject, error) {
	r := reader{buf: b}
	o, err := decodeRecord(&r)
	if err != nil {
		return ArxObject{}, &DecodeError{Offset: r.off, Err: err}
	}
	if r.off != len(b) {
		return ArxObject{}, &DecodeError{Offset: r.off, Err: ErrTrailingBytes}
	}
	return o, nil
}

func decodeRecord(r *reader) (ArxObject, error) {
	var o ArxObject
	if !r.need(HeaderLen) {
		return o, ErrTruncated
	}
	if v := r.u8(); v != Version {
		return o, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	flags := r.u8()
	if flags&^flagProvenance != 0 {
		return o, fmt.Errorf("%w: flags %#x", ErrInvalidValue, flags)
	}
	o.BuildingID = r.u16()
	o.ObjectID = r.u32()
	o.Type = ObjectType(r.u8())
	o.DetailLevel = r.u8()
	if o.DetailLevel > MaxDetailLevel {
		return o, fmt.Errorf("%w: detail level %d", ErrInvalidValue, o.DetailLevel)
	}

	g, err := readGeometry(r, Kind(r.u8()))
	if err != nil {
		return o, err
	}
	o.Geometry = g

	if !r.need(1) {
		return o, ErrTruncated
	}
	count := int(r.u8())
	if count > MaxProperties {
		return o, fmt.Errorf("%w: %d properties", ErrLimitExceeded, count)
	}
	if count > 0 {
		o.Properties = make(Properties, count)
	}
	for i := 0; i < count; i++ {
		k, v, n, err := ReadProperty(r.rest())
		if err != nil {
			return o, err
		}
		if _, dup := o.Properties[k]; dup {
			return o, fmt.Errorf("%w: %s", ErrDuplicateKey, k)
		}
		o.Properties[k] = v
		r.off += n
	}

	if flags&flagProvenance != 0 {
		if !r.need(ProvenanceLen) {
			return o, ErrTruncated
		}
		o.Provenance = &Provenance{SourcePoints: r.u32(), CompressionMilli: r.u32()}
	}
	return o, nil
}

func readGeometry(r *reader, kind Kind) (Geometry, error) {
	var proto Geometry
	switch kind {
	case KindPoint:
		proto = Point{}
	case KindLine:
		proto = Line{}
	case KindPlane:
		proto = Plane{}
	case KindBox:
		proto = Box{}
	case KindParametric:
		if !r.need(1) {
			return nil, ErrTruncated
		}
		shape := ParametricShape(r.u8())
		if !shape.valid() {
			return nil, fmt.Errorf("%w: parametric shape %d", ErrInvalidValue, shape)
		}
		proto = Parametric{Shape: shape}
	case KindMesh:
		if !r.need(1) {
			return nil, ErrTruncated
		}
		n := int(r.u8())
		if n < minMeshVertices || n > MaxMeshVertices {
			return nil, fmt.Errorf("%w: %d mesh vertices", ErrLimitExceeded, n)
		}
		proto = Mesh{Vertices: make([]Point, n)}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}

	n := CoordinateCount(proto)
	if !r.need(8 * n) {
		return nil, ErrTruncated
	}
	coords := make([]int64, n)
	for i := range coords {
		coords[i] = int64(r.u64())
	}
	return WithCoordinates(proto, coords)
}

// reader walks a flat buffer. Callers check need before each fixed read.
type reader struct {
	buf []byte
	off int
}

func (r *reader) need(n int) bool { return len(r.buf)-r.off >= n }
func (r *reader) rest() []byte    { return r.buf[r.off:] }

func (r *reader) u8() uint8 {
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}
