// Package object holds the ArxObject model and its compact record codec.
//
// A record is a fixed-order layout: header, one kind tag selecting the
// geometry shape, fixed width nanometer coordinates, a counted property list
// and optional provenance. Every count and length has a static maximum that is
// checked before the bytes it governs are read.
package object

import (
	"errors"
	"fmt"
)

const (
	Version = 1

	MaxProperties = 16
	MaxKeyLen     = 16
	MaxStringLen  = 48
	// MaxMeshVertices is the largest mesh whose record, with provenance but
	// no properties, still fits the payload of one 255 byte radio frame.
	MaxMeshVertices = 8
	MaxDetailLevel  = 15

	HeaderLen     = 11
	ProvenanceLen = 8
	PointLen      = 24

	// MaxRecordLen bounds any valid encoded record.
	MaxRecordLen = HeaderLen + 1 + MaxMeshVertices*PointLen +
		1 + MaxProperties*(1+MaxKeyLen+2+MaxStringLen) + ProvenanceLen

	maxNumericKey  = 0x7F
	nameKeyFlag    = 0x80
	flagProvenance = 0x01
)

var (
	ErrTruncated          = errors.New("object: truncated record")
	ErrUnknownKind        = errors.New("object: unknown geometry kind")
	ErrUnsupportedVersion = errors.New("object: unsupported version")
	ErrLimitExceeded      = errors.New("object: limit exceeded")
	ErrInvalidValue       = errors.New("object: invalid value")
	ErrInvalidKey         = errors.New("object: invalid property key")
	ErrDuplicateKey       = errors.New("object: duplicate property key")
	ErrTrailingBytes      = errors.New("object: trailing bytes")
	ErrMissingGeometry    = errors.New("object: missing geometry")
	ErrInvalidGeometry    = errors.New("object: invalid geometry")
)

// DecodeError reports where in a record decoding stopped.
type DecodeError struct {
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ObjectType is the building element catalog id.
type ObjectType uint8

const (
	TypeUnspecified  ObjectType = 0
	TypeWall         ObjectType = 1
	TypeDoor         ObjectType = 2
	TypeWindow       ObjectType = 3
	TypeOutlet       ObjectType = 4
	TypeSwitch       ObjectType = 5
	TypeLight        ObjectType = 6
	TypeHVAC         ObjectType = 7
	TypeVent         ObjectType = 8
	TypeSensor       ObjectType = 9
	TypeAccessReader ObjectType = 10
	TypePipe         ObjectType = 11
	TypeDuct         ObjectType = 12
	TypePanel        ObjectType = 13
	TypeRoom         ObjectType = 14
)

var typeNames = [...]string{
	TypeUnspecified:  "unspecified",
	TypeWall:         "wall",
	TypeDoor:         "door",
	TypeWindow:       "window",
	TypeOutlet:       "outlet",
	TypeSwitch:       "switch",
	TypeLight:        "light",
	TypeHVAC:         "hvac",
	TypeVent:         "vent",
	TypeSensor:       "sensor",
	TypeAccessReader: "access_reader",
	TypePipe:         "pipe",
	TypeDuct:         "duct",
	TypePanel:        "panel",
	TypeRoom:         "room",
}

func (t ObjectType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseObjectType maps a catalog name back to its id.
func ParseObjectType(name string) (ObjectType, bool) {
	for i, n := range typeNames {
		if n == name {
			return ObjectType(i), true
		}
	}
	return 0, false
}

// Provenance is informational capture metadata.
type Provenance struct {
	SourcePoints     uint32
	CompressionMilli uint32
}

// ArxObject is one building element.
type ArxObject struct {
	BuildingID  uint16
	ObjectID    uint32
	Type        ObjectType
	DetailLevel uint8
	Geometry    Geometry
	Properties  Properties
	Provenance  *Provenance
}

// Clone returns a copy that shares no mutable state with o.
func (o ArxObject) Clone() ArxObject {
	out := o
	out.Geometry = cloneGeometry(o.Geometry)
	out.Properties = o.Properties.Clone()
	if o.Provenance != nil {
		p := *o.Provenance
		out.Provenance = &p
	}
	return out
}

// Equal compares two objects, treating nil and empty property maps alike.
func (o ArxObject) Equal(other ArxObject) bool {
	if o.BuildingID != other.BuildingID || o.ObjectID != other.ObjectID ||
		o.Type != other.Type || o.DetailLevel != other.DetailLevel {
		return false
	}
	if (o.Provenance == nil) != (other.Provenance == nil) {
		return false
	}
	if o.Provenance != nil && *o.Provenance != *other.Provenance {
		return false
	}
	if kindOf(o.Geometry) != kindOf(other.Geometry) {
		return false
	}
	a, b := Coordinates(o.Geometry), Coordinates(other.Geometry)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	if pa, ok := o.Geometry.(Parametric); ok && pa.Shape != other.Geometry.(Parametric).Shape {
		return false
	}
	if len(o.Properties) != len(other.Properties) {
		return false
	}
	for k, v := range o.Properties {
		if w, ok := other.Properties[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// Ref is the registry key of an object.
type Ref struct {
	BuildingID uint16
	ObjectID   uint32
}

func (o ArxObject) Ref() Ref { return Ref{BuildingID: o.BuildingID, ObjectID: o.ObjectID} }

func (r Ref) String() string { return fmt.Sprintf("%d/%d", r.BuildingID, r.ObjectID) }
