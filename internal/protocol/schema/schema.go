// Package schema holds the building element catalog: which geometry kinds
// and properties each object type requires. Object structure itself is
// checked by the object package; this layer adds per type rules.
package schema

import (
	"errors"
	"fmt"

	"github.com/arx-os/arxlink/internal/protocol/object"
	"github.com/rs/zerolog/log"
)

// Requirement is one property a type must carry.
type Requirement struct {
	Key  object.Key
	Type object.ValueType
}

// Rule describes the shape and properties accepted for an object type.
type Rule struct {
	Kinds    []object.Kind
	Required []Requirement
}

type ValidationError struct {
	Ref    object.Ref
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: object=%s: %s", e.Ref, e.Reason)
	}
	return fmt.Sprintf("schema: object=%s field=%s: %s", e.Ref, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var (
	ErrUnknownType     = errors.New("schema: unknown object type")
	ErrKindNotAllowed  = errors.New("schema: geometry kind not allowed for type")
	ErrMissingProperty = errors.New("schema: missing required property")
	ErrPropertyType    = errors.New("schema: property type mismatch")
)

var (
	surfaces = []object.Kind{object.KindPlane, object.KindBox, object.KindMesh}
	devices  = []object.Kind{object.KindPoint, object.KindBox}
	runs     = []object.Kind{object.KindLine, object.KindParametric, object.KindMesh}
	volumes  = []object.Kind{object.KindBox, object.KindMesh, object.KindParametric}
)

var rules = map[object.ObjectType]Rule{
	object.TypeUnspecified: {},
	object.TypeWall: {
		Kinds:    surfaces,
		Required: []Requirement{{object.NameKey("material"), object.ValueString}},
	},
	object.TypeDoor:   {Kinds: surfaces},
	object.TypeWindow: {Kinds: surfaces},
	object.TypeOutlet: {
		Kinds:    devices,
		Required: []Requirement{{object.NameKey("circuit"), object.ValueString}},
	},
	object.TypeSwitch: {
		Kinds:    devices,
		Required: []Requirement{{object.NameKey("circuit"), object.ValueString}},
	},
	object.TypeLight:  {Kinds: devices},
	object.TypeHVAC:   {Kinds: volumes},
	object.TypeVent:   {Kinds: append([]object.Kind{object.KindPoint}, surfaces...)},
	object.TypeSensor: {Kinds: devices},
	object.TypeAccessReader: {
		Kinds:    devices,
		Required: []Requirement{{object.NameKey("zone"), object.ValueString}},
	},
	object.TypePipe:  {Kinds: runs},
	object.TypeDuct:  {Kinds: runs},
	object.TypePanel: {Kinds: devices},
	object.TypeRoom:  {Kinds: volumes},
}

// RuleFor returns the rule registered for t.
func RuleFor(t object.ObjectType) (Rule, bool) {
	r, ok := rules[t]
	return r, ok
}

// Validate runs structural checks then the type rule for o. Extra
// properties are allowed.
func Validate(o object.ArxObject) error {
	ref := o.Ref()
	log.Debug().Stringer("object", ref).Stringer("type", o.Type).Msg("schema.Validate")

	if err := object.Validate(o); err != nil {
		log.Warn().Err(err).Stringer("object", ref).Msg("schema.Validate structure")
		return &ValidationError{Ref: ref, Field: "geometry", Reason: err.Error(), Err: err}
	}
	rule, ok := rules[o.Type]
	if !ok {
		log.Warn().Stringer("object", ref).Uint8("type", uint8(o.Type)).Msg("schema.Validate unknown type")
		return &ValidationError{Ref: ref, Field: "type", Reason: "unknown object type", Err: ErrUnknownType}
	}
	if len(rule.Kinds) > 0 && !kindAllowed(rule.Kinds, o.Geometry.Kind()) {
		log.Warn().Stringer("object", ref).Stringer("kind", o.Geometry.Kind()).Msg("schema.Validate kind")
		return &ValidationError{
			Ref:    ref,
			Field:  "geometry",
			Reason: fmt.Sprintf("%s not allowed for %s", o.Geometry.Kind(), o.Type),
			Err:    ErrKindNotAllowed,
		}
	}
	for _, req := range rule.Required {
		v, found := o.Properties.Get(req.Key)
		if !found {
			log.Warn().Stringer("object", ref).Stringer("key", req.Key).Msg("schema.Validate missing property")
			return &ValidationError{Ref: ref, Field: req.Key.String(), Reason: "missing required property", Err: ErrMissingProperty}
		}
		if v.Type != req.Type {
			log.Warn().Stringer("object", ref).Stringer("key", req.Key).Msg("schema.Validate property type")
			return &ValidationError{Ref: ref, Field: req.Key.String(), Reason: "type mismatch", Err: ErrPropertyType}
		}
	}
	return nil
}

func kindAllowed(kinds []object.Kind, k object.Kind) bool {
	for _, allowed := range kinds {
		if allowed == k {
			return true
		}
	}
	return false
}
