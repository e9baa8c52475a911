package object

import "fmt"

const minMeshVertices = 3

// Validate checks the structural rules every encodable object satisfies:
// geometry well formed for its kind, bounded properties and a detail level in
// range. Type specific requirements live in the schema package.
func Validate(o ArxObject) error {
	if o.DetailLevel > MaxDetailLevel {
		return fmt.Errorf("%w: detail level %d above %d", ErrInvalidValue, o.DetailLevel, MaxDetailLevel)
	}
	if err := ValidateGeometry(o.Geometry); err != nil {
		return err
	}
	return ValidateProperties(o.Properties)
}

// ValidateGeometry rejects degenerate or out of range shapes.
func ValidateGeometry(g Geometry) error {
	switch v := g.(type) {
	case nil:
		return ErrMissingGeometry
	case Point:
		return nil
	case Line:
		if v.From == v.To {
			return fmt.Errorf("%w: line endpoints coincide", ErrInvalidGeometry)
		}
	case Plane:
		for i := range v.Corners {
			if v.Corners[i] == v.Corners[(i+1)%len(v.Corners)] {
				return fmt.Errorf("%w: plane corners %d and %d coincide", ErrInvalidGeometry, i, (i+1)%len(v.Corners))
			}
		}
	case Box:
		if v.Min.X > v.Max.X || v.Min.Y > v.Max.Y || v.Min.Z > v.Max.Z {
			return fmt.Errorf("%w: box min exceeds max", ErrInvalidGeometry)
		}
	case Parametric:
		if !v.Shape.valid() {
			return fmt.Errorf("%w: parametric shape %d", ErrInvalidGeometry, v.Shape)
		}
	case Mesh:
		if len(v.Vertices) < minMeshVertices || len(v.Vertices) > MaxMeshVertices {
			return fmt.Errorf("%w: mesh has %d vertices, want %d..%d",
				ErrLimitExceeded, len(v.Vertices), minMeshVertices, MaxMeshVertices)
		}
	}
	return nil
}

// ValidateProperties checks count, key form and value bounds.
func ValidateProperties(p Properties) error {
	if len(p) > MaxProperties {
		return fmt.Errorf("%w: %d properties above %d", ErrLimitExceeded, len(p), MaxProperties)
	}
	for k, v := range p {
		if err := validateKey(k); err != nil {
			return err
		}
		if err := validateValue(v); err != nil {
			return fmt.Errorf("property %s: %w", k, err)
		}
	}
	return nil
}

func validateValue(v Value) error {
	switch v.Type {
	case ValueString:
		if len(v.Str) > MaxStringLen {
			return fmt.Errorf("%w: string longer than %d", ErrLimitExceeded, MaxStringLen)
		}
		if v.Int != 0 || v.Bool {
			return fmt.Errorf("%w: string value carries stray fields", ErrInvalidValue)
		}
	case ValueInt, ValueFixed:
		if v.Str != "" || v.Bool {
			return fmt.Errorf("%w: numeric value carries stray fields", ErrInvalidValue)
		}
	case ValueBool:
		if v.Str != "" || v.Int != 0 {
			return fmt.Errorf("%w: bool value carries stray fields", ErrInvalidValue)
		}
	default:
		return fmt.Errorf("%w: value type %d", ErrInvalidValue, v.Type)
	}
	return nil
}
