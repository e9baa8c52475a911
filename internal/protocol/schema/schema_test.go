package schema

import (
	"errors"
	"testing"

	"github.com/arx-os/arxlink/internal/protocol/object"
	"github.com/arx-os/arxlink/internal/testutil/testlog"
)

func wall() object.ArxObject {
	return object.ArxObject{
		BuildingID: 42,
		ObjectID:   1,
		Type:       object.TypeWall,
		Geometry: object.Plane{Corners: [4]object.Point{
			{X: 0}, {X: 1000}, {X: 1000, Z: 1000}, {Z: 1000},
		}},
		Properties: object.Properties{object.NameKey("material"): object.StringValue("drywall")},
	}
}

func TestValidateWallRequiredFields(t *testing.T) {
	testlog.Start(t)
	if err := Validate(wall()); err != nil {
		t.Fatalf("validate wall: %v", err)
	}
}

func TestValidateExtraPropertiesAllowed(t *testing.T) {
	testlog.Start(t)
	o := wall()
	o.Properties[object.NumKey(99)] = object.IntValue(3)
	if err := Validate(o); err != nil {
		t.Fatalf("validate with extra property: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	o := wall()
	o.Properties = nil
	err := Validate(o)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T %v", err, err)
	}
	if ve.Field != "material" || !errors.Is(err, ErrMissingProperty) {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	o := wall()
	o.Properties[object.NameKey("material")] = object.IntValue(4)
	err := Validate(o)
	if !errors.Is(err, ErrPropertyType) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
}

func TestValidateKindNotAllowed(t *testing.T) {
	testlog.Start(t)
	o := wall()
	o.Geometry = object.Point{X: 1}
	if err := Validate(o); !errors.Is(err, ErrKindNotAllowed) {
		t.Fatalf("expected ErrKindNotAllowed, got %v", err)
	}
}

func TestValidateMalformedGeometryWrapsObjectError(t *testing.T) {
	testlog.Start(t)
	o := wall()
	o.Geometry = object.Box{Min: object.Point{X: 10}, Max: object.Point{X: 0}}
	err := Validate(o)
	if !errors.Is(err, object.ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "geometry" {
		t.Fatalf("expected geometry ValidationError, got %v", err)
	}
}

func TestValidateUnknownType(t *testing.T) {
	testlog.Start(t)
	o := wall()
	o.Type = 200
	if err := Validate(o); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestEveryCatalogTypeHasRule(t *testing.T) {
	testlog.Start(t)
	for ty := object.TypeUnspecified; ty <= object.TypeRoom; ty++ {
		if _, ok := RuleFor(ty); !ok {
			t.Fatalf("no rule for %s", ty)
		}
	}
}
