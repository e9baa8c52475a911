package detail

import (
	"math"
	"testing"

	"github.com/arx-os/arxlink/internal/protocol/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outlet() object.ArxObject {
	return object.ArxObject{
		BuildingID: 42,
		ObjectID:   7,
		Type:       object.TypeOutlet,
		Geometry:   object.Point{X: 1_000_000_000, Y: 2_000_000_000, Z: 300_000_000},
		Properties: object.Properties{object.NameKey("circuit"): object.StringValue("A-1")},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Packet{
		{BuildingID: 42, ObjectID: 7, From: 0, To: 1, Corrections: []int32{12, -7, 0}},
		{BuildingID: 42, ObjectID: 7, From: 1, To: 2,
			Set:    object.Properties{object.NameKey("voltage"): object.IntValue(120)},
			Remove: []object.Key{object.NumKey(3)}},
		{BuildingID: 1, ObjectID: 2, From: 3, To: object.MaxDetailLevel,
			Corrections: []int32{math.MaxInt32, math.MinInt32, 1},
			Set:         object.Properties{object.NumKey(1): object.BoolValue(true)}},
	}
	for _, p := range cases {
		b, err := Encode(p)
		require.NoError(t, err)
		got, err := Decode(b)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestValidateRejects(t *testing.T) {
	assert.ErrorIs(t, Packet{From: 1, To: 1, Corrections: []int32{1}}.Validate(), ErrInvalidLevels)
	assert.ErrorIs(t, Packet{From: 2, To: 1, Corrections: []int32{1}}.Validate(), ErrInvalidLevels)
	assert.ErrorIs(t, Packet{From: 0, To: object.MaxDetailLevel + 1, Corrections: []int32{1}}.Validate(), ErrInvalidLevels)
	assert.ErrorIs(t, Packet{From: 0, To: 1}.Validate(), ErrEmpty)
	assert.ErrorIs(t, Packet{From: 0, To: 1, Corrections: make([]int32, MaxCorrections+1)}.Validate(), object.ErrLimitExceeded)
}

func TestDecodeRejectsTruncationAndFlags(t *testing.T) {
	b, err := Encode(Packet{BuildingID: 1, ObjectID: 1, From: 0, To: 1,
		Corrections: []int32{1, 2, 3},
		Set:         object.Properties{object.NameKey("x"): object.IntValue(1)}})
	require.NoError(t, err)
	for i := 0; i < len(b); i++ {
		_, err := Decode(b[:i])
		assert.Error(t, err, "prefix %d", i)
	}

	bad := append([]byte(nil), b...)
	bad[9] = 0x80
	_, err = Decode(bad)
	assert.ErrorIs(t, err, object.ErrInvalidValue)

	_, err = Decode(append(append([]byte(nil), b...), 0))
	assert.ErrorIs(t, err, object.ErrTrailingBytes)
}

func TestApplyPrecisionAndProperties(t *testing.T) {
	o := outlet()
	o.Properties[object.NumKey(3)] = object.IntValue(9)

	step1, err := Apply(o, Packet{BuildingID: 42, ObjectID: 7, From: 0, To: 1, Corrections: []int32{5, -5, 0}})
	require.NoError(t, err)
	assert.Equal(t, object.Point{X: 1_000_000_005, Y: 1_999_999_995, Z: 300_000_000}, step1.Geometry)
	assert.Equal(t, uint8(1), step1.DetailLevel)
	assert.Equal(t, uint8(0), o.DetailLevel, "input must not be modified")

	step2, err := Apply(step1, Packet{BuildingID: 42, ObjectID: 7, From: 1, To: 3,
		Set:    object.Properties{object.NumKey(3): object.IntValue(10), object.NameKey("gfci"): object.BoolValue(true)},
		Remove: []object.Key{object.NumKey(3)}})
	require.NoError(t, err)
	assert.Equal(t, uint8(3), step2.DetailLevel)
	// removals run before sets
	assert.Equal(t, object.IntValue(10), step2.Properties[object.NumKey(3)])
	assert.Equal(t, object.BoolValue(true), step2.Properties[object.NameKey("gfci")])
	assert.Len(t, step1.Properties, 2)
}

func TestApplyRejects(t *testing.T) {
	o := outlet()
	_, err := Apply(o, Packet{BuildingID: 42, ObjectID: 8, From: 0, To: 1, Corrections: []int32{1, 1, 1}})
	assert.ErrorIs(t, err, ErrObjectMismatch)

	_, err = Apply(o, Packet{BuildingID: 42, ObjectID: 7, From: 1, To: 2, Corrections: []int32{1, 1, 1}})
	assert.ErrorIs(t, err, ErrLevelMismatch)

	_, err = Apply(o, Packet{BuildingID: 42, ObjectID: 7, From: 0, To: 1, Corrections: []int32{1, 1}})
	assert.ErrorIs(t, err, ErrCorrectionCount)

	o.Geometry = object.Point{X: math.MaxInt64}
	_, err = Apply(o, Packet{BuildingID: 42, ObjectID: 7, From: 0, To: 1, Corrections: []int32{1, 0, 0}})
	assert.ErrorIs(t, err, ErrOverflow)

	line := outlet()
	line.Geometry = object.Line{From: object.Point{}, To: object.Point{X: 1}}
	_, err = Apply(line, Packet{BuildingID: 42, ObjectID: 7, From: 0, To: 1, Corrections: []int32{0, 0, 0, -1, 0, 0}})
	assert.ErrorIs(t, err, object.ErrInvalidGeometry)
}

func TestApplyRejectsPropertyOverflow(t *testing.T) {
	o := outlet()
	set := object.Properties{}
	for i := 0; i < object.MaxProperties; i++ {
		set[object.NumKey(uint8(i))] = object.IntValue(1)
	}
	_, err := Apply(o, Packet{BuildingID: 42, ObjectID: 7, From: 0, To: 1, Set: set})
	assert.ErrorIs(t, err, object.ErrLimitExceeded)
}
