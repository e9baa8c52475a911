package object

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planeWall() ArxObject {
	return ArxObject{
		BuildingID: 42,
		ObjectID:   1001,
		Type:       TypeWall,
		Geometry: Plane{Corners: [4]Point{
			{X: 1, Y: 2, Z: 3},
			{X: 3_048_000_123, Y: 2, Z: 3},
			{X: 3_048_000_123, Y: 2, Z: 2_438_400_456},
			{X: 1, Y: 2, Z: 2_438_400_456},
		}},
		Properties: Properties{NameKey("material"): StringValue("drywall")},
	}
}

func hexLines(b []byte) []byte {
	h := hex.EncodeToString(b)
	var sb strings.Builder
	for len(h) > 64 {
		sb.WriteString(h[:64])
		sb.WriteByte('\n')
		h = h[64:]
	}
	sb.WriteString(h)
	sb.WriteByte('\n')
	return []byte(sb.String())
}

func TestEncodePlaneMatchesGolden(t *testing.T) {
	b, err := Encode(planeWall())
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "plane_drywall", hexLines(b))
}

func TestRoundTripAllKinds(t *testing.T) {
	mesh := Mesh{Vertices: []Point{{0, 0, 0}, {10, 0, 0}, {0, 10, 0}, {0, 0, 10}}}
	cases := []struct {
		name string
		obj  ArxObject
	}{
		{name: "point", obj: ArxObject{BuildingID: 1, ObjectID: 2, Type: TypeOutlet,
			Geometry: Point{X: -9_000_000_000_000, Y: 5, Z: 1_200_000_000},
			Properties: Properties{
				NameKey("circuit"): StringValue("A-12"),
				NumKey(3):          IntValue(-20),
				NameKey("gfci"):    BoolValue(true),
			}}},
		{name: "line", obj: ArxObject{BuildingID: 1, ObjectID: 3, Type: TypePipe, DetailLevel: 2,
			Geometry:   Line{From: Point{0, 0, 0}, To: Point{1, 2, 3}},
			Properties: Properties{NameKey("diameter"): FixedValue(25_400)}}},
		{name: "plane", obj: planeWall()},
		{name: "box", obj: ArxObject{BuildingID: 9, ObjectID: 4, Type: TypeHVAC, DetailLevel: MaxDetailLevel,
			Geometry:   Box{Min: Point{-1, -1, -1}, Max: Point{1, 1, 1}},
			Provenance: &Provenance{SourcePoints: 120_000, CompressionMilli: 11_500_000}}},
		{name: "parametric", obj: ArxObject{BuildingID: 9, ObjectID: 5, Type: TypeDuct,
			Geometry: Parametric{Shape: ShapeCylinder, Origin: Point{1, 1, 1}, Params: [4]int64{150_000_000, 3_000_000_000}}}},
		{name: "mesh", obj: ArxObject{BuildingID: 9, ObjectID: 6, Type: TypeRoom, Geometry: mesh}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Encode(tc.obj)
			require.NoError(t, err)

			n, err := EncodedLen(tc.obj)
			require.NoError(t, err)
			assert.Len(t, b, n)

			got, err := Decode(b)
			require.NoError(t, err)
			assert.True(t, tc.obj.Equal(got), "decoded %+v", got)
			assert.Equal(t, tc.obj, got)
		})
	}
}

func TestEncodingIsCanonicalAcrossInsertionOrder(t *testing.T) {
	a := planeWall()
	a.Properties = Properties{}
	a.Properties[NameKey("zone")] = StringValue("east")
	a.Properties[NumKey(9)] = IntValue(1)
	a.Properties[NameKey("material")] = StringValue("drywall")

	b := planeWall()
	b.Properties = Properties{
		NameKey("material"): StringValue("drywall"),
		NumKey(9):           IntValue(1),
		NameKey("zone"):     StringValue("east"),
	}

	ea, err := Encode(a)
	require.NoError(t, err)
	eb, err := Encode(b)
	require.NoError(t, err)
	assert.Equal(t, ea, eb)
	assert.Equal(t, []Key{NumKey(9), NameKey("material"), NameKey("zone")}, a.Properties.Keys())
}

func TestDecodeRejectsEveryTruncation(t *testing.T) {
	b, err := Encode(planeWall())
	require.NoError(t, err)
	for i := 0; i < len(b); i++ {
		_, err := Decode(b[:i])
		require.Error(t, err, "prefix %d", i)
		var de *DecodeError
		require.True(t, errors.As(err, &de), "prefix %d: %v", i, err)
		assert.LessOrEqual(t, de.Offset, i)
	}
}

func TestDecodeErrors(t *testing.T) {
	valid, err := Encode(planeWall())
	require.NoError(t, err)
	mutate := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), valid...))
	}

	cases := []struct {
		name string
		in   []byte
		want error
	}{
		{name: "unknown kind", in: mutate(func(b []byte) []byte { b[10] = 0x7F; return b }), want: ErrUnknownKind},
		{name: "zero kind", in: mutate(func(b []byte) []byte { b[10] = 0; return b }), want: ErrUnknownKind},
		{name: "version", in: mutate(func(b []byte) []byte { b[0] = 2; return b }), want: ErrUnsupportedVersion},
		{name: "flags", in: mutate(func(b []byte) []byte { b[1] = 0x80; return b }), want: ErrInvalidValue},
		{name: "detail level", in: mutate(func(b []byte) []byte { b[9] = MaxDetailLevel + 1; return b }), want: ErrInvalidValue},
		{name: "property count", in: mutate(func(b []byte) []byte { b[HeaderLen+96] = MaxProperties + 1; return b }), want: ErrLimitExceeded},
		{name: "trailing", in: append(append([]byte(nil), valid...), 0), want: ErrTrailingBytes},
		{name: "provenance flag without bytes", in: mutate(func(b []byte) []byte { b[1] = flagProvenance; return b }), want: ErrTruncated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecodeRejectsDuplicateKeys(t *testing.T) {
	o := planeWall()
	o.Properties = Properties{NameKey("a"): IntValue(1), NameKey("b"): IntValue(2)}
	b, err := Encode(o)
	require.NoError(t, err)
	// rename "b" to "a"
	i := strings.LastIndex(string(b), "b")
	b[i] = 'a'
	_, err = Decode(b)
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestDecodeMeshCountCheckedBeforeRead(t *testing.T) {
	b := []byte{Version, 0, 0, 1, 0, 0, 0, 1, 0, 0, byte(KindMesh), 200}
	_, err := Decode(b)
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestValidateRejectsMalformedGeometry(t *testing.T) {
	cases := []struct {
		name string
		g    Geometry
		want error
	}{
		{name: "nil", g: nil, want: ErrMissingGeometry},
		{name: "zero length line", g: Line{From: Point{1, 1, 1}, To: Point{1, 1, 1}}, want: ErrInvalidGeometry},
		{name: "inverted box", g: Box{Min: Point{5, 0, 0}, Max: Point{0, 1, 1}}, want: ErrInvalidGeometry},
		{name: "degenerate plane", g: Plane{Corners: [4]Point{{0, 0, 0}, {0, 0, 0}, {1, 1, 0}, {1, 0, 0}}}, want: ErrInvalidGeometry},
		{name: "unknown shape", g: Parametric{Shape: 99}, want: ErrInvalidGeometry},
		{name: "tiny mesh", g: Mesh{Vertices: []Point{{}, {1, 0, 0}}}, want: ErrLimitExceeded},
		{name: "huge mesh", g: Mesh{Vertices: make([]Point, MaxMeshVertices+1)}, want: ErrLimitExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Encode(ArxObject{Geometry: tc.g})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestValidateRejectsPropertyLimits(t *testing.T) {
	o := planeWall()
	o.Properties = Properties{}
	for i := 0; i <= MaxProperties; i++ {
		o.Properties[NumKey(uint8(i))] = IntValue(int32(i))
	}
	assert.ErrorIs(t, Validate(o), ErrLimitExceeded)

	o.Properties = Properties{NameKey(strings.Repeat("k", MaxKeyLen+1)): BoolValue(true)}
	assert.ErrorIs(t, Validate(o), ErrLimitExceeded)

	o.Properties = Properties{NameKey("note"): StringValue(strings.Repeat("s", MaxStringLen+1))}
	assert.ErrorIs(t, Validate(o), ErrLimitExceeded)

	o.Properties = Properties{NumKey(200): IntValue(1)}
	assert.ErrorIs(t, Validate(o), ErrInvalidKey)

	o.Properties = Properties{{ID: 3, Name: "both"}: IntValue(1)}
	assert.ErrorIs(t, Validate(o), ErrInvalidKey)
}

func TestWithCoordinatesRejectsWrongCount(t *testing.T) {
	_, err := WithCoordinates(Point{}, []int64{1, 2})
	assert.ErrorIs(t, err, ErrInvalidGeometry)

	g, err := WithCoordinates(Box{}, []int64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, Box{Min: Point{1, 2, 3}, Max: Point{4, 5, 6}}, g)
}

func TestCloneDoesNotShareMesh(t *testing.T) {
	o := ArxObject{Geometry: Mesh{Vertices: []Point{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}},
		Properties: Properties{NumKey(1): IntValue(1)}}
	c := o.Clone()
	c.Geometry.(Mesh).Vertices[0].X = 99
	c.Properties[NumKey(1)] = IntValue(2)
	assert.Equal(t, int64(0), o.Geometry.(Mesh).Vertices[0].X)
	assert.Equal(t, IntValue(1), o.Properties[NumKey(1)])
}
