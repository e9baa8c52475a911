package object

import "fmt"

// Kind is the one byte geometry tag on the wire.
type Kind uint8

const (
	KindPoint      Kind = 1
	KindLine       Kind = 2
	KindPlane      Kind = 3
	KindBox        Kind = 4
	KindParametric Kind = 5
	KindMesh       Kind = 6
)

func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindLine:
		return "line"
	case KindPlane:
		return "plane"
	case KindBox:
		return "box"
	case KindParametric:
		return "parametric"
	case KindMesh:
		return "mesh"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Geometry is the closed set of shapes an ArxObject can carry. The unexported
// method keeps the set closed to this package; every site that switches on it
// handles all six kinds.
type Geometry interface {
	Kind() Kind
	geometry()
}

// Point is a position in nanometers.
type Point struct {
	X, Y, Z int64
}

type Line struct {
	From, To Point
}

// Plane is a quadrilateral given by its corners in winding order.
type Plane struct {
	Corners [4]Point
}

// Box is an axis aligned box.
type Box struct {
	Min, Max Point
}

// ParametricShape selects how Params are interpreted.
type ParametricShape uint8

const (
	ShapeCylinder  ParametricShape = 1 // radius, height
	ShapeSphere    ParametricShape = 2 // radius
	ShapeCone      ParametricShape = 3 // base radius, top radius, height
	ShapeArc       ParametricShape = 4 // radius, start mdeg, sweep mdeg, thickness
	ShapeExtrusion ParametricShape = 5 // width, depth, height, rotation mdeg
)

func (s ParametricShape) valid() bool {
	return s >= ShapeCylinder && s <= ShapeExtrusion
}

type Parametric struct {
	Shape  ParametricShape
	Origin Point
	Params [4]int64
}

// Mesh is a bounded vertex list.
type Mesh struct {
	Vertices []Point
}

func (Point) Kind() Kind      { return KindPoint }
func (Line) Kind() Kind       { return KindLine }
func (Plane) Kind() Kind      { return KindPlane }
func (Box) Kind() Kind        { return KindBox }
func (Parametric) Kind() Kind { return KindParametric }
func (Mesh) Kind() Kind       { return KindMesh }

func (Point) geometry()      {}
func (Line) geometry()       {}
func (Plane) geometry()      {}
func (Box) geometry()        {}
func (Parametric) geometry() {}
func (Mesh) geometry()       {}

// CoordinateCount is the number of int64 values a geometry carries, in the
// order Coordinates returns them.
func CoordinateCount(g Geometry) int {
	switch v := g.(type) {
	case Point:
		return 3
	case Line:
		return 6
	case Plane:
		return 12
	case Box:
		return 6
	case Parametric:
		return 3 + len(v.Params)
	case Mesh:
		return 3 * len(v.Vertices)
	default:
		return 0
	}
}

// Coordinates flattens g into its canonical coordinate order.
func Coordinates(g Geometry) []int64 {
	out := make([]int64, 0, CoordinateCount(g))
	switch v := g.(type) {
	case Point:
		out = appendPoint(out, v)
	case Line:
		out = appendPoint(appendPoint(out, v.From), v.To)
	case Plane:
		for _, c := range v.Corners {
			out = appendPoint(out, c)
		}
	case Box:
		out = appendPoint(appendPoint(out, v.Min), v.Max)
	case Parametric:
		out = appendPoint(out, v.Origin)
		out = append(out, v.Params[:]...)
	case Mesh:
		for _, p := range v.Vertices {
			out = appendPoint(out, p)
		}
	}
	return out
}

// WithCoordinates rebuilds g from a flattened coordinate list of the same
// shape.
func WithCoordinates(g Geometry, c []int64) (Geometry, error) {
	if len(c) != CoordinateCount(g) {
		return nil, fmt.Errorf("%w: %s wants %d coordinates, got %d",
			ErrInvalidGeometry, kindOf(g), CoordinateCount(g), len(c))
	}
	switch v := g.(type) {
	case Point:
		return pointAt(c, 0), nil
	case Line:
		return Line{From: pointAt(c, 0), To: pointAt(c, 3)}, nil
	case Plane:
		var p Plane
		for i := range p.Corners {
			p.Corners[i] = pointAt(c, 3*i)
		}
		return p, nil
	case Box:
		return Box{Min: pointAt(c, 0), Max: pointAt(c, 3)}, nil
	case Parametric:
		out := Parametric{Shape: v.Shape, Origin: pointAt(c, 0)}
		copy(out.Params[:], c[3:])
		return out, nil
	case Mesh:
		out := Mesh{Vertices: make([]Point, len(v.Vertices))}
		for i := range out.Vertices {
			out.Vertices[i] = pointAt(c, 3*i)
		}
		return out, nil
	default:
		return nil, ErrMissingGeometry
	}
}

func appendPoint(dst []int64, p Point) []int64 {
	return append(dst, p.X, p.Y, p.Z)
}

func pointAt(c []int64, i int) Point {
	return Point{X: c[i], Y: c[i+1], Z: c[i+2]}
}

func kindOf(g Geometry) Kind {
	if g == nil {
		return 0
	}
	return g.Kind()
}

func cloneGeometry(g Geometry) Geometry {
	if m, ok := g.(Mesh); ok {
		out := Mesh{Vertices: make([]Point, len(m.Vertices))}
		copy(out.Vertices, m.Vertices)
		return out
	}
	return g
}
