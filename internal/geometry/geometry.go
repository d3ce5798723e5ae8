// Package geometry holds the footprint model used by the nesting engine:
// points, axis-aligned rectangles and closed polygons, together with the
// rotation, area and overlap tests the placement strategies rely on.
//
// All coordinates share one unit (inches for gang sheets). Nothing in this
// package converts units.
package geometry

import "math"

// Epsilon is the tolerance used for boundary comparisons. Shapes that only
// touch along an edge or at a vertex do not overlap.
const Epsilon = 1e-6

// Point is a 2D coordinate.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Rect is an axis-aligned rectangle anchored at its minimum corner.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Right returns the maximum X of the rectangle.
func (r Rect) Right() float64 { return r.X + r.W }

// Bottom returns the maximum Y of the rectangle.
func (r Rect) Bottom() float64 { return r.Y + r.H }

// Area returns W*H.
func (r Rect) Area() float64 { return r.W * r.H }

// Translate shifts the rectangle by dx, dy.
func (r Rect) Translate(dx, dy float64) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, W: r.W, H: r.H}
}

// Overlaps reports whether the interiors of r and o intersect. It is the
// interval intersection test on both axes; touching edges are not overlap.
func (r Rect) Overlaps(o Rect) bool {
	return r.X < o.Right()-Epsilon && r.Right() > o.X+Epsilon &&
		r.Y < o.Bottom()-Epsilon && r.Bottom() > o.Y+Epsilon
}

// Contains reports whether inner lies fully inside r.
func (r Rect) Contains(inner Rect) bool {
	return r.X <= inner.X+Epsilon && r.Y <= inner.Y+Epsilon &&
		r.Right() >= inner.Right()-Epsilon &&
		r.Bottom() >= inner.Bottom()-Epsilon
}

// Polygon returns the rectangle as a counter-clockwise polygon.
func (r Rect) Polygon() Polygon {
	return Polygon{
		{X: r.X, Y: r.Y},
		{X: r.Right(), Y: r.Y},
		{X: r.Right(), Y: r.Bottom()},
		{X: r.X, Y: r.Bottom()},
	}
}

// Polygon is a closed ring of points. The last point connects back to the
// first; the closing point is not repeated.
type Polygon []Point

// BoundingBox returns the smallest axis-aligned rectangle containing p.
func (p Polygon) BoundingBox() Rect {
	if len(p) == 0 {
		return Rect{}
	}
	minX, minY := p[0].X, p[0].Y
	maxX, maxY := p[0].X, p[0].Y
	for _, pt := range p[1:] {
		minX = math.Min(minX, pt.X)
		minY = math.Min(minY, pt.Y)
		maxX = math.Max(maxX, pt.X)
		maxY = math.Max(maxY, pt.Y)
	}
	return Rect{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

// Translate shifts all points by dx, dy.
func (p Polygon) Translate(dx, dy float64) Polygon {
	out := make(Polygon, len(p))
	for i, pt := range p {
		out[i] = Point{X: pt.X + dx, Y: pt.Y + dy}
	}
	return out
}

// Rotate rotates the polygon counter-clockwise about the origin by deg degrees.
func (p Polygon) Rotate(deg float64) Polygon {
	rad := deg * math.Pi / 180
	sin, cos := math.Sincos(rad)
	out := make(Polygon, len(p))
	for i, pt := range p {
		out[i] = Point{
			X: pt.X*cos - pt.Y*sin,
			Y: pt.X*sin + pt.Y*cos,
		}
	}
	return out
}

// Normalize translates the polygon so its bounding box starts at (0, 0).
func (p Polygon) Normalize() Polygon {
	if len(p) == 0 {
		return p
	}
	bb := p.BoundingBox()
	return p.Translate(-bb.X, -bb.Y)
}

// Clone returns a deep copy of p.
func (p Polygon) Clone() Polygon {
	if p == nil {
		return nil
	}
	out := make(Polygon, len(p))
	copy(out, p)
	return out
}

// SignedArea returns the shoelace area; positive for counter-clockwise rings.
func (p Polygon) SignedArea() float64 {
	n := len(p)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += p[i].X*p[j].Y - p[j].X*p[i].Y
	}
	return sum / 2
}

// Area returns the absolute enclosed area.
func (p Polygon) Area() float64 {
	return math.Abs(p.SignedArea())
}

// Contains reports whether pt lies strictly inside p. Points on the boundary
// (within Epsilon) are outside.
func (p Polygon) Contains(pt Point) bool {
	n := len(p)
	if n < 3 {
		return false
	}
	for i := 0; i < n; i++ {
		if segmentDistance(pt, p[i], p[(i+1)%n]) <= Epsilon {
			return false
		}
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := p[i], p[j]
		if (a.Y > pt.Y) != (b.Y > pt.Y) {
			x := (b.X-a.X)*(pt.Y-a.Y)/(b.Y-a.Y) + a.X
			if pt.X < x {
				inside = !inside
			}
		}
	}
	return inside
}
