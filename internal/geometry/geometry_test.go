package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x, y, s float64) Polygon {
	return Rect{X: x, Y: y, W: s, H: s}.Polygon()
}

func TestRect_OverlapsTouchingEdges(t *testing.T) {
	a := Rect{X: 0, Y: 0, W: 10, H: 5}
	b := Rect{X: 10, Y: 0, W: 10, H: 5}
	c := Rect{X: 9.5, Y: 4.5, W: 1, H: 1}

	assert.False(t, a.Overlaps(b), "shared edge is not overlap")
	assert.False(t, b.Overlaps(a))
	assert.True(t, a.Overlaps(c))
	assert.True(t, c.Overlaps(b))
}

func TestRect_OverlapsWithinEpsilon(t *testing.T) {
	a := Rect{X: 0, Y: 0, W: 10, H: 5}
	b := Rect{X: 10 - Epsilon/2, Y: 0, W: 10, H: 5}
	assert.False(t, a.Overlaps(b))
}

func TestRect_Contains(t *testing.T) {
	outer := Rect{W: 17, H: 100}
	assert.True(t, outer.Contains(Rect{X: 0, Y: 0, W: 17, H: 10}))
	assert.False(t, outer.Contains(Rect{X: 8, Y: 0, W: 10, H: 10}))
}

func TestPolygon_AreaAndBoundingBox(t *testing.T) {
	tri := Polygon{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 0, Y: 3}}
	assert.InDelta(t, 6.0, tri.Area(), 1e-9)

	bb := tri.Translate(2, 5).BoundingBox()
	assert.InDelta(t, 2.0, bb.X, 1e-9)
	assert.InDelta(t, 5.0, bb.Y, 1e-9)
	assert.InDelta(t, 4.0, bb.W, 1e-9)
	assert.InDelta(t, 3.0, bb.H, 1e-9)

	// Clockwise rings report the same absolute area.
	cw := Polygon{{X: 0, Y: 0}, {X: 0, Y: 3}, {X: 4, Y: 0}}
	assert.InDelta(t, 6.0, cw.Area(), 1e-9)
	assert.Less(t, cw.SignedArea(), 0.0)
}

func TestPolygon_RotateQuarterTurn(t *testing.T) {
	r := Rect{W: 10, H: 5}.Polygon().Rotate(90).Normalize()
	bb := r.BoundingBox()
	assert.InDelta(t, 5.0, bb.W, 1e-9)
	assert.InDelta(t, 10.0, bb.H, 1e-9)
	assert.InDelta(t, 0.0, bb.X, 1e-9)
	assert.InDelta(t, 0.0, bb.Y, 1e-9)
}

func TestPolygon_ContainsBoundaryIsOutside(t *testing.T) {
	sq := square(0, 0, 4)
	assert.True(t, sq.Contains(Point{X: 2, Y: 2}))
	assert.False(t, sq.Contains(Point{X: 4, Y: 2}), "edge point")
	assert.False(t, sq.Contains(Point{X: 0, Y: 0}), "vertex")
	assert.False(t, sq.Contains(Point{X: 5, Y: 2}))
}

func TestPolygonsOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b Polygon
		want bool
	}{
		{"disjoint", square(0, 0, 2), square(5, 5, 2), false},
		{"shared edge", square(0, 0, 2), square(2, 0, 2), false},
		{"shared vertex", square(0, 0, 2), square(2, 2, 2), false},
		{"crossing", square(0, 0, 2), square(1, 1, 2), true},
		{"contained", square(0, 0, 10), square(2, 2, 2), true},
		{"identical", square(0, 0, 2), square(0, 0, 2), true},
		{
			"cross shape without vertex containment",
			Rect{X: 0, Y: 1, W: 4, H: 1}.Polygon(),
			Rect{X: 1, Y: 0, W: 1, H: 4}.Polygon(),
			true,
		},
		{
			// L-shape with a triangle sitting in its notch.
			"concave notch",
			Polygon{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 4}, {X: 0, Y: 4}},
			Polygon{{X: 2, Y: 2}, {X: 3.5, Y: 2}, {X: 2, Y: 3.5}},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PolygonsOverlap(tt.a, tt.b))
			assert.Equal(t, tt.want, PolygonsOverlap(tt.b, tt.a), "symmetric")
		})
	}
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 3.0, Distance(square(0, 0, 2), square(5, 0, 2)), 1e-9)
	assert.InDelta(t, 0.0, Distance(square(0, 0, 2), square(2, 0, 2)), 1e-9)
	assert.InDelta(t, 0.0, Distance(square(0, 0, 2), square(1, 1, 2)), 1e-9)
}

func TestRectGap(t *testing.T) {
	assert.InDelta(t, 0.25, RectGap(Rect{W: 10, H: 5}, Rect{Y: 5.25, W: 10, H: 5}), 1e-9)
	assert.InDelta(t, 5.0, RectGap(Rect{W: 1, H: 1}, Rect{X: 4, Y: 5, W: 1, H: 1}), 1e-9)
	assert.Zero(t, RectGap(Rect{W: 2, H: 2}, Rect{X: 1, Y: 1, W: 2, H: 2}))
}

func TestShape_Rotated(t *testing.T) {
	s := Shape{W: 10, H: 5}
	r := s.Rotated(90)
	assert.Equal(t, 5.0, r.W)
	assert.Equal(t, 10.0, r.H)
	assert.True(t, r.IsRect())

	assert.Equal(t, s, s.Rotated(180))
	assert.Equal(t, s, s.Rotated(-360))

	diag := s.Rotated(45)
	require.False(t, diag.IsRect())
	assert.Greater(t, diag.W, 10.0)
	assert.InDelta(t, 50.0, diag.Area(), 1e-9, "rotation preserves area")
}

func TestBoundingBoxAndArea(t *testing.T) {
	w, h := BoundingBox(Shape{W: 14, H: 4}, 90)
	assert.Equal(t, 4.0, w)
	assert.Equal(t, 14.0, h)

	tri := Shape{W: 4, H: 3, Outline: Polygon{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 0, Y: 3}}}
	assert.InDelta(t, 6.0, Area(tri), 1e-9)
	assert.InDelta(t, 20.0, Area(Shape{W: 4, H: 5}), 1e-9)
}

func TestOverlaps(t *testing.T) {
	a := Shape{W: 10, H: 5}
	b := Shape{W: 10, H: 5}

	assert.False(t, Overlaps(a, Point{}, 0, b, Point{Y: 5}, 0))
	assert.True(t, Overlaps(a, Point{}, 0, b, Point{Y: 4.9}, 0))
	// b rotated to 5x10 beside a.
	assert.False(t, Overlaps(a, Point{}, 0, b, Point{X: 10}, 90))
	assert.True(t, Overlaps(a, Point{}, 0, b, Point{X: 9}, 90))

	// Two right triangles sharing a bounding box but split along the diagonal.
	lower := Shape{W: 4, H: 4, Outline: Polygon{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 4}}}
	upper := Shape{W: 4, H: 4, Outline: Polygon{{X: 0, Y: 0}, {X: 4, Y: 4}, {X: 0, Y: 4}}}
	assert.False(t, Overlaps(lower, Point{}, 0, upper, Point{}, 0))
	assert.True(t, Overlaps(lower, Point{}, 0, upper, Point{X: 1}, 0))
}

func TestNormalizeAngle(t *testing.T) {
	assert.Equal(t, 90.0, NormalizeAngle(-270))
	assert.Equal(t, 0.0, NormalizeAngle(720))
	assert.True(t, IsQuarterTurn(270))
	assert.False(t, IsQuarterTurn(45))
}
