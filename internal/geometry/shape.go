package geometry

import "math"

// Shape is a piece footprint: its nominal width and height and, for
// non-rectangular pieces, an outline whose bounding box is W x H anchored at
// the origin.
type Shape struct {
	W       float64
	H       float64
	Outline Polygon
}

// IsRect reports whether the shape has no custom outline.
func (s Shape) IsRect() bool { return len(s.Outline) < 3 }

// Area returns the outline area, or W*H for rectangles.
func (s Shape) Area() float64 {
	if s.IsRect() {
		return s.W * s.H
	}
	return s.Outline.Area()
}

// Rotated returns the shape rotated counter-clockwise by deg degrees and
// re-anchored at the origin. Quarter turns on rectangles swap W and H
// exactly so repeated rotation does not accumulate floating point drift.
func (s Shape) Rotated(deg float64) Shape {
	deg = NormalizeAngle(deg)
	if s.IsRect() {
		if IsQuarterTurn(deg) {
			if math.Abs(math.Mod(deg+45, 180)-45) < 1 {
				return s
			}
			return Shape{W: s.H, H: s.W}
		}
		poly := Rect{W: s.W, H: s.H}.Polygon().Rotate(deg).Normalize()
		bb := poly.BoundingBox()
		return Shape{W: bb.W, H: bb.H, Outline: poly}
	}
	if deg == 0 {
		return Shape{W: s.W, H: s.H, Outline: s.Outline.Clone()}
	}
	poly := s.Outline.Rotate(deg).Normalize()
	bb := poly.BoundingBox()
	return Shape{W: bb.W, H: bb.H, Outline: poly}
}

// At returns the shape's polygon placed with its bounding box at (x, y).
func (s Shape) At(x, y float64) Polygon {
	if s.IsRect() {
		return Rect{X: x, Y: y, W: s.W, H: s.H}.Polygon()
	}
	return s.Outline.Translate(x, y)
}

// NormalizeAngle folds deg into [0, 360).
func NormalizeAngle(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if math.Abs(deg-360) < Epsilon {
		return 0
	}
	return deg
}

// IsQuarterTurn reports whether deg is a multiple of 90.
func IsQuarterTurn(deg float64) bool {
	r := math.Mod(NormalizeAngle(deg), 90)
	return r < Epsilon || 90-r < Epsilon
}

// BoundingBox returns the width and height of s rotated by rot degrees.
func BoundingBox(s Shape, rot float64) (w, h float64) {
	r := s.Rotated(rot)
	return r.W, r.H
}

// Area returns the footprint area of s. Rotation does not change it.
func Area(s Shape) float64 { return s.Area() }

// Overlaps reports whether a placed at aPos with rotation aRot and b placed
// at bPos with rotation bRot share interior area. Positions are the minimum
// corner of each rotated bounding box.
func Overlaps(a Shape, aPos Point, aRot float64, b Shape, bPos Point, bRot float64) bool {
	ra, rb := a.Rotated(aRot), b.Rotated(bRot)
	boxA := Rect{X: aPos.X, Y: aPos.Y, W: ra.W, H: ra.H}
	boxB := Rect{X: bPos.X, Y: bPos.Y, W: rb.W, H: rb.H}
	if !boxA.Overlaps(boxB) {
		return false
	}
	if ra.IsRect() && rb.IsRect() {
		return true
	}
	return PolygonsOverlap(ra.At(aPos.X, aPos.Y), rb.At(bPos.X, bPos.Y))
}
