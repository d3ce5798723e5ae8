package geometry

import "math"

// nudge is how far an edge midpoint is pushed toward the polygon interior
// when probing for containment of collinear or coincident edges.
const nudge = 1e-5

func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// segmentsCross reports a proper crossing: the open segments intersect at a
// single interior point of both. Touching and collinear overlap are excluded.
func segmentsCross(a1, a2, b1, b2 Point) bool {
	d1 := cross(b1, b2, a1)
	d2 := cross(b1, b2, a2)
	d3 := cross(a1, a2, b1)
	d4 := cross(a1, a2, b2)
	return ((d1 > Epsilon && d2 < -Epsilon) || (d1 < -Epsilon && d2 > Epsilon)) &&
		((d3 > Epsilon && d4 < -Epsilon) || (d3 < -Epsilon && d4 > Epsilon))
}

func segmentDistance(p, a, b Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}

func segmentsDistance(a1, a2, b1, b2 Point) float64 {
	if segmentsCross(a1, a2, b1, b2) {
		return 0
	}
	return math.Min(
		math.Min(segmentDistance(a1, b1, b2), segmentDistance(a2, b1, b2)),
		math.Min(segmentDistance(b1, a1, a2), segmentDistance(b2, a1, a2)),
	)
}

// inwardMidpoints returns each edge midpoint shifted slightly toward the
// interior of p.
func inwardMidpoints(p Polygon) []Point {
	sign := 1.0
	if p.SignedArea() < 0 {
		sign = -1
	}
	out := make([]Point, 0, len(p))
	for i := range p {
		a, b := p[i], p[(i+1)%len(p)]
		dx, dy := b.X-a.X, b.Y-a.Y
		l := math.Hypot(dx, dy)
		if l <= Epsilon {
			continue
		}
		// Left normal points inward for a counter-clockwise ring.
		nx, ny := -dy/l*sign, dx/l*sign
		out = append(out, Point{
			X: (a.X+b.X)/2 + nx*nudge,
			Y: (a.Y+b.Y)/2 + ny*nudge,
		})
	}
	return out
}

// PolygonsOverlap reports whether the interiors of a and b intersect.
// Polygons that only share boundary points do not overlap.
func PolygonsOverlap(a, b Polygon) bool {
	if len(a) < 3 || len(b) < 3 {
		return false
	}
	if !a.BoundingBox().Overlaps(b.BoundingBox()) {
		return false
	}
	for i := range a {
		a1, a2 := a[i], a[(i+1)%len(a)]
		for j := range b {
			if segmentsCross(a1, a2, b[j], b[(j+1)%len(b)]) {
				return true
			}
		}
	}
	for _, pt := range a {
		if b.Contains(pt) {
			return true
		}
	}
	for _, pt := range b {
		if a.Contains(pt) {
			return true
		}
	}
	// Identical or collinear-edged shapes have no proper crossings and no
	// strictly interior vertices.
	for _, pt := range inwardMidpoints(a) {
		if b.Contains(pt) {
			return true
		}
	}
	for _, pt := range inwardMidpoints(b) {
		if a.Contains(pt) {
			return true
		}
	}
	return false
}

// Distance returns the minimum edge-to-edge distance between a and b, or 0
// when they overlap.
func Distance(a, b Polygon) float64 {
	if PolygonsOverlap(a, b) {
		return 0
	}
	best := math.Inf(1)
	for i := range a {
		a1, a2 := a[i], a[(i+1)%len(a)]
		for j := range b {
			d := segmentsDistance(a1, a2, b[j], b[(j+1)%len(b)])
			if d < best {
				best = d
			}
		}
	}
	return best
}

// RectGap returns the separation between two axis-aligned rectangles: the
// Euclidean distance between their nearest points, or 0 when they touch or
// overlap.
func RectGap(a, b Rect) float64 {
	dx := math.Max(0, math.Max(a.X-b.Right(), b.X-a.Right()))
	dy := math.Max(0, math.Max(a.Y-b.Bottom(), b.Y-a.Bottom()))
	return math.Hypot(dx, dy)
}
