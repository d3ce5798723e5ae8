package importer

import (
	"fmt"
	"math"
	"sort"

	"github.com/piwi3910/GangNest/internal/geometry"
	"github.com/piwi3910/GangNest/internal/model"
	"github.com/yofu/dxf"
	"github.com/yofu/dxf/entity"
)

const (
	// chainTolerance is the largest endpoint gap, in drawing units, that
	// still joins two segments.
	chainTolerance = 0.01
	circleSegments = 64
	arcSegments    = 32

	// MillimetresPerInch converts drawings authored in mm.
	MillimetresPerInch = 25.4
)

type segment struct {
	start geometry.Point
	end   geometry.Point
}

// ImportDXF imports pieces from a DXF drawing authored in inches. Each closed
// shape (LWPOLYLINE, CIRCLE, or chain of connected LINEs/ARCs) becomes one
// piece with an outline and its bounding box as Width x Height.
func ImportDXF(path string) ImportResult {
	return ImportDXFScaled(path, 1)
}

// ImportDXFScaled is ImportDXF for drawings in other units; unitsPerInch is
// 25.4 for millimetres.
func ImportDXFScaled(path string, unitsPerInch float64) ImportResult {
	result := ImportResult{}
	if unitsPerInch <= 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("Invalid unit scale %g", unitsPerInch))
		return result
	}

	drawing, err := dxf.Open(path)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Cannot open DXF file: %v", err))
		return result
	}

	entities := drawing.Entities()
	if len(entities) == 0 {
		result.Errors = append(result.Errors, "DXF file contains no entities")
		return result
	}

	var outlines []geometry.Polygon
	var segments []segment
	skipped := 0
	for _, ent := range entities {
		switch e := ent.(type) {
		case *entity.LwPolyline:
			outline := lwPolylineOutline(e)
			if len(outline) < 3 {
				result.Warnings = append(result.Warnings, "Skipped LWPOLYLINE with fewer than 3 vertices")
				continue
			}
			outlines = append(outlines, outline)
		case *entity.Circle:
			outlines = append(outlines, circleOutline(e.Center[0], e.Center[1], e.Radius, circleSegments))
		case *entity.Arc:
			segments = append(segments, pathSegments(arcPoints(e, arcSegments))...)
		case *entity.Line:
			segments = append(segments, segment{
				start: geometry.Point{X: e.Start[0], Y: e.Start[1]},
				end:   geometry.Point{X: e.End[0], Y: e.End[1]},
			})
		default:
			skipped++
		}
	}
	if skipped > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Ignored %d unsupported entities", skipped))
	}

	outlines = append(outlines, chainSegments(segments, chainTolerance)...)
	if len(outlines) == 0 {
		result.Errors = append(result.Errors, "No closed shapes found in DXF file")
		return result
	}

	for i, outline := range outlines {
		outline = scaleOutline(outline, 1/unitsPerInch).Normalize()
		if outline.SignedArea() < 0 {
			outline = reversed(outline)
		}
		bb := outline.BoundingBox()
		if bb.W < 0.01 || bb.H < 0.01 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Skipped degenerate shape (%.3f x %.3f in)", bb.W, bb.H))
			continue
		}

		piece := model.NewPiece(fmt.Sprintf("DXF Shape %d", i+1), bb.W, bb.H, 1)
		piece.Outline = outline
		result.Pieces = append(result.Pieces, piece)
	}

	return result
}

// lwPolylineOutline converts a LWPOLYLINE to a polygon. Vertices with a
// bulge contribute an interpolated arc to the next vertex.
func lwPolylineOutline(lw *entity.LwPolyline) geometry.Polygon {
	var outline geometry.Polygon
	n := len(lw.Vertices)
	for i := 0; i < n; i++ {
		cur := geometry.Point{X: lw.Vertices[i][0], Y: lw.Vertices[i][1]}
		bulge := 0.0
		if i < len(lw.Bulges) {
			bulge = lw.Bulges[i]
		}
		if math.Abs(bulge) < 1e-9 {
			outline = append(outline, cur)
			continue
		}
		next := geometry.Point{X: lw.Vertices[(i+1)%n][0], Y: lw.Vertices[(i+1)%n][1]}
		arc := bulgePoints(cur, next, bulge, arcSegments)
		outline = append(outline, arc[:len(arc)-1]...)
	}
	return outline
}

// bulgePoints samples the arc between p1 and p2 described by a DXF bulge
// (tangent of a quarter of the included angle; negative is clockwise).
func bulgePoints(p1, p2 geometry.Point, bulge float64, n int) geometry.Polygon {
	dx, dy := p2.X-p1.X, p2.Y-p1.Y
	chord := math.Hypot(dx, dy)
	if chord < 1e-9 {
		return geometry.Polygon{p1, p2}
	}

	theta := 4 * math.Atan(bulge)
	radius := chord / (2 * math.Sin(math.Abs(theta)/2))
	// Centre offset from the chord midpoint; negative for arcs over 180 degrees.
	h := radius * math.Cos(theta/2)
	mx, my := (p1.X+p2.X)/2, (p1.Y+p2.Y)/2
	ux, uy := -dy/chord, dx/chord
	if bulge < 0 {
		ux, uy = -ux, -uy
	}
	cx, cy := mx+ux*h, my+uy*h

	start := math.Atan2(p1.Y-cy, p1.X-cx)
	pts := make(geometry.Polygon, n+1)
	for i := 0; i <= n; i++ {
		a := start + theta*float64(i)/float64(n)
		pts[i] = geometry.Point{X: cx + radius*math.Cos(a), Y: cy + radius*math.Sin(a)}
	}
	pts[n] = p2
	return pts
}

func circleOutline(cx, cy, r float64, n int) geometry.Polygon {
	out := make(geometry.Polygon, n)
	for i := range out {
		a := 2 * math.Pi * float64(i) / float64(n)
		out[i] = geometry.Point{X: cx + r*math.Cos(a), Y: cy + r*math.Sin(a)}
	}
	return out
}

// arcPoints samples an ARC counter-clockwise from its start to end angle.
func arcPoints(a *entity.Arc, n int) []geometry.Point {
	cx, cy, r := a.Circle.Center[0], a.Circle.Center[1], a.Circle.Radius
	start := a.Angle[0] * math.Pi / 180
	end := a.Angle[1] * math.Pi / 180
	if end <= start {
		end += 2 * math.Pi
	}
	pts := make([]geometry.Point, n+1)
	for i := range pts {
		t := start + (end-start)*float64(i)/float64(n)
		pts[i] = geometry.Point{X: cx + r*math.Cos(t), Y: cy + r*math.Sin(t)}
	}
	return pts
}

func pathSegments(pts []geometry.Point) []segment {
	if len(pts) < 2 {
		return nil
	}
	segs := make([]segment, 0, len(pts)-1)
	for i := 0; i+1 < len(pts); i++ {
		segs = append(segs, segment{start: pts[i], end: pts[i+1]})
	}
	return segs
}

// chainSegments joins loose segments end to end. Only chains that close
// within tolerance become outlines; they are returned largest first.
func chainSegments(segs []segment, tolerance float64) []geometry.Polygon {
	used := make([]bool, len(segs))
	var outlines []geometry.Polygon

	for first := range segs {
		if used[first] {
			continue
		}
		used[first] = true
		chain := geometry.Polygon{segs[first].start, segs[first].end}

		for extended := true; extended; {
			extended = false
			tail := chain[len(chain)-1]
			for i, s := range segs {
				if used[i] {
					continue
				}
				switch {
				case near(tail, s.start, tolerance):
					chain = append(chain, s.end)
				case near(tail, s.end, tolerance):
					chain = append(chain, s.start)
				default:
					continue
				}
				used[i] = true
				extended = true
				break
			}
		}

		if len(chain) >= 4 && near(chain[0], chain[len(chain)-1], tolerance) {
			outlines = append(outlines, chain[:len(chain)-1])
		}
	}

	sort.SliceStable(outlines, func(i, j int) bool {
		return outlines[i].Area() > outlines[j].Area()
	})
	return outlines
}

func near(a, b geometry.Point, tolerance float64) bool {
	return math.Hypot(a.X-b.X, a.Y-b.Y) <= tolerance
}

func scaleOutline(p geometry.Polygon, k float64) geometry.Polygon {
	out := make(geometry.Polygon, len(p))
	for i, pt := range p {
		out[i] = geometry.Point{X: pt.X * k, Y: pt.Y * k}
	}
	return out
}

func reversed(p geometry.Polygon) geometry.Polygon {
	out := make(geometry.Polygon, len(p))
	for i, pt := range p {
		out[len(p)-1-i] = pt
	}
	return out
}
