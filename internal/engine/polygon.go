package engine

import (
	"math"
	"sort"

	"github.com/piwi3910/GangNest/internal/geometry"
)

// PolygonStrategy is a bottom-left fill over exact outlines. Candidate
// anchors come from the edges of pieces already placed; a candidate is
// accepted when the outline keeps at least the margin from every neighbour.
// Rectangular pieces use their box outline.
type PolygonStrategy struct{}

func (PolygonStrategy) Name() string     { return "polygon" }
func (PolygonStrategy) Stochastic() bool { return false }

// probeFractions subdivide outlined neighbours so concave or slanted edges
// can interlock.
var probeFractions = []float64{0.25, 0.5, 0.75}

const (
	// maxAnchors caps each axis of the candidate grid; the lowest and
	// leftmost anchors are kept.
	maxAnchors = 512
	// workPerIteration turns the iteration budget into the number of
	// neighbour checks one sheet may spend. Pieces still waiting when it
	// runs out spill to the next sheet.
	workPerIteration = 5000
)

type polyPlaced struct {
	box  geometry.Rect
	poly geometry.Polygon
	rect bool
}

func (PolygonStrategy) Place(job Job) SheetPlan {
	items := append([]Item(nil), job.Items...)
	sort.SliceStable(items, func(i, j int) bool {
		ai, aj := items[i].Shape.Area(), items[j].Shape.Area()
		if math.Abs(ai-aj) > tolerance {
			return ai > aj
		}
		return itemLess(items[i], items[j])
	})

	half := job.Margin / 2
	work := job.budget() * workPerIteration
	var plan SheetPlan
	var placed []polyPlaced
	for _, it := range items {
		fps := fitting(footprints(it, job.Margin), job.SheetWidth, job.MaxLength)
		if len(fps) == 0 || plan.Iterations >= job.budget() || work <= 0 || job.stopped() {
			plan.Leftover = append(plan.Leftover, it)
			continue
		}

		found := false
		var best footprint
		var bx, by float64
		for _, fp := range fps {
			x, y, ok := bottomLeft(fp.shape, placed, job, &work)
			if !ok {
				continue
			}
			if !found || better(y, x, y+fp.shape.H, by, bx, by+best.shape.H) {
				found = true
				best, bx, by = fp, x, y
			}
		}
		if !found {
			plan.Leftover = append(plan.Leftover, it)
			continue
		}

		// bottomLeft works in piece coordinates; placement expects the padded cell.
		p := placement(it, best, bx-half, by-half, job.Margin)
		plan.Placements = append(plan.Placements, p)
		placed = append(placed, polyPlaced{box: p.Bounds(), poly: p.Polygon(), rect: best.shape.IsRect()})
		plan.Iterations++
	}
	plan.Leftover = sortByOrder(plan.Leftover)
	return plan
}

// bottomLeft returns the lowest, then leftmost, feasible anchor for s. Each
// candidate costs one check per placed piece from work; the search gives up
// when work runs out or the job is cancelled.
func bottomLeft(s geometry.Shape, placed []polyPlaced, job Job, work *int) (float64, float64, bool) {
	half := job.Margin / 2
	xs := []float64{half, job.SheetWidth - half - s.W}
	ys := []float64{half}
	for _, p := range placed {
		xs = append(xs, p.box.X, p.box.Right()+job.Margin, p.box.X-s.W-job.Margin)
		ys = append(ys, p.box.Y, p.box.Bottom()+job.Margin)
		if !p.rect || !s.IsRect() {
			for _, f := range probeFractions {
				xs = append(xs, p.box.X+f*p.box.W)
				ys = append(ys, p.box.Y+f*p.box.H)
			}
		}
	}
	xs = capAnchors(uniqueSorted(xs), half)
	ys = capAnchors(uniqueSorted(ys), half)

	for _, y := range ys {
		if y < half-tolerance {
			continue
		}
		if job.MaxLength > 0 && y+s.H+half > job.MaxLength+tolerance {
			break
		}
		if job.stopped() {
			return 0, 0, false
		}
		for _, x := range xs {
			if x < half-tolerance || x+s.W+half > job.SheetWidth+tolerance {
				continue
			}
			if *work <= 0 {
				return 0, 0, false
			}
			*work -= len(placed) + 1
			if feasible(s, x, y, placed, job.Margin) {
				return x, y, true
			}
		}
	}
	return 0, 0, false
}

// feasible reports whether s at (x, y) keeps the margin to every placed piece.
func feasible(s geometry.Shape, x, y float64, placed []polyPlaced, margin float64) bool {
	box := geometry.Rect{X: x, Y: y, W: s.W, H: s.H}
	var poly geometry.Polygon
	for _, p := range placed {
		if geometry.RectGap(box, p.box) >= margin-tolerance && !box.Overlaps(p.box) {
			continue
		}
		if s.IsRect() && p.rect {
			return false
		}
		if poly == nil {
			poly = s.At(x, y)
		}
		if geometry.PolygonsOverlap(poly, p.poly) {
			return false
		}
		if margin > 0 && geometry.Distance(poly, p.poly) < margin-1e-7 {
			return false
		}
	}
	return true
}

// capAnchors drops sorted anchors below lo and keeps at most maxAnchors.
func capAnchors(vs []float64, lo float64) []float64 {
	for len(vs) > 0 && vs[0] < lo-tolerance {
		vs = vs[1:]
	}
	if len(vs) > maxAnchors {
		return vs[:maxAnchors]
	}
	return vs
}

func uniqueSorted(vs []float64) []float64 {
	sort.Float64s(vs)
	out := vs[:0]
	for i, v := range vs {
		if i == 0 || v-out[len(out)-1] > tolerance {
			out = append(out, v)
		}
	}
	return out
}
