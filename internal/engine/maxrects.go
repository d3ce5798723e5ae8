package engine

import (
	"math"
	"sort"
)

// MaxRectsStrategy keeps the list of maximal free rectangles on the sheet
// and places each piece in the one that leaves the shortest leftover side
// (best short side fit).
type MaxRectsStrategy struct{}

func (MaxRectsStrategy) Name() string     { return "maxrects" }
func (MaxRectsStrategy) Stochastic() bool { return false }

func (MaxRectsStrategy) Place(job Job) SheetPlan {
	items := append([]Item(nil), job.Items...)
	sort.SliceStable(items, func(i, j int) bool {
		ai, aj := items[i].Shape.Area(), items[j].Shape.Area()
		if math.Abs(ai-aj) > tolerance {
			return ai > aj
		}
		return itemLess(items[i], items[j])
	})

	packer := newMaxRectsPacker(job.SheetWidth, binLength(job))
	var plan SheetPlan
	for _, it := range items {
		fps := fitting(footprints(it, job.Margin), job.SheetWidth, job.MaxLength)
		if len(fps) == 0 || plan.Iterations >= job.budget() {
			plan.Leftover = append(plan.Leftover, it)
			continue
		}
		fp, x, y, ok := packer.insertBest(fps)
		if !ok {
			plan.Leftover = append(plan.Leftover, it)
			continue
		}
		plan.Placements = append(plan.Placements, placement(it, fp, x, y, job.Margin))
		plan.Iterations++
	}
	plan.Leftover = sortByOrder(plan.Leftover)
	return plan
}

// binLength is the sheet length cap, or for unbounded sheets a length no
// layout of these items can exceed.
func binLength(job Job) float64 {
	if job.MaxLength > 0 {
		return job.MaxLength
	}
	total := 0.0
	for _, it := range job.Items {
		total += math.Max(it.Shape.W, it.Shape.H) + job.Margin
	}
	return math.Max(total, job.SheetWidth)
}

// maxRectsPacker implements the maximal rectangles bin-packing algorithm.
// It maintains every maximal free rectangle and splits all of those a
// placement overlaps.
type maxRectsPacker struct {
	freeRects []rect
}

type rect struct {
	x, y, w, h float64
}

func newMaxRectsPacker(width, length float64) *maxRectsPacker {
	return &maxRectsPacker{freeRects: []rect{{0, 0, width, length}}}
}

type fitScore struct {
	short, long, y, x float64
}

func (a fitScore) less(b fitScore) bool {
	switch {
	case math.Abs(a.short-b.short) > tolerance:
		return a.short < b.short
	case math.Abs(a.long-b.long) > tolerance:
		return a.long < b.long
	case math.Abs(a.y-b.y) > tolerance:
		return a.y < b.y
	default:
		return a.x < b.x-tolerance
	}
}

// score returns the best short side fit for w x h without modifying the
// packer, or false if no free rectangle holds it.
func (mp *maxRectsPacker) score(w, h float64) (fitScore, float64, float64, bool) {
	var best fitScore
	var bx, by float64
	found := false
	for _, r := range mp.freeRects {
		if w > r.w+tolerance || h > r.h+tolerance {
			continue
		}
		dw, dh := r.w-w, r.h-h
		s := fitScore{short: math.Min(dw, dh), long: math.Max(dw, dh), y: r.y, x: r.x}
		if !found || s.less(best) {
			best, bx, by, found = s, r.x, r.y, true
		}
	}
	return best, bx, by, found
}

// insertBest places the footprint with the best fit among fps.
func (mp *maxRectsPacker) insertBest(fps []footprint) (footprint, float64, float64, bool) {
	var best fitScore
	var bestFP footprint
	var bx, by float64
	found := false
	for _, fp := range fps {
		s, x, y, ok := mp.score(fp.w, fp.h)
		if ok && (!found || s.less(best)) {
			best, bestFP, bx, by, found = s, fp, x, y, true
		}
	}
	if !found {
		return footprint{}, 0, 0, false
	}
	mp.splitAroundPlacement(rect{x: bx, y: by, w: bestFP.w, h: bestFP.h})
	return bestFP, bx, by, true
}

// insert places a w x h box with no rotation choice.
func (mp *maxRectsPacker) insert(w, h float64) (bool, float64, float64) {
	_, x, y, ok := mp.score(w, h)
	if !ok {
		return false, 0, 0
	}
	mp.splitAroundPlacement(rect{x: x, y: y, w: w, h: h})
	return true, x, y
}

// splitAroundPlacement removes all free rects that overlap with the placed rect
// and generates maximal sub-rects from each overlap. Then prunes contained rects.
func (mp *maxRectsPacker) splitAroundPlacement(placed rect) {
	var newRects []rect

	for _, r := range mp.freeRects {
		if !rectsOverlap(r, placed) {
			newRects = append(newRects, r)
			continue
		}

		// Left strip (full height of original rect)
		if placed.x > r.x+tolerance {
			newRects = append(newRects, rect{x: r.x, y: r.y, w: placed.x - r.x, h: r.h})
		}
		// Right strip
		if placed.x+placed.w < r.x+r.w-tolerance {
			newRects = append(newRects, rect{
				x: placed.x + placed.w, y: r.y,
				w: (r.x + r.w) - (placed.x + placed.w), h: r.h,
			})
		}
		// Top strip (full width of original rect)
		if placed.y > r.y+tolerance {
			newRects = append(newRects, rect{x: r.x, y: r.y, w: r.w, h: placed.y - r.y})
		}
		// Bottom strip
		if placed.y+placed.h < r.y+r.h-tolerance {
			newRects = append(newRects, rect{
				x: r.x, y: placed.y + placed.h,
				w: r.w, h: (r.y + r.h) - (placed.y + placed.h),
			})
		}
	}

	mp.freeRects = pruneContained(newRects)
}

// rectsOverlap returns true if two rectangles overlap (not just touch).
func rectsOverlap(a, b rect) bool {
	return a.x < b.x+b.w-tolerance && a.x+a.w > b.x+tolerance &&
		a.y < b.y+b.h-tolerance && a.y+a.h > b.y+tolerance
}

// pruneContained removes any rect that is fully contained within another.
// Of two identical rects the first is kept.
func pruneContained(rects []rect) []rect {
	if len(rects) <= 1 {
		return rects
	}
	kept := make([]rect, 0, len(rects))
	for i, a := range rects {
		contained := false
		for j, b := range rects {
			if i == j || !containsRect(b, a) {
				continue
			}
			if containsRect(a, b) && j > i {
				continue
			}
			contained = true
			break
		}
		if !contained {
			kept = append(kept, a)
		}
	}
	return kept
}

// containsRect returns true if outer fully contains inner.
func containsRect(outer, inner rect) bool {
	return outer.x <= inner.x+tolerance && outer.y <= inner.y+tolerance &&
		outer.x+outer.w >= inner.x+inner.w-tolerance &&
		outer.y+outer.h >= inner.y+inner.h-tolerance
}
