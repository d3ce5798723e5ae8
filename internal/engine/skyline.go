package engine

import (
	"math"
	"sort"
)

// SkylineStrategy is a bottom-left skyline packer. It keeps the occupied
// height profile across the sheet width as a list of segments and puts each
// piece at the lowest, then leftmost, position the profile allows.
type SkylineStrategy struct{}

func (SkylineStrategy) Name() string     { return "skyline" }
func (SkylineStrategy) Stochastic() bool { return false }

type segment struct {
	x, y, w float64
}

type skyline struct {
	width    float64
	segments []segment
}

func newSkyline(width float64) *skyline {
	return &skyline{width: width, segments: []segment{{x: 0, y: 0, w: width}}}
}

// fitAt returns the resting y for a piece of padded width w whose left edge
// sits at segment i, or false when it would cross the right edge.
func (s *skyline) fitAt(i int, w float64) (float64, bool) {
	x := s.segments[i].x
	if x+w > s.width+tolerance {
		return 0, false
	}
	y := 0.0
	remaining := w
	for j := i; j < len(s.segments) && remaining > tolerance; j++ {
		y = math.Max(y, s.segments[j].y)
		remaining -= s.segments[j].w
	}
	return y, true
}

// add raises the profile under [x, x+w) to top and merges equal neighbours.
func (s *skyline) add(x, w, top float64) {
	end := x + w
	out := make([]segment, 0, len(s.segments)+2)
	inserted := false
	for _, seg := range s.segments {
		segEnd := seg.x + seg.w
		if segEnd <= x+tolerance || seg.x >= end-tolerance {
			if !inserted && seg.x >= end-tolerance {
				out = append(out, segment{x: x, y: top, w: w})
				inserted = true
			}
			out = append(out, seg)
			continue
		}
		if seg.x < x-tolerance {
			out = append(out, segment{x: seg.x, y: seg.y, w: x - seg.x})
		}
		if !inserted {
			out = append(out, segment{x: x, y: top, w: w})
			inserted = true
		}
		if segEnd > end+tolerance {
			out = append(out, segment{x: end, y: seg.y, w: segEnd - end})
		}
	}
	if !inserted {
		out = append(out, segment{x: x, y: top, w: w})
	}

	merged := out[:1]
	for _, seg := range out[1:] {
		last := &merged[len(merged)-1]
		if math.Abs(last.y-seg.y) <= tolerance {
			last.w = seg.x + seg.w - last.x
			continue
		}
		merged = append(merged, seg)
	}
	s.segments = merged
}

func (SkylineStrategy) Place(job Job) SheetPlan {
	var plan SheetPlan
	items := append([]Item(nil), job.Items...)
	sort.SliceStable(items, func(i, j int) bool {
		ai, aj := items[i].Shape.Area(), items[j].Shape.Area()
		if math.Abs(ai-aj) > tolerance {
			return ai > aj
		}
		return itemLess(items[i], items[j])
	})

	sky := newSkyline(job.SheetWidth)
	for _, it := range items {
		fps := fitting(footprints(it, job.Margin), job.SheetWidth, job.MaxLength)
		if len(fps) == 0 || plan.Iterations >= job.budget() {
			plan.Leftover = append(plan.Leftover, it)
			continue
		}

		found := false
		var best footprint
		var bx, by float64
		for _, fp := range fps {
			for i := range sky.segments {
				y, ok := sky.fitAt(i, fp.w)
				if !ok {
					continue
				}
				if job.MaxLength > 0 && y+fp.h > job.MaxLength+tolerance {
					continue
				}
				x := sky.segments[i].x
				if !found || better(y, x, y+fp.h, by, bx, by+best.h) {
					found = true
					best, bx, by = fp, x, y
				}
			}
		}
		if !found {
			plan.Leftover = append(plan.Leftover, it)
			continue
		}

		plan.Placements = append(plan.Placements, placement(it, best, bx, by, job.Margin))
		sky.add(bx, best.w, by+best.h)
		plan.Iterations++
	}

	plan.Leftover = sortByOrder(plan.Leftover)
	return plan
}

// better orders candidate positions: lowest y, then leftmost x, then the
// lower resulting top.
func better(y, x, top, by, bx, btop float64) bool {
	if math.Abs(y-by) > tolerance {
		return y < by
	}
	if math.Abs(x-bx) > tolerance {
		return x < bx
	}
	return top < btop-tolerance
}
