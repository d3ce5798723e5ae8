package engine

import (
	"math"
	"sort"
)

// ShelfStrategy packs pieces into horizontal shelves across the sheet width
// (first-fit decreasing height). A new shelf opens below the last one when
// the next piece fits on none of the open shelves.
type ShelfStrategy struct{}

func (ShelfStrategy) Name() string     { return "shelf" }
func (ShelfStrategy) Stochastic() bool { return false }

type shelf struct {
	y, h float64
	used float64 // padded width consumed from x = 0
}

type shelfCandidate struct {
	item    Item
	primary footprint
	fps     []footprint
}

func (ShelfStrategy) Place(job Job) SheetPlan {
	var plan SheetPlan
	cands := make([]shelfCandidate, 0, len(job.Items))
	for _, it := range job.Items {
		fps := fitting(footprints(it, job.Margin), job.SheetWidth, job.MaxLength)
		if len(fps) == 0 {
			plan.Leftover = append(plan.Leftover, it)
			continue
		}
		// Landscape first: the orientation with the lowest shelf height.
		sort.SliceStable(fps, func(i, j int) bool {
			if math.Abs(fps[i].h-fps[j].h) > tolerance {
				return fps[i].h < fps[j].h
			}
			return fps[i].w < fps[j].w
		})
		cands = append(cands, shelfCandidate{item: it, primary: fps[0], fps: fps})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if math.Abs(a.primary.h-b.primary.h) > tolerance {
			return a.primary.h > b.primary.h
		}
		aa, ba := a.primary.w*a.primary.h, b.primary.w*b.primary.h
		if math.Abs(aa-ba) > tolerance {
			return aa > ba
		}
		return itemLess(a.item, b.item)
	})

	var shelves []shelf
	for _, c := range cands {
		placed := false
		for si := range shelves {
			s := &shelves[si]
			for _, fp := range c.fps {
				if fp.h <= s.h+tolerance && s.used+fp.w <= job.SheetWidth+tolerance {
					plan.Placements = append(plan.Placements, placement(c.item, fp, s.used, s.y, job.Margin))
					s.used += fp.w
					placed = true
					break
				}
			}
			if placed {
				break
			}
		}
		if placed {
			continue
		}

		if plan.Iterations >= job.budget() {
			plan.Leftover = append(plan.Leftover, c.item)
			continue
		}
		y := 0.0
		if n := len(shelves); n > 0 {
			y = shelves[n-1].y + shelves[n-1].h
		}
		fp := c.primary
		if job.MaxLength > 0 && y+fp.h > job.MaxLength+tolerance {
			plan.Leftover = append(plan.Leftover, c.item)
			continue
		}
		shelves = append(shelves, shelf{y: y, h: fp.h, used: fp.w})
		plan.Iterations++
		plan.Placements = append(plan.Placements, placement(c.item, fp, 0, y, job.Margin))
	}

	plan.Leftover = sortByOrder(plan.Leftover)
	return plan
}
