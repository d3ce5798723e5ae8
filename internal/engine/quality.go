package engine

import (
	"math"

	"github.com/piwi3910/GangNest/internal/geometry"
	"github.com/piwi3910/GangNest/internal/model"
)

// Quality issues.
const (
	IssueOverlap        = "OVERLAP"
	IssueOutOfBounds    = "OUT_OF_BOUNDS"
	IssueUnderSpacing   = "UNDER_SPACING"
	IssueFailedItems    = "FAILED_ITEMS"
	IssueLowUtilization = "LOW_UTILIZATION"
)

// DefaultUtilWarn is the utilization below which a layout is flagged.
const DefaultUtilWarn = 0.80

// QualityReport is an after-the-fact audit of a result's layout.
type QualityReport struct {
	Bad               bool     `json:"bad"`
	Issues            []string `json:"issues"`
	OverlapPairs      int      `json:"overlapPairs"`
	OutOfBounds       int      `json:"outOfBounds"`
	UnderSpacingPairs int      `json:"underSpacingPairs"`
	MinGap            float64  `json:"minGap"`
	Score             float64  `json:"score"` // 0 worst, 1 best
}

// Inspect re-checks every sheet of r: pairwise overlap, the half-margin edge
// clearance, the margin between neighbours, and utilization against
// utilWarn (DefaultUtilWarn when 0).
func Inspect(r model.NestingResult, utilWarn float64) QualityReport {
	if utilWarn <= 0 {
		utilWarn = DefaultUtilWarn
	}
	const eps = 1e-6
	q := QualityReport{MinGap: math.Inf(1), Issues: []string{}}
	half := r.Margin / 2

	for _, s := range r.Sheets {
		for _, p := range s.Placements {
			b := p.Bounds()
			if b.X < half-eps || b.Y < half-eps || b.Right() > s.Width-half+eps || b.Bottom() > s.Length-half+eps {
				q.OutOfBounds++
			}
		}
		for i := 0; i < len(s.Placements); i++ {
			a := s.Placements[i]
			for j := i + 1; j < len(s.Placements); j++ {
				b := s.Placements[j]
				overlap, gap := pairGap(a, b)
				if overlap {
					q.OverlapPairs++
				}
				q.MinGap = math.Min(q.MinGap, gap)
				if gap < r.Margin-eps {
					q.UnderSpacingPairs++
				}
			}
		}
	}
	if math.IsInf(q.MinGap, 1) {
		q.MinGap = r.Margin
	}

	if q.OverlapPairs > 0 {
		q.Issues = append(q.Issues, IssueOverlap)
	}
	if q.OutOfBounds > 0 {
		q.Issues = append(q.Issues, IssueOutOfBounds)
	}
	if q.UnderSpacingPairs > 0 {
		q.Issues = append(q.Issues, IssueUnderSpacing)
	}
	if len(r.Unplaced) > 0 {
		q.Issues = append(q.Issues, IssueFailedItems)
	}
	if r.Utilization < utilWarn {
		q.Issues = append(q.Issues, IssueLowUtilization)
	}

	penalty := math.Max(0, utilWarn-r.Utilization) * 0.5
	if q.OverlapPairs > 0 {
		penalty += 0.6
	}
	if q.OutOfBounds > 0 {
		penalty += 0.3
	}
	if q.UnderSpacingPairs > 0 {
		penalty += 0.1
	}
	q.Score = math.Max(0, math.Min(1, r.Utilization-penalty))
	q.Bad = len(q.Issues) > 0
	return q
}

// pairGap reports whether two placements overlap and their clearance.
func pairGap(a, b model.Placement) (bool, float64) {
	if len(a.Outline) < 3 && len(b.Outline) < 3 {
		return a.Bounds().Overlaps(b.Bounds()), geometry.RectGap(a.Bounds(), b.Bounds())
	}
	pa, pb := a.Polygon(), b.Polygon()
	if geometry.PolygonsOverlap(pa, pb) {
		return true, 0
	}
	return false, geometry.Distance(pa, pb)
}
