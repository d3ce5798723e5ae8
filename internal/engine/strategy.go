package engine

import (
	"math"
	"sort"

	"github.com/piwi3910/GangNest/internal/geometry"
	"github.com/piwi3910/GangNest/internal/model"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidRequest is returned for requests rejected before placement.
	ErrInvalidRequest = errors.New("invalid nesting request")
	// ErrStrategyNotFound is returned for an unknown strategy identifier.
	ErrStrategyNotFound = errors.New("strategy not found")
)

// tolerance is the slack allowed when comparing padded sizes against sheet
// bounds.
const tolerance = 1e-9

// Item is one piece instance handed to a strategy.
type Item struct {
	Piece    model.Piece
	Instance int
	Order    int // position in the quantity-expanded request
	Shape    geometry.Shape
	Angles   []float64
}

// Job is the input for filling one sheet.
type Job struct {
	Items         []Item
	SheetWidth    float64
	Margin        float64
	MaxLength     float64 // 0 = unbounded
	Seed          int64
	MaxIterations int
	Done          <-chan struct{} // closed when the run is cancelled; nil never fires
}

// stopped reports whether the run behind the job was cancelled.
func (j Job) stopped() bool {
	select {
	case <-j.Done:
		return true
	default:
		return false
	}
}

// budget returns the iteration cap, falling back to the engine default.
func (j Job) budget() int {
	if j.MaxIterations > 0 {
		return j.MaxIterations
	}
	return model.DefaultSettings().MaxIterations
}

// SheetPlan is what a strategy managed to put on one sheet. Leftover keeps
// the items it could not place, in request order.
type SheetPlan struct {
	Placements []model.Placement
	Leftover   []Item
	Iterations int
}

// Strategy fills a single sheet. Implementations must be deterministic for
// a fixed Job; stochastic ones draw only from Job.Seed.
type Strategy interface {
	Name() string
	Stochastic() bool
	Place(job Job) SheetPlan
}

// Registry maps strategy identifiers to implementations. It is built once at
// process start and shared read-only.
type Registry struct {
	strategies map[string]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// DefaultRegistry returns a registry with every built-in strategy.
func DefaultRegistry() *Registry {
	return NewRegistry(
		ShelfStrategy{},
		SkylineStrategy{},
		MaxRectsStrategy{},
		NewGeneticStrategy(DefaultGeneticConfig()),
		PolygonStrategy{},
	)
}

// Register adds or replaces a strategy under its Name.
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Lookup resolves a strategy by identifier.
func (r *Registry) Lookup(name string) (Strategy, error) {
	s, ok := r.strategies[name]
	if !ok {
		return nil, errors.Wrapf(ErrStrategyNotFound, "%q", name)
	}
	return s, nil
}

// Names returns the registered identifiers, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// footprint is one rotation of an item with its margin-padded size.
type footprint struct {
	angle float64
	shape geometry.Shape
	w, h  float64 // padded
}

// footprints returns every rotation of it, padded by margin/2 on each side.
func footprints(it Item, margin float64) []footprint {
	out := make([]footprint, 0, len(it.Angles))
	seen := make(map[[2]float64]bool)
	for _, a := range it.Angles {
		s := it.Shape.Rotated(a)
		// Quarter turns of squares and 0/180 pairs yield duplicates.
		key := [2]float64{round6(s.W), round6(s.H)}
		if s.IsRect() && seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, footprint{angle: a, shape: s, w: s.W + margin, h: s.H + margin})
	}
	return out
}

// fitting drops footprints wider than the sheet or longer than the cap.
func fitting(fps []footprint, width, maxLength float64) []footprint {
	out := fps[:0:0]
	for _, fp := range fps {
		if fp.w > width+tolerance {
			continue
		}
		if maxLength > 0 && fp.h > maxLength+tolerance {
			continue
		}
		out = append(out, fp)
	}
	return out
}

// lowest picks the footprint with the smallest padded height, then width.
func lowest(fps []footprint) footprint {
	best := fps[0]
	for _, fp := range fps[1:] {
		if fp.h < best.h-tolerance || (math.Abs(fp.h-best.h) <= tolerance && fp.w < best.w-tolerance) {
			best = fp
		}
	}
	return best
}

// placement converts a padded cell at (cx, cy) into a placement.
func placement(it Item, fp footprint, cx, cy, margin float64) model.Placement {
	return model.Placement{
		PieceID:  it.Piece.ID,
		Label:    it.Piece.Label,
		Instance: it.Instance,
		X:        cx + margin/2,
		Y:        cy + margin/2,
		Rotation: fp.angle,
		Width:    fp.shape.W,
		Height:   fp.shape.H,
		Outline:  fp.shape.Outline,
	}
}

// sortByOrder restores request order on a leftover slice.
func sortByOrder(items []Item) []Item {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	return items
}

// itemLess is the final deterministic tie-break shared by the strategies.
func itemLess(a, b Item) bool {
	if a.Piece.ID != b.Piece.ID {
		return a.Piece.ID < b.Piece.ID
	}
	if a.Instance != b.Instance {
		return a.Instance < b.Instance
	}
	return a.Order < b.Order
}

func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
