package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/piwi3910/GangNest/internal/model"
	"github.com/pkg/errors"
)

// Engine runs nesting requests against the strategies of a registry.
// An Engine holds no per-run state; one value may serve concurrent runs.
type Engine struct {
	Registry *Registry
	Settings model.Settings
}

func New(registry *Registry, settings model.Settings) *Engine {
	return &Engine{Registry: registry, Settings: settings}
}

// Validate checks a request before any placement is attempted.
func Validate(req model.NestingRequest) error {
	if len(req.Pieces) == 0 {
		return errors.Wrap(ErrInvalidRequest, "no pieces")
	}
	if !(req.SheetWidth > 0) {
		return errors.Wrapf(ErrInvalidRequest, "sheet width must be positive, got %g", req.SheetWidth)
	}
	if req.Margin < 0 || math.IsNaN(req.Margin) {
		return errors.Wrapf(ErrInvalidRequest, "margin must be >= 0, got %g", req.Margin)
	}
	if req.MaxSheetLength < 0 {
		return errors.Wrapf(ErrInvalidRequest, "max sheet length must be >= 0, got %g", req.MaxSheetLength)
	}
	if req.MaxSheets < 0 {
		return errors.Wrapf(ErrInvalidRequest, "max sheets must be >= 0, got %d", req.MaxSheets)
	}
	seen := make(map[string]bool, len(req.Pieces))
	for i, p := range req.Pieces {
		if p.ID == "" {
			return errors.Wrapf(ErrInvalidRequest, "piece %d has no id", i)
		}
		if seen[p.ID] {
			return errors.Wrapf(ErrInvalidRequest, "duplicate piece id %q", p.ID)
		}
		seen[p.ID] = true
		if p.Quantity < 1 {
			return errors.Wrapf(ErrInvalidRequest, "piece %q: quantity must be >= 1, got %d", p.ID, p.Quantity)
		}
		if !p.Rotations.Valid() {
			return errors.Wrapf(ErrInvalidRequest, "piece %q: unknown rotation set %q", p.ID, p.Rotations)
		}
		if len(p.Outline) > 0 && len(p.Outline) < 3 {
			return errors.Wrapf(ErrInvalidRequest, "piece %q: outline needs at least 3 points", p.ID)
		}
		s := p.Shape()
		if !(s.W > 0) || !(s.H > 0) {
			return errors.Wrapf(ErrInvalidRequest, "piece %q: dimensions must be positive, got %gx%g", p.ID, s.W, s.H)
		}
	}
	return nil
}

// Run nests req onto as many sheets as policy allows. Invalid requests and
// unknown strategies are errors; unplaceable pieces and the sheet limit are
// reported in the result. ctx is checked between sheets and by strategies
// that search.
func (e *Engine) Run(ctx context.Context, req model.NestingRequest) (model.NestingResult, error) {
	start := time.Now()
	if err := Validate(req); err != nil {
		return model.NestingResult{}, err
	}
	if err := e.checkSize(req); err != nil {
		return model.NestingResult{}, err
	}
	strategy, err := e.Registry.Lookup(req.Strategy)
	if err != nil {
		return model.NestingResult{}, err
	}

	req = req.Clone()
	result := model.NestingResult{
		Strategy:   strategy.Name(),
		SheetWidth: req.SheetWidth,
		Margin:     req.Margin,
		PieceCount: req.PieceCount(),
		Sheets:     []model.Sheet{},
	}
	if strategy.Stochastic() {
		result.Seed = req.Seed
		if result.Seed == 0 {
			result.Seed = defaultSeed
		}
	}

	items := e.expand(req)
	remaining := make([]Item, 0, len(items))
	for _, it := range items {
		if u, ok := unplaceable(it, req); ok {
			result.Unplaced = append(result.Unplaced, u)
			continue
		}
		remaining = append(remaining, it)
	}

	maxSheets := req.MaxSheets
	if maxSheets == 0 {
		maxSheets = e.Settings.MaxSheets
	}
	if req.NoSpillover || maxSheets < 1 {
		maxSheets = 1
	}

	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return model.NestingResult{}, errors.Wrap(err, "nesting cancelled")
		}
		if len(result.Sheets) >= maxSheets {
			for _, it := range remaining {
				result.Unplaced = append(result.Unplaced, unplaced(it, model.ReasonSheetLimit,
					fmt.Sprintf("sheet limit of %d reached", maxSheets)))
			}
			result.Incomplete = true
			break
		}

		plan := strategy.Place(Job{
			Items:         remaining,
			SheetWidth:    req.SheetWidth,
			Margin:        req.Margin,
			MaxLength:     req.MaxSheetLength,
			Seed:          req.Seed,
			MaxIterations: e.Settings.MaxIterations,
			Done:          ctx.Done(),
		})
		if err := ctx.Err(); err != nil {
			return model.NestingResult{}, errors.Wrap(err, "nesting cancelled")
		}
		if len(plan.Placements) == 0 {
			for _, it := range plan.Leftover {
				result.Unplaced = append(result.Unplaced, unplaced(it, model.ReasonNoFit,
					"strategy could not place the piece on an empty sheet"))
			}
			break
		}

		length, usedWidth := extent(plan.Placements, req.SheetWidth, req.Margin)
		result.Sheets = append(result.Sheets, model.Sheet{
			Index:      len(result.Sheets),
			Width:      req.SheetWidth,
			Length:     length,
			UsedWidth:  usedWidth,
			Placements: plan.Placements,
		})
		remaining = plan.Leftover
	}

	result.Finalize()
	result.Elapsed = time.Since(start)
	return result, nil
}

// checkSize rejects requests that expand to more instances than
// Settings.MaxPieces. Quantities are summed without overflowing.
func (e *Engine) checkSize(req model.NestingRequest) error {
	limit := e.Settings.MaxPieces
	if limit <= 0 {
		limit = model.DefaultSettings().MaxPieces
	}
	n := 0
	for _, p := range req.Pieces {
		if p.Quantity > limit-n {
			return errors.Wrapf(ErrInvalidRequest, "request expands to more than %d pieces", limit)
		}
		n += p.Quantity
	}
	return nil
}

// expand turns pieces into one item per copy, in request order.
func (e *Engine) expand(req model.NestingRequest) []Item {
	samples := e.Settings.RotationSamples
	var items []Item
	for _, p := range req.Pieces {
		shape := p.Shape()
		angles := p.Rotations.Angles(samples)
		for i := 0; i < p.Quantity; i++ {
			items = append(items, Item{
				Piece:    p,
				Instance: i,
				Order:    len(items),
				Shape:    shape,
				Angles:   angles,
			})
		}
	}
	return items
}

// unplaceable reports items no sheet of this request could ever hold.
func unplaceable(it Item, req model.NestingRequest) (model.UnplacedPiece, bool) {
	fps := footprints(it, req.Margin)
	minW := math.Inf(1)
	var wide []footprint
	for _, fp := range fps {
		minW = math.Min(minW, fp.w)
		if fp.w <= req.SheetWidth+tolerance {
			wide = append(wide, fp)
		}
	}
	if len(wide) == 0 {
		return unplaced(it, model.ReasonTooWide, fmt.Sprintf(
			"needs %.3f\" of width including margin, sheet is %.3f\"", minW, req.SheetWidth)), true
	}
	if req.MaxSheetLength > 0 {
		minH := math.Inf(1)
		for _, fp := range wide {
			minH = math.Min(minH, fp.h)
		}
		if minH > req.MaxSheetLength+tolerance {
			return unplaced(it, model.ReasonTooLong, fmt.Sprintf(
				"needs %.3f\" of length including margin, sheet cap is %.3f\"", minH, req.MaxSheetLength)), true
		}
	}
	return model.UnplacedPiece{}, false
}

func unplaced(it Item, reason model.UnplacedReason, detail string) model.UnplacedPiece {
	return model.UnplacedPiece{
		PieceID:  it.Piece.ID,
		Label:    it.Piece.Label,
		Instance: it.Instance,
		Reason:   reason,
		Detail:   detail,
	}
}

// extent returns the consumed length and used width of a sheet: the
// bottom-most and right-most placement edges plus the trailing half margin.
func extent(placements []model.Placement, sheetWidth, margin float64) (length, usedWidth float64) {
	for _, p := range placements {
		length = math.Max(length, p.Y+p.Height)
		usedWidth = math.Max(usedWidth, p.X+p.Width)
	}
	if len(placements) == 0 {
		return 0, 0
	}
	return length + margin/2, math.Min(sheetWidth, usedWidth+margin/2)
}
