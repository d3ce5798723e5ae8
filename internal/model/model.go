package model

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/piwi3910/GangNest/internal/geometry"
)

// Sheet width presets in inches. Width stays an open parameter; these are
// the two roll widths the storefront sells.
const (
	Preset13 = 13.0
	Preset17 = 17.0

	// DefaultMargin is the gap between pieces in inches.
	DefaultMargin = 0.125
)

// RotationSet is the set of rotations a piece may be placed at.
type RotationSet string

const (
	RotationNone    RotationSet = "none"    // only 0 degrees
	RotationQuarter RotationSet = "quarter" // 0 and 90 degrees
	RotationAny     RotationSet = "any"     // continuous, sampled by the strategy
)

// Valid reports whether r is a known rotation set. The empty value is
// treated as RotationQuarter.
func (r RotationSet) Valid() bool {
	switch r {
	case "", RotationNone, RotationQuarter, RotationAny:
		return true
	}
	return false
}

// Angles returns the candidate rotations in degrees. samples controls how
// many angles RotationAny yields over [0, 360).
func (r RotationSet) Angles(samples int) []float64 {
	switch r {
	case RotationNone:
		return []float64{0}
	case RotationAny:
		if samples < 2 {
			samples = 2
		}
		out := make([]float64, samples)
		for i := range out {
			out[i] = float64(i) * 360 / float64(samples)
		}
		return out
	default:
		return []float64{0, 90}
	}
}

// Piece is one user-supplied image reduced to a footprint. Width and Height
// are the bounding box; Outline is set for non-rectangular pieces.
type Piece struct {
	ID        string           `json:"id" yaml:"id"`
	Label     string           `json:"label,omitempty" yaml:"label,omitempty"`
	ImageURL  string           `json:"imageUrl,omitempty" yaml:"image_url,omitempty"`
	Width     float64          `json:"width" yaml:"width"`
	Height    float64          `json:"height" yaml:"height"`
	Outline   geometry.Polygon `json:"outline,omitempty" yaml:"outline,omitempty"`
	Rotations RotationSet      `json:"rotations,omitempty" yaml:"rotations,omitempty"`
	Quantity  int              `json:"quantity" yaml:"quantity"`
}

func NewPiece(label string, w, h float64, qty int) Piece {
	return Piece{
		ID:        uuid.New().String()[:8],
		Label:     label,
		Width:     w,
		Height:    h,
		Rotations: RotationQuarter,
		Quantity:  qty,
	}
}

// Shape returns the piece footprint anchored at the origin. For outlined
// pieces the outline's bounding box wins over the declared dimensions.
func (p Piece) Shape() geometry.Shape {
	if len(p.Outline) < 3 {
		return geometry.Shape{W: p.Width, H: p.Height}
	}
	poly := p.Outline.Normalize()
	bb := poly.BoundingBox()
	return geometry.Shape{W: bb.W, H: bb.H, Outline: poly}
}

// Area returns the footprint area of a single copy.
func (p Piece) Area() float64 { return p.Shape().Area() }

// Clone returns a deep copy of p.
func (p Piece) Clone() Piece {
	p.Outline = p.Outline.Clone()
	return p
}

// Placement is one piece instance positioned on a sheet. X and Y are the
// minimum corner of the rotated bounding box; Outline is the rotated
// polygon relative to that corner.
type Placement struct {
	PieceID  string           `json:"pieceId"`
	Label    string           `json:"label,omitempty"`
	Instance int              `json:"instance"`
	X        float64          `json:"x"`
	Y        float64          `json:"y"`
	Rotation float64          `json:"rotation"`
	Width    float64          `json:"width"`
	Height   float64          `json:"height"`
	Outline  geometry.Polygon `json:"outline,omitempty"`
}

// Bounds returns the placed bounding box in sheet coordinates.
func (p Placement) Bounds() geometry.Rect {
	return geometry.Rect{X: p.X, Y: p.Y, W: p.Width, H: p.Height}
}

// Shape returns the rotated footprint anchored at the origin.
func (p Placement) Shape() geometry.Shape {
	return geometry.Shape{W: p.Width, H: p.Height, Outline: p.Outline}
}

// Polygon returns the placed footprint in sheet coordinates.
func (p Placement) Polygon() geometry.Polygon {
	return p.Shape().At(p.X, p.Y)
}

// Area returns the footprint area.
func (p Placement) Area() float64 { return p.Shape().Area() }

// Sheet is one gang sheet. Length grows with the layout.
type Sheet struct {
	Index      int         `json:"index"`
	Width      float64     `json:"width"`
	Length     float64     `json:"length"`
	UsedWidth  float64     `json:"usedWidth"`
	Placements []Placement `json:"placements"`
}

// PlacedArea returns the total footprint area on the sheet.
func (s Sheet) PlacedArea() float64 {
	var total float64
	for _, p := range s.Placements {
		total += p.Area()
	}
	return total
}

// ConsumedArea returns the used width times the sheet length.
func (s Sheet) ConsumedArea() float64 { return s.UsedWidth * s.Length }

// Utilization returns placed area over consumed area in [0, 1].
func (s Sheet) Utilization() float64 { return ratio(s.PlacedArea(), s.ConsumedArea()) }

// UnplacedReason says why a piece instance was left out.
type UnplacedReason string

const (
	ReasonTooWide    UnplacedReason = "too_wide"    // wider than the sheet in every rotation
	ReasonTooLong    UnplacedReason = "too_long"    // longer than the sheet length cap in every rotation
	ReasonNoFit      UnplacedReason = "no_fit"      // strategy could not place it on an empty sheet
	ReasonSheetLimit UnplacedReason = "sheet_limit" // max sheet count reached
)

// UnplacedPiece records one piece instance that is not on any sheet.
type UnplacedPiece struct {
	PieceID  string         `json:"pieceId"`
	Label    string         `json:"label,omitempty"`
	Instance int            `json:"instance"`
	Reason   UnplacedReason `json:"reason"`
	Detail   string         `json:"detail,omitempty"`
}

// NestingRequest is the input to one engine run.
type NestingRequest struct {
	Pieces         []Piece `json:"pieces"`
	SheetWidth     float64 `json:"sheetWidth"`
	Margin         float64 `json:"margin"`
	Strategy       string  `json:"strategy"`
	Seed           int64   `json:"seed,omitempty"`
	MaxSheetLength float64 `json:"maxSheetLength,omitempty"` // 0 = unbounded
	MaxSheets      int     `json:"maxSheets,omitempty"`      // 0 = engine default
	NoSpillover    bool    `json:"noSpillover,omitempty"`
}

// Clone returns a deep copy of the request.
func (r NestingRequest) Clone() NestingRequest {
	out := r
	if r.Pieces != nil {
		out.Pieces = make([]Piece, len(r.Pieces))
		for i, p := range r.Pieces {
			out.Pieces[i] = p.Clone()
		}
	}
	return out
}

// PieceCount returns the number of piece instances after quantity expansion.
func (r NestingRequest) PieceCount() int {
	n := 0
	for _, p := range r.Pieces {
		n += p.Quantity
	}
	return n
}

// NestingResult is the outcome of one run.
type NestingResult struct {
	Strategy         string          `json:"strategy"`
	SheetWidth       float64         `json:"sheetWidth"`
	Margin           float64         `json:"margin"`
	Seed             int64           `json:"seed,omitempty"`
	Sheets           []Sheet         `json:"sheets"`
	UnplacedPieceIDs []string        `json:"unplacedPieceIds"`
	Unplaced         []UnplacedPiece `json:"unplaced,omitempty"`
	PieceCount       int             `json:"pieceCount"`
	PlacedCount      int             `json:"placedCount"`
	TotalLength      float64         `json:"totalLength"`
	PlacedArea       float64         `json:"placedArea"`
	ConsumedArea     float64         `json:"consumedArea"`
	Utilization      float64         `json:"utilization"`
	RollUtilization  float64         `json:"rollUtilization"`
	Incomplete       bool            `json:"incomplete"`
	Elapsed          time.Duration   `json:"elapsed"`
}

// Finalize recomputes the derived metrics from Sheets and Unplaced.
func (r *NestingResult) Finalize() {
	r.TotalLength, r.PlacedArea, r.ConsumedArea = 0, 0, 0
	r.PlacedCount = 0
	for _, s := range r.Sheets {
		r.TotalLength += s.Length
		r.PlacedArea += s.PlacedArea()
		r.ConsumedArea += s.ConsumedArea()
		r.PlacedCount += len(s.Placements)
	}
	r.Utilization = ratio(r.PlacedArea, r.ConsumedArea)
	r.RollUtilization = ratio(r.PlacedArea, r.SheetWidth*r.TotalLength)

	seen := make(map[string]bool)
	r.UnplacedPieceIDs = []string{}
	for _, u := range r.Unplaced {
		if !seen[u.PieceID] {
			seen[u.PieceID] = true
			r.UnplacedPieceIDs = append(r.UnplacedPieceIDs, u.PieceID)
		}
	}
}

// UnplacedRate returns the share of piece instances left off every sheet.
func (r NestingResult) UnplacedRate() float64 {
	return ratio(float64(len(r.Unplaced)), float64(r.PieceCount))
}

// Clone returns a deep copy of the result.
func (r NestingResult) Clone() NestingResult {
	out := r
	if r.Sheets != nil {
		out.Sheets = make([]Sheet, len(r.Sheets))
		for i, s := range r.Sheets {
			cp := s
			cp.Placements = make([]Placement, len(s.Placements))
			for j, p := range s.Placements {
				p.Outline = p.Outline.Clone()
				cp.Placements[j] = p
			}
			out.Sheets[i] = cp
		}
	}
	if r.UnplacedPieceIDs != nil {
		out.UnplacedPieceIDs = append([]string{}, r.UnplacedPieceIDs...)
	}
	if r.Unplaced != nil {
		out.Unplaced = append([]UnplacedPiece{}, r.Unplaced...)
	}
	return out
}

func ratio(num, den float64) float64 {
	if den <= 0 || num <= 0 {
		return 0
	}
	return math.Min(1, num/den)
}
