package model

import "math"

// Pricing is the print price for one sheet width: a fixed charge per gang
// sheet plus a rate per square inch of printed image.
type Pricing struct {
	SheetWidth float64 `json:"sheet_width" yaml:"sheet_width"`
	Base       float64 `json:"base" yaml:"base"`
	PerSqIn    float64 `json:"per_sq_in" yaml:"per_sq_in"`
}

// DefaultPricing returns the list prices for the 13" and 17" presets.
func DefaultPricing() []Pricing {
	return []Pricing{
		{SheetWidth: Preset13, Base: 15.00, PerSqIn: 0.75},
		{SheetWidth: Preset17, Base: 25.00, PerSqIn: 0.65},
	}
}

// PricingFor returns the entry for sheetWidth, if any.
func PricingFor(list []Pricing, sheetWidth float64) (Pricing, bool) {
	for _, p := range list {
		if p.SheetWidth == sheetWidth {
			return p, true
		}
	}
	return Pricing{}, false
}

// PrintEstimate prices a finished layout.
type PrintEstimate struct {
	Sheets       int     `json:"sheets"`
	ImageCount   int     `json:"imageCount"`
	ImageArea    float64 `json:"imageArea"` // sq in actually printed
	FilmArea     float64 `json:"filmArea"`  // sheet width x total length
	Utilization  float64 `json:"utilization"`
	MaterialCost float64 `json:"materialCost"` // rounded to cents
	Pricing      Pricing `json:"pricing"`
}

// EstimatePrint charges p.Base per sheet plus p.PerSqIn for every square
// inch of placed image. Unplaced pieces cost nothing.
func EstimatePrint(r NestingResult, p Pricing) PrintEstimate {
	cost := p.Base*float64(len(r.Sheets)) + r.PlacedArea*p.PerSqIn
	return PrintEstimate{
		Sheets:       len(r.Sheets),
		ImageCount:   r.PlacedCount,
		ImageArea:    r.PlacedArea,
		FilmArea:     r.SheetWidth * r.TotalLength,
		Utilization:  r.RollUtilization,
		MaterialCost: math.Round(cost*100) / 100,
		Pricing:      p,
	}
}

// FilmEstimate is a lower bound on the roll length an order needs, worked
// out from areas alone before any nesting is run.
type FilmEstimate struct {
	PaddedArea      float64  `json:"paddedArea"` // sq in including margin/2 on every side
	SheetWidth      float64  `json:"sheetWidth"`
	MinLength       float64  `json:"minLength"` // padded area / width
	LengthWithWaste float64  `json:"lengthWithWaste"`
	WastePercent    float64  `json:"wastePercent"`
	TooWide         []string `json:"tooWide,omitempty"` // piece ids that fit in no allowed rotation
}

// EstimateFilm sums the padded bounding box of every copy. Pieces that are
// wider than the sheet in every allowed rotation are listed and left out of
// the area.
func EstimateFilm(pieces []Piece, sheetWidth, margin, wastePercent float64) FilmEstimate {
	est := FilmEstimate{SheetWidth: sheetWidth, WastePercent: wastePercent}
	for _, p := range pieces {
		s := p.Shape()
		w, h := s.W+margin, s.H+margin
		if w > sheetWidth+1e-9 && (p.Rotations == RotationNone || h > sheetWidth+1e-9) {
			est.TooWide = append(est.TooWide, p.ID)
			continue
		}
		est.PaddedArea += w * h * float64(p.Quantity)
	}
	if sheetWidth <= 0 {
		return est
	}

	est.MinLength = est.PaddedArea / sheetWidth
	est.LengthWithWaste = est.MinLength * (1 + wastePercent/100)
	return est
}
