package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/piwi3910/GangNest/internal/model"
	"github.com/pkg/errors"
)

// Scenario is a named input set for the algorithm tester.
type Scenario struct {
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description" yaml:"description"`
	Pieces      []model.Piece `json:"pieces" yaml:"pieces"`
}

// CorpusResult is one scenario compared at one sheet width.
type CorpusResult struct {
	Scenario   string              `json:"scenario"`
	SheetWidth float64             `json:"sheetWidth"`
	Run        model.ComparisonRun `json:"run"`
}

// DefaultScenarios builds the tester corpus. Random sizes come from seed, so
// the same seed always yields the same corpus.
func DefaultScenarios(seed int64) []Scenario {
	rng := rand.New(rand.NewSource(seed))
	between := func(lo, span float64) float64 {
		return math.Round((lo+rng.Float64()*span)*100) / 100
	}
	generate := func(prefix string, n int, w0, ws, h0, hs float64) []model.Piece {
		pieces := make([]model.Piece, n)
		for i := range pieces {
			pieces[i] = model.Piece{
				ID:        fmt.Sprintf("%s%d", prefix, i),
				Width:     between(w0, ws),
				Height:    between(h0, hs),
				Rotations: model.RotationQuarter,
				Quantity:  1,
			}
		}
		return pieces
	}
	fixed := func(id, label string, w, h float64, qty int) model.Piece {
		return model.Piece{ID: id, Label: label, Width: w, Height: h, Rotations: model.RotationQuarter, Quantity: qty}
	}

	return []Scenario{
		{
			Name:        "mixed",
			Description: "realistic mix of sizes and aspect ratios",
			Pieces: []model.Piece{
				fixed("r1", "text", 8, 6, 2),
				fixed("r2", "logo", 4, 4, 3),
				fixed("r3", "banner", 10, 3, 2),
				fixed("r4", "vertical", 3, 8, 2),
				fixed("r5", "square", 6, 6, 1),
				fixed("r6", "small banner", 5, 2, 4),
			},
		},
		{Name: "small", Description: "25 small items", Pieces: generate("sm", 25, 1.5, 2.5, 1.5, 2.5)},
		{Name: "large", Description: "6 large items", Pieces: generate("lg", 6, 7, 4, 5, 5)},
		{Name: "vertical", Description: "12 tall items", Pieces: generate("vt", 12, 2.5, 1.5, 6, 4)},
		{Name: "horizontal", Description: "12 wide items", Pieces: generate("hz", 12, 7, 4, 2, 1.5)},
		{
			Name:        "edge-case-narrow",
			Description: "very wide items",
			Pieces: []model.Piece{
				fixed("n1", "very wide", 12, 2, 3),
				fixed("n2", "extremely wide", 11, 1.5, 2),
			},
		},
		{
			Name:        "edge-case-tall",
			Description: "very tall items",
			Pieces: []model.Piece{
				fixed("t1", "very tall", 2, 12, 3),
				fixed("t2", "extremely tall", 1.5, 15, 2),
			},
		},
	}
}

// CompareCorpus compares strategies on every scenario at every sheet width.
// It stops at the first invalid scenario or cancelled context.
func (c *Comparator) CompareCorpus(ctx context.Context, scenarios []Scenario, widths []float64, margin float64, ids []string) ([]CorpusResult, error) {
	var out []CorpusResult
	for _, sc := range scenarios {
		for _, w := range widths {
			req := model.NestingRequest{
				Pieces:     sc.Pieces,
				SheetWidth: w,
				Margin:     margin,
			}
			run, err := c.Compare(ctx, req, ids)
			if err != nil {
				return out, errors.Wrapf(err, "scenario %s at %g\"", sc.Name, w)
			}
			out = append(out, CorpusResult{Scenario: sc.Name, SheetWidth: w, Run: run})
		}
	}
	return out, nil
}
