package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/piwi3910/GangNest/internal/geometry"
	"github.com/piwi3910/GangNest/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStrategies = []string{"shelf", "skyline", "maxrects", "genetic", "polygon"}

func newTestEngine() *Engine {
	return New(DefaultRegistry(), model.DefaultSettings())
}

func rectPiece(id string, w, h float64, qty int, rot model.RotationSet) model.Piece {
	return model.Piece{ID: id, Width: w, Height: h, Quantity: qty, Rotations: rot}
}

// assertValidLayout checks the placement invariants every strategy must keep.
func assertValidLayout(t *testing.T, req model.NestingRequest, res model.NestingResult) {
	t.Helper()
	for _, s := range res.Sheets {
		if req.MaxSheetLength > 0 {
			assert.LessOrEqual(t, s.Length, req.MaxSheetLength+1e-9, "sheet %d longer than cap", s.Index)
		}
		for _, p := range s.Placements {
			assert.GreaterOrEqual(t, p.X, -1e-9, "%s/%d left of sheet", p.PieceID, p.Instance)
			assert.LessOrEqual(t, p.X+p.Width, req.SheetWidth+1e-9, "%s/%d right of sheet", p.PieceID, p.Instance)
			assert.GreaterOrEqual(t, p.Y, -1e-9)
			assert.LessOrEqual(t, p.Y+p.Height, s.Length+1e-9)
		}
		for i := 0; i < len(s.Placements); i++ {
			for j := i + 1; j < len(s.Placements); j++ {
				a, b := s.Placements[i], s.Placements[j]
				overlap := geometry.Overlaps(
					a.Shape(), geometry.Point{X: a.X, Y: a.Y}, 0,
					b.Shape(), geometry.Point{X: b.X, Y: b.Y}, 0,
				)
				assert.False(t, overlap, "sheet %d: %s/%d overlaps %s/%d", s.Index, a.PieceID, a.Instance, b.PieceID, b.Instance)
			}
		}
	}
	q := Inspect(res, 0)
	assert.Zero(t, q.OverlapPairs)
	assert.Zero(t, q.OutOfBounds)
	assert.Zero(t, q.UnderSpacingPairs)
	assert.GreaterOrEqual(t, res.Utilization, 0.0)
	assert.LessOrEqual(t, res.Utilization, 1.0)
	assert.Equal(t, res.PieceCount, res.PlacedCount+len(res.Unplaced), "every instance accounted for")
}

func TestRun_TwoPiecesOn17StackOnOneSheet(t *testing.T) {
	req := model.NestingRequest{
		Pieces:     []model.Piece{rectPiece("logo", 10, 5, 2, model.RotationQuarter)},
		SheetWidth: model.Preset17,
		Margin:     0.25,
	}
	e := newTestEngine()

	for _, name := range allStrategies {
		t.Run(name, func(t *testing.T) {
			req := req
			req.Strategy = name
			res, err := e.Run(context.Background(), req)
			require.NoError(t, err)
			assertValidLayout(t, req, res)

			require.Len(t, res.Sheets, 1)
			assert.Len(t, res.Sheets[0].Placements, 2)
			assert.Empty(t, res.UnplacedPieceIDs)
			assert.LessOrEqual(t, res.TotalLength, 10.5+1e-9)
		})
	}

	// Stacked layouts beat 0.8; the default strategy and the optimiser stack.
	for _, name := range []string{"shelf", "genetic"} {
		req := req
		req.Strategy = name
		res, err := e.Run(context.Background(), req)
		require.NoError(t, err)
		assert.Greater(t, res.Utilization, 0.8, name)
	}
}

func TestRun_TooWideWithoutRotationIsUnplaced(t *testing.T) {
	req := model.NestingRequest{
		Pieces:     []model.Piece{rectPiece("banner", 14, 4, 1, model.RotationNone)},
		SheetWidth: model.Preset13,
		Margin:     model.DefaultMargin,
	}
	e := newTestEngine()

	for _, name := range allStrategies {
		t.Run(name, func(t *testing.T) {
			req := req
			req.Strategy = name
			res, err := e.Run(context.Background(), req)
			require.NoError(t, err)

			assert.Empty(t, res.Sheets)
			assert.Equal(t, []string{"banner"}, res.UnplacedPieceIDs)
			require.Len(t, res.Unplaced, 1)
			assert.Equal(t, model.ReasonTooWide, res.Unplaced[0].Reason)
			assert.Contains(t, res.Unplaced[0].Detail, "14.125")
			assert.Zero(t, res.Utilization)
			assert.False(t, res.Incomplete)
		})
	}
}

func TestRun_TooWideInEveryRotation(t *testing.T) {
	req := model.NestingRequest{
		Pieces: []model.Piece{
			rectPiece("ok", 4, 4, 1, model.RotationQuarter),
			rectPiece("huge", 14, 14, 3, model.RotationAny),
		},
		SheetWidth: model.Preset13,
		Strategy:   "skyline",
	}
	res, err := newTestEngine().Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"huge"}, res.UnplacedPieceIDs)
	assert.Len(t, res.Unplaced, 3)
	assert.Equal(t, 1, res.PlacedCount)
	for _, s := range res.Sheets {
		for _, p := range s.Placements {
			assert.NotEqual(t, "huge", p.PieceID)
		}
	}
}

func TestRun_RotationFitsNarrowSheet(t *testing.T) {
	req := model.NestingRequest{
		Pieces:     []model.Piece{rectPiece("banner", 14, 4, 1, model.RotationQuarter)},
		SheetWidth: model.Preset13,
		Margin:     model.DefaultMargin,
		Strategy:   "shelf",
	}
	res, err := newTestEngine().Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Sheets, 1)

	p := res.Sheets[0].Placements[0]
	assert.Equal(t, 90.0, p.Rotation)
	assert.Equal(t, 4.0, p.Width)
	assert.Equal(t, 14.0, p.Height)
	assert.InDelta(t, 14.125, res.TotalLength, 1e-9)
}

func TestRun_TooLongForSheetCap(t *testing.T) {
	req := model.NestingRequest{
		Pieces:         []model.Piece{rectPiece("poster", 16, 12, 1, model.RotationQuarter)},
		SheetWidth:     model.Preset17,
		MaxSheetLength: 10,
		Strategy:       "shelf",
	}
	res, err := newTestEngine().Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Unplaced, 1)
	assert.Equal(t, model.ReasonTooLong, res.Unplaced[0].Reason)
}

func TestRun_InvalidRequests(t *testing.T) {
	valid := func() model.NestingRequest {
		return model.NestingRequest{
			Pieces:     []model.Piece{rectPiece("a", 2, 2, 1, model.RotationQuarter)},
			SheetWidth: model.Preset13,
			Margin:     0.1,
			Strategy:   "shelf",
		}
	}
	tests := []struct {
		name   string
		mutate func(*model.NestingRequest)
	}{
		{"no pieces", func(r *model.NestingRequest) { r.Pieces = nil }},
		{"zero width", func(r *model.NestingRequest) { r.SheetWidth = 0 }},
		{"negative width", func(r *model.NestingRequest) { r.SheetWidth = -13 }},
		{"negative margin", func(r *model.NestingRequest) { r.Margin = -0.1 }},
		{"zero quantity", func(r *model.NestingRequest) { r.Pieces[0].Quantity = 0 }},
		{"zero height", func(r *model.NestingRequest) { r.Pieces[0].Height = 0 }},
		{"missing id", func(r *model.NestingRequest) { r.Pieces[0].ID = "" }},
		{"duplicate id", func(r *model.NestingRequest) { r.Pieces = append(r.Pieces, r.Pieces[0]) }},
		{"bad rotation", func(r *model.NestingRequest) { r.Pieces[0].Rotations = "diagonal" }},
		{"two point outline", func(r *model.NestingRequest) {
			r.Pieces[0].Outline = geometry.Polygon{{X: 0, Y: 0}, {X: 1, Y: 1}}
		}},
		{"negative sheet cap", func(r *model.NestingRequest) { r.MaxSheetLength = -1 }},
		{"too many copies", func(r *model.NestingRequest) { r.Pieces[0].Quantity = model.DefaultSettings().MaxPieces + 1 }},
		{"quantities overflow", func(r *model.NestingRequest) {
			r.Pieces[0].Quantity = math.MaxInt
			r.Pieces = append(r.Pieces, rectPiece("b", 1, 1, math.MaxInt, model.RotationNone))
		}},
	}
	e := newTestEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			_, err := e.Run(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRequest), "got %v", err)
		})
	}
}

func TestRun_UnknownStrategy(t *testing.T) {
	req := model.NestingRequest{
		Pieces:     []model.Piece{rectPiece("a", 2, 2, 1, model.RotationQuarter)},
		SheetWidth: model.Preset13,
		Strategy:   "tetris",
	}
	_, err := newTestEngine().Run(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStrategyNotFound))
	assert.Contains(t, err.Error(), "tetris")
}

func TestRun_SpilloverOpensSheets(t *testing.T) {
	req := model.NestingRequest{
		Pieces:         []model.Piece{rectPiece("sq", 4, 4, 10, model.RotationQuarter)},
		SheetWidth:     model.Preset13,
		Margin:         0.25,
		MaxSheetLength: 10,
	}
	e := newTestEngine()
	for _, name := range allStrategies {
		t.Run(name, func(t *testing.T) {
			req := req
			req.Strategy = name
			res, err := e.Run(context.Background(), req)
			require.NoError(t, err)
			assertValidLayout(t, req, res)

			// Three 4.25" columns by two 4.25" rows fit under a 10" cap.
			assert.Greater(t, len(res.Sheets), 1)
			assert.Equal(t, 10, res.PlacedCount)
			assert.False(t, res.Incomplete)
			for i, s := range res.Sheets {
				assert.Equal(t, i, s.Index)
			}
		})
	}
}

func TestRun_SheetLimitMarksIncomplete(t *testing.T) {
	req := model.NestingRequest{
		Pieces:         []model.Piece{rectPiece("sq", 4, 4, 10, model.RotationQuarter)},
		SheetWidth:     model.Preset13,
		Margin:         0.25,
		MaxSheetLength: 10,
		MaxSheets:      1,
		Strategy:       "shelf",
	}
	res, err := newTestEngine().Run(context.Background(), req)
	require.NoError(t, err, "sheet limit is not an error")

	assert.True(t, res.Incomplete)
	require.Len(t, res.Sheets, 1)
	assert.Equal(t, 6, res.PlacedCount)
	require.Len(t, res.Unplaced, 4)
	for _, u := range res.Unplaced {
		assert.Equal(t, model.ReasonSheetLimit, u.Reason)
	}
	assert.Equal(t, []string{"sq"}, res.UnplacedPieceIDs)
	assertValidLayout(t, req, res)
}

func TestRun_NoSpilloverKeepsOneSheet(t *testing.T) {
	req := model.NestingRequest{
		Pieces:         []model.Piece{rectPiece("sq", 4, 4, 10, model.RotationQuarter)},
		SheetWidth:     model.Preset13,
		Margin:         0.25,
		MaxSheetLength: 10,
		MaxSheets:      5,
		NoSpillover:    true,
		Strategy:       "skyline",
	}
	res, err := newTestEngine().Run(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Sheets, 1)
	assert.True(t, res.Incomplete)
}

func TestRun_IterationCapSpillsShelves(t *testing.T) {
	settings := model.DefaultSettings()
	settings.MaxIterations = 1
	e := New(DefaultRegistry(), settings)

	req := model.NestingRequest{
		Pieces:     []model.Piece{rectPiece("wide", 10, 5, 3, model.RotationNone)},
		SheetWidth: model.Preset13,
		Strategy:   "shelf",
	}
	res, err := e.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Sheets, 3, "one shelf per sheet")
	assert.Equal(t, 3, res.PlacedCount)
}

func TestRun_Idempotent(t *testing.T) {
	scenarios := DefaultScenarios(7)
	e := newTestEngine()
	for _, name := range allStrategies {
		t.Run(name, func(t *testing.T) {
			req := model.NestingRequest{
				Pieces:     scenarios[0].Pieces,
				SheetWidth: model.Preset17,
				Margin:     model.DefaultMargin,
				Strategy:   name,
				Seed:       99,
			}
			first, err := e.Run(context.Background(), req)
			require.NoError(t, err)
			second, err := e.Run(context.Background(), req)
			require.NoError(t, err)

			first.Elapsed, second.Elapsed = 0, 0
			assert.Equal(t, first, second)
		})
	}
}

func TestRun_DoesNotMutateRequest(t *testing.T) {
	tri := geometry.Polygon{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 0, Y: 3}}
	req := model.NestingRequest{
		Pieces: []model.Piece{{
			ID: "tri", Width: 4, Height: 3, Quantity: 3,
			Outline: tri.Clone(), Rotations: model.RotationAny,
		}},
		SheetWidth: model.Preset13,
		Margin:     0.1,
		Strategy:   "polygon",
	}
	before := req.Clone()
	_, err := newTestEngine().Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, before, req)
}

func TestRun_CorpusProperties(t *testing.T) {
	e := newTestEngine()
	for _, sc := range DefaultScenarios(1) {
		for _, w := range []float64{model.Preset13, model.Preset17} {
			for _, name := range allStrategies {
				req := model.NestingRequest{
					Pieces:     sc.Pieces,
					SheetWidth: w,
					Margin:     model.DefaultMargin,
					Strategy:   name,
				}
				res, err := e.Run(context.Background(), req)
				require.NoError(t, err, "%s/%s/%g", sc.Name, name, w)
				assertValidLayout(t, req, res)
				assert.Empty(t, res.Unplaced, "%s/%s/%g", sc.Name, name, w)
				assert.Greater(t, res.Utilization, 0.0)
			}
		}
	}
}

func TestRun_UtilizationZeroOnlyWhenNothingPlaced(t *testing.T) {
	e := newTestEngine()
	res, err := e.Run(context.Background(), model.NestingRequest{
		Pieces:     []model.Piece{rectPiece("big", 20, 20, 2, model.RotationQuarter)},
		SheetWidth: model.Preset13,
		Strategy:   "maxrects",
	})
	require.NoError(t, err)
	assert.Zero(t, res.PlacedCount)
	assert.Zero(t, res.Utilization)

	res, err = e.Run(context.Background(), model.NestingRequest{
		Pieces:     []model.Piece{rectPiece("tiny", 0.5, 0.5, 1, model.RotationQuarter)},
		SheetWidth: model.Preset17,
		Strategy:   "maxrects",
	})
	require.NoError(t, err)
	assert.Greater(t, res.Utilization, 0.0)
}

func TestRun_PolygonPiecesInterlock(t *testing.T) {
	// Two right triangles fill their common bounding box when one turns 180.
	tri := geometry.Polygon{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 0, Y: 4}}
	req := model.NestingRequest{
		Pieces: []model.Piece{{
			ID: "tri", Width: 4, Height: 4, Quantity: 2,
			Outline: tri, Rotations: model.RotationAny,
		}},
		SheetWidth: 4,
		Strategy:   "polygon",
	}
	res, err := newTestEngine().Run(context.Background(), req)
	require.NoError(t, err)
	assertValidLayout(t, req, res)

	require.Len(t, res.Sheets, 1)
	assert.Equal(t, 2, res.PlacedCount)
	assert.InDelta(t, 4.0, res.TotalLength, 1e-6)
	assert.InDelta(t, 1.0, res.Utilization, 1e-6)

	// Bounding-box strategies stack them instead.
	req.Strategy = "shelf"
	res, err = newTestEngine().Run(context.Background(), req)
	require.NoError(t, err)
	assertValidLayout(t, req, res)
	assert.InDelta(t, 8.0, res.TotalLength, 1e-6)
}

func TestRun_PolygonKeepsMargin(t *testing.T) {
	tri := geometry.Polygon{{X: 0, Y: 0}, {X: 3, Y: 0}, {X: 0, Y: 3}}
	l := geometry.Polygon{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 4}, {X: 0, Y: 4}}
	req := model.NestingRequest{
		Pieces: []model.Piece{
			{ID: "tri", Width: 3, Height: 3, Quantity: 4, Outline: tri, Rotations: model.RotationAny},
			{ID: "ell", Width: 4, Height: 4, Quantity: 3, Outline: l, Rotations: model.RotationQuarter},
			rectPiece("box", 2, 3, 2, model.RotationQuarter),
		},
		SheetWidth: model.Preset13,
		Margin:     0.2,
		Strategy:   "polygon",
	}
	res, err := newTestEngine().Run(context.Background(), req)
	require.NoError(t, err)
	assertValidLayout(t, req, res)
	assert.Equal(t, 9, res.PlacedCount)

	q := Inspect(res, 0)
	assert.GreaterOrEqual(t, q.MinGap, 0.2-1e-6)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestEngine().Run(ctx, model.NestingRequest{
		Pieces:     []model.Piece{rectPiece("a", 2, 2, 1, model.RotationQuarter)},
		SheetWidth: model.Preset13,
		Strategy:   "shelf",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRun_MaxPiecesFromSettings(t *testing.T) {
	settings := model.DefaultSettings()
	settings.MaxPieces = 10
	e := New(DefaultRegistry(), settings)
	req := model.NestingRequest{
		Pieces: []model.Piece{
			rectPiece("a", 1, 1, 6, model.RotationNone),
			rectPiece("b", 1, 1, 4, model.RotationNone),
		},
		SheetWidth: model.Preset13,
		Strategy:   "shelf",
	}
	_, err := e.Run(context.Background(), req)
	require.NoError(t, err)

	req.Pieces[1].Quantity = 5
	_, err = e.Run(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.Contains(t, err.Error(), "more than 10 pieces")
}

func TestRun_PolygonLargeRequestIsBounded(t *testing.T) {
	req := model.NestingRequest{
		Pieces:     []model.Piece{rectPiece("sq", 0.5, 0.5, 2000, model.RotationNone)},
		SheetWidth: model.Preset13,
		Strategy:   "polygon",
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	res, err := newTestEngine().Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2000, res.PlacedCount)
	assert.Greater(t, len(res.Sheets), 1, "search work is capped per sheet")
	assertValidLayout(t, req, res)
}

func TestRun_CancelledDuringSearch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := newTestEngine().Run(ctx, model.NestingRequest{
		Pieces:     []model.Piece{rectPiece("sq", 0.5, 0.5, 5000, model.RotationNone)},
		SheetWidth: model.Preset13,
		Strategy:   "polygon",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestRun_StochasticResultRecordsSeed(t *testing.T) {
	e := newTestEngine()
	req := model.NestingRequest{
		Pieces:     []model.Piece{rectPiece("a", 2, 3, 4, model.RotationQuarter)},
		SheetWidth: model.Preset13,
		Strategy:   "genetic",
	}
	res, err := e.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(defaultSeed), res.Seed)

	req.Strategy = "shelf"
	res, err = e.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, res.Seed)
}
