package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/piwi3910/GangNest/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// renamed registers an existing strategy under another identifier.
type renamed struct {
	Strategy
	name string
}

func (r renamed) Name() string { return r.name }

func fivePieceRequest() model.NestingRequest {
	return model.NestingRequest{
		Pieces: []model.Piece{
			rectPiece("a", 6, 4, 1, model.RotationQuarter),
			rectPiece("b", 3, 3, 1, model.RotationQuarter),
			rectPiece("c", 5, 2, 1, model.RotationQuarter),
			rectPiece("d", 2, 7, 1, model.RotationQuarter),
			rectPiece("e", 4, 4, 1, model.RotationQuarter),
		},
		SheetWidth: model.Preset13,
		Margin:     model.DefaultMargin,
	}
}

func TestCompare_TwoStrategies(t *testing.T) {
	c := NewComparator(newTestEngine(), 2)
	req := fivePieceRequest()

	run, err := c.Compare(context.Background(), req, []string{"skyline", "shelf"})
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "utilization", run.Scoring)
	require.Len(t, run.Entries, 2)
	assert.ElementsMatch(t, []string{"shelf", "skyline"}, run.Ranking)
	for _, e := range run.Entries {
		require.NotNil(t, e.Result, e.Strategy)
		assert.Empty(t, e.Error)
		assert.Equal(t, e.Strategy, e.Result.Strategy)
		assert.Equal(t, e.Result.Utilization, e.Score)
		assertValidLayout(t, req, *e.Result)
	}
	assert.GreaterOrEqual(t, run.Entries[0].Score, run.Entries[1].Score)
	assert.Equal(t, 1, run.Entries[0].Rank)
	if len(run.Ties) == 0 {
		assert.Equal(t, run.Ranking[0], run.Winner)
	}
}

func TestCompare_StableUnderReordering(t *testing.T) {
	c := NewComparator(newTestEngine(), 4)
	c.TimeResolution = time.Hour
	req := fivePieceRequest()

	forward, err := c.Compare(context.Background(), req, []string{"shelf", "skyline", "maxrects", "genetic"})
	require.NoError(t, err)
	reversed, err := c.Compare(context.Background(), req, []string{"genetic", "maxrects", "skyline", "shelf"})
	require.NoError(t, err)

	assert.Equal(t, forward.Ranking, reversed.Ranking)
	assert.Equal(t, forward.Ties, reversed.Ties)
	assert.Equal(t, forward.Winner, reversed.Winner)
	for i := range forward.Entries {
		assert.Equal(t, forward.Entries[i].Rank, reversed.Entries[i].Rank)
		assert.Equal(t, forward.Entries[i].Score, reversed.Entries[i].Score)
	}
}

func TestCompare_ReportsTies(t *testing.T) {
	reg := DefaultRegistry()
	reg.Register(renamed{Strategy: ShelfStrategy{}, name: "shelf-copy"})
	c := NewComparator(New(reg, model.DefaultSettings()), 2)
	c.TimeResolution = time.Hour

	run, err := c.Compare(context.Background(), fivePieceRequest(), []string{"shelf", "shelf-copy"})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"shelf", "shelf-copy"}}, run.Ties)
	assert.Empty(t, run.Winner, "a tied top has no single winner")
	assert.Equal(t, []string{"shelf", "shelf-copy"}, run.Ranking)
	for _, e := range run.Entries {
		assert.Equal(t, 1, e.Rank)
	}
}

func TestCompare_FailedStrategyDoesNotAbort(t *testing.T) {
	c := NewComparator(newTestEngine(), 2)
	run, err := c.Compare(context.Background(), fivePieceRequest(), []string{"nope", "shelf", "shelf"})
	require.NoError(t, err)

	require.Len(t, run.Entries, 2, "duplicates run once")
	last := run.Entries[1]
	assert.Equal(t, "nope", last.Strategy)
	assert.Nil(t, last.Result)
	assert.Contains(t, last.Error, "strategy not found")
	assert.Zero(t, last.Rank)
	assert.Equal(t, []string{"shelf"}, run.Ranking)
	assert.Equal(t, "shelf", run.Winner)

	e, ok := run.Entry("shelf")
	require.True(t, ok)
	assert.NotNil(t, e.Result)
}

func TestCompare_InvalidRequest(t *testing.T) {
	req := fivePieceRequest()
	req.SheetWidth = 0
	_, err := NewComparator(newTestEngine(), 1).Compare(context.Background(), req, []string{"shelf"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestCompare_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewComparator(newTestEngine(), 1).Compare(ctx, fivePieceRequest(), []string{"shelf"})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCompare_EconomyScorer(t *testing.T) {
	c := NewComparator(newTestEngine(), 2)
	c.Scorer = ScoreSheetEconomy

	run, err := c.Compare(context.Background(), fivePieceRequest(), []string{"shelf", "maxrects"})
	require.NoError(t, err)
	assert.Equal(t, "economy", run.Scoring)
	for _, e := range run.Entries {
		assert.InDelta(t, ScoreSheetEconomy.Score(*e.Result), e.Score, 1e-12)
	}
}

func TestDefaultScenarios_Deterministic(t *testing.T) {
	a := DefaultScenarios(3)
	b := DefaultScenarios(3)
	assert.Equal(t, a, b)

	names := make([]string, len(a))
	for i, s := range a {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"mixed", "small", "large", "vertical", "horizontal", "edge-case-narrow", "edge-case-tall"}, names)
	assert.Len(t, a[1].Pieces, 25)

	c := DefaultScenarios(4)
	assert.NotEqual(t, a[1].Pieces, c[1].Pieces)
}

func TestCompareCorpus(t *testing.T) {
	c := NewComparator(newTestEngine(), 2)
	scenarios := DefaultScenarios(1)[:2]
	widths := []float64{model.Preset13, model.Preset17}

	out, err := c.CompareCorpus(context.Background(), scenarios, widths, model.DefaultMargin, []string{"shelf", "skyline"})
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, "mixed", out[0].Scenario)
	assert.Equal(t, model.Preset13, out[0].SheetWidth)
	assert.Equal(t, model.Preset17, out[1].SheetWidth)
	assert.Equal(t, "small", out[2].Scenario)
	for _, r := range out {
		assert.Len(t, r.Run.Entries, 2)
	}
}

func TestCompareCorpus_WrapsScenarioErrors(t *testing.T) {
	c := NewComparator(newTestEngine(), 1)
	bad := []Scenario{{Name: "empty"}}
	_, err := c.CompareCorpus(context.Background(), bad, []float64{13}, 0.1, []string{"shelf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario empty")
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}
