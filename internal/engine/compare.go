package engine

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/piwi3910/GangNest/internal/model"
)

// Scorer ranks a result; higher is better.
type Scorer struct {
	Name  string
	Score func(model.NestingResult) float64
}

// ScoreUtilization is the default scorer.
var ScoreUtilization = Scorer{
	Name:  "utilization",
	Score: func(r model.NestingResult) float64 { return r.Utilization },
}

// ScoreSheetEconomy favours fewer sheets and shorter rolls, and punishes
// unplaced pieces.
var ScoreSheetEconomy = Scorer{
	Name: "economy",
	Score: func(r model.NestingResult) float64 {
		if r.PieceCount == 0 {
			return 0
		}
		placed := float64(r.PlacedCount) / float64(r.PieceCount)
		return placed*r.RollUtilization - 0.01*float64(len(r.Sheets))
	},
}

// Scorers lists the scoring functions selectable by name.
var Scorers = map[string]Scorer{
	ScoreUtilization.Name:  ScoreUtilization,
	ScoreSheetEconomy.Name: ScoreSheetEconomy,
}

// Comparator runs several strategies on the same request and ranks them.
type Comparator struct {
	Engine  *Engine
	Workers int
	Scorer  Scorer
	// TimeResolution quantises elapsed time before it is used as a
	// tie-break, so runs that differ only by scheduler noise tie.
	TimeResolution time.Duration
}

func NewComparator(e *Engine, workers int) *Comparator {
	return &Comparator{
		Engine:         e,
		Workers:        workers,
		Scorer:         ScoreUtilization,
		TimeResolution: time.Millisecond,
	}
}

// Compare runs every strategy in ids on its own copy of req. Duplicate ids
// run once and input order does not matter. A failing strategy is recorded
// in its entry and does not stop the others; only a cancelled context or an
// invalid request fails the whole comparison.
func (c *Comparator) Compare(ctx context.Context, req model.NestingRequest, ids []string) (model.ComparisonRun, error) {
	if err := Validate(req); err != nil {
		return model.ComparisonRun{}, err
	}
	names := dedupe(ids)
	scorer := c.Scorer
	if scorer.Score == nil {
		scorer = ScoreUtilization
	}

	entries := make([]model.ComparisonEntry, len(names))
	workers := c.Workers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			r := req.Clone()
			r.Strategy = name
			res, err := c.Engine.Run(ctx, r)
			entries[i] = model.ComparisonEntry{Strategy: name}
			if err != nil {
				entries[i].Error = err.Error()
				return
			}
			entries[i].Result = &res
			entries[i].Score = scorer.Score(res)
		}(i, name)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return model.ComparisonRun{}, err
	}

	run := model.ComparisonRun{
		ID:      uuid.New().String(),
		Request: req.Clone(),
		Scoring: scorer.Name,
	}
	run.Entries, run.Ranking, run.Ties, run.Winner = c.rank(entries)
	return run, nil
}

// rank orders entries by score descending, then quantised elapsed time
// ascending, then name. Entries equal on score and quantised time share a
// rank and are reported as a tie. Failed entries come last, unranked.
func (c *Comparator) rank(entries []model.ComparisonEntry) ([]model.ComparisonEntry, []string, [][]string, string) {
	res := c.TimeResolution
	if res <= 0 {
		res = time.Nanosecond
	}
	quant := func(e model.ComparisonEntry) int64 {
		return int64(e.Result.Elapsed / res)
	}
	same := func(a, b model.ComparisonEntry) bool {
		return math.Abs(a.Score-b.Score) <= 1e-9 && quant(a) == quant(b)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if (a.Result == nil) != (b.Result == nil) {
			return a.Result != nil
		}
		if a.Result == nil {
			return a.Strategy < b.Strategy
		}
		if math.Abs(a.Score-b.Score) > 1e-9 {
			return a.Score > b.Score
		}
		if qa, qb := quant(a), quant(b); qa != qb {
			return qa < qb
		}
		return a.Strategy < b.Strategy
	})

	var ranking []string
	var groups [][]string
	for i := range entries {
		if entries[i].Result == nil {
			continue
		}
		ranking = append(ranking, entries[i].Strategy)
		if i > 0 && same(entries[i-1], entries[i]) {
			entries[i].Rank = entries[i-1].Rank
			groups[len(groups)-1] = append(groups[len(groups)-1], entries[i].Strategy)
			continue
		}
		entries[i].Rank = i + 1
		groups = append(groups, []string{entries[i].Strategy})
	}

	var ties [][]string
	for _, g := range groups {
		if len(g) > 1 {
			ties = append(ties, g)
		}
	}
	winner := ""
	if len(groups) > 0 && len(groups[0]) == 1 {
		winner = groups[0][0]
	}
	return entries, ranking, ties, winner
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
