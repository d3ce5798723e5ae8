// Package report turns recorded nesting runs into diagnostics: per strategy
// and sheet width averages, failure rates, elapsed time distribution and
// utilization regressions.
package report

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/piwi3910/GangNest/internal/engine"
	"github.com/piwi3910/GangNest/internal/model"
	"github.com/piwi3910/GangNest/internal/telemetry"
	"github.com/pkg/errors"
)

const (
	// TargetUtilization is the average below which a width is flagged.
	TargetUtilization = 0.85
	// LowUtilization marks individual buckets as poor.
	LowUtilization = 0.75
	// GoodUtilization marks buckets worth using as reference.
	GoodUtilization = 0.90

	DefaultWindow    = 10
	DefaultThreshold = 0.05
)

// Bucket aggregates the runs of one strategy at one sheet width.
type Bucket struct {
	Strategy       string  `json:"strategy"`
	SheetWidth     float64 `json:"sheetWidth"`
	Runs           int     `json:"runs"`
	AvgUtilization float64 `json:"avgUtilization"`
	MinUtilization float64 `json:"minUtilization"`
	MaxUtilization float64 `json:"maxUtilization"`
	UnplacedRate   float64 `json:"unplacedRate"` // unplaced instances / requested instances
	FailedRuns     int     `json:"failedRuns"`   // runs that left any piece unplaced
	AvgLength      float64 `json:"avgLength"`
	AvgSheets      float64 `json:"avgSheets"`
}

// ElapsedStats summarises strategy run times.
type ElapsedStats struct {
	Count int           `json:"count"`
	Min   time.Duration `json:"min"`
	P50   time.Duration `json:"p50"`
	P90   time.Duration `json:"p90"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
}

// Regression is a run whose utilization fell below its bucket's rolling
// baseline by more than the threshold.
type Regression struct {
	RunID       string    `json:"runId"`
	Timestamp   time.Time `json:"timestamp"`
	Context     string    `json:"context"`
	Strategy    string    `json:"strategy"`
	SheetWidth  float64   `json:"sheetWidth"`
	Utilization float64   `json:"utilization"`
	Baseline    float64   `json:"baseline"`
	Drop        float64   `json:"drop"`
}

// Diagnostics is the reporter's read model.
type Diagnostics struct {
	GeneratedAt     time.Time          `json:"generatedAt"`
	Filter          model.RecordFilter `json:"filter"`
	Runs            int                `json:"runs"`
	AvgUtilization  float64            `json:"avgUtilization"`
	UnplacedRate    float64            `json:"unplacedRate"`
	Buckets         []Bucket           `json:"buckets"`
	Elapsed         ElapsedStats       `json:"elapsed"`
	Regressions     []Regression       `json:"regressions"`
	Recommendations []string           `json:"recommendations"`
}

// Reporter reads telemetry and builds diagnostics. It never writes.
type Reporter struct {
	Source    telemetry.Source
	Window    int     // runs in the rolling baseline
	Threshold float64 // utilization drop that counts as a regression

	now func() time.Time
}

func New(src telemetry.Source, window int, threshold float64) *Reporter {
	return &Reporter{Source: src, Window: window, Threshold: threshold, now: time.Now}
}

// Report loads the records matching f and analyses them.
func (r *Reporter) Report(ctx context.Context, f model.RecordFilter) (Diagnostics, error) {
	records, err := r.Source.Records(ctx, f)
	if err != nil {
		return Diagnostics{}, errors.Wrap(err, "failed to load telemetry")
	}
	d := Analyze(records, r.Window, r.Threshold)
	d.Filter = f
	if r.now != nil {
		d.GeneratedAt = r.now().UTC()
	}
	return d, nil
}

// Analyze computes diagnostics over records. A zero window or a negative
// threshold falls back to the default; a zero threshold flags any drop.
func Analyze(records []model.TelemetryRecord, window int, threshold float64) Diagnostics {
	if window <= 0 {
		window = DefaultWindow
	}
	if threshold < 0 || math.IsNaN(threshold) {
		threshold = DefaultThreshold
	}
	d := Diagnostics{
		Runs:            len(records),
		Buckets:         []Bucket{},
		Regressions:     []Regression{},
		Recommendations: []string{},
	}
	if len(records) == 0 {
		d.Recommendations = append(d.Recommendations, "No runs recorded for this filter.")
		return d
	}

	var utilSum float64
	var requested, unplaced int
	for _, rec := range records {
		utilSum += rec.Result.Utilization
		requested += rec.Result.PieceCount
		unplaced += len(rec.Result.Unplaced)
	}
	d.AvgUtilization = utilSum / float64(len(records))
	d.UnplacedRate = rate(unplaced, requested)

	d.Buckets = buckets(records)
	d.Elapsed = elapsedStats(records)
	d.Regressions = regressions(records, window, threshold)
	d.Recommendations = recommend(d)
	return d
}

type bucketKey struct {
	strategy string
	width    float64
}

func groupByBucket(records []model.TelemetryRecord) (map[bucketKey][]model.TelemetryRecord, []bucketKey) {
	groups := make(map[bucketKey][]model.TelemetryRecord)
	var keys []bucketKey
	for _, rec := range records {
		k := bucketKey{rec.Result.Strategy, rec.SheetWidth}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], rec)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].width != keys[j].width {
			return keys[i].width < keys[j].width
		}
		return keys[i].strategy < keys[j].strategy
	})
	return groups, keys
}

func buckets(records []model.TelemetryRecord) []Bucket {
	groups, keys := groupByBucket(records)
	out := make([]Bucket, 0, len(keys))
	for _, k := range keys {
		recs := groups[k]
		b := Bucket{
			Strategy:       k.strategy,
			SheetWidth:     k.width,
			Runs:           len(recs),
			MinUtilization: math.Inf(1),
		}
		var util, length, sheets float64
		var requested, unplaced int
		for _, rec := range recs {
			u := rec.Result.Utilization
			util += u
			b.MinUtilization = math.Min(b.MinUtilization, u)
			b.MaxUtilization = math.Max(b.MaxUtilization, u)
			length += rec.Result.TotalLength
			sheets += float64(len(rec.Result.Sheets))
			requested += rec.Result.PieceCount
			unplaced += len(rec.Result.Unplaced)
			if len(rec.Result.Unplaced) > 0 {
				b.FailedRuns++
			}
		}
		n := float64(len(recs))
		b.AvgUtilization = util / n
		b.AvgLength = length / n
		b.AvgSheets = sheets / n
		b.UnplacedRate = rate(unplaced, requested)
		out = append(out, b)
	}
	return out
}

func elapsedStats(records []model.TelemetryRecord) ElapsedStats {
	ds := make([]time.Duration, 0, len(records))
	var sum time.Duration
	for _, rec := range records {
		ds = append(ds, rec.Result.Elapsed)
		sum += rec.Result.Elapsed
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })
	return ElapsedStats{
		Count: len(ds),
		Min:   ds[0],
		P50:   percentile(ds, 0.50),
		P90:   percentile(ds, 0.90),
		P99:   percentile(ds, 0.99),
		Max:   ds[len(ds)-1],
		Mean:  sum / time.Duration(len(ds)),
	}
}

// percentile is the nearest-rank percentile of sorted durations.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// minBaseline is the fewest earlier runs a baseline is computed from.
const minBaseline = 3

func regressions(records []model.TelemetryRecord, window int, threshold float64) []Regression {
	groups, keys := groupByBucket(records)
	need := minBaseline
	if window < need {
		need = window
	}
	out := []Regression{}
	for _, k := range keys {
		recs := groups[k]
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp.Before(recs[j].Timestamp) })
		for i := need; i < len(recs); i++ {
			start := i - window
			if start < 0 {
				start = 0
			}
			var sum float64
			for _, prev := range recs[start:i] {
				sum += prev.Result.Utilization
			}
			baseline := sum / float64(i-start)
			u := recs[i].Result.Utilization
			// Averaging equal runs is not exact; ignore rounding drift.
			if baseline-u > threshold+1e-9 {
				out = append(out, Regression{
					RunID:       recs[i].RunID,
					Timestamp:   recs[i].Timestamp,
					Context:     recs[i].Context,
					Strategy:    k.strategy,
					SheetWidth:  k.width,
					Utilization: u,
					Baseline:    baseline,
					Drop:        baseline - u,
				})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if math.Abs(out[i].Drop-out[j].Drop) > 1e-12 {
			return out[i].Drop > out[j].Drop
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func recommend(d Diagnostics) []string {
	var recs []string

	widths := map[float64][]Bucket{}
	var order []float64
	for _, b := range d.Buckets {
		if _, ok := widths[b.SheetWidth]; !ok {
			order = append(order, b.SheetWidth)
		}
		widths[b.SheetWidth] = append(widths[b.SheetWidth], b)
	}

	for _, w := range order {
		bs := widths[w]
		var util float64
		var runs int
		best := bs[0]
		for _, b := range bs {
			util += b.AvgUtilization * float64(b.Runs)
			runs += b.Runs
			if b.AvgUtilization > best.AvgUtilization {
				best = b
			}
		}
		avg := util / float64(runs)
		if avg < TargetUtilization {
			recs = append(recs, fmt.Sprintf("%g\" sheets average %.1f%% utilization, below %.0f%%: review rotation sets and margin.",
				w, avg*100, TargetUtilization*100))
		}
		if len(bs) > 1 {
			recs = append(recs, fmt.Sprintf("Best strategy on %g\" sheets: %s (%.1f%% average).", w, best.Strategy, best.AvgUtilization*100))
		}
	}

	for _, b := range d.Buckets {
		if b.FailedRuns > 0 {
			recs = append(recs, fmt.Sprintf("%s on %g\": %d of %d runs left pieces unplaced; reject oversized pieces before nesting.",
				b.Strategy, b.SheetWidth, b.FailedRuns, b.Runs))
		}
	}
	for _, b := range d.Buckets {
		switch {
		case b.AvgUtilization < LowUtilization:
			recs = append(recs, fmt.Sprintf("%s on %g\" is low at %.1f%%: try another strategy or a tighter margin.",
				b.Strategy, b.SheetWidth, b.AvgUtilization*100))
		case b.AvgUtilization >= GoodUtilization && b.FailedRuns == 0:
			recs = append(recs, fmt.Sprintf("%s on %g\" performs well at %.1f%%; use it as reference.",
				b.Strategy, b.SheetWidth, b.AvgUtilization*100))
		}
	}
	if n := len(d.Regressions); n > 0 {
		worst := d.Regressions[0]
		recs = append(recs, fmt.Sprintf("%d runs regressed against their baseline; worst is %s on %g\" (-%.1f points).",
			n, worst.Strategy, worst.SheetWidth, worst.Drop*100))
	}
	if recs == nil {
		recs = []string{}
	}
	return recs
}

// FromCorpus converts tester comparisons into records so they can be
// analysed like production telemetry. Failed entries are skipped.
func FromCorpus(results []engine.CorpusResult, at time.Time) []model.TelemetryRecord {
	var out []model.TelemetryRecord
	for _, cr := range results {
		for _, e := range cr.Run.Entries {
			if e.Result == nil {
				continue
			}
			out = append(out, model.TelemetryRecord{
				RunID:      fmt.Sprintf("%s/%s/%g", cr.Scenario, e.Strategy, cr.SheetWidth),
				Timestamp:  at,
				Context:    model.ContextTester,
				SheetWidth: cr.SheetWidth,
				Images:     model.ImageRefs(cr.Run.Request.Pieces),
				Result:     *e.Result,
			})
		}
	}
	return out
}

func rate(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(n) / float64(total)
}
