package report

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

func pct(v float64) string { return fmt.Sprintf("%.1f%%", v*100) }

// WriteMarkdown renders d as the performance report document.
func WriteMarkdown(w io.Writer, d Diagnostics) error {
	var b strings.Builder
	b.WriteString("# Nesting Algorithm Performance Report\n\n")
	if !d.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "Generated: %s\n\n", d.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	}

	b.WriteString("## Executive Summary\n\n")
	fmt.Fprintf(&b, "- **Runs:** %d\n", d.Runs)
	fmt.Fprintf(&b, "- **Average Utilization:** %s\n", pct(d.AvgUtilization))
	fmt.Fprintf(&b, "- **Unplaced Rate:** %s\n", pct(d.UnplacedRate))
	if d.Elapsed.Count > 0 {
		fmt.Fprintf(&b, "- **Elapsed:** p50 %s, p90 %s, p99 %s, max %s\n",
			d.Elapsed.P50, d.Elapsed.P90, d.Elapsed.P99, d.Elapsed.Max)
	}
	b.WriteString("\n")

	if len(d.Buckets) > 0 {
		b.WriteString("## Results by Strategy and Width\n\n")
		b.WriteString("| Strategy | Width | Runs | Avg | Min | Max | Unplaced | Failed runs | Avg length |\n")
		b.WriteString("|---|---|---|---|---|---|---|---|---|\n")
		for _, bk := range d.Buckets {
			fmt.Fprintf(&b, "| %s | %g\" | %d | %s | %s | %s | %s | %d | %.2f\" |\n",
				bk.Strategy, bk.SheetWidth, bk.Runs, pct(bk.AvgUtilization), pct(bk.MinUtilization),
				pct(bk.MaxUtilization), pct(bk.UnplacedRate), bk.FailedRuns, bk.AvgLength)
		}
		b.WriteString("\n")
	}

	if len(d.Regressions) > 0 {
		b.WriteString("## Regressions\n\n")
		b.WriteString("| Run | When | Strategy | Width | Utilization | Baseline | Drop |\n")
		b.WriteString("|---|---|---|---|---|---|---|\n")
		for _, r := range d.Regressions {
			fmt.Fprintf(&b, "| %s | %s | %s | %g\" | %s | %s | %.1f pts |\n",
				r.RunID, r.Timestamp.Format("2006-01-02 15:04"), r.Strategy, r.SheetWidth,
				pct(r.Utilization), pct(r.Baseline), r.Drop*100)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Recommendations\n\n")
	for _, rec := range d.Recommendations {
		fmt.Fprintf(&b, "- %s\n", rec)
	}

	_, err := io.WriteString(w, b.String())
	return errors.Wrap(err, "failed to write markdown report")
}

// WriteXLSX writes a workbook with Summary, Buckets and Regressions sheets.
func WriteXLSX(w io.Writer, d Diagnostics) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", "Summary"); err != nil {
		return errors.Wrap(err, "failed to name summary sheet")
	}
	summary := [][]interface{}{
		{"Metric", "Value"},
		{"Runs", d.Runs},
		{"Average utilization", d.AvgUtilization},
		{"Unplaced rate", d.UnplacedRate},
		{"Elapsed p50 (ms)", d.Elapsed.P50.Seconds() * 1000},
		{"Elapsed p90 (ms)", d.Elapsed.P90.Seconds() * 1000},
		{"Elapsed p99 (ms)", d.Elapsed.P99.Seconds() * 1000},
		{"Elapsed max (ms)", d.Elapsed.Max.Seconds() * 1000},
	}
	for _, rec := range d.Recommendations {
		summary = append(summary, []interface{}{"Recommendation", rec})
	}
	if err := writeRows(f, "Summary", summary); err != nil {
		return err
	}

	buckets := [][]interface{}{{"Strategy", "Width", "Runs", "Avg utilization", "Min", "Max", "Unplaced rate", "Failed runs", "Avg length", "Avg sheets"}}
	for _, b := range d.Buckets {
		buckets = append(buckets, []interface{}{b.Strategy, b.SheetWidth, b.Runs, b.AvgUtilization,
			b.MinUtilization, b.MaxUtilization, b.UnplacedRate, b.FailedRuns, b.AvgLength, b.AvgSheets})
	}
	if _, err := f.NewSheet("Buckets"); err != nil {
		return errors.Wrap(err, "failed to add buckets sheet")
	}
	if err := writeRows(f, "Buckets", buckets); err != nil {
		return err
	}

	regs := [][]interface{}{{"Run", "Timestamp", "Context", "Strategy", "Width", "Utilization", "Baseline", "Drop"}}
	for _, r := range d.Regressions {
		regs = append(regs, []interface{}{r.RunID, r.Timestamp.Format("2006-01-02 15:04:05"), r.Context,
			r.Strategy, r.SheetWidth, r.Utilization, r.Baseline, r.Drop})
	}
	if _, err := f.NewSheet("Regressions"); err != nil {
		return errors.Wrap(err, "failed to add regressions sheet")
	}
	if err := writeRows(f, "Regressions", regs); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return errors.Wrap(err, "failed to write workbook")
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return errors.Wrap(err, "bad cell coordinates")
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return errors.Wrapf(err, "failed to write %s row %d", sheet, i+1)
		}
	}
	return nil
}

// WriteHTML renders utilization and elapsed charts as a standalone page.
func WriteHTML(w io.Writer, d Diagnostics) error {
	labels := make([]string, 0, len(d.Buckets))
	avg := make([]opts.BarData, 0, len(d.Buckets))
	low := make([]opts.BarData, 0, len(d.Buckets))
	unplaced := make([]opts.BarData, 0, len(d.Buckets))
	for _, b := range d.Buckets {
		labels = append(labels, fmt.Sprintf("%s %g\"", b.Strategy, b.SheetWidth))
		avg = append(avg, opts.BarData{Value: round3(b.AvgUtilization * 100)})
		low = append(low, opts.BarData{Value: round3(b.MinUtilization * 100)})
		unplaced = append(unplaced, opts.BarData{Value: round3(b.UnplacedRate * 100)})
	}

	util := charts.NewBar()
	util.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Nesting diagnostics"}),
		charts.WithTitleOpts(opts.Title{Title: "Utilization by strategy and width", Subtitle: fmt.Sprintf("%d runs", d.Runs)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "%", Min: 0, Max: 100}),
	)
	util.SetXAxis(labels).
		AddSeries("average", avg).
		AddSeries("minimum", low).
		AddSeries("unplaced", unplaced)

	elapsed := charts.NewBar()
	elapsed.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Elapsed time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	ms := func(v interface{ Seconds() float64 }) opts.BarData {
		return opts.BarData{Value: round3(v.Seconds() * 1000)}
	}
	elapsed.SetXAxis([]string{"min", "p50", "p90", "p99", "max", "mean"}).
		AddSeries("elapsed", []opts.BarData{
			ms(d.Elapsed.Min), ms(d.Elapsed.P50), ms(d.Elapsed.P90),
			ms(d.Elapsed.P99), ms(d.Elapsed.Max), ms(d.Elapsed.Mean),
		})

	page := components.NewPage()
	page.AddCharts(util, elapsed)

	if len(d.Regressions) > 0 {
		names := make([]string, 0, len(d.Regressions))
		drops := make([]opts.BarData, 0, len(d.Regressions))
		for _, r := range d.Regressions {
			names = append(names, r.RunID)
			drops = append(drops, opts.BarData{Value: round3(r.Drop * 100)})
		}
		reg := charts.NewBar()
		reg.SetGlobalOptions(
			charts.WithTitleOpts(opts.Title{Title: "Regressions", Subtitle: "utilization drop against baseline"}),
			charts.WithYAxisOpts(opts.YAxis{Name: "points"}),
		)
		reg.SetXAxis(names).AddSeries("drop", drops)
		page.AddCharts(reg)
	}

	if err := page.Render(w); err != nil {
		return errors.Wrap(err, "failed to render charts")
	}
	return nil
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
