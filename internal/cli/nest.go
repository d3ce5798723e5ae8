package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/piwi3910/GangNest/internal/engine"
	"github.com/piwi3910/GangNest/internal/export"
	"github.com/piwi3910/GangNest/internal/importer"
	"github.com/piwi3910/GangNest/internal/model"
	"github.com/piwi3910/GangNest/internal/project"
	"github.com/piwi3910/GangNest/internal/telemetry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type nestOptions struct {
	width      float64
	margin     float64
	strategy   string
	seed       int64
	maxSheets  int
	maxLength  float64
	dxfMM      bool
	noSpill    bool
	pdfPath    string
	labelsPath string
	jobPath    string
	record     bool
	asJSON     bool
}

func newNestCmd(a *app) *cobra.Command {
	o := nestOptions{}
	cmd := &cobra.Command{
		Use:   "nest FILE",
		Short: "Nest an order file (CSV, Excel, DXF or a saved job) onto gang sheets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.nestRequest(args[0], cmd, o)
			if err != nil {
				return err
			}
			return a.nest(cmd.Context(), cmd.OutOrStdout(), req, o)
		},
	}
	f := cmd.Flags()
	f.Float64Var(&o.width, "width", 0, "Sheet width in inches (default first sheet preset)")
	f.Float64Var(&o.margin, "margin", 0, "Gap between pieces in inches (default from config)")
	f.StringVar(&o.strategy, "strategy", "", "Nesting strategy (default from config)")
	f.Int64Var(&o.seed, "seed", 0, "Seed for stochastic strategies")
	f.IntVar(&o.maxSheets, "max-sheets", 0, "Spillover sheet cap (default from config)")
	f.Float64Var(&o.maxLength, "max-length", 0, "Sheet length cap in inches, 0 for unbounded")
	f.BoolVar(&o.dxfMM, "dxf-mm", false, "Read DXF coordinates as millimetres")
	f.BoolVar(&o.noSpill, "no-spillover", false, "Keep everything on one sheet")
	f.StringVar(&o.pdfPath, "pdf", "", "Write a layout PDF")
	f.StringVar(&o.labelsPath, "labels", "", "Write a QR label sheet PDF")
	f.StringVar(&o.jobPath, "save-job", "", "Save the request and result as a job file")
	f.BoolVar(&o.record, "record", false, "Append the run to the telemetry log")
	f.BoolVar(&o.asJSON, "json", false, "Print the result as JSON")
	return cmd
}

// nestRequest builds the request from a saved job or an imported order
// file. Flags that were set explicitly override both.
func (a *app) nestRequest(path string, cmd *cobra.Command, o nestOptions) (model.NestingRequest, error) {
	var req model.NestingRequest
	if strings.EqualFold(filepath.Ext(path), ".json") {
		job, err := project.LoadJob(path)
		if err != nil {
			return req, err
		}
		req = job.Request
	} else {
		pieces, err := importPieces(path, o.dxfMM)
		if err != nil {
			return req, err
		}
		req = model.NestingRequest{Pieces: pieces, Margin: a.cfg.DefaultMargin}
	}

	flags := cmd.Flags()
	if flags.Changed("width") || req.SheetWidth == 0 {
		req.SheetWidth = o.width
	}
	if req.SheetWidth == 0 && len(a.cfg.SheetPresets) > 0 {
		req.SheetWidth = a.cfg.SheetPresets[0]
	}
	if flags.Changed("margin") {
		req.Margin = o.margin
	}
	if flags.Changed("strategy") {
		req.Strategy = o.strategy
	}
	if flags.Changed("seed") {
		req.Seed = o.seed
	}
	if flags.Changed("max-sheets") {
		req.MaxSheets = o.maxSheets
	}
	if flags.Changed("max-length") {
		req.MaxSheetLength = o.maxLength
	}
	if flags.Changed("no-spillover") {
		req.NoSpillover = o.noSpill
	}
	a.cfg.ApplyToRequest(&req)
	return req, nil
}

// importPieces reads an order file and fails on any row error.
func importPieces(path string, dxfMM bool) ([]model.Piece, error) {
	var res importer.ImportResult
	if dxfMM && strings.EqualFold(filepath.Ext(path), ".dxf") {
		res = importer.ImportDXFScaled(path, importer.MillimetresPerInch)
	} else {
		res = importer.ImportFile(path)
	}
	for _, w := range res.Warnings {
		logrus.WithField("file", path).Info(w)
	}
	if len(res.Errors) > 0 {
		return nil, errors.Errorf("import %s: %s", path, strings.Join(res.Errors, "; "))
	}
	if len(res.Pieces) == 0 {
		return nil, errors.Errorf("import %s: no pieces found", path)
	}
	return res.Pieces, nil
}

func (a *app) nest(ctx context.Context, out io.Writer, req model.NestingRequest, o nestOptions) error {
	result, err := a.engine().Run(ctx, req)
	if err != nil {
		return err
	}

	if o.record {
		sink := telemetry.NewFileSink(telemetry.DirFromEnv(a.cfg.Telemetry.Dir), a.cfg.Telemetry.Fixtures)
		rec := telemetry.NewRecorder(sink, a.cfg.Telemetry.QueueSize)
		rec.Record(ctx, model.ContextLive, req.SheetWidth, model.ImageRefs(req.Pieces), result)
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rec.Close(flushCtx); err != nil {
			logrus.WithError(err).Warn("telemetry flush incomplete")
		}
	}

	if o.pdfPath != "" {
		if err := export.ExportPDF(o.pdfPath, result); err != nil {
			return err
		}
		logrus.WithField("path", o.pdfPath).Info("layout written")
	}
	if o.labelsPath != "" {
		if err := export.ExportLabels(o.labelsPath, result); err != nil {
			return err
		}
		logrus.WithField("path", o.labelsPath).Info("labels written")
	}
	if o.jobPath != "" {
		if err := project.SaveJob(o.jobPath, project.NewJob(req, &result)); err != nil {
			return err
		}
		logrus.WithField("path", o.jobPath).Info("job saved")
	}

	if o.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return writeSummary(out, result, a.cfg.Pricing)
}

func writeSummary(out io.Writer, r model.NestingResult, pricing []model.Pricing) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Strategy:\t%s\n", r.Strategy)
	fmt.Fprintf(tw, "Sheet width:\t%g in\n", r.SheetWidth)
	fmt.Fprintf(tw, "Placed:\t%d / %d\n", r.PlacedCount, r.PieceCount)
	fmt.Fprintf(tw, "Total length:\t%.2f in\n", r.TotalLength)
	fmt.Fprintf(tw, "Utilization:\t%.1f%%\n", r.Utilization*100)
	fmt.Fprintf(tw, "Roll utilization:\t%.1f%%\n", r.RollUtilization*100)
	fmt.Fprintf(tw, "Elapsed:\t%s\n", r.Elapsed.Round(time.Microsecond))
	if r.Incomplete {
		fmt.Fprintf(tw, "Incomplete:\tsheet limit reached\n")
	}
	if p, ok := model.PricingFor(pricing, r.SheetWidth); ok {
		fmt.Fprintf(tw, "Estimated cost:\t$%.2f\n", model.EstimatePrint(r, p).MaterialCost)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "SHEET\tLENGTH\tUSED WIDTH\tPIECES\tUTIL")
	for _, s := range r.Sheets {
		fmt.Fprintf(tw, "%d\t%.2f\t%.2f\t%d\t%.1f%%\n", s.Index+1, s.Length, s.UsedWidth, len(s.Placements), s.Utilization()*100)
	}
	if len(r.Unplaced) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "UNPLACED\tINSTANCE\tREASON")
		for _, u := range r.Unplaced {
			name := u.Label
			if name == "" {
				name = u.PieceID
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\n", name, u.Instance, u.Reason)
		}
	}

	q := engine.Inspect(r, 0)
	if q.Bad {
		fmt.Fprintf(tw, "\nQuality issues:\t%s\n", strings.Join(q.Issues, ", "))
	}
	return tw.Flush()
}
