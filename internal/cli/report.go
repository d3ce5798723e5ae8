package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/piwi3910/GangNest/internal/model"
	"github.com/piwi3910/GangNest/internal/report"
	"github.com/piwi3910/GangNest/internal/telemetry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type reportOptions struct {
	format   string
	out      string
	context  string
	strategy string
	width    float64
	since    string
	until    string
	limit    int
}

func newReportCmd(a *app) *cobra.Command {
	o := reportOptions{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise recorded runs and flag utilization regressions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.report(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.format, "format", "", "Output format: md, xlsx, html or json (default from --out extension, else md)")
	f.StringVarP(&o.out, "out", "o", "", "Write the report to a file instead of stdout")
	f.StringVar(&o.context, "context", "", "Only runs from this context (live, tester)")
	f.StringVar(&o.strategy, "strategy", "", "Only runs of this strategy")
	f.Float64Var(&o.width, "width", 0, "Only runs at this sheet width")
	f.StringVar(&o.since, "since", "", "Only runs at or after this time (RFC 3339 or a duration such as 24h)")
	f.StringVar(&o.until, "until", "", "Only runs before this time (RFC 3339 or a duration such as 1h)")
	f.IntVar(&o.limit, "limit", 0, "Only the most recent N runs")
	return cmd
}

func (a *app) report(ctx context.Context, out io.Writer, o reportOptions) error {
	filter, err := o.filter(time.Now())
	if err != nil {
		return err
	}
	format, err := reportFormat(o.format, o.out)
	if err != nil {
		return err
	}

	dir := telemetry.DirFromEnv(a.cfg.Telemetry.Dir)
	rp := report.New(telemetry.NewFileSink(dir, false), a.cfg.Report.Window, a.cfg.Report.Threshold)
	d, err := rp.Report(ctx, filter)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"runs": d.Runs, "regressions": len(d.Regressions)}).Debug("report built")

	var buf bytes.Buffer
	switch format {
	case "md":
		err = report.WriteMarkdown(&buf, d)
	case "xlsx":
		err = report.WriteXLSX(&buf, d)
	case "html":
		err = report.WriteHTML(&buf, d)
	case "json":
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		err = enc.Encode(d)
	}
	if err != nil {
		return err
	}

	if o.out == "" {
		_, err = out.Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(o.out, buf.Bytes(), 0644); err != nil {
		return errors.Wrap(err, "failed to write report")
	}
	logrus.WithField("path", o.out).Info("report written")
	return nil
}

// reportFormat resolves the output format from the flag or the file extension.
func reportFormat(format, out string) (string, error) {
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(out), ".")
	}
	switch strings.ToLower(format) {
	case "", "md", "markdown":
		return "md", nil
	case "xlsx":
		return "xlsx", nil
	case "html", "htm":
		return "html", nil
	case "json":
		return "json", nil
	}
	return "", errors.Errorf("unknown report format %q", format)
}

func (o reportOptions) filter(now time.Time) (model.RecordFilter, error) {
	f := model.RecordFilter{
		Context:    o.context,
		Strategy:   o.strategy,
		SheetWidth: o.width,
		Limit:      o.limit,
	}
	if o.width < 0 {
		return f, errors.Errorf("invalid width %g", o.width)
	}
	if o.limit < 0 {
		return f, errors.Errorf("invalid limit %d", o.limit)
	}
	var err error
	if f.Since, err = parseInstant(o.since, now); err != nil {
		return f, errors.Wrap(err, "since")
	}
	if f.Until, err = parseInstant(o.until, now); err != nil {
		return f, errors.Wrap(err, "until")
	}
	return f, nil
}

// parseInstant accepts an RFC 3339 time or a duration counted back from now.
func parseInstant(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return time.Time{}, errors.Errorf("invalid time %q, want RFC 3339 or a duration", v)
	}
	return now.Add(-d), nil
}
