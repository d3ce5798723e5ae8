package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/piwi3910/GangNest/internal/engine"
	"github.com/piwi3910/GangNest/internal/project"
	"github.com/piwi3910/GangNest/internal/report"
	"github.com/piwi3910/GangNest/internal/telemetry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type compareOptions struct {
	scenarios  string
	fixtures   bool
	export     string
	strategies []string
	widths     []float64
	margin     float64
	seed       int64
	scoring    string
	record     bool
	asJSON     bool
}

func newCompareCmd(a *app) *cobra.Command {
	o := compareOptions{}
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run the algorithm tester over a scenario corpus",
		Long: "Compare nesting strategies on every scenario at every sheet width.\n" +
			"The corpus is the built-in one unless --scenarios or --fixtures is given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("margin") {
				o.margin = a.cfg.DefaultMargin
			}
			file, err := a.corpus(o)
			if err != nil {
				return err
			}
			if o.export != "" {
				if err := project.SaveScenarios(o.export, file); err != nil {
					return err
				}
				logrus.WithField("path", o.export).Info("scenarios saved")
			}
			return a.compare(cmd.Context(), cmd.OutOrStdout(), file, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.scenarios, "scenarios", "", "YAML scenario corpus")
	f.BoolVar(&o.fixtures, "fixtures", false, "Build the corpus from recorded telemetry fixtures")
	f.StringVar(&o.export, "export-scenarios", "", "Save the corpus in use as YAML")
	f.StringSliceVar(&o.strategies, "strategies", nil, "Strategies to compare (default from config)")
	f.Float64SliceVar(&o.widths, "widths", nil, "Sheet widths in inches (default the corpus widths or sheet presets)")
	f.Float64Var(&o.margin, "margin", 0, "Gap between pieces in inches (default from config)")
	f.Int64Var(&o.seed, "seed", 42, "Seed for the built-in corpus")
	f.StringVar(&o.scoring, "scoring", engine.ScoreUtilization.Name, "Scoring function (utilization, economy)")
	f.BoolVar(&o.record, "record", false, "Append every result to the telemetry log as tester runs")
	f.BoolVar(&o.asJSON, "json", false, "Print the corpus results as JSON")
	return cmd
}

// corpus picks the scenario source and resolves the widths to run at.
func (a *app) corpus(o compareOptions) (project.ScenarioFile, error) {
	var file project.ScenarioFile
	switch {
	case o.scenarios != "" && o.fixtures:
		return file, errors.New("--scenarios and --fixtures are mutually exclusive")
	case o.scenarios != "":
		loaded, err := project.LoadScenarios(o.scenarios)
		if err != nil {
			return file, err
		}
		file = loaded
	case o.fixtures:
		dir := telemetry.DirFromEnv(a.cfg.Telemetry.Dir)
		fixtures, err := telemetry.NewFileSink(dir, true).LoadFixtures()
		if err != nil {
			return file, err
		}
		if len(fixtures) == 0 {
			return file, errors.Errorf("no fixtures recorded under %s", dir)
		}
		file = project.ScenariosFromFixtures(fixtures)
	default:
		file.Scenarios = engine.DefaultScenarios(o.seed)
	}

	if len(o.widths) > 0 {
		file.Widths = o.widths
	}
	if len(file.Widths) == 0 {
		file.Widths = append(file.Widths, a.cfg.SheetPresets...)
	}
	if err := file.Validate(); err != nil {
		return file, err
	}
	return file, nil
}

func (a *app) compare(ctx context.Context, out io.Writer, file project.ScenarioFile, o compareOptions) error {
	ids := o.strategies
	if len(ids) == 0 {
		ids = a.cfg.Compare.Strategies
	}
	c := a.comparator(a.engine())
	if o.scoring != "" {
		scorer, ok := engine.Scorers[o.scoring]
		if !ok {
			return errors.Errorf("unknown scoring %q", o.scoring)
		}
		c.Scorer = scorer
	}

	start := time.Now()
	results, err := c.CompareCorpus(ctx, file.Scenarios, file.Widths, o.margin, ids)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"scenarios": len(file.Scenarios),
		"widths":    len(file.Widths),
		"elapsed":   time.Since(start),
	}).Info("corpus compared")

	if o.record {
		if err := a.recordCorpus(results); err != nil {
			return err
		}
	}

	if o.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	return writeCorpus(out, results, ids)
}

// recordCorpus appends tester runs to the file sink synchronously.
func (a *app) recordCorpus(results []engine.CorpusResult) error {
	sink := telemetry.NewFileSink(telemetry.DirFromEnv(a.cfg.Telemetry.Dir), a.cfg.Telemetry.Fixtures)
	records := report.FromCorpus(results, time.Now().UTC())
	for _, rec := range records {
		if err := sink.Append(context.Background(), rec); err != nil {
			return errors.Wrap(err, "failed to record tester run")
		}
	}
	logrus.WithFields(logrus.Fields{"records": len(records), "path": sink.Path()}).Info("tester runs recorded")
	return nil
}

func writeCorpus(out io.Writer, results []engine.CorpusResult, ids []string) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "SCENARIO\tWIDTH\t%s\tWINNER\n", strings.ToUpper(strings.Join(ids, "\t")))

	wins := make(map[string]int)
	for _, cr := range results {
		cells := make([]string, len(ids))
		for i, id := range ids {
			e, ok := cr.Run.Entry(id)
			switch {
			case !ok:
				cells[i] = "-"
			case e.Error != "" || e.Result == nil:
				cells[i] = "error"
			default:
				cells[i] = fmt.Sprintf("#%d %.1f%%", e.Rank, e.Result.Utilization*100)
			}
		}
		winner := cr.Run.Winner
		if winner == "" {
			winner = "tie"
		} else {
			wins[winner]++
		}
		fmt.Fprintf(tw, "%s\t%g\t%s\t%s\n", cr.Scenario, cr.SheetWidth, strings.Join(cells, "\t"), winner)
	}

	fmt.Fprintln(tw)
	for _, id := range ids {
		fmt.Fprintf(tw, "%s wins:\t%d\n", id, wins[id])
	}
	return tw.Flush()
}
