// Package cli wires the gangnest command tree: the HTTP service, one-off
// nesting of an order file, the algorithm tester and the diagnostics report.
package cli

import (
	"fmt"

	"github.com/piwi3910/GangNest/internal/engine"
	"github.com/piwi3910/GangNest/internal/model"
	"github.com/piwi3910/GangNest/internal/project"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// app carries the flags shared by every subcommand and the config they load.
type app struct {
	configPath string // --config, empty means project.DefaultConfigPath()
	logLevel   string // --log-level, empty means the config file's level
	cfg        model.AppConfig
}

// NewRootCmd builds a fresh command tree. Tests build their own so flag state
// never leaks between runs.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "gangnest",
		Short:         "Gang-sheet nesting engine for DTF print rolls",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default $GANGNEST_CONFIG or ~/.gangnest/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(a),
		newNestCmd(a),
		newCompareCmd(a),
		newReportCmd(a),
		newEstimateCmd(a),
		newStrategiesCmd(),
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func (a *app) load() error {
	path := a.configPath
	if path == "" {
		path = project.DefaultConfigPath()
	}
	cfg, err := project.LoadAppConfig(path)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := a.logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Errorf("invalid log level: %s", level)
	}
	logrus.SetLevel(lvl)
	logrus.WithField("config", path).Debug("config loaded")
	return nil
}

// engine builds an engine over every registered strategy.
func (a *app) engine() *engine.Engine {
	return engine.New(engine.DefaultRegistry(), a.cfg.Engine)
}

func (a *app) comparator(e *engine.Engine) *engine.Comparator {
	c := engine.NewComparator(e, a.cfg.Compare.Workers)
	if a.cfg.Compare.TimeResolution > 0 {
		c.TimeResolution = a.cfg.Compare.TimeResolution
	}
	return c
}

func newStrategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List the registered nesting strategies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range engine.DefaultRegistry().Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
