package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/piwi3910/GangNest/internal/report"
	"github.com/piwi3910/GangNest/internal/server"
	"github.com/piwi3910/GangNest/internal/telemetry"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the nesting API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = a.cfg.Listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from config)")
	return cmd
}

func (a *app) serve(ctx context.Context, listen string) error {
	var sink interface {
		telemetry.Sink
		telemetry.Source
	}
	dir := telemetry.DirFromEnv(a.cfg.Telemetry.Dir)
	if dir == "" {
		sink = telemetry.NewMemorySink()
		dir = "(memory)"
	} else {
		sink = telemetry.NewFileSink(dir, a.cfg.Telemetry.Fixtures)
	}
	rec := telemetry.NewRecorder(sink, a.cfg.Telemetry.QueueSize)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rec.Close(flushCtx); err != nil {
			logrus.WithError(err).Warn("telemetry flush incomplete")
		}
		if n := rec.Dropped(); n > 0 {
			logrus.WithField("dropped", n).Warn("telemetry records dropped")
		}
	}()

	e := a.engine()
	srv := server.New(a.cfg, e, a.comparator(e), rec, report.New(sink, a.cfg.Report.Window, a.cfg.Report.Threshold))
	logrus.WithFields(logrus.Fields{
		"telemetry": dir,
		"strategy":  a.cfg.DefaultStrategy,
	}).Info("starting gangnest")
	return srv.Run(ctx, listen)
}
