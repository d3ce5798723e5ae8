package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/piwi3910/GangNest/internal/model"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newEstimateCmd(a *app) *cobra.Command {
	var (
		width, margin, waste float64
		dxfMM, asJSON        bool
	)
	cmd := &cobra.Command{
		Use:   "estimate FILE",
		Short: "Estimate the film an order needs without nesting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pieces, err := importPieces(args[0], dxfMM)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("margin") {
				margin = a.cfg.DefaultMargin
			}
			if width == 0 && len(a.cfg.SheetPresets) > 0 {
				width = a.cfg.SheetPresets[0]
			}
			if width <= 0 || margin < 0 || waste < 0 {
				return errors.Errorf("width must be positive and margin/waste non-negative")
			}
			est := model.EstimateFilm(pieces, width, margin, waste)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(est)
			}
			return writeEstimate(cmd.OutOrStdout(), est)
		},
	}
	f := cmd.Flags()
	f.Float64Var(&width, "width", 0, "Sheet width in inches (default first sheet preset)")
	f.Float64Var(&margin, "margin", 0, "Gap between pieces in inches (default from config)")
	f.Float64Var(&waste, "waste", 15, "Waste allowance in percent")
	f.BoolVar(&dxfMM, "dxf-mm", false, "Read DXF coordinates as millimetres")
	f.BoolVar(&asJSON, "json", false, "Print the estimate as JSON")
	return cmd
}

func writeEstimate(out io.Writer, est model.FilmEstimate) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Sheet width:\t%g in\n", est.SheetWidth)
	fmt.Fprintf(tw, "Padded area:\t%.2f sq in\n", est.PaddedArea)
	fmt.Fprintf(tw, "Minimum length:\t%.2f in\n", est.MinLength)
	fmt.Fprintf(tw, "With %g%% waste:\t%.2f in\n", est.WastePercent, est.LengthWithWaste)
	if len(est.TooWide) > 0 {
		fmt.Fprintf(tw, "Too wide:\t%s\n", strings.Join(est.TooWide, ", "))
	}
	return tw.Flush()
}
