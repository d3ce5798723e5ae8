// Package export renders nesting results for production: a 1:1 PDF proof of
// each gang sheet and QR-coded piece labels.
package export

import (
	"fmt"
	"io"
	"math"

	"github.com/go-pdf/fpdf"
	"github.com/piwi3910/GangNest/internal/model"
	"github.com/pkg/errors"
)

// pieceColor represents an RGB fill for a placed piece.
type pieceColor struct {
	R, G, B int
}

var pieceColors = []pieceColor{
	{R: 76, G: 175, B: 80},  // green
	{R: 33, G: 150, B: 243}, // blue
	{R: 255, G: 152, B: 0},  // orange
	{R: 156, G: 39, B: 176}, // purple
	{R: 0, G: 188, B: 212},  // cyan
	{R: 244, G: 67, B: 54},  // red
	{R: 255, G: 235, B: 59}, // yellow
	{R: 121, G: 85, B: 72},  // brown
}

// Sheet pages are sized to the sheet itself, in inches.
const (
	pageBorder   = 0.5
	headerHeight = 0.9
	rulerTick    = 0.12

	// summary page, US Letter portrait
	summaryWidth  = 8.5
	summaryHeight = 11.0
	summaryMargin = 0.6
)

// ErrNothingToExport is returned when a result has no placed pieces.
var ErrNothingToExport = errors.New("no sheets to export")

// ExportPDF writes the proof PDF for result to path.
func ExportPDF(path string, result model.NestingResult) error {
	pdf, err := buildPDF(result)
	if err != nil {
		return err
	}
	return errors.Wrapf(pdf.OutputFileAndClose(path), "failed to write %s", path)
}

// WritePDF writes the proof PDF for result to w.
func WritePDF(w io.Writer, result model.NestingResult) error {
	pdf, err := buildPDF(result)
	if err != nil {
		return err
	}
	return errors.Wrap(pdf.Output(w), "failed to write pdf")
}

// buildPDF renders one page per sheet at 1:1 scale followed by a summary
// page.
func buildPDF(result model.NestingResult) (*fpdf.Fpdf, error) {
	if len(result.Sheets) == 0 {
		return nil, ErrNothingToExport
	}

	pdf := fpdf.NewCustom(&fpdf.InitType{OrientationStr: "P", UnitStr: "in", SizeStr: "Letter"})
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(fmt.Sprintf("Gang sheets %g in (%s)", result.SheetWidth, result.Strategy), true)

	for _, sheet := range result.Sheets {
		pdf.AddPageFormat("P", fpdf.SizeType{
			Wd: sheet.Width + 2*pageBorder,
			Ht: sheet.Length + headerHeight + 2*pageBorder,
		})
		renderSheetPage(pdf, sheet, len(result.Sheets))
	}

	pdf.AddPageFormat("P", fpdf.SizeType{Wd: summaryWidth, Ht: summaryHeight})
	renderSummaryPage(pdf, result)

	if err := pdf.Error(); err != nil {
		return nil, errors.Wrap(err, "failed to render pdf")
	}
	return pdf, nil
}

// renderSheetPage draws a single gang sheet on the current page.
func renderSheetPage(pdf *fpdf.Fpdf, sheet model.Sheet, total int) {
	pageW := sheet.Width + 2*pageBorder

	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetXY(pageBorder, pageBorder)
	title := fmt.Sprintf("Sheet %d of %d: %g\" x %.2f\"", sheet.Index+1, total, sheet.Width, sheet.Length)
	pdf.CellFormat(pageW-2*pageBorder, 0.3, title, "", 0, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	pdf.SetXY(pageBorder, pageBorder+0.35)
	stats := fmt.Sprintf("Pieces: %d | Used width: %.2f\" | Utilization: %.1f%%",
		len(sheet.Placements), sheet.UsedWidth, sheet.Utilization()*100)
	pdf.CellFormat(pageW-2*pageBorder, 0.2, stats, "", 0, "L", false, 0, "")

	ox := pageBorder
	oy := pageBorder + headerHeight

	pdf.SetFillColor(250, 250, 250)
	pdf.SetDrawColor(100, 100, 100)
	pdf.SetLineWidth(0.01)
	pdf.Rect(ox, oy, sheet.Width, sheet.Length, "FD")

	drawRuler(pdf, sheet, ox, oy)

	for i, p := range sheet.Placements {
		col := pieceColors[i%len(pieceColors)]
		pdf.SetFillColor(col.R, col.G, col.B)
		pdf.SetDrawColor(30, 30, 30)
		pdf.SetLineWidth(0.01)

		poly := p.Polygon()
		pts := make([]fpdf.PointType, len(poly))
		for j, pt := range poly {
			pts[j] = fpdf.PointType{X: ox + pt.X, Y: oy + pt.Y}
		}
		pdf.Polygon(pts, "FD")

		drawPieceLabel(pdf, p, ox+p.X, oy+p.Y)
	}
	pdf.SetTextColor(0, 0, 0)
}

// drawRuler marks every inch along the top and left sheet edges.
func drawRuler(pdf *fpdf.Fpdf, sheet model.Sheet, ox, oy float64) {
	pdf.SetDrawColor(80, 80, 80)
	pdf.SetLineWidth(0.005)
	pdf.SetFont("Helvetica", "", 5)
	pdf.SetTextColor(80, 80, 80)

	for x := 0.0; x <= sheet.Width+1e-9; x++ {
		pdf.Line(ox+x, oy-rulerTick, ox+x, oy)
		if int(x)%2 == 0 {
			pdf.SetXY(ox+x-0.1, oy-rulerTick-0.12)
			pdf.CellFormat(0.2, 0.1, fmt.Sprintf("%d", int(x)), "", 0, "C", false, 0, "")
		}
	}
	for y := 0.0; y <= sheet.Length+1e-9; y++ {
		pdf.Line(ox-rulerTick, oy+y, ox, oy+y)
		if int(y)%2 == 0 {
			pdf.SetXY(ox-rulerTick-0.25, oy+y-0.05)
			pdf.CellFormat(0.2, 0.1, fmt.Sprintf("%d", int(y)), "", 0, "R", false, 0, "")
		}
	}
}

// drawPieceLabel centres the label and size inside the placed bounding box
// when it fits.
func drawPieceLabel(pdf *fpdf.Fpdf, p model.Placement, x, y float64) {
	if p.Width < 0.75 || p.Height < 0.4 {
		return
	}
	pdf.SetFont("Helvetica", "", labelFontSize(p.Width, p.Height))
	pdf.SetTextColor(0, 0, 0)

	label := p.Label
	if label == "" {
		label = p.PieceID
	}
	dims := fmt.Sprintf("%.2fx%.2f", p.Width, p.Height)
	if p.Rotation != 0 {
		dims += fmt.Sprintf(" R%g", p.Rotation)
	}

	lineH := 0.18
	if w := pdf.GetStringWidth(label); w < p.Width-0.1 {
		pdf.SetXY(x+(p.Width-w)/2, y+p.Height/2-lineH)
		pdf.CellFormat(w, lineH, label, "", 0, "C", false, 0, "")
	}
	if w := pdf.GetStringWidth(dims); p.Height > 0.8 && w < p.Width-0.1 {
		pdf.SetXY(x+(p.Width-w)/2, y+p.Height/2)
		pdf.CellFormat(w, lineH, dims, "", 0, "C", false, 0, "")
	}
}

// renderSummaryPage draws run statistics, the per-sheet table and any
// unplaced pieces.
func renderSummaryPage(pdf *fpdf.Fpdf, result model.NestingResult) {
	m := summaryMargin
	contentW := summaryWidth - 2*m

	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetXY(m, m)
	pdf.CellFormat(contentW, 0.35, "Gang Sheet Summary", "", 0, "L", false, 0, "")

	pdf.SetDrawColor(0, 0, 0)
	pdf.SetLineWidth(0.02)
	pdf.Line(m, m+0.45, summaryWidth-m, m+0.45)

	y := m + 0.65
	items := []struct{ label, value string }{
		{"Strategy", result.Strategy},
		{"Sheet Width", fmt.Sprintf("%g\"", result.SheetWidth)},
		{"Margin", fmt.Sprintf("%g\"", result.Margin)},
		{"Sheets", fmt.Sprintf("%d", len(result.Sheets))},
		{"Total Length", fmt.Sprintf("%.2f\"", result.TotalLength)},
		{"Utilization", fmt.Sprintf("%.1f%%", result.Utilization*100)},
		{"Roll Utilization", fmt.Sprintf("%.1f%%", result.RollUtilization*100)},
		{"Pieces Placed", fmt.Sprintf("%d of %d", result.PlacedCount, result.PieceCount)},
	}
	if result.Seed != 0 {
		items = append(items, struct{ label, value string }{"Seed", fmt.Sprintf("%d", result.Seed)})
	}
	for _, item := range items {
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetXY(m+0.1, y)
		pdf.CellFormat(1.8, 0.22, item.label+":", "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(3, 0.22, item.value, "", 0, "L", false, 0, "")
		y += 0.25
	}

	y += 0.25
	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetXY(m, y)
	pdf.CellFormat(contentW, 0.3, "Sheet Breakdown", "", 0, "L", false, 0, "")
	y += 0.35

	colWidths := []float64{0.8, 1.5, 1.5, 1.2, 1.5}
	headers := []string{"Sheet", "Length", "Used Width", "Pieces", "Utilization"}
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	x := m
	for i, h := range headers {
		pdf.SetXY(x, y)
		pdf.CellFormat(colWidths[i], 0.25, h, "1", 0, "C", true, 0, "")
		x += colWidths[i]
	}
	y += 0.25

	pdf.SetFont("Helvetica", "", 9)
	for i, s := range result.Sheets {
		if y > summaryHeight-m-0.5 {
			break
		}
		row := []string{
			fmt.Sprintf("%d", s.Index+1),
			fmt.Sprintf("%.2f\"", s.Length),
			fmt.Sprintf("%.2f\"", s.UsedWidth),
			fmt.Sprintf("%d", len(s.Placements)),
			fmt.Sprintf("%.1f%%", s.Utilization()*100),
		}
		if i%2 == 0 {
			pdf.SetFillColor(245, 245, 245)
		} else {
			pdf.SetFillColor(255, 255, 255)
		}
		x = m
		for j, cell := range row {
			pdf.SetXY(x, y)
			pdf.CellFormat(colWidths[j], 0.22, cell, "1", 0, "C", true, 0, "")
			x += colWidths[j]
		}
		y += 0.22
	}

	if len(result.Unplaced) > 0 {
		y += 0.3
		pdf.SetFont("Helvetica", "B", 11)
		pdf.SetTextColor(200, 0, 0)
		pdf.SetXY(m, y)
		title := "WARNING: Unplaced Pieces"
		if result.Incomplete {
			title += " (sheet limit reached)"
		}
		pdf.CellFormat(contentW, 0.28, title, "", 0, "L", false, 0, "")
		y += 0.3

		pdf.SetFont("Helvetica", "", 9)
		pdf.SetTextColor(0, 0, 0)
		for i, u := range result.Unplaced {
			if y > summaryHeight-m-0.4 {
				pdf.SetXY(m+0.1, y)
				pdf.CellFormat(contentW, 0.2, fmt.Sprintf("... and %d more", len(result.Unplaced)-i), "", 0, "L", false, 0, "")
				break
			}
			name := u.Label
			if name == "" {
				name = u.PieceID
			}
			text := fmt.Sprintf("- %s #%d: %s", name, u.Instance+1, u.Reason)
			if u.Detail != "" {
				text += " (" + u.Detail + ")"
			}
			pdf.SetXY(m+0.1, y)
			pdf.CellFormat(contentW-0.1, 0.2, text, "", 0, "L", false, 0, "")
			y += 0.2
		}
	}

	pdf.SetFont("Helvetica", "I", 8)
	pdf.SetTextColor(120, 120, 120)
	pdf.SetXY(m, summaryHeight-m)
	pdf.CellFormat(contentW, 0.2, "Generated by GangNest", "", 0, "C", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
}

// labelFontSize returns a font size in points for a box of w x h inches.
func labelFontSize(w, h float64) float64 {
	minDim := math.Min(w, h)
	switch {
	case minDim > 3:
		return 10
	case minDim > 1.5:
		return 8
	default:
		return 6
	}
}
