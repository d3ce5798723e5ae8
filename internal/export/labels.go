package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"
	"github.com/piwi3910/GangNest/internal/model"
	"github.com/pkg/errors"
	qrcode "github.com/skip2/go-qrcode"
)

// LabelInfo holds the data encoded into each piece label's QR code. It
// lets the pressing station match a cut transfer back to its order line.
type LabelInfo struct {
	PieceID  string  `json:"id"`
	Label    string  `json:"label,omitempty"`
	Instance int     `json:"instance"`
	Sheet    int     `json:"sheet"`
	X        float64 `json:"x_in"`
	Y        float64 `json:"y_in"`
	Width    float64 `json:"width_in"`
	Height   float64 `json:"height_in"`
	Rotation float64 `json:"rotation,omitempty"`
}

// Avery 5160 layout: 3 columns x 10 rows on US Letter, in inches.
const (
	labelMarginTop  = 0.5
	labelMarginLeft = 0.19
	labelWidth      = 2.625
	labelHeight     = 1.0
	labelCols       = 3
	labelRows       = 10
	labelsPerPage   = labelCols * labelRows
	qrSize          = 0.8
	labelPadding    = 0.08
)

// ErrNoPlacements is returned when there are no placed pieces to label.
var ErrNoPlacements = errors.New("no pieces placed to generate labels for")

// ExportLabels writes a label sheet PDF for every placed piece to path.
func ExportLabels(path string, result model.NestingResult) error {
	pdf, err := buildLabels(result)
	if err != nil {
		return err
	}
	return errors.Wrapf(pdf.OutputFileAndClose(path), "failed to write %s", path)
}

// WriteLabels writes the label sheet PDF to w.
func WriteLabels(w io.Writer, result model.NestingResult) error {
	pdf, err := buildLabels(result)
	if err != nil {
		return err
	}
	return errors.Wrap(pdf.Output(w), "failed to write labels")
}

func buildLabels(result model.NestingResult) (*fpdf.Fpdf, error) {
	labels := CollectLabelInfos(result)
	if len(labels) == 0 {
		return nil, ErrNoPlacements
	}

	pdf := fpdf.New("P", "in", "Letter", "")
	pdf.SetAutoPageBreak(false, 0)

	for i, label := range labels {
		if i%labelsPerPage == 0 {
			pdf.AddPage()
		}
		pos := i % labelsPerPage
		x := labelMarginLeft + float64(pos%labelCols)*labelWidth
		y := labelMarginTop + float64(pos/labelCols)*labelHeight

		if err := renderLabel(pdf, fmt.Sprintf("qr_%d", i), x, y, label); err != nil {
			return nil, errors.Wrapf(err, "failed to render label for %s #%d", label.PieceID, label.Instance+1)
		}
	}
	if err := pdf.Error(); err != nil {
		return nil, errors.Wrap(err, "failed to render labels")
	}
	return pdf, nil
}

// renderLabel draws a single label at the given position.
func renderLabel(pdf *fpdf.Fpdf, imgName string, x, y float64, info LabelInfo) error {
	pdf.SetDrawColor(200, 200, 200)
	pdf.SetLineWidth(0.004)
	pdf.Rect(x, y, labelWidth, labelHeight, "D")

	payload, err := json.Marshal(info)
	if err != nil {
		return errors.Wrap(err, "failed to marshal label info")
	}
	png, err := qrcode.Encode(string(payload), qrcode.Medium, 256)
	if err != nil {
		return errors.Wrap(err, "failed to generate QR code")
	}

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(imgName, opts, bytes.NewReader(png))
	pdf.ImageOptions(imgName, x+labelWidth-qrSize-labelPadding, y+(labelHeight-qrSize)/2, qrSize, qrSize, false, opts, 0, "")

	textX := x + labelPadding
	textW := labelWidth - qrSize - 3*labelPadding

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetXY(textX, y+labelPadding)
	name := info.Label
	if name == "" {
		name = info.PieceID
	}
	pdf.CellFormat(textW, 0.18, truncate(pdf, name, textW), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 7)
	pdf.SetXY(textX, y+labelPadding+0.22)
	pdf.CellFormat(textW, 0.14, fmt.Sprintf("%.2f\" x %.2f\"  copy %d", info.Width, info.Height, info.Instance+1), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 6)
	pdf.SetTextColor(100, 100, 100)
	pdf.SetXY(textX, y+labelPadding+0.38)
	pdf.CellFormat(textW, 0.12, fmt.Sprintf("Sheet %d @ (%.2f, %.2f)", info.Sheet, info.X, info.Y), "", 1, "L", false, 0, "")

	if info.Rotation != 0 {
		pdf.SetXY(textX, y+labelPadding+0.52)
		pdf.SetFont("Helvetica", "I", 6)
		pdf.SetTextColor(150, 100, 0)
		pdf.CellFormat(textW, 0.12, fmt.Sprintf("Rotated %g deg", info.Rotation), "", 0, "L", false, 0, "")
	}

	pdf.SetTextColor(0, 0, 0)
	return nil
}

func truncate(pdf *fpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	for len(s) > 0 && pdf.GetStringWidth(s+"...") > width {
		s = s[:len(s)-1]
	}
	return s + "..."
}

// CollectLabelInfos lists one label per placed piece instance in sheet
// order.
func CollectLabelInfos(result model.NestingResult) []LabelInfo {
	var labels []LabelInfo
	for _, sheet := range result.Sheets {
		for _, p := range sheet.Placements {
			labels = append(labels, LabelInfo{
				PieceID:  p.PieceID,
				Label:    p.Label,
				Instance: p.Instance,
				Sheet:    sheet.Index + 1,
				X:        p.X,
				Y:        p.Y,
				Width:    p.Width,
				Height:   p.Height,
				Rotation: p.Rotation,
			})
		}
	}
	return labels
}
