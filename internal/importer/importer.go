// Package importer reads piece lists for gang-sheet nesting from CSV and
// Excel files and piece outlines from DXF drawings. It supports automatic
// delimiter detection, flexible column mapping, and case-insensitive header
// recognition. All dimensions are inches.
package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/piwi3910/GangNest/internal/model"
	"github.com/xuri/excelize/v2"
)

// ImportResult holds the results of an import operation. Row problems are
// collected rather than aborting the import.
type ImportResult struct {
	Pieces   []model.Piece
	Errors   []string
	Warnings []string
}

// OK reports whether at least one piece was read and no row failed.
func (r ImportResult) OK() bool { return len(r.Pieces) > 0 && len(r.Errors) == 0 }

// ColumnMapping maps semantic column roles to their indices in the data.
type ColumnMapping struct {
	Label    int
	Width    int
	Height   int
	Quantity int
	Rotation int
	URL      int
}

// headerAliases maps canonical column names to their accepted aliases (all lowercase).
var headerAliases = map[string][]string{
	"label":    {"label", "name", "image", "image name", "design", "description", "desc", "item"},
	"width":    {"width", "w", "width (in)", "width in", "x"},
	"height":   {"height", "h", "height (in)", "height in", "length", "y"},
	"quantity": {"quantity", "qty", "copies", "count", "amount", "pcs"},
	"rotation": {"rotation", "rotations", "rotate", "orientation"},
	"url":      {"url", "image url", "imageurl", "link", "src"},
}

// DetectCSVDelimiter reads the file content and determines the most likely CSV delimiter.
// It tries comma, semicolon, tab, and pipe. The delimiter that produces the most
// consistent (non-one) column count across lines wins.
func DetectCSVDelimiter(data []byte) rune {
	candidates := []rune{',', ';', '\t', '|'}
	bestDelimiter := ','
	bestScore := 0

	for _, delim := range candidates {
		reader := csv.NewReader(bytes.NewReader(data))
		reader.Comma = delim
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1

		records, err := reader.ReadAll()
		if err != nil || len(records) < 1 {
			continue
		}

		firstCols := len(records[0])
		if firstCols < 2 {
			continue
		}

		score := 0
		for _, row := range records {
			if len(row) == firstCols {
				score++
			}
		}

		// consistency first, then column count
		weighted := score*10 + firstCols
		if weighted > bestScore {
			bestScore = weighted
			bestDelimiter = delim
		}
	}

	return bestDelimiter
}

// DetectColumns examines a header row and returns a ColumnMapping.
// Returns the mapping and true if a header was detected, or the positional
// mapping (label, width, height, quantity, rotation, url) and false.
func DetectColumns(row []string) (ColumnMapping, bool) {
	mapping := ColumnMapping{Label: -1, Width: -1, Height: -1, Quantity: -1, Rotation: -1, URL: -1}
	slots := map[string]*int{
		"label":    &mapping.Label,
		"width":    &mapping.Width,
		"height":   &mapping.Height,
		"quantity": &mapping.Quantity,
		"rotation": &mapping.Rotation,
		"url":      &mapping.URL,
	}

	isHeader := false
	for i, cell := range row {
		normalized := strings.ToLower(strings.TrimSpace(cell))
		for role, aliases := range headerAliases {
			for _, alias := range aliases {
				if normalized != alias {
					continue
				}
				isHeader = true
				if *slots[role] == -1 {
					*slots[role] = i
				}
			}
		}
	}

	if !isHeader {
		return ColumnMapping{Label: 0, Width: 1, Height: 2, Quantity: 3, Rotation: 4, URL: 5}, false
	}
	return mapping, true
}

// ParseRotation converts a rotation cell to a model.RotationSet. The boolean
// is false when the text is not recognized.
func ParseRotation(s string) (model.RotationSet, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "quarter", "90", "yes", "y", "true":
		return model.RotationQuarter, true
	case "none", "no", "n", "false", "fixed", "0", "-":
		return model.RotationNone, true
	case "any", "free", "all", "360":
		return model.RotationAny, true
	default:
		return model.RotationQuarter, false
	}
}

// getCell safely retrieves a cell value from a row by column index.
func getCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// parseInches accepts plain numbers and an optional trailing inch mark.
func parseInches(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSuffix(strings.TrimSpace(s), "in"), "\""))
	return strconv.ParseFloat(s, 64)
}

// parseRow extracts a Piece from a row using the given column mapping.
// Returns the piece, any error message, and any warning message.
func parseRow(row []string, mapping ColumnMapping, rowLabel string, pieceCount int) (model.Piece, string, string) {
	label := getCell(row, mapping.Label)
	if label == "" {
		label = fmt.Sprintf("Image %d", pieceCount+1)
	}

	widthStr := getCell(row, mapping.Width)
	if widthStr == "" {
		return model.Piece{}, fmt.Sprintf("%s: Missing width value", rowLabel), ""
	}
	width, err := parseInches(widthStr)
	if err != nil {
		return model.Piece{}, fmt.Sprintf("%s: Invalid width '%s'", rowLabel, widthStr), ""
	}

	heightStr := getCell(row, mapping.Height)
	if heightStr == "" {
		return model.Piece{}, fmt.Sprintf("%s: Missing height value", rowLabel), ""
	}
	height, err := parseInches(heightStr)
	if err != nil {
		return model.Piece{}, fmt.Sprintf("%s: Invalid height '%s'", rowLabel, heightStr), ""
	}

	qty := 1
	if qtyStr := getCell(row, mapping.Quantity); qtyStr != "" {
		qty, err = strconv.Atoi(qtyStr)
		if err != nil {
			return model.Piece{}, fmt.Sprintf("%s: Invalid quantity '%s'", rowLabel, qtyStr), ""
		}
	}

	if width <= 0 || height <= 0 || qty <= 0 {
		return model.Piece{}, fmt.Sprintf("%s: Width, height, and quantity must be positive", rowLabel), ""
	}

	piece := model.NewPiece(label, width, height, qty)
	piece.ImageURL = getCell(row, mapping.URL)

	var warning string
	if rotStr := getCell(row, mapping.Rotation); rotStr != "" {
		rot, ok := ParseRotation(rotStr)
		if !ok {
			warning = fmt.Sprintf("%s: Unknown rotation '%s', defaulting to quarter", rowLabel, rotStr)
		}
		piece.Rotations = rot
	}

	return piece, "", warning
}

// isEmptyRow returns true if the row has no meaningful content.
func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// ImportFile picks the importer from the file extension: .csv/.txt, .xlsx
// or .dxf.
func ImportFile(path string) ImportResult {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".txt", ".tsv":
		return ImportCSV(path)
	case ".xlsx", ".xlsm":
		return ImportExcel(path)
	case ".dxf":
		return ImportDXF(path)
	default:
		return ImportResult{Errors: []string{fmt.Sprintf("Unsupported file type '%s'", ext)}}
	}
}

// ImportCSV imports pieces from a CSV file.
// It automatically detects the delimiter and maps columns by header names.
func ImportCSV(path string) ImportResult {
	result := ImportResult{}

	data, err := os.ReadFile(path)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Cannot open file: %v", err))
		return result
	}

	if len(bytes.TrimSpace(data)) == 0 {
		result.Errors = append(result.Errors, "File is empty")
		return result
	}

	delimiter := DetectCSVDelimiter(data)
	if delimiter != ',' {
		delimName := map[rune]string{';': "semicolon", '\t': "tab", '|': "pipe"}[delimiter]
		result.Warnings = append(result.Warnings, fmt.Sprintf("Detected %s delimiter", delimName))
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Cannot read CSV: %v", err))
		return result
	}

	return importFromRows(records, "Line", result.Warnings)
}

// ImportCSVFromReader imports pieces from a CSV reader with a known delimiter.
func ImportCSVFromReader(reader io.Reader, delimiter rune) ImportResult {
	csvReader := csv.NewReader(reader)
	csvReader.Comma = delimiter
	csvReader.LazyQuotes = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return ImportResult{Errors: []string{fmt.Sprintf("Cannot read CSV: %v", err)}}
	}
	if len(records) == 0 {
		return ImportResult{Errors: []string{"File is empty"}}
	}
	return importFromRows(records, "Line", nil)
}

// ImportExcel imports pieces from the first sheet of an .xlsx workbook.
func ImportExcel(path string) ImportResult {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return ImportResult{Errors: []string{fmt.Sprintf("Cannot open Excel file: %v", err)}}
	}
	defer f.Close()
	return importWorkbook(f)
}

// ImportExcelFromReader imports pieces from an uploaded workbook.
func ImportExcelFromReader(r io.Reader) ImportResult {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return ImportResult{Errors: []string{fmt.Sprintf("Cannot open Excel file: %v", err)}}
	}
	defer f.Close()
	return importWorkbook(f)
}

func importWorkbook(f *excelize.File) ImportResult {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return ImportResult{Errors: []string{"Excel file has no sheets"}}
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return ImportResult{Errors: []string{fmt.Sprintf("Cannot read Excel data: %v", err)}}
	}
	if len(rows) == 0 {
		return ImportResult{Errors: []string{"Sheet is empty"}}
	}
	return importFromRows(rows, "Row", nil)
}

// importFromRows is the shared import logic for both CSV and Excel data.
func importFromRows(rows [][]string, rowPrefix string, initialWarnings []string) ImportResult {
	result := ImportResult{Warnings: initialWarnings}

	if len(rows) == 0 {
		result.Errors = append(result.Errors, "No data rows found")
		return result
	}

	mapping, hasHeader := DetectColumns(rows[0])
	startRow := 0
	if hasHeader {
		startRow = 1
		result.Warnings = append(result.Warnings, "Detected header row, skipping")

		var missing []string
		if mapping.Width == -1 {
			missing = append(missing, "Width")
		}
		if mapping.Height == -1 {
			missing = append(missing, "Height")
		}
		if len(missing) > 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("Required columns not found in header: %s", strings.Join(missing, ", ")))
			return result
		}
	} else if len(rows[0]) >= 3 {
		// An unrecognized header still has a non-numeric width cell.
		if _, err := parseInches(rows[0][1]); err != nil {
			startRow = 1
			result.Warnings = append(result.Warnings, "Detected header row, skipping")
		}
	}

	for i := startRow; i < len(rows); i++ {
		row := rows[i]
		if isEmptyRow(row) {
			continue
		}

		rowLabel := fmt.Sprintf("%s %d", rowPrefix, i+1)
		piece, errMsg, warning := parseRow(row, mapping, rowLabel, len(result.Pieces))
		if errMsg != "" {
			result.Errors = append(result.Errors, errMsg)
			continue
		}
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
		result.Pieces = append(result.Pieces, piece)
	}

	return result
}
