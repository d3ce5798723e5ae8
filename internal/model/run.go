package model

import (
	"strings"
	"time"
)

// ComparisonEntry is one strategy's outcome inside a ComparisonRun.
type ComparisonEntry struct {
	Strategy string         `json:"strategy"`
	Result   *NestingResult `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Score    float64        `json:"score"`
	Rank     int            `json:"rank"` // 1-based; tied entries share a rank, failed entries are 0
}

// ComparisonRun pairs a request with the result of every candidate strategy.
// Entries are in ranked order.
type ComparisonRun struct {
	ID      string            `json:"id"`
	Request NestingRequest    `json:"request"`
	Scoring string            `json:"scoring"`
	Entries []ComparisonEntry `json:"entries"`
	Ranking []string          `json:"ranking"`
	Ties    [][]string        `json:"ties,omitempty"`
	Winner  string            `json:"winner,omitempty"` // empty when the top rank is tied
}

// Entry returns the entry for strategy, if present.
func (c ComparisonRun) Entry(strategy string) (ComparisonEntry, bool) {
	for _, e := range c.Entries {
		if e.Strategy == strategy {
			return e, true
		}
	}
	return ComparisonEntry{}, false
}

// ImageRef identifies the source image of a piece in a telemetry record.
type ImageRef struct {
	ID       string  `json:"id"`
	Name     string  `json:"name,omitempty"`
	URL      string  `json:"url,omitempty"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Quantity int     `json:"quantity"`
}

// ImageRefs builds telemetry image references from request pieces.
func ImageRefs(pieces []Piece) []ImageRef {
	out := make([]ImageRef, 0, len(pieces))
	for _, p := range pieces {
		out = append(out, ImageRef{
			ID:       p.ID,
			Name:     p.Label,
			URL:      p.ImageURL,
			Width:    p.Width,
			Height:   p.Height,
			Quantity: p.Quantity,
		})
	}
	return out
}

// Telemetry contexts used by the storefront.
const (
	ContextLive   = "live"
	ContextTester = "tester"
)

// ParseContext resolves a caller-supplied telemetry context. Empty means
// live; anything other than the known contexts is rejected.
func ParseContext(s string) (string, bool) {
	switch s {
	case "":
		return ContextLive, true
	case ContextLive, ContextTester:
		return s, true
	}
	return "", false
}

// TelemetryRecord is an append-only snapshot of one production run.
type TelemetryRecord struct {
	RunID      string        `json:"runId"`
	Timestamp  time.Time     `json:"timestamp"`
	Context    string        `json:"context"`
	SheetWidth float64       `json:"sheetWidth"`
	Images     []ImageRef    `json:"images"`
	Result     NestingResult `json:"result"`
}

// RecordFilter selects telemetry records. Zero fields match everything.
type RecordFilter struct {
	Context    string    `json:"context,omitempty"`
	Strategy   string    `json:"strategy,omitempty"`
	SheetWidth float64   `json:"sheetWidth,omitempty"`
	Since      time.Time `json:"since,omitempty"`
	Until      time.Time `json:"until,omitempty"`
	Limit      int       `json:"limit,omitempty"` // most recent N after filtering
}

// Match reports whether rec passes the filter, ignoring Limit.
func (f RecordFilter) Match(rec TelemetryRecord) bool {
	if f.Context != "" && !strings.EqualFold(f.Context, rec.Context) {
		return false
	}
	if f.Strategy != "" && f.Strategy != rec.Result.Strategy {
		return false
	}
	if f.SheetWidth > 0 && f.SheetWidth != rec.SheetWidth {
		return false
	}
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !rec.Timestamp.Before(f.Until) {
		return false
	}
	return true
}
