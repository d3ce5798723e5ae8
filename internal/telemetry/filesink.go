package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/piwi3910/GangNest/internal/model"
	"github.com/pkg/errors"
)

const (
	// RunLogName is the JSONL file holding one record per line.
	RunLogName = "nesting-runs.jsonl"
	// FixtureDirName holds the first request seen per context and width.
	FixtureDirName = "nesting-fixtures"
	// DirEnv overrides the configured telemetry directory.
	DirEnv = "GANGNEST_TELEMETRY_DIR"
)

// maxLine bounds a single JSONL record.
const maxLine = 16 << 20

// Fixture is a reusable input snapshot taken from the first run recorded
// for a context and sheet width.
type Fixture struct {
	Name       string           `json:"name"`
	SheetWidth float64          `json:"sheetWidth"`
	Images     []model.ImageRef `json:"images"`
}

// Pieces turns the fixture images back into request pieces.
func (f Fixture) Pieces() []model.Piece {
	pieces := make([]model.Piece, 0, len(f.Images))
	for _, img := range f.Images {
		qty := img.Quantity
		if qty < 1 {
			qty = 1
		}
		pieces = append(pieces, model.Piece{
			ID:        img.ID,
			Label:     img.Name,
			ImageURL:  img.URL,
			Width:     img.Width,
			Height:    img.Height,
			Rotations: model.RotationQuarter,
			Quantity:  qty,
		})
	}
	return pieces
}

// FileSink appends records to a JSONL file under Dir.
type FileSink struct {
	Dir      string
	Fixtures bool

	mu sync.Mutex
}

// NewFileSink returns a sink writing under dir.
func NewFileSink(dir string, fixtures bool) *FileSink {
	return &FileSink{Dir: dir, Fixtures: fixtures}
}

// DirFromEnv returns $GANGNEST_TELEMETRY_DIR, or fallback when unset.
func DirFromEnv(fallback string) string {
	if d := os.Getenv(DirEnv); d != "" {
		return d
	}
	return fallback
}

// Path returns the run log location.
func (s *FileSink) Path() string { return filepath.Join(s.Dir, RunLogName) }

// fixtureName keys a fixture by context and width. The context comes from
// callers, so anything outside [A-Za-z0-9_-] is replaced before it reaches
// the filesystem.
func fixtureName(runContext string, sheetWidth float64) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, runContext)
	if safe == "" {
		safe = "unknown"
	}
	return fmt.Sprintf("%s-%sin", safe, strconv.FormatFloat(sheetWidth, 'f', -1, 64))
}

func (s *FileSink) Append(ctx context.Context, rec model.TelemetryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to marshal telemetry record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create telemetry directory")
	}
	f, err := os.OpenFile(s.Path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to open run log")
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to append run log")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "failed to close run log")
	}

	if s.Fixtures && len(rec.Images) > 0 {
		return s.writeFixture(rec)
	}
	return nil
}

// writeFixture stores the record's inputs unless a fixture already exists.
func (s *FileSink) writeFixture(rec model.TelemetryRecord) error {
	dir := filepath.Join(s.Dir, FixtureDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create fixture directory")
	}
	name := fixtureName(rec.Context, rec.SheetWidth)
	data, err := json.MarshalIndent(Fixture{Name: name, SheetWidth: rec.SheetWidth, Images: rec.Images}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal fixture")
	}
	path := filepath.Join(dir, name+".json")
	if filepath.Dir(path) != filepath.Clean(dir) {
		return errors.Errorf("fixture name %q escapes %s", name, dir)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if os.IsExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to create fixture %s", name)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return errors.Wrapf(err, "failed to write fixture %s", name)
	}
	return nil
}

// Records reads the run log. Lines that do not parse are skipped with a
// warning; a missing log is an empty history.
func (s *FileSink) Records(ctx context.Context, filter model.RecordFilter) ([]model.TelemetryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.Path())
	if os.IsNotExist(err) {
		return []model.TelemetryRecord{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to open run log")
	}
	defer f.Close()

	var all []model.TelemetryRecord
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for lineNo := 1; sc.Scan(); lineNo++ {
		if lineNo%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec model.TelemetryRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			skipped++
			continue
		}
		all = append(all, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read run log")
	}
	if skipped > 0 {
		log.WithField("path", s.Path()).Warnf("skipped %d unreadable telemetry lines", skipped)
	}
	return Filter(all, filter), nil
}

// LoadFixtures reads every fixture snapshot, sorted by name.
func (s *FileSink) LoadFixtures() ([]Fixture, error) {
	dir := filepath.Join(s.Dir, FixtureDirName)
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list fixtures")
	}
	sort.Strings(paths)
	fixtures := make([]Fixture, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read fixture %s", p)
		}
		var fx Fixture
		if err := json.Unmarshal(data, &fx); err != nil {
			return nil, errors.Wrapf(err, "failed to parse fixture %s", p)
		}
		fixtures = append(fixtures, fx)
	}
	return fixtures, nil
}

// Filter applies f to records in order and keeps the most recent f.Limit.
func Filter(records []model.TelemetryRecord, f model.RecordFilter) []model.TelemetryRecord {
	out := make([]model.TelemetryRecord, 0, len(records))
	for _, rec := range records {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}
