package project

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/piwi3910/GangNest/internal/engine"
	"github.com/piwi3910/GangNest/internal/telemetry"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ScenarioFile is the on-disk form of a tester corpus.
type ScenarioFile struct {
	Widths    []float64         `yaml:"widths,omitempty"`
	Scenarios []engine.Scenario `yaml:"scenarios"`
}

// SaveScenarios writes a scenario corpus as YAML.
func SaveScenarios(path string, file ScenarioFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create scenario directory")
	}
	data, err := yaml.Marshal(file)
	if err != nil {
		return errors.Wrap(err, "failed to marshal scenarios")
	}
	return errors.Wrap(os.WriteFile(path, data, 0644), "failed to write scenarios")
}

// LoadScenarios reads a scenario corpus with strict field checking. Every
// scenario needs a unique name and at least one piece; pieces without an id
// or quantity get defaults.
func LoadScenarios(path string) (ScenarioFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ScenarioFile{}, errors.Wrap(err, "failed to read scenarios")
	}
	var file ScenarioFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return ScenarioFile{}, errors.Wrapf(err, "failed to parse scenarios %s", path)
	}
	file.fillDefaults()
	if err := file.Validate(); err != nil {
		return ScenarioFile{}, errors.Wrapf(err, "invalid scenarios %s", path)
	}
	return file, nil
}

// Validate checks scenario names, widths and piece quantities.
func (f ScenarioFile) Validate() error {
	if len(f.Scenarios) == 0 {
		return errors.New("no scenarios")
	}
	for _, w := range f.Widths {
		if w <= 0 {
			return errors.Errorf("widths must be positive, got %g", w)
		}
	}
	seen := make(map[string]bool)
	for i, sc := range f.Scenarios {
		if sc.Name == "" {
			return errors.Errorf("scenario %d has no name", i)
		}
		if seen[sc.Name] {
			return errors.Errorf("duplicate scenario %q", sc.Name)
		}
		seen[sc.Name] = true
		if len(sc.Pieces) == 0 {
			return errors.Errorf("scenario %q has no pieces", sc.Name)
		}
		for _, p := range sc.Pieces {
			if p.Quantity < 0 {
				return errors.Errorf("scenario %q piece %s has negative quantity", sc.Name, p.ID)
			}
		}
	}
	return nil
}

// fillDefaults names anonymous pieces and gives them a quantity of one.
func (f *ScenarioFile) fillDefaults() {
	for i := range f.Scenarios {
		sc := &f.Scenarios[i]
		for j := range sc.Pieces {
			if sc.Pieces[j].ID == "" {
				sc.Pieces[j].ID = fmt.Sprintf("%s-%d", sc.Name, j)
			}
			if sc.Pieces[j].Quantity == 0 {
				sc.Pieces[j].Quantity = 1
			}
		}
	}
}

// ScenariosFromFixtures turns the telemetry sink's first-seen request
// snapshots into tester scenarios, one per fixture.
func ScenariosFromFixtures(fixtures []telemetry.Fixture) ScenarioFile {
	var file ScenarioFile
	widths := make(map[float64]bool)
	for _, fx := range fixtures {
		file.Scenarios = append(file.Scenarios, engine.Scenario{
			Name:        fx.Name,
			Description: fmt.Sprintf("recorded at %g\"", fx.SheetWidth),
			Pieces:      fx.Pieces(),
		})
		if !widths[fx.SheetWidth] {
			widths[fx.SheetWidth] = true
			file.Widths = append(file.Widths, fx.SheetWidth)
		}
	}
	return file
}
