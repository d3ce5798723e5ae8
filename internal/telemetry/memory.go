package telemetry

import (
	"context"
	"sync"

	"github.com/piwi3910/GangNest/internal/model"
)

// MemorySink keeps records in memory. It serves tests and the in-process
// report endpoint when no telemetry directory is configured.
type MemorySink struct {
	mu      sync.Mutex
	records []model.TelemetryRecord
	// Err, when set, is returned by Append instead of storing the record.
	Err error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Append(_ context.Context, rec model.TelemetryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *MemorySink) Records(_ context.Context, f model.RecordFilter) ([]model.TelemetryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Filter(m.records, f), nil
}

// Len returns the number of stored records.
func (m *MemorySink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
