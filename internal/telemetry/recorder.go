// Package telemetry records every production nesting run for later
// diagnostics. Recording is best effort: it never blocks the caller and
// never returns an error.
package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/piwi3910/GangNest/internal/model"
	"github.com/sirupsen/logrus"
)

// Sink persists telemetry records.
type Sink interface {
	Append(ctx context.Context, rec model.TelemetryRecord) error
}

// Source reads telemetry records back, oldest first.
type Source interface {
	Records(ctx context.Context, f model.RecordFilter) ([]model.TelemetryRecord, error)
}

// DefaultQueueSize is used when a recorder is built with a non-positive size.
const DefaultQueueSize = 256

var log = logrus.WithField("component", "telemetry")

// Recorder queues records on a bounded channel drained by one background
// goroutine. When the queue is full the record is dropped with a warning.
type Recorder struct {
	sink  Sink
	queue chan model.TelemetryRecord
	done  chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	now     func() time.Time
}

// NewRecorder starts the background writer. Call Close to flush it.
func NewRecorder(sink Sink, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Recorder{
		sink:  sink,
		queue: make(chan model.TelemetryRecord, queueSize),
		done:  make(chan struct{}),
		now:   time.Now,
	}
	go r.run()
	return r
}

// Record snapshots one run and returns immediately.
func (r *Recorder) Record(ctx context.Context, runContext string, sheetWidth float64, images []model.ImageRef, result model.NestingResult) {
	rec := model.TelemetryRecord{
		RunID:      uuid.New().String(),
		Timestamp:  r.now().UTC(),
		Context:    runContext,
		SheetWidth: sheetWidth,
		Images:     append([]model.ImageRef{}, images...),
		Result:     result.Clone(),
	}
	r.Enqueue(ctx, rec)
}

// Enqueue queues a prepared record. Records without a run id or timestamp
// get one.
func (r *Recorder) Enqueue(ctx context.Context, rec model.TelemetryRecord) {
	if rec.RunID == "" {
		rec.RunID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	entry := log.WithContext(ctx).WithFields(logrus.Fields{"run_id": rec.RunID, "context": rec.Context})
	if r.closed {
		r.dropped.Add(1)
		entry.Warn("recorder closed, dropping telemetry record")
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
		entry.WithField("queue_size", cap(r.queue)).Warn("telemetry queue full, dropping record")
	}
}

// Dropped returns how many records were discarded.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Close stops accepting records and waits until the queue is written out
// or ctx is done.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.sink.Append(ctx, rec); err != nil {
			log.WithError(err).WithField("run_id", rec.RunID).Error("failed to write telemetry record")
		}
		cancel()
	}
}
