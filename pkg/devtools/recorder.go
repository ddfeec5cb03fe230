package devtools

import (
	"log/slog"
	"sync"
	"time"

	"github.com/reagent-go/reagent/pkg/reagent"
)

// TraceSink receives batches of recorded engine events. Implementations
// include S3Sink; a batch is a contiguous run of events in emission
// order.
type TraceSink interface {
	WriteBatch(events []reagent.Event) error
}

// Recorder is a reagent.EventSink that accumulates events and flushes
// them to a TraceSink when the batch size is reached or on Close.
// Useful for capturing a flush storm for offline analysis.
//
// The recorder captures observability traces only; it does not persist
// or restore any reactive state.
type Recorder struct {
	sink      TraceSink
	batchSize int
	logger    *slog.Logger

	mu    sync.Mutex
	batch []reagent.Event
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithBatchSize sets how many events are buffered before a batch is
// written. Default 512.
func WithBatchSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithRecorderLogger sets the logger for sink write failures.
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRecorder creates a recorder writing to sink.
func NewRecorder(sink TraceSink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:      sink,
		batchSize: 512,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Emit implements reagent.EventSink. Full batches are written on a
// background goroutine so the engine's hot path never waits on the
// sink.
func (r *Recorder) Emit(ev reagent.Event) {
	r.mu.Lock()
	r.batch = append(r.batch, ev)
	if len(r.batch) < r.batchSize {
		r.mu.Unlock()
		return
	}
	batch := r.batch
	r.batch = nil
	r.mu.Unlock()

	go r.write(batch)
}

// Flush writes any buffered events immediately.
func (r *Recorder) Flush() {
	r.mu.Lock()
	batch := r.batch
	r.batch = nil
	r.mu.Unlock()

	if len(batch) > 0 {
		r.write(batch)
	}
}

func (r *Recorder) write(batch []reagent.Event) {
	start := time.Now()
	if err := r.sink.WriteBatch(batch); err != nil {
		r.logger.Error("devtools: trace batch write failed",
			"events", len(batch), "err", err)
		return
	}
	r.logger.Debug("devtools: trace batch written",
		"events", len(batch), "took", time.Since(start))
}
