// Package devtools provides an inspector for running engines: a
// buffered event stream, an HTTP server exposing the reactive graph
// and a live WebSocket event feed, and a recorder that batches events
// to pluggable storage sinks.
package devtools

import (
	"sync"

	"github.com/reagent-go/reagent/pkg/reagent"
)

// StreamSink is a reagent.EventSink that fans engine events out to
// subscribers. Emit never blocks: each subscriber has a bounded buffer
// and events are dropped per-subscriber when it falls behind.
type StreamSink struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan reagent.Event
	dropped uint64

	bufSize int
}

// NewStreamSink creates a sink whose subscribers buffer up to bufSize
// events each. bufSize <= 0 uses a default of 256.
func NewStreamSink(bufSize int) *StreamSink {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &StreamSink{
		subs:    make(map[int]chan reagent.Event),
		bufSize: bufSize,
	}
}

// Emit implements reagent.EventSink.
func (s *StreamSink) Emit(ev reagent.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.dropped++
		}
	}
}

// Subscribe returns a channel of engine events and a cancel function.
// The channel is closed on cancel.
func (s *StreamSink) Subscribe() (<-chan reagent.Event, func()) {
	ch := make(chan reagent.Event, s.bufSize)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Dropped returns the number of events dropped across all subscribers.
func (s *StreamSink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
