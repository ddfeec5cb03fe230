package reagent

import (
	"sync"
)

// Store is the engine's ambient context: tag-keyed storage threaded
// implicitly through a call chain instead of as explicit parameters.
// Typical use is request- or render-scoped identity that must survive
// deferred steps.
//
// The engine keeps a single shared store and relies on explicit save
// and restore around scoped execution (Run, RunDeferred,
// WithAsyncContext). This matches the engine's single-logical-thread
// model: scoped runs on the same logical thread nest safely, and a
// deferred job observes whatever the store holds when the flush runs.
// Genuinely parallel tasks mutating the same tags must be serialized
// externally; the store's own locking keeps the map consistent but
// cannot make interleaved scopes meaningful.
type Store struct {
	eng *Engine

	mu     sync.Mutex
	values map[string]any
}

func newStore(e *Engine) *Store {
	return &Store{
		eng:    e,
		values: make(map[string]any),
	}
}

// Get returns the value stored under tag and whether it is present.
func (s *Store) Get(tag string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[tag]
	return v, ok
}

// Set stores value under tag and returns a restore function.
//
// With backup true, the restore function reinstates exactly what the
// tag held before this call, including absence. With backup false, the
// restore function removes the tag outright.
func (s *Store) Set(tag string, value any, backup bool) (restore func()) {
	s.mu.Lock()
	prev, had := s.values[tag]
	s.values[tag] = value
	s.mu.Unlock()

	if !backup {
		had = false
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if had {
				s.values[tag] = prev
			} else {
				delete(s.values, tag)
			}
			s.mu.Unlock()
		})
	}
}

// Run sets tag to value, executes fn, and restores the previous value
// on every exit path. A panic in fn is recovered, logged, and returned
// as an error; restoration happens regardless.
func (s *Store) Run(tag string, value any, fn func() error) (err error) {
	restore := s.Set(tag, value, true)
	defer restore()
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
			s.eng.logger.Error("reagent: panic in scoped run", "tag", tag, "err", err)
		}
	}()
	return fn()
}

// RunDeferred sets tag to value, calls fn, and restores the previous
// value once the deferred result fn returns has settled, not merely
// once fn returns its handle. The returned channel mirrors the task's
// outcome and closes after restoration.
func (s *Store) RunDeferred(tag string, value any, fn func() <-chan error) <-chan error {
	restore := s.Set(tag, value, true)

	out := make(chan error, 1)
	settle := func(err error) {
		restore()
		if err != nil {
			out <- err
		}
		close(out)
	}

	inner, err := func() (ch <-chan error, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = panicError(r)
				s.eng.logger.Error("reagent: panic in deferred scoped run", "tag", tag, "err", err)
			}
		}()
		return fn(), nil
	}()
	if err != nil {
		settle(err)
		return out
	}
	if inner == nil {
		// Nothing deferred; the scope ended when fn returned.
		settle(nil)
		return out
	}

	go func() {
		taskErr, ok := <-inner
		if !ok {
			taskErr = nil
		}
		settle(taskErr)
	}()
	return out
}

// WithAsyncContext snapshots the store (entirely, or only the given
// tags), runs task inside that snapshot, and restores exactly the
// pre-call contents once task returns, whether it succeeded, failed,
// or panicked. This lets an asynchronous continuation observe the
// context that was active when it was scheduled, even though unrelated
// work may have mutated the shared store in between.
func (s *Store) WithAsyncContext(task func() error, tags ...string) (err error) {
	restore := s.snapshot(tags)
	defer restore()
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
			s.eng.logger.Error("reagent: panic in async context scope", "err", err)
		}
	}()
	return task()
}

// snapshot captures the current contents for the given tags (or the
// whole store) and returns a function restoring exactly that state.
func (s *Store) snapshot(tags []string) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tags) == 0 {
		saved := make(map[string]any, len(s.values))
		for k, v := range s.values {
			saved[k] = v
		}
		return func() {
			s.mu.Lock()
			s.values = saved
			s.mu.Unlock()
		}
	}

	type entry struct {
		value any
		had   bool
	}
	saved := make(map[string]entry, len(tags))
	for _, tag := range tags {
		v, ok := s.values[tag]
		saved[tag] = entry{value: v, had: ok}
	}
	return func() {
		s.mu.Lock()
		for tag, e := range saved {
			if e.had {
				s.values[tag] = e.value
			} else {
				delete(s.values, tag)
			}
		}
		s.mu.Unlock()
	}
}

// Clear removes every tag from the store.
func (s *Store) Clear() {
	s.mu.Lock()
	s.values = make(map[string]any)
	s.mu.Unlock()
}

// Tags returns the currently stored tag names. Intended for
// inspection; the result is a snapshot.
func (s *Store) Tags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	return out
}
