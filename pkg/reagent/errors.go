package reagent

import (
	"errors"
	"fmt"
)

// ErrEngineClosed is returned when an operation is attempted on an
// engine whose scheduler loop has been shut down via Close.
//
// Applications normally see this only during shutdown races, when a
// background task tries to queue work after the engine stopped.
var ErrEngineClosed = errors.New("reagent: engine closed")

// panicError converts a recovered panic value into an error so it can
// be logged and returned without re-panicking through engine control
// flow (flushes, notifications, and scoped runs must always return).
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("reagent: recovered panic: %w", err)
	}
	return fmt.Errorf("reagent: recovered panic: %v", r)
}
