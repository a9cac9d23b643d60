package stage

import (
	"errors"
	"fmt"
	"time"
)

// DeferError asks the worker to release the claim instead of failing the
// attempt. The item becomes claimable again after Delay.
type DeferError struct {
	Delay  time.Duration
	Reason string
}

func (e *DeferError) Error() string {
	return fmt.Sprintf("deferred for %s: %s", e.Delay, e.Reason)
}

// Defer builds a DeferError.
func Defer(delay time.Duration, reason string) error {
	return &DeferError{Delay: delay, Reason: reason}
}

// AsDefer reports whether err carries a deferral.
func AsDefer(err error) (*DeferError, bool) {
	var deferred *DeferError
	if errors.As(err, &deferred) {
		return deferred, true
	}
	return nil, false
}
