package harness

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInstanceNotFound indicates the platform has no instance with the given
// identity. Teardown paths tolerate it so removal stays idempotent.
var ErrInstanceNotFound = errors.New("instance not found")

// StartupTimeoutError is returned when the instance does not become ready
// within the configured budget. It carries the last observed lifecycle state
// and the tail of the captured logs so a failure is actionable without
// re-running.
type StartupTimeoutError struct {
	Budget    time.Duration
	LastState State
	LogTail   []string
}

func (e *StartupTimeoutError) Error() string {
	msg := fmt.Sprintf("instance not ready after %s (last state %q)", e.Budget, e.LastState)
	if len(e.LogTail) > 0 {
		msg += "; recent logs:\n" + strings.Join(e.LogTail, "\n")
	}
	return msg
}
