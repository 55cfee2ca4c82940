package link

import (
	"errors"
	"fmt"
	"time"

	"github.com/robotalks/robolink/pkg/l0/protocol"
)

var (
	// ErrTimeout is matched by every TimeoutError.
	ErrTimeout = errors.New("timeout")
	// ErrFault indicates the link stopped answering.
	ErrFault = errors.New("link fault")
	// ErrClosed indicates the link is closed.
	ErrClosed = errors.New("link closed")
	// ErrReleased indicates the session was already released.
	ErrReleased = errors.New("session released")
	// ErrNoTransport indicates the serial device is absent.
	ErrNoTransport = errors.New("no transport")
)

// TimeoutError reports a command which got no reply in time.
// The effect of the command on the hardware is unknown.
type TimeoutError struct {
	Command string
	Class   protocol.TimeoutClass
	Timeout time.Duration
}

// Error implements error.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no reply within %v (%s)", e.Command, e.Timeout, e.Class)
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// FaultError wraps the timeout which exceeded the consecutive timeout
// threshold.
type FaultError struct {
	Consecutive int
	Err         error
}

// Error implements error.
func (e *FaultError) Error() string {
	return fmt.Sprintf("link fault after %d consecutive timeouts: %v", e.Consecutive, e.Err)
}

// Unwrap returns the last timeout.
func (e *FaultError) Unwrap() error {
	return e.Err
}

// Is matches ErrFault.
func (e *FaultError) Is(target error) bool {
	return target == ErrFault
}
