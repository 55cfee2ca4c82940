package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse is matched by MalformedError.
var ErrMalformedResponse = errors.New("malformed response")

// DeviceError is a logical error reported inline by the device.
// The link stays usable after it.
type DeviceError struct {
	Code   string
	Detail string
}

// Error implements error.
func (e *DeviceError) Error() string {
	if e.Detail == "" {
		return "device error " + e.Code
	}
	return fmt.Sprintf("device error %s: %s", e.Code, e.Detail)
}

// MalformedError wraps a payload decoding failure.
type MalformedError struct {
	Line string
	Err  error
}

// Error implements error.
func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed response %q: %v", e.Line, e.Err)
}

// Unwrap returns the decoding error.
func (e *MalformedError) Unwrap() error {
	return e.Err
}

// Is matches ErrMalformedResponse.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedResponse
}
