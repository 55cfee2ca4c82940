package framework

import (
	"fmt"
	"strings"
)

// ComponentError is an error raised by a named component.
type ComponentError struct {
	Component string
	Err       error
}

// Error implements error.
func (e *ComponentError) Error() string {
	return e.Component + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ComponentError) Unwrap() error {
	return e.Err
}

// AggregatedError collects the errors of several components. errors.Is and
// errors.As look into every collected error.
type AggregatedError struct {
	Errors []error
}

// Error implements error.
func (e *AggregatedError) Error() string {
	switch len(e.Errors) {
	case 0:
		return ""
	case 1:
		return e.Errors[0].Error()
	}
	msg := make([]string, len(e.Errors))
	for n, err := range e.Errors {
		msg[n] = err.Error()
	}
	return fmt.Sprintf("%d errors: %s", len(e.Errors), strings.Join(msg, "; "))
}

// Unwrap returns the collected errors.
func (e *AggregatedError) Unwrap() []error {
	return e.Errors
}

// Add adds errors to be aggregated. nil is skipped and nested
// AggregatedErrors are flattened.
func (e *AggregatedError) Add(errs ...error) *AggregatedError {
	for _, err := range errs {
		if err == nil {
			continue
		}
		if agg, ok := err.(*AggregatedError); ok {
			e.Errors = append(e.Errors, agg.Errors...)
			continue
		}
		e.Errors = append(e.Errors, err)
	}
	return e
}

// AddFrom adds the error of a component, nil is skipped.
func (e *AggregatedError) AddFrom(component string, err error) *AggregatedError {
	if err != nil {
		e.Errors = append(e.Errors, &ComponentError{Component: component, Err: err})
	}
	return e
}

// Aggregate returns aggregated error if any error happened.
func (e *AggregatedError) Aggregate() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}
