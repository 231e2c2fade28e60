// Package errors provides comprehensive error handling utilities for pulearn.
//
// This file contains panic recovery utilities used at task boundaries of the
// worker pool: a base estimator that panics inside one ensemble member, search
// candidate or outer fold is converted into a structured error instead of
// taking down the whole run.

package errors

import (
	"fmt"
	"runtime/debug"

	"github.com/cockroachdb/errors"
)

// PanicError represents an error that was created from a recovered panic.
// It includes the original panic value and stack trace information.
type PanicError struct {
	// PanicValue is the original value passed to panic()
	PanicValue interface{}

	// StackTrace contains the stack trace at the time of panic
	StackTrace string

	// Operation identifies where the panic was recovered
	Operation string
}

// Error implements the error interface for PanicError.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.PanicValue)
}

// Unwrap returns the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.PanicValue.(error); ok {
		return err
	}
	return nil
}

// String provides detailed information including stack trace.
func (e *PanicError) String() string {
	return fmt.Sprintf("panic in %s: %v\nStack trace:\n%s",
		e.Operation, e.PanicValue, e.StackTrace)
}

// NewPanicError creates a new PanicError with the given operation context and panic value.
func NewPanicError(operation string, panicValue interface{}) *PanicError {
	return &PanicError{
		PanicValue: panicValue,
		StackTrace: string(debug.Stack()),
		Operation:  operation,
	}
}

// Recover is a utility function to be used with defer to recover from panics
// and convert them into errors.
//
// Usage:
//
//	func (w *PNUWrapper) Fit(X mat.Matrix, y mat.Vector) (err error) {
//	    defer Recover(&err, "PNUWrapper.Fit")
//	    ...
//	}
//
// If the function already has an error, the panic is attached to it as a
// secondary error so both remain visible.
func Recover(err *error, operation string) {
	if r := recover(); r != nil {
		panicErr := NewPanicError(operation, r)

		if *err != nil {
			*err = errors.WithSecondaryError(
				errors.Wrapf(*err, "panic in %s: %v (original error)", operation, r),
				panicErr,
			)
		} else {
			*err = panicErr
		}
	}
}

// SafeExecute executes a function and recovers from any panic, converting it to an error.
// The worker pool runs every task through it.
//
// Example:
//
//	err := SafeExecute("ensemble member 3", func() error {
//	    return member.Fit(X, y)
//	})
func SafeExecute(operation string, fn func() error) (err error) {
	defer Recover(&err, operation)
	return fn()
}

// IsPanic reports whether err (or anything it wraps) came from a recovered panic.
func IsPanic(err error) bool {
	var panicErr *PanicError
	return errors.As(err, &panicErr)
}
