package spatial

import (
	"errors"
	"fmt"
)

// InputMismatchError reports inputs that cannot be compared: differing
// declared SRIDs, differing coordinate layouts, or an attribute that a
// reducer cannot read as a number.
type InputMismatchError struct {
	Reason string
	Err    error
}

func (e *InputMismatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("spatial: input mismatch: %s: %v", e.Reason, e.Err)
	}
	return "spatial: input mismatch: " + e.Reason
}

func (e *InputMismatchError) Unwrap() error {
	return e.Err
}

// NewInputMismatchError builds an InputMismatchError from a formatted reason.
func NewInputMismatchError(format string, args ...any) *InputMismatchError {
	return &InputMismatchError{Reason: fmt.Sprintf(format, args...)}
}

// EmptyReductionError is returned when a reducer other than count meets a
// polygon that contains no points and no default was supplied.
type EmptyReductionError struct {
	Index   int
	Reducer string
}

func (e *EmptyReductionError) Error() string {
	return fmt.Sprintf("spatial: reducer %q undefined for polygon %d: no contained points", e.Reducer, e.Index)
}

// MalformedGeometryError reports a geometry that cannot take part in a
// containment test. Ring is -1 when the problem is not ring-specific.
type MalformedGeometryError struct {
	Kind   string // "point" or "polygon"
	Index  int
	Ring   int
	Reason string
}

func (e *MalformedGeometryError) Error() string {
	if e.Ring >= 0 {
		return fmt.Sprintf("spatial: malformed %s %d ring %d: %s", e.Kind, e.Index, e.Ring, e.Reason)
	}
	return fmt.Sprintf("spatial: malformed %s %d: %s", e.Kind, e.Index, e.Reason)
}

// IsInputMismatch reports whether err (or anything it wraps) is an InputMismatchError.
func IsInputMismatch(err error) bool {
	var e *InputMismatchError
	return errors.As(err, &e)
}

// IsEmptyReduction reports whether err (or anything it wraps) is an EmptyReductionError.
func IsEmptyReduction(err error) bool {
	var e *EmptyReductionError
	return errors.As(err, &e)
}

// IsMalformedGeometry reports whether err (or anything it wraps) is a MalformedGeometryError.
func IsMalformedGeometry(err error) bool {
	var e *MalformedGeometryError
	return errors.As(err, &e)
}
