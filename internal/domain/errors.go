package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced box, item or photo does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a write collides with a unique value held by
// another record.
var ErrDuplicate = errors.New("already exists")

// NetworkError reports that the record store could not be reached or rejected
// the request.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("record store %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ValidationError reports a malformed record or rejected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConversionError reports a failure turning an uploaded image into a stored asset.
type ConversionError struct {
	Op  string
	Err error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("image %s: %v", e.Op, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}
