package loaders

import (
	"errors"
	"fmt"
)

// LoaderError represents a failed recognition or object operation.
//
// Recognition failure (no loader claims a file) is a regular outcome and is
// reported with ErrNotRecognized only by the top-level Find calls; loaders
// themselves return (nil, nil) for files they do not recognize.
type LoaderError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the virtual path of the file involved (if applicable)
	Path string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *LoaderError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the cause.
func (e *LoaderError) Unwrap() error {
	return e.Err
}

// ErrorCode represents the category of a loader error.
type ErrorCode int

const (
	// ErrNotRecognized indicates that no loader claims the file
	ErrNotRecognized ErrorCode = iota

	// ErrIO indicates a failure while reading, writing or constructing
	ErrIO

	// ErrInconsistent indicates the object changed underneath an operation
	// too many times for it to complete
	ErrInconsistent

	// ErrClassResolution indicates descriptor content naming an unknown type
	ErrClassResolution

	// ErrRecursion indicates a construction that would wait for itself
	ErrRecursion

	// ErrInvalidObject indicates an operation on an invalidated object
	ErrInvalidObject

	// ErrNotAllowed indicates an operation the object does not permit
	ErrNotAllowed
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotRecognized:
		return "not recognized"
	case ErrIO:
		return "i/o failure"
	case ErrInconsistent:
		return "inconsistent state"
	case ErrClassResolution:
		return "unknown type"
	case ErrRecursion:
		return "recursive construction"
	case ErrInvalidObject:
		return "object is not valid"
	case ErrNotAllowed:
		return "operation not allowed"
	default:
		return "unknown"
	}
}

func newLoaderError(code ErrorCode, path string, err error) *LoaderError {
	return &LoaderError{Code: code, Message: code.String(), Path: path, Err: err}
}

// ExistsError signals that an object for the primary file already exists.
// It is a control signal rather than a failure: callers merge their state
// into Object instead of constructing a duplicate.
type ExistsError struct {
	Object DataObject
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("data object already exists: %s", e.Object.PrimaryFile().Path())
}

// IsExists returns the existing object carried by err.
func IsExists(err error) (DataObject, bool) {
	var ee *ExistsError
	if errors.As(err, &ee) {
		return ee.Object, true
	}
	return nil, false
}

// IsCode reports whether err is a LoaderError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var le *LoaderError
	return errors.As(err, &le) && le.Code == code
}

// IsNotRecognized reports whether err says that no loader claims a file.
func IsNotRecognized(err error) bool {
	return IsCode(err, ErrNotRecognized)
}
