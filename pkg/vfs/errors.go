package vfs

import "errors"

// FileError represents a failed filesystem operation.
//
// These are domain errors (file not found, lock held, ...) as opposed to
// backend failures, which are wrapped with code ErrIO and kept in Err.
type FileError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the virtual path related to the error (if applicable)
	Path string

	// Err is the underlying backend error, if any
	Err error
}

// Error implements the error interface.
func (e *FileError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the backend error.
func (e *FileError) Unwrap() error {
	return e.Err
}

// ErrorCode represents the category of a filesystem error.
type ErrorCode int

const (
	// ErrNotFound indicates the file or folder does not exist
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates a sibling with the same name exists
	ErrAlreadyExists

	// ErrLocked indicates another holder owns the file lock
	ErrLocked

	// ErrNotLocked indicates a mutation was attempted without a valid lock
	ErrNotLocked

	// ErrInvalidName indicates an empty name or one containing a separator
	ErrInvalidName

	// ErrIsFolder indicates a data operation was attempted on a folder
	ErrIsFolder

	// ErrNotFolder indicates a folder operation was attempted on a data file
	ErrNotFolder

	// ErrInvalidFile indicates the file object no longer refers to a live file
	ErrInvalidFile

	// ErrIO indicates the backend failed
	ErrIO

	// ErrReadOnly indicates the filesystem does not accept mutations
	ErrReadOnly

	// ErrInvalidAttribute indicates an attribute value of an unsupported type
	ErrInvalidAttribute
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrAlreadyExists:
		return "already exists"
	case ErrLocked:
		return "locked"
	case ErrNotLocked:
		return "not locked"
	case ErrInvalidName:
		return "invalid name"
	case ErrIsFolder:
		return "is a folder"
	case ErrNotFolder:
		return "not a folder"
	case ErrInvalidFile:
		return "invalid file"
	case ErrIO:
		return "i/o error"
	case ErrReadOnly:
		return "read-only"
	case ErrInvalidAttribute:
		return "invalid attribute"
	default:
		return "unknown"
	}
}

func newError(code ErrorCode, path string, err error) *FileError {
	return &FileError{Code: code, Message: code.String(), Path: path, Err: err}
}

// IsCode reports whether err is a FileError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var fe *FileError
	return errors.As(err, &fe) && fe.Code == code
}
