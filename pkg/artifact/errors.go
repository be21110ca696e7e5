package artifact

import (
	"errors"
	"fmt"
)

// ErrorCode classifies shuttle errors.
type ErrorCode int

const (
	// ErrConfig indicates a malformed request or missing required fields.
	ErrConfig ErrorCode = iota + 1

	// ErrQueue indicates a duplicate or absent task on an operation that
	// requires the opposite.
	ErrQueue

	// ErrTransfer indicates a remote fetch/put failure, including
	// not-found and network failure.
	ErrTransfer

	// ErrChecksumMismatch indicates chunk or whole-source verification
	// failure on restore.
	ErrChecksumMismatch

	// ErrDedup indicates an attempted alias creation with a missing
	// primary target.
	ErrDedup

	// ErrLock indicates failure to acquire an advisory lock within the
	// configured timeout. Lock errors are retryable.
	ErrLock
)

// String returns a human-readable name for the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrConfig:
		return "ConfigError"
	case ErrQueue:
		return "QueueError"
	case ErrTransfer:
		return "TransferError"
	case ErrChecksumMismatch:
		return "ChecksumMismatchError"
	case ErrDedup:
		return "DedupError"
	case ErrLock:
		return "LockError"
	default:
		return fmt.Sprintf("Unknown(%d)", c)
	}
}

// Error is a classified shuttle error, optionally wrapping a cause.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewConfigError creates a ConfigError with a formatted message.
func NewConfigError(format string, args ...any) *Error {
	return &Error{Code: ErrConfig, Message: fmt.Sprintf(format, args...)}
}

// NewQueueError creates a QueueError with a formatted message.
func NewQueueError(format string, args ...any) *Error {
	return &Error{Code: ErrQueue, Message: fmt.Sprintf(format, args...)}
}

// NewTransferError creates a TransferError wrapping cause.
func NewTransferError(cause error, format string, args ...any) *Error {
	return &Error{Code: ErrTransfer, Message: fmt.Sprintf(format, args...), Err: cause}
}

// NewChecksumMismatchError creates a ChecksumMismatchError.
func NewChecksumMismatchError(format string, args ...any) *Error {
	return &Error{Code: ErrChecksumMismatch, Message: fmt.Sprintf(format, args...)}
}

// NewDedupError creates a DedupError with a formatted message.
func NewDedupError(format string, args ...any) *Error {
	return &Error{Code: ErrDedup, Message: fmt.Sprintf(format, args...)}
}

// NewLockError creates a LockError wrapping cause.
func NewLockError(cause error, format string, args ...any) *Error {
	return &Error{Code: ErrLock, Message: fmt.Sprintf(format, args...), Err: cause}
}

// CodeOf returns the error code of err, or 0 if err is not a shuttle error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
