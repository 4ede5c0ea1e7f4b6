// Package errors provides error types and handling for upload pipeline operations.
package errors

import (
	"errors"
	"fmt"
)

// Class groups failures by which stage of the pipeline produced them.
// The class decides retry policy: validation and init failures are surfaced
// to the user, chunk and report failures are retried on a bounded budget,
// complete failures leave the session retryable, and cancellations are
// discarded silently.
type Class string

// Predefined failure classes
const (
	// ClassValidation covers admission-time rejections; the file never becomes a session
	ClassValidation Class = "validation"

	// ClassInit covers init call failures; never retried automatically
	ClassInit Class = "init"

	// ClassChunk covers chunk transfer failures and timeouts; retried per chunk
	ClassChunk Class = "chunk"

	// ClassReport covers bookkeeping report failures; retried independently
	ClassReport Class = "report"

	// ClassComplete covers finalize failures; the session stays retryable
	ClassComplete Class = "complete"

	// ClassCancelled covers user-initiated aborts; never surfaced as an error state
	ClassCancelled Class = "cancelled"
)

// Error represents an upload pipeline error with context about the operation
// that failed. It wraps the underlying transport or backend error.
type Error struct {
	// Op is the operation that failed (e.g., "init", "putChunk", "complete")
	Op string

	// Class is the failure class driving retry policy
	Class Class

	// Upload is the backend upload identifier (if assigned)
	Upload string

	// Part is the 1-indexed part number (if applicable)
	Part int

	// Err is the underlying error
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	if e.Upload != "" && e.Part > 0 {
		return fmt.Sprintf("upload.%s %s part %d: %v", e.Op, e.Upload, e.Part, e.Err)
	}
	if e.Upload != "" {
		return fmt.Sprintf("upload.%s %s: %v", e.Op, e.Upload, e.Err)
	}
	if e.Part > 0 {
		return fmt.Sprintf("upload.%s part %d: %v", e.Op, e.Part, e.Err)
	}
	return fmt.Sprintf("upload.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithUpload adds upload identifier context to an existing error.
func (e *Error) WithUpload(uploadID string) *Error {
	e.Upload = uploadID
	return e
}

// WithPart adds part number context to an existing error.
func (e *Error) WithPart(part int) *Error {
	e.Part = part
	return e
}

// WithMessage wraps the underlying error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	e.Err = fmt.Errorf("%s: %w", message, e.Err)
	return e
}

// NewError creates a new Error with the given operation, class, and underlying error.
func NewError(op string, class Class, err error) *Error {
	return &Error{
		Op:    op,
		Class: class,
		Err:   err,
	}
}

// Sentinel errors for common upload pipeline failures.
// These can be used with errors.Is() for error checking.
var (
	// ErrFileTooLarge indicates the file exceeds the configured size limit
	ErrFileTooLarge = errors.New("upload: file too large")

	// ErrEmptyFile indicates the file has no content
	ErrEmptyFile = errors.New("upload: empty file")

	// ErrUnsupportedType indicates the file's type is not in the allow list
	ErrUnsupportedType = errors.New("upload: unsupported file type")

	// ErrQueueFull indicates the manager's queue cap was reached
	ErrQueueFull = errors.New("upload: queue full")

	// ErrSessionNotFound indicates no session exists for the given identifier
	ErrSessionNotFound = errors.New("upload: session not found")

	// ErrInvalidTransition indicates a lifecycle command not valid in the current state
	ErrInvalidTransition = errors.New("upload: invalid state transition")

	// ErrPlanAlreadyIssued indicates init was re-run on a session holding a live plan
	ErrPlanAlreadyIssued = errors.New("upload: chunk plan already issued")

	// ErrPlanExpired indicates the plan's part targets are past their expiry
	ErrPlanExpired = errors.New("upload: chunk plan expired")

	// ErrIncompleteParts indicates complete was requested before all parts landed
	ErrIncompleteParts = errors.New("upload: not all parts uploaded")

	// ErrSourceUnavailable indicates the local file handle became unreadable
	ErrSourceUnavailable = errors.New("upload: source unavailable")

	// ErrUploadNotFound indicates the backend has no record of the upload identifier
	ErrUploadNotFound = errors.New("upload: upload not found")

	// ErrRetriesExhausted indicates a chunk failed every attempt in its retry budget
	ErrRetriesExhausted = errors.New("upload: retry budget exhausted")
)

// ClassOf returns the failure class of err, or an empty class when err does
// not carry one.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsRetryable reports whether the scheduler may retry the failed operation
// automatically. Chunk and report failures are retryable; everything else
// needs user action.
func IsRetryable(err error) bool {
	switch ClassOf(err) {
	case ClassChunk, ClassReport:
		return !errors.Is(err, ErrSourceUnavailable)
	default:
		return false
	}
}

// IsCancelled reports whether err stems from a user-initiated abort.
func IsCancelled(err error) bool {
	return ClassOf(err) == ClassCancelled
}

// IsValidation reports whether err is an admission-time rejection.
func IsValidation(err error) bool {
	return ClassOf(err) == ClassValidation
}
