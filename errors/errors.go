// Package errors provides error types and handling for transfer operations.
package errors

import (
	"errors"
	"fmt"
)

// Error represents a transfer error with context about the operation that failed.
// It wraps the underlying storage or filesystem error with the object it concerned.
type Error struct {
	// Op is the operation that failed (e.g., "putPart", "complete", "abort")
	Op string

	// Bucket is the bucket name (if applicable)
	Bucket string

	// Key is the object key (if applicable)
	Key string

	// Err is the underlying error
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	if e.Bucket != "" && e.Key != "" {
		return fmt.Sprintf("transfer.%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("transfer.%s bucket %s: %v", e.Op, e.Bucket, e.Err)
	}
	if e.Key != "" {
		return fmt.Sprintf("transfer.%s object %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("transfer.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithBucket adds bucket context to an existing error.
func (e *Error) WithBucket(bucket string) *Error {
	e.Bucket = bucket
	return e
}

// WithKey adds object key context to an existing error.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithMessage wraps the underlying error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	e.Err = fmt.Errorf("%s: %w", message, e.Err)
	return e
}

// NewError creates a new Error with the given operation and underlying error.
func NewError(op string, err error) *Error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// NewObjectError creates a new Error with bucket and key context.
func NewObjectError(op, bucket, key string, err error) *Error {
	return &Error{
		Op:     op,
		Bucket: bucket,
		Key:    key,
		Err:    err,
	}
}

// Sentinel errors for common transfer failures.
// These can be used with errors.Is() for error checking.
var (
	// ErrObjectNotFound indicates that the requested object does not exist
	ErrObjectNotFound = errors.New("transfer: object not found")

	// ErrBucketNotFound indicates that the requested bucket does not exist
	ErrBucketNotFound = errors.New("transfer: bucket not found")

	// ErrAccessDenied indicates that access to the resource is denied
	ErrAccessDenied = errors.New("transfer: access denied")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("transfer: invalid input")

	// ErrInvalidBucketName indicates that the bucket name is invalid
	ErrInvalidBucketName = errors.New("transfer: invalid bucket name")

	// ErrInvalidObjectKey indicates that the object key is invalid
	ErrInvalidObjectKey = errors.New("transfer: invalid object key")

	// ErrTooManyRequests indicates that the service is throttling requests
	ErrTooManyRequests = errors.New("transfer: too many requests")

	// ErrTimeout indicates that the operation timed out
	ErrTimeout = errors.New("transfer: operation timeout")

	// ErrConnection indicates a connection error
	ErrConnection = errors.New("transfer: connection error")

	// ErrServerError indicates the service answered with a 5xx status
	ErrServerError = errors.New("transfer: server error")

	// ErrChecksumMismatch indicates that checksums don't match
	ErrChecksumMismatch = errors.New("transfer: checksum mismatch")

	// ErrInvalidRange indicates that the requested range is invalid
	ErrInvalidRange = errors.New("transfer: invalid range")

	// ErrInvalidCredentials indicates that the credentials are invalid
	ErrInvalidCredentials = errors.New("transfer: invalid credentials")

	// ErrJobNotFound indicates that no job with the given ID is known
	ErrJobNotFound = errors.New("transfer: job not found")

	// ErrInvalidState indicates a job was asked to do something its state forbids
	ErrInvalidState = errors.New("transfer: invalid job state")

	// ErrClosed indicates the manager has been closed
	ErrClosed = errors.New("transfer: manager closed")
)

// IsObjectNotFound checks if an error indicates that an object was not found.
func IsObjectNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// IsAccessDenied checks if an error indicates access was denied.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsInvalidInput checks if an error indicates invalid input.
// Bucket and key validation failures count as invalid input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidBucketName) ||
		errors.Is(err, ErrInvalidObjectKey)
}

// IsJobNotFound checks if an error indicates an unknown job.
func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}
