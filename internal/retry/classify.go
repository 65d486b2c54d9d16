// Package retry classifies part failures and decides retry eligibility and backoff timing.
package retry

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"syscall"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
)

// Class is the failure category of an attempt error.
type Class int

const (
	// None means the attempt succeeded.
	None Class = iota
	// Transient failures are retried with backoff.
	Transient
	// Permanent failures fail the part immediately.
	Permanent
	// Integrity failures are retried once, then treated as Permanent.
	Integrity
	// Cancelled failures come from user cancellation and are never retried.
	Cancelled
)

func (c Class) String() string {
	switch c {
	case None:
		return "none"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Integrity:
		return "integrity"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var permanent = []error{
	errors.ErrAccessDenied,
	errors.ErrObjectNotFound,
	errors.ErrBucketNotFound,
	errors.ErrInvalidCredentials,
	errors.ErrInvalidInput,
	errors.ErrInvalidBucketName,
	errors.ErrInvalidObjectKey,
	errors.ErrInvalidRange,
}

// Classify maps an attempt error onto a Class.
// Storage backends translate service errors into sentinels, so this only
// needs to recognise sentinels and transport-level failures.
func Classify(err error) Class {
	if err == nil {
		return None
	}

	if stderrors.Is(err, context.Canceled) {
		return Cancelled
	}
	if stderrors.Is(err, errors.ErrChecksumMismatch) {
		return Integrity
	}
	for _, p := range permanent {
		if stderrors.Is(err, p) {
			return Permanent
		}
	}

	switch {
	case stderrors.Is(err, errors.ErrTimeout),
		stderrors.Is(err, errors.ErrConnection),
		stderrors.Is(err, errors.ErrTooManyRequests),
		stderrors.Is(err, errors.ErrServerError),
		stderrors.Is(err, context.DeadlineExceeded),
		stderrors.Is(err, io.ErrUnexpectedEOF),
		stderrors.Is(err, syscall.ECONNRESET),
		stderrors.Is(err, syscall.ECONNREFUSED),
		stderrors.Is(err, syscall.EPIPE):
		return Transient
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return Transient
	}

	// Unknown failures are retried; MaxAttempts bounds the cost.
	return Transient
}
