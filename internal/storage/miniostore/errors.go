package miniostore

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"

	"github.com/minio/minio-go/v7"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

var codeSentinels = map[string]error{
	"NoSuchKey":                  errors.ErrObjectNotFound,
	"NoSuchBucket":               errors.ErrBucketNotFound,
	"AccessDenied":               errors.ErrAccessDenied,
	"InvalidAccessKeyId":         errors.ErrInvalidCredentials,
	"SignatureDoesNotMatch":      errors.ErrInvalidCredentials,
	"InvalidRange":               errors.ErrInvalidRange,
	"BadDigest":                  errors.ErrChecksumMismatch,
	"InvalidDigest":              errors.ErrChecksumMismatch,
	"NoSuchUpload":               errors.ErrInvalidInput,
	"InvalidPart":                errors.ErrInvalidInput,
	"InvalidPartOrder":           errors.ErrInvalidInput,
	"EntityTooSmall":             errors.ErrInvalidInput,
	"SlowDown":                   errors.ErrTooManyRequests,
	"SlowDownRead":               errors.ErrTooManyRequests,
	"SlowDownWrite":              errors.ErrTooManyRequests,
	"RequestTimeout":             errors.ErrTimeout,
	"InternalError":              errors.ErrServerError,
	"ServiceUnavailable":         errors.ErrServerError,
	"XMinioServerNotInitialized": errors.ErrServerError,
}

// translate wraps a minio error with the matching sentinel.
func translate(op string, obj xfertypes.Object, err error) error {
	if sentinel := sentinelFor(err); sentinel != nil {
		err = fmt.Errorf("%w: %w", sentinel, err)
	}
	return errors.NewObjectError(op, obj.Bucket, obj.Key, err)
}

func sentinelFor(err error) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return nil
	}

	resp := minio.ToErrorResponse(err)
	if sentinel, ok := codeSentinels[resp.Code]; ok {
		return sentinel
	}
	switch status := resp.StatusCode; {
	case status == http.StatusNotFound:
		return errors.ErrObjectNotFound
	case status == http.StatusForbidden:
		return errors.ErrAccessDenied
	case status == http.StatusRequestedRangeNotSatisfiable:
		return errors.ErrInvalidRange
	case status == http.StatusTooManyRequests:
		return errors.ErrTooManyRequests
	case status >= http.StatusInternalServerError:
		return errors.ErrServerError
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return errors.ErrTimeout
		}
		return errors.ErrConnection
	}
	return nil
}
