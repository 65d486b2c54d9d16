package s3store

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

var codeSentinels = map[string]error{
	"NoSuchKey":                              errors.ErrObjectNotFound,
	"NotFound":                               errors.ErrObjectNotFound,
	"NoSuchBucket":                           errors.ErrBucketNotFound,
	"AccessDenied":                           errors.ErrAccessDenied,
	"Forbidden":                              errors.ErrAccessDenied,
	"AllAccessDisabled":                      errors.ErrAccessDenied,
	"InvalidAccessKeyId":                     errors.ErrInvalidCredentials,
	"SignatureDoesNotMatch":                  errors.ErrInvalidCredentials,
	"ExpiredToken":                           errors.ErrInvalidCredentials,
	"InvalidToken":                           errors.ErrInvalidCredentials,
	"InvalidRange":                           errors.ErrInvalidRange,
	"BadDigest":                              errors.ErrChecksumMismatch,
	"InvalidDigest":                          errors.ErrChecksumMismatch,
	"XAmzContentChecksumMismatch":            errors.ErrChecksumMismatch,
	"NoSuchUpload":                           errors.ErrInvalidInput,
	"InvalidPart":                            errors.ErrInvalidInput,
	"InvalidPartOrder":                       errors.ErrInvalidInput,
	"EntityTooSmall":                         errors.ErrInvalidInput,
	"EntityTooLarge":                         errors.ErrInvalidInput,
	"InvalidRequest":                         errors.ErrInvalidInput,
	"Throttling":                             errors.ErrTooManyRequests,
	"ThrottlingException":                    errors.ErrTooManyRequests,
	"RequestThrottled":                       errors.ErrTooManyRequests,
	"SlowDown":                               errors.ErrTooManyRequests,
	"TooManyRequests":                        errors.ErrTooManyRequests,
	"ProvisionedThroughputExceededException": errors.ErrTooManyRequests,
	"RequestTimeout":                         errors.ErrTimeout,
	"InternalError":                          errors.ErrServerError,
	"ServiceUnavailable":                     errors.ErrServerError,
	"ServiceException":                       errors.ErrServerError,
	"InternalServiceException":               errors.ErrServerError,
}

// translate wraps an SDK error with the matching sentinel. The original error
// stays in the chain so context cancellation remains detectable.
func translate(op string, obj xfertypes.Object, err error) error {
	sentinel := sentinelFor(err)
	if sentinel != nil {
		err = fmt.Errorf("%w: %w", sentinel, err)
	}
	return errors.NewObjectError(op, obj.Bucket, obj.Key, err)
}

func sentinelFor(err error) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return nil
	}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		if sentinel, ok := codeSentinels[apiErr.ErrorCode()]; ok {
			return sentinel
		}
	}

	var respErr *smithyhttp.ResponseError
	if stderrors.As(err, &respErr) {
		switch status := respErr.HTTPStatusCode(); {
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
