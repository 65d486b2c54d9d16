// Package s3store implements the storage client on top of the AWS SDK v2.
package s3store

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/s3api"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

// Store is an S3-backed storage client.
type Store struct {
	client s3api.S3API
}

var _ xfertypes.StorageClient = (*Store)(nil)

// New creates a store around an S3 client.
func New(client s3api.S3API) *Store {
	return &Store{client: client}
}

// InitiateMultipart starts a multipart upload and returns its upload ID.
func (s *Store) InitiateMultipart(
	ctx context.Context,
	obj xfertypes.Object,
	opts xfertypes.UploadOptions,
) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(obj.Bucket),
		Key:      aws.String(obj.Key),
		Metadata: opts.Metadata,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.StorageClass != "" {
		input.StorageClass = types.StorageClass(opts.StorageClass)
	}

	out, err := s.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", translate("initiateMultipart", obj, err)
	}
	if out.UploadId == nil || *out.UploadId == "" {
		return "", errors.NewObjectError("initiateMultipart", obj.Bucket, obj.Key, errors.ErrServerError).
			WithMessage("no upload ID returned")
	}
	return *out.UploadId, nil
}

// PutPart uploads one part. number is 1-based.
func (s *Store) PutPart(
	ctx context.Context,
	obj xfertypes.Object,
	uploadID string,
	number int32,
	body io.ReadSeeker,
	size int64,
	md5sum []byte,
) (string, error) {
	input := &s3.UploadPartInput{
		Bucket:        aws.String(obj.Bucket),
		Key:           aws.String(obj.Key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(number),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if len(md5sum) > 0 {
		input.ContentMD5 = aws.String(base64.StdEncoding.EncodeToString(md5sum))
	}

	out, err := s.client.UploadPart(ctx, input)
	if err != nil {
		return "", translate("putPart", obj, err)
	}
	return trimETag(out.ETag), nil
}

// CompleteMultipart assembles the uploaded parts into the final object.
func (s *Store) CompleteMultipart(
	ctx context.Context,
	obj xfertypes.Object,
	uploadID string,
	parts []xfertypes.CompletedPart,
) (string, error) {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.Token),
			PartNumber: aws.Int32(p.Number),
		}
	}
	sort.Slice(completed, func(i, j int) bool {
		return *completed[i].PartNumber < *completed[j].PartNumber
	})

	out, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(obj.Bucket),
		Key:             aws.String(obj.Key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return "", translate("completeMultipart", obj, err)
	}
	return trimETag(out.ETag), nil
}

// AbortMultipart aborts an upload and releases its staged parts.
func (s *Store) AbortMultipart(ctx context.Context, obj xfertypes.Object, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(obj.Bucket),
		Key:      aws.String(obj.Key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return translate("abortMultipart", obj, err)
	}
	return nil
}

// PutObject uploads a whole object in one request.
func (s *Store) PutObject(
	ctx context.Context,
	obj xfertypes.Object,
	body io.ReadSeeker,
	size int64,
	md5sum []byte,
	opts xfertypes.UploadOptions,
) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(obj.Bucket),
		Key:           aws.String(obj.Key),
		Body:          body,
		ContentLength: aws.Int64(size),
		Metadata:      opts.Metadata,
	}
	if len(md5sum) > 0 {
		input.ContentMD5 = aws.String(base64.StdEncoding.EncodeToString(md5sum))
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.StorageClass != "" {
		input.StorageClass = types.StorageClass(opts.StorageClass)
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return "", translate("putObject", obj, err)
	}
	return trimETag(out.ETag), nil
}

// GetObjectRange streams the bytes in [start, end).
func (s *Store) GetObjectRange(ctx context.Context, obj xfertypes.Object, start, end int64) (io.ReadCloser, error) {
	if start < 0 || end <= start {
		return nil, errors.NewObjectError("getObjectRange", obj.Bucket, obj.Key, errors.ErrInvalidRange).
			WithMessage(fmt.Sprintf("empty or negative range [%d, %d)", start, end))
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(obj.Bucket),
		Key:    aws.String(obj.Key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end-1)),
	})
	if err != nil {
		return nil, translate("getObjectRange", obj, err)
	}
	if out.Body == nil {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return out.Body, nil
}

// HeadObject returns the size and ETag of an object.
func (s *Store) HeadObject(ctx context.Context, obj xfertypes.Object) (xfertypes.ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(obj.Bucket),
		Key:    aws.String(obj.Key),
	})
	if err != nil {
		return xfertypes.ObjectInfo{}, translate("headObject", obj, err)
	}
	return xfertypes.ObjectInfo{
		Size:        aws.ToInt64(out.ContentLength),
		ETag:        trimETag(out.ETag),
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

func trimETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}
