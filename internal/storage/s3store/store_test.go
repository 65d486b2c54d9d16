package s3store

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // test checksum
	stderrors "errors"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

var obj = xfertypes.Object{Bucket: "bucket", Key: "dir/data.bin"}

func TestStore_Multipart(t *testing.T) {
	ctx := context.Background()
	b := testutil.NewMockBuilder().WithMultipartUpload("up-1")
	mock := b.Build()

	var completed *s3.CompleteMultipartUploadInput
	complete := mock.CompleteMultipartUploadFunc
	mock.CompleteMultipartUploadFunc = func(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
		completed = in
		return complete(ctx, in, opts...)
	}

	var md5Header string
	upload := mock.UploadPartFunc
	mock.UploadPartFunc = func(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
		md5Header = aws.ToString(in.ContentMD5)
		return upload(ctx, in, opts...)
	}

	store := New(mock)

	id, err := store.InitiateMultipart(ctx, obj, xfertypes.UploadOptions{ContentType: "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, "up-1", id)

	data := []byte("part-one")
	sum := md5.Sum(data) //nolint:gosec // test checksum
	token, err := store.PutPart(ctx, obj, id, 1, bytes.NewReader(data), int64(len(data)), sum[:])
	require.NoError(t, err)
	assert.Equal(t, testutil.CalculateMD5Hex(data), token, "etag quotes are stripped")
	assert.Equal(t, testutil.CalculateMD5(data), md5Header)
	assert.Equal(t, data, b.UploadedParts()[1])

	_, err = store.CompleteMultipart(ctx, obj, id, []xfertypes.CompletedPart{
		{Number: 3, Token: "c"},
		{Number: 1, Token: "a"},
		{Number: 2, Token: "b"},
	})
	require.NoError(t, err)
	require.NotNil(t, completed)
	for i, p := range completed.MultipartUpload.Parts {
		assert.Equal(t, int32(i+1), aws.ToInt32(p.PartNumber))
	}
}

func TestStore_InitiateWithoutUploadID(t *testing.T) {
	mock := &testutil.MockS3Client{
		CreateMultipartUploadFunc: func(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
			return &s3.CreateMultipartUploadOutput{}, nil
		},
	}
	_, err := New(mock).InitiateMultipart(context.Background(), obj, xfertypes.UploadOptions{})
	assert.ErrorIs(t, err, errors.ErrServerError)
}

func TestStore_GetObjectRange(t *testing.T) {
	ctx := context.Background()
	data := []byte("0123456789")

	var rangeHeader string
	mock := testutil.NewMockBuilder().WithObject(data).Build()
	get := mock.GetObjectFunc
	mock.GetObjectFunc = func(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
		rangeHeader = aws.ToString(in.Range)
		return get(ctx, in, opts...)
	}
	store := New(mock)

	rc, err := store.GetObjectRange(ctx, obj, 3, 7)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)

	assert.Equal(t, "bytes=3-6", rangeHeader)
	assert.Equal(t, "3456", string(got))

	_, err = store.GetObjectRange(ctx, obj, 5, 5)
	assert.ErrorIs(t, err, errors.ErrInvalidRange)

	info, err := store.HeadObject(ctx, obj)
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size)
	assert.Equal(t, testutil.CalculateMD5Hex(data), info.ETag)
}

func TestTranslate(t *testing.T) {
	status := func(code int) error {
		return &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: code}},
			Err:      stderrors.New("http error"),
		}
	}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", &smithy.GenericAPIError{Code: "NoSuchKey"}, errors.ErrObjectNotFound},
		{"no such bucket", &smithy.GenericAPIError{Code: "NoSuchBucket"}, errors.ErrBucketNotFound},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, errors.ErrAccessDenied},
		{"bad credentials", &smithy.GenericAPIError{Code: "InvalidAccessKeyId"}, errors.ErrInvalidCredentials},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, errors.ErrTooManyRequests},
		{"bad digest", &smithy.GenericAPIError{Code: "BadDigest"}, errors.ErrChecksumMismatch},
		{"internal error", &smithy.GenericAPIError{Code: "InternalError"}, errors.ErrServerError},
		{"status 404", status(http.StatusNotFound), errors.ErrObjectNotFound},
		{"status 503", status(http.StatusServiceUnavailable), errors.ErrServerError},
		{"status 429", status(http.StatusTooManyRequests), errors.ErrTooManyRequests},
		{"status 416", status(http.StatusRequestedRangeNotSatisfiable), errors.ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translate("putPart", obj, tt.err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err, "original error stays in the chain")

			var terr *errors.Error
			require.True(t, stderrors.As(err, &terr))
			assert.Equal(t, "putPart", terr.Op)
			assert.Equal(t, obj.Key, terr.Key)
		})
	}

	t.Run("context cancellation is untouched", func(t *testing.T) {
		err := translate("putPart", obj, context.Canceled)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, stderrors.Is(err, errors.ErrTimeout))
	})

	t.Run("unknown code has no sentinel", func(t *testing.T) {
		err := translate("putPart", obj, &smithy.GenericAPIError{Code: "Weird"})
		assert.Nil(t, sentinelFor(&smithy.GenericAPIError{Code: "Weird"}))
		assert.Contains(t, err.Error(), "Weird")
	})
}

func TestStore_ServiceErrors(t *testing.T) {
	store := New(testutil.NewMockBuilder().WithAPIError("SlowDown").Build())
	ctx := context.Background()

	_, err := store.InitiateMultipart(ctx, obj, xfertypes.UploadOptions{})
	assert.ErrorIs(t, err, errors.ErrTooManyRequests)

	_, err = store.HeadObject(ctx, obj)
	assert.ErrorIs(t, err, errors.ErrTooManyRequests)

	_, err = store.GetObjectRange(ctx, obj, 0, 10)
	assert.ErrorIs(t, err, errors.ErrTooManyRequests)

	err = store.ListObjects(ctx, obj.Bucket, "dir/", func(xfertypes.ListedObject) error { return nil })
	assert.ErrorIs(t, err, errors.ErrTooManyRequests)
}
