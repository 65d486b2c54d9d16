package testutil

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

func TestMockBuilder(t *testing.T) {
	ctx := context.Background()

	t.Run("records multipart parts", func(t *testing.T) {
		b := NewMockBuilder().WithMultipartUpload("upload-1")
		client := b.Build()

		created, err := client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String("bucket"),
			Key:    aws.String("key"),
		})
		require.NoError(t, err)
		assert.Equal(t, "upload-1", aws.ToString(created.UploadId))

		out, err := client.UploadPart(ctx, &s3.UploadPartInput{
			PartNumber: aws.Int32(2),
			Body:       bytes.NewReader([]byte("part two")),
		})
		require.NoError(t, err)
		assert.Equal(t, CalculateETag([]byte("part two")), aws.ToString(out.ETag))
		assert.Equal(t, []byte("part two"), b.UploadedParts()[2])

		done, err := client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			MultipartUpload: &types.CompletedMultipartUpload{Parts: []types.CompletedPart{{}, {}}},
		})
		require.NoError(t, err)
		assert.Equal(t, `"multipart-2"`, aws.ToString(done.ETag))
	})

	t.Run("serves ranges", func(t *testing.T) {
		client := NewMockBuilder().WithObject([]byte("0123456789")).Build()

		out, err := client.GetObject(ctx, &s3.GetObjectInput{Range: aws.String("bytes=2-5")})
		require.NoError(t, err)
		data, _ := io.ReadAll(out.Body)
		assert.Equal(t, "2345", string(data))

		_, err = client.GetObject(ctx, &s3.GetObjectInput{Range: aws.String("bytes=20-30")})
		assert.Error(t, err)

		head, err := client.HeadObject(ctx, &s3.HeadObjectInput{})
		require.NoError(t, err)
		assert.Equal(t, int64(10), aws.ToInt64(head.ContentLength))
	})

	t.Run("api error", func(t *testing.T) {
		client := NewMockBuilder().WithAPIError("SlowDown").Build()
		_, err := client.PutObject(ctx, &s3.PutObjectInput{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SlowDown")
	})
}

func TestMockStore(t *testing.T) {
	ctx := context.Background()
	obj := xfertypes.Object{Bucket: "bucket", Key: "data.bin"}

	t.Run("multipart round trip", func(t *testing.T) {
		m := NewMockStore()
		id, err := m.InitiateMultipart(ctx, obj, xfertypes.UploadOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, m.PendingUploads())

		t2, err := m.PutPart(ctx, obj, id, 2, bytes.NewReader([]byte("world")), 5, nil)
		require.NoError(t, err)
		t1, err := m.PutPart(ctx, obj, id, 1, bytes.NewReader([]byte("hello ")), 6, nil)
		require.NoError(t, err)

		_, err = m.CompleteMultipart(ctx, obj, id, []xfertypes.CompletedPart{
			{Number: 2, Token: t2},
			{Number: 1, Token: t1},
		})
		require.NoError(t, err)

		data, ok := m.Object(obj)
		require.True(t, ok)
		assert.Equal(t, "hello world", string(data))
		assert.Equal(t, 0, m.PendingUploads())
		assert.False(t, m.Overlapped())
	})

	t.Run("complete rejects wrong token", func(t *testing.T) {
		m := NewMockStore()
		id, err := m.InitiateMultipart(ctx, obj, xfertypes.UploadOptions{})
		require.NoError(t, err)
		_, err = m.PutPart(ctx, obj, id, 1, bytes.NewReader([]byte("x")), 1, nil)
		require.NoError(t, err)

		_, err = m.CompleteMultipart(ctx, obj, id, []xfertypes.CompletedPart{{Number: 1, Token: "nope"}})
		assert.True(t, errors.IsInvalidInput(err))
	})

	t.Run("aborted upload refuses parts", func(t *testing.T) {
		m := NewMockStore()
		id, err := m.InitiateMultipart(ctx, obj, xfertypes.UploadOptions{})
		require.NoError(t, err)
		require.NoError(t, m.AbortMultipart(ctx, obj, id))

		_, err = m.PutPart(ctx, obj, id, 1, bytes.NewReader([]byte("x")), 1, nil)
		assert.Error(t, err)
		assert.Equal(t, int64(1), m.AbortCalls.Load())
	})

	t.Run("hooks see attempt numbers", func(t *testing.T) {
		m := NewMockStore()
		m.Seed(obj, []byte("abcdef"))
		var seen []int
		m.GetRangeHook = func(_ context.Context, _, _ int64, attempt int) error {
			seen = append(seen, attempt)
			if attempt == 1 {
				return errors.ErrTimeout
			}
			return nil
		}

		_, err := m.GetObjectRange(ctx, obj, 2, 4)
		assert.ErrorIs(t, err, errors.ErrTimeout)
		rc, err := m.GetObjectRange(ctx, obj, 2, 4)
		require.NoError(t, err)
		data, _ := io.ReadAll(rc)
		assert.Equal(t, "cd", string(data))
		assert.Equal(t, []int{1, 2}, seen)
	})

	t.Run("head missing object", func(t *testing.T) {
		m := NewMockStore()
		_, err := m.HeadObject(ctx, obj)
		assert.True(t, errors.IsObjectNotFound(err))
	})
}

func TestMockProgress(t *testing.T) {
	p := NewMockProgress()
	p.Advance("job", 0, 10)
	p.Reset("job", 0)
	p.Confirm("job", 0, 10)
	p.Confirm("job", 1, 5)

	assert.Equal(t, int64(15), p.ConfirmedBytes())
	assert.Equal(t, 1, p.Resets[0])
	assert.Equal(t, []string{"reset", "confirm", "confirm"}, p.Calls)
}

func TestHelpers(t *testing.T) {
	assert.Len(t, GenerateRandomData(128), 128)
	assert.Contains(t, GenerateTestKey("uploads"), "uploads/test-object-")
	assert.LessOrEqual(t, len(GenerateTestBucketName("a-very-long-prefix-that-keeps-going-and-going-for-ever")), 63)
	assert.Equal(t, `"`+CalculateMD5Hex([]byte("x"))+`"`, CalculateETag([]byte("x")))
}
