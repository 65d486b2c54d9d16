// Package testutil provides a builder for creating mock S3 clients.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// MockBuilder provides a fluent interface for building MockS3Client instances.
type MockBuilder struct {
	client *MockS3Client

	mu       sync.Mutex
	uploaded map[int32][]byte
}

// NewMockBuilder creates a new MockBuilder.
func NewMockBuilder() *MockBuilder {
	return &MockBuilder{
		client:   &MockS3Client{},
		uploaded: make(map[int32][]byte),
	}
}

// Build returns the configured MockS3Client.
func (b *MockBuilder) Build() *MockS3Client {
	return b.client
}

// UploadedParts returns the bodies received by UploadPart, keyed by part number.
func (b *MockBuilder) UploadedParts() map[int32][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[int32][]byte, len(b.uploaded))
	for k, v := range b.uploaded {
		out[k] = v
	}
	return out
}

// WithMultipartUpload configures the mock for multipart upload operations.
// Part bodies are recorded and answered with their MD5 ETag.
func (b *MockBuilder) WithMultipartUpload(uploadID string) *MockBuilder {
	b.client.CreateMultipartUploadFunc = func(_ context.Context, params *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
		return &s3.CreateMultipartUploadOutput{
			UploadId: aws.String(uploadID),
			Bucket:   params.Bucket,
			Key:      params.Key,
		}, nil
	}

	b.client.UploadPartFunc = func(_ context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
		var data []byte
		if params.Body != nil {
			data, _ = io.ReadAll(params.Body)
		}
		b.mu.Lock()
		b.uploaded[aws.ToInt32(params.PartNumber)] = data
		b.mu.Unlock()
		return &s3.UploadPartOutput{ETag: aws.String(CalculateETag(data))}, nil
	}

	b.client.CompleteMultipartUploadFunc = func(_ context.Context, params *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
		return &s3.CompleteMultipartUploadOutput{
			ETag:   aws.String(fmt.Sprintf(`"multipart-%d"`, len(params.MultipartUpload.Parts))),
			Bucket: params.Bucket,
			Key:    params.Key,
		}, nil
	}

	b.client.AbortMultipartUploadFunc = func(_ context.Context, _ *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
		return &s3.AbortMultipartUploadOutput{}, nil
	}

	return b
}

// WithObject configures GetObject and HeadObject to serve data, honouring
// "bytes=a-b" range headers.
func (b *MockBuilder) WithObject(data []byte) *MockBuilder {
	b.client.HeadObjectFunc = func(_ context.Context, _ *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
		return &s3.HeadObjectOutput{
			ContentLength: aws.Int64(int64(len(data))),
			ETag:          aws.String(CalculateETag(data)),
			ContentType:   aws.String("application/octet-stream"),
		}, nil
	}

	b.client.GetObjectFunc = func(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
		body := data
		if r := aws.ToString(params.Range); r != "" {
			var start, end int
			if _, err := fmt.Sscanf(r, "bytes=%d-%d", &start, &end); err != nil {
				return nil, &smithy.GenericAPIError{Code: "InvalidRange", Message: r}
			}
			if start >= len(data) {
				return nil, &smithy.GenericAPIError{Code: "InvalidRange", Message: r}
			}
			if end >= len(data) {
				end = len(data) - 1
			}
			body = data[start : end+1]
		}
		return &s3.GetObjectOutput{
			Body:          io.NopCloser(bytes.NewReader(body)),
			ContentLength: aws.Int64(int64(len(body))),
		}, nil
	}

	return b
}

// WithAPIError configures every operation to fail with the given error code.
func (b *MockBuilder) WithAPIError(code string) *MockBuilder {
	apiErr := &smithy.GenericAPIError{Code: code, Message: code}

	b.client.PutObjectFunc = func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return nil, apiErr
	}
	b.client.GetObjectFunc = func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
		return nil, apiErr
	}
	b.client.HeadObjectFunc = func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
		return nil, apiErr
	}
	b.client.CreateMultipartUploadFunc = func(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
		return nil, apiErr
	}
	b.client.UploadPartFunc = func(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
		return nil, apiErr
	}
	b.client.CompleteMultipartUploadFunc = func(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
		return nil, apiErr
	}
	b.client.AbortMultipartUploadFunc = func(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
		return nil, apiErr
	}
	b.client.ListObjectsV2Func = func(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
		return nil, apiErr
	}

	return b
}
