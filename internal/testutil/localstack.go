// Package testutil provides LocalStack helpers for integration tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
	"github.com/testcontainers/testcontainers-go/wait"
)

// LocalStack is a running LocalStack container with an S3 client pointed at it.
type LocalStack struct {
	Client   *s3.Client
	Config   aws.Config
	Endpoint string
	Region   string

	container *localstack.LocalStackContainer
}

// StartLocalStack starts a container and skips the test in short mode.
// The container is terminated when the test finishes.
func StartLocalStack(t *testing.T) *LocalStack {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := localstack.Run(ctx,
		"localstack/localstack:latest",
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/_localstack/health").
				WithPort("4566").
				WithStartupTimeout(2*time.Minute),
		),
	)
	if err != nil {
		t.Fatalf("failed to start LocalStack container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate LocalStack container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4566")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	ls := &LocalStack{
		Endpoint:  fmt.Sprintf("http://%s:%s", host, port.Port()),
		Region:    "us-east-1",
		container: container,
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(ls.Region),
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: "test", SecretAccessKey: "test"}, nil
			})),
	)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	ls.Config = cfg
	ls.Client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(ls.Endpoint)
	})

	return ls
}

// Bucket creates a uniquely named bucket and empties and removes it on cleanup.
func (ls *LocalStack) Bucket(t *testing.T, prefix string) string {
	t.Helper()

	name := GenerateTestBucketName(prefix)
	ctx := context.Background()
	if _, err := ls.Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)}); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}
	t.Cleanup(func() {
		if err := ls.emptyBucket(ctx, name); err != nil {
			t.Logf("failed to clean bucket %s: %v", name, err)
		}
	})
	return name
}

// PendingUploads lists multipart uploads that were neither completed nor aborted.
func (ls *LocalStack) PendingUploads(ctx context.Context, bucket string) (int, error) {
	out, err := ls.Client.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{Bucket: aws.String(bucket)})
	if err != nil {
		return 0, fmt.Errorf("failed to list multipart uploads: %w", err)
	}
	return len(out.Uploads), nil
}

func (ls *LocalStack) emptyBucket(ctx context.Context, bucket string) error {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	for {
		out, err := ls.Client.ListObjectsV2(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
		if len(out.Contents) == 0 {
			break
		}

		objects := make([]types.ObjectIdentifier, 0, len(out.Contents))
		for _, obj := range out.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}
		if _, err := ls.Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: objects},
		}); err != nil {
			return fmt.Errorf("failed to delete objects: %w", err)
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}

	if _, err := ls.Client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("failed to delete bucket: %w", err)
	}
	return nil
}
