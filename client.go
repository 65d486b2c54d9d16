// Package transfer provides manager construction for the supported backends.
package transfer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/storage/miniostore"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/storage/s3store"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

// New creates a manager with the provided options.
// Unless WithStore is given it builds an S3 backend from the default AWS
// credential chain, or a MinIO backend when WithMinio is given.
//
// Example:
//
//	m, err := transfer.New(ctx,
//	    transfer.WithRegion("us-west-2"),
//	    transfer.WithConcurrency(8),
//	)
//	if err != nil {
//	    return err
//	}
//	defer m.Close(ctx)
func New(ctx context.Context, opts ...xfertypes.Option) (*Manager, error) {
	cfg := buildConfig(opts)

	store := cfg.Store
	if store == nil {
		var err error
		switch cfg.Backend {
		case xfertypes.BackendS3, "":
			store, err = newS3Store(ctx, cfg)
		case xfertypes.BackendMinio:
			store, err = miniostore.Dial(miniostore.Options{
				Endpoint:  cfg.Endpoint,
				AccessKey: cfg.AccessKey,
				SecretKey: cfg.SecretKey,
				Region:    cfg.Region,
			})
		default:
			err = errors.NewError("client initialization", errors.ErrInvalidInput).
				WithMessage(fmt.Sprintf("unknown backend %q", cfg.Backend))
		}
		if err != nil {
			return nil, err
		}
	}

	return newManager(cfg, store), nil
}

// NewWithStore creates a manager around a custom storage client.
// This is primarily used for testing with in-memory stores.
func NewWithStore(store xfertypes.StorageClient, opts ...xfertypes.Option) *Manager {
	return newManager(buildConfig(opts), store)
}

func newS3Store(ctx context.Context, cfg xfertypes.Config) (*s3store.Store, error) {
	var awsCfg aws.Config
	if cfg.AWSConfig != nil {
		awsCfg = *cfg.AWSConfig
	} else {
		var err error
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, errors.NewError("client initialization", err)
		}
	}

	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	} else if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	// part retries are ours; one SDK attempt per call keeps attempt counts honest
	awsCfg.RetryMaxAttempts = 1

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return s3store.New(client), nil
}
