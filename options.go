// Package transfer provides functional options for configuring the transfer manager.
// These options follow the functional options pattern for clean, composable configuration.
package transfer

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-git/go-billy/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/progress"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/retry"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/splitter"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

// Defaults applied by New.
const (
	DefaultConcurrency     = 5
	DefaultMaxActiveJobs   = 5
	DefaultFinalizeTimeout = 2 * time.Minute
	DefaultRetainFinished  = 5 * time.Second
)

func defaultConfig() xfertypes.Config {
	return xfertypes.Config{
		Concurrency:      DefaultConcurrency,
		MaxActiveJobs:    DefaultMaxActiveJobs,
		PartSize:         splitter.DefaultThreshold,
		MaxParts:         splitter.DefaultMaxParts,
		Retry:            retry.DefaultConfig(),
		FinalizeTimeout:  DefaultFinalizeTimeout,
		ProgressInterval: progress.DefaultInterval,
		ThroughputWindow: progress.DefaultWindow,
		RetainFinished:   DefaultRetainFinished,
		VerifyIntegrity:  true,
		Backend:          xfertypes.BackendS3,
	}
}

// buildConfig applies opts over the defaults and repairs values no option
// should be able to break.
func buildConfig(opts []xfertypes.Option) xfertypes.Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	def := defaultConfig()
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxActiveJobs < 1 {
		cfg.MaxActiveJobs = def.MaxActiveJobs
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = def.PartSize
	}
	if cfg.MaxParts <= 0 {
		cfg.MaxParts = def.MaxParts
	}
	if cfg.RetainFinished < 0 {
		cfg.RetainFinished = 0
	}
	return cfg
}

// WithConcurrency sets the number of part workers shared by all jobs.
// Default is 5.
func WithConcurrency(concurrency int) xfertypes.Option {
	return func(c *xfertypes.Config) {
		if concurrency > 0 {
			c.Concurrency = concurrency
		}
	}
}

// WithMaxActiveJobs bounds how many jobs may be splitting or transferring at
// once. Further jobs wait in the queue. Default is 5.
func WithMaxActiveJobs(n int) xfertypes.Option {
	return func(c *xfertypes.Config) {
		if n > 0 {
			c.MaxActiveJobs = n
		}
	}
}

// WithPartSize sets the multipart threshold and minimum part size.
// Default is 8MiB. S3 rejects parts other than the last below 5MiB.
func WithPartSize(partSize int64) xfertypes.Option {
	return func(c *xfertypes.Config) {
		if partSize > 0 {
			c.PartSize = partSize
		}
	}
}

// WithMaxParts sets the service limit on parts per object. Default is 10,000.
func WithMaxParts(maxParts int64) xfertypes.Option {
	return func(c *xfertypes.Config) {
		if maxParts > 0 {
			c.MaxParts = maxParts
		}
	}
}

// WithRetry replaces the part retry configuration. Zero fields take their defaults.
func WithRetry(cfg xfertypes.RetryConfig) xfertypes.Option {
	return func(c *xfertypes.Config) {
		c.Retry = cfg
	}
}

// WithMaxAttempts sets the attempts per part, including the first.
func WithMaxAttempts(n int) xfertypes.Option {
	return func(c *xfertypes.Config) {
		if n > 0 {
			c.Retry.MaxAttempts = n
		}
	}
}

// WithAttemptTimeout bounds each part attempt. Zero disables the bound.
func WithAttemptTimeout(timeout time.Duration) xfertypes.Option {
	return func(c *xfertypes.Config) {
		c.AttemptTimeout = timeout
	}
}

// WithFinalizeTimeout bounds head, initiate, complete and abort calls.
func WithFinalizeTimeout(timeout time.Duration) xfertypes.Option {
	return func(c *xfertypes.Config) {
		c.FinalizeTimeout = timeout
	}
}

// WithProgressInterval sets the minimum spacing of progress events per job.
func WithProgressInterval(interval time.Duration) xfertypes.Option {
	return func(c *xfertypes.Config) {
		c.ProgressInterval = interval
	}
}

// WithThroughputWindow sets the sliding window for throughput estimates.
func WithThroughputWindow(window time.Duration) xfertypes.Option {
	return func(c *xfertypes.Config) {
		c.ThroughputWindow = window
	}
}

// WithRetainFinished sets how long finished jobs stay visible to Status and Jobs.
func WithRetainFinished(d time.Duration) xfertypes.Option {
	return func(c *xfertypes.Config) {
		c.RetainFinished = d
	}
}

// WithVerifyIntegrity toggles MD5 and length checks on parts. Default is on.
func WithVerifyIntegrity(verify bool) xfertypes.Option {
	return func(c *xfertypes.Config) {
		c.VerifyIntegrity = verify
	}
}

// WithLogger sets the structured logger. Default discards logs.
func WithLogger(logger logrus.FieldLogger) xfertypes.Option {
	return func(c *xfertypes.Config) {
		c.Logger = logger
	}
}

// WithMetrics registers the manager's metrics with reg.
func WithMetrics(reg prometheus.Registerer) xfertypes.Option {
	return func(c *xfertypes.Config) {
		c.Registerer = reg
	}
}

// WithFilesystem sets the filesystem local files are read from and written to.
// This allows using in-memory filesystems for testing.
// If not specified, defaults to the OS filesystem.
func WithFilesystem(filesystem billy.Filesystem) xfertypes.Option {
	return func(c *xfertypes.Config) {
		c.Filesystem = filesystem
	}
}

// WithRegion sets the region of the storage backend.
func WithRegion(region string) xfertypes.Option {
	return func(c *xfertypes.Config) {
		c.Region = region
	}
}

// WithEndpoint sets a custom endpoint URL.
// This is useful for S3-compatible services or local testing with LocalStack.
func WithEndpoint(endpoint string) xfertypes.Option {
	return func(c *xfertypes.Config) {
		c.Endpoint = endpoint
	}
}

// WithForcePathStyle forces path-style addressing instead of virtual-hosted style.
func WithForcePathStyle(forcePathStyle bool) xfertypes.Option {
	return func(c *xfertypes.Config) {
		c.ForcePathStyle = forcePathStyle
	}
}

// WithAWSConfig allows providing a custom AWS configuration.
// This overrides the default configuration loading behavior.
func WithAWSConfig(config *aws.Config) xfertypes.Option {
	return func(c *xfertypes.Config) {
		c.AWSConfig = config
	}
}

// WithMinio selects the MinIO backend with static credentials. Empty keys
// fall back to the AWS and MinIO environment variables.
func WithMinio(accessKey, secretKey string) xfertypes.Option {
	return func(c *xfertypes.Config) {
		c.Backend = xfertypes.BackendMinio
		c.AccessKey = accessKey
		c.SecretKey = secretKey
	}
}

// WithStore replaces the storage backend. This is primarily used for testing.
func WithStore(store xfertypes.StorageClient) xfertypes.Option {
	return func(c *xfertypes.Config) {
		c.Store = store
	}
}
