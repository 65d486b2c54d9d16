// Package config loads s3xfer configuration from a YAML file and S3XFER_*
// environment variables.
//
// Precedence, highest first: environment, file, defaults. Sizes may be written
// as "8MiB" or plain byte counts and durations as "250ms".
package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	transfer "github.com/input-output-hk/catalyst-forge-libs/aws/transfer"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/splitter"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

// EnvPrefix is the prefix of environment overrides, e.g. S3XFER_TRANSFER_CONCURRENCY.
const EnvPrefix = "S3XFER"

// ByteSize is a size in bytes that decodes from human-readable strings.
type ByteSize uint64

// String renders the size in IEC units.
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Config is the complete s3xfer configuration.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Backend is "s3" or "minio"
	Backend        string `mapstructure:"backend"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
}

// TransferConfig mirrors the manager options.
type TransferConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	MaxActiveJobs    int           `mapstructure:"max_active_jobs"`
	PartSize         ByteSize      `mapstructure:"part_size"`
	MaxParts         int64         `mapstructure:"max_parts"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	BackoffFactor    float64       `mapstructure:"backoff_factor"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	Jitter           float64       `mapstructure:"jitter"`
	AttemptTimeout   time.Duration `mapstructure:"attempt_timeout"`
	FinalizeTimeout  time.Duration `mapstructure:"finalize_timeout"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	ThroughputWindow time.Duration `mapstructure:"throughput_window"`
	RetainFinished   time.Duration `mapstructure:"retain_finished"`
	VerifyIntegrity  bool          `mapstructure:"verify_integrity"`
}

// LoggingConfig controls the CLI logger.
type LoggingConfig struct {
	// Level is a logrus level name
	Level string `mapstructure:"level"`
	// Format is "text" or "json"
	Format string `mapstructure:"format"`
}

// ServerConfig configures the HTTP control surface of "s3xfer serve".
type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// defaults are registered with viper so every key is also bindable from the environment.
var defaults = map[string]any{
	"storage.backend":            string(xfertypes.BackendS3),
	"storage.region":             "",
	"storage.endpoint":           "",
	"storage.force_path_style":   false,
	"storage.access_key":         "",
	"storage.secret_key":         "",
	"transfer.concurrency":       transfer.DefaultConcurrency,
	"transfer.max_active_jobs":   transfer.DefaultMaxActiveJobs,
	"transfer.part_size":         uint64(splitter.DefaultThreshold),
	"transfer.max_parts":         splitter.DefaultMaxParts,
	"transfer.max_attempts":      5,
	"transfer.base_delay":        "200ms",
	"transfer.backoff_factor":    2.0,
	"transfer.max_delay":         "10s",
	"transfer.jitter":            0.2,
	"transfer.attempt_timeout":   "0s",
	"transfer.finalize_timeout":  transfer.DefaultFinalizeTimeout.String(),
	"transfer.progress_interval": "250ms",
	"transfer.throughput_window": "5s",
	"transfer.retain_finished":   transfer.DefaultRetainFinished.String(),
	"transfer.verify_integrity":  true,
	"logging.level":              "info",
	"logging.format":             "text",
	"server.listen":              ":8080",
	"server.shutdown_timeout":    "30s",
}

// Load reads path, which may be empty, and applies environment overrides.
// A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("s3xfer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(dir + "/s3xfer")
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the manager would otherwise silently repair.
func (c *Config) Validate() error {
	switch xfertypes.Backend(c.Storage.Backend) {
	case xfertypes.BackendS3, xfertypes.BackendMinio:
	default:
		return invalid("storage.backend", fmt.Sprintf("unknown backend %q", c.Storage.Backend))
	}
	if c.Storage.Backend == string(xfertypes.BackendMinio) && c.Storage.Endpoint == "" {
		return invalid("storage.endpoint", "required for the minio backend")
	}

	t := c.Transfer
	switch {
	case t.Concurrency <= 0:
		return invalid("transfer.concurrency", "must be positive")
	case t.MaxActiveJobs <= 0:
		return invalid("transfer.max_active_jobs", "must be positive")
	case t.PartSize == 0:
		return invalid("transfer.part_size", "must be positive")
	case t.MaxParts <= 0:
		return invalid("transfer.max_parts", "must be positive")
	case t.MaxAttempts <= 0:
		return invalid("transfer.max_attempts", "must be positive")
	case t.BackoffFactor < 1:
		return invalid("transfer.backoff_factor", "must be at least 1")
	case t.Jitter < 0 || t.Jitter > 1:
		return invalid("transfer.jitter", "must be within [0, 1]")
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level", err.Error())
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return invalid("logging.format", fmt.Sprintf("unknown format %q", c.Logging.Format))
	}
	return nil
}

// Options converts the configuration into manager options.
func (c *Config) Options() []xfertypes.Option {
	s, t := c.Storage, c.Transfer
	opts := []xfertypes.Option{
		transfer.WithConcurrency(t.Concurrency),
		transfer.WithMaxActiveJobs(t.MaxActiveJobs),
		transfer.WithPartSize(int64(t.PartSize)),
		transfer.WithMaxParts(t.MaxParts),
		transfer.WithRetry(xfertypes.RetryConfig{
			MaxAttempts: t.MaxAttempts,
			BaseDelay:   t.BaseDelay,
			Factor:      t.BackoffFactor,
			MaxDelay:    t.MaxDelay,
			JitterBound: t.Jitter,
		}),
		transfer.WithAttemptTimeout(t.AttemptTimeout),
		transfer.WithFinalizeTimeout(t.FinalizeTimeout),
		transfer.WithProgressInterval(t.ProgressInterval),
		transfer.WithThroughputWindow(t.ThroughputWindow),
		transfer.WithRetainFinished(t.RetainFinished),
		transfer.WithVerifyIntegrity(t.VerifyIntegrity),
		transfer.WithRegion(s.Region),
		transfer.WithEndpoint(s.Endpoint),
		transfer.WithForcePathStyle(s.ForcePathStyle),
	}
	if xfertypes.Backend(s.Backend) == xfertypes.BackendMinio {
		opts = append(opts, transfer.WithMinio(s.AccessKey, s.SecretKey))
	}
	return opts
}

// NewLogger builds a logrus logger writing to w.
func (c LoggingConfig) NewLogger(w io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(level)
	if c.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

func invalid(key, msg string) error {
	return errors.NewError("config", errors.ErrInvalidInput).WithMessage(key + ": " + msg)
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// byteSizeDecodeHook accepts "8MiB", "5MB" or plain numbers for ByteSize fields.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			n, err := humanize.ParseBytes(v)
			if err != nil {
				return nil, fmt.Errorf("invalid size %q: %w", v, err)
			}
			return ByteSize(n), nil
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case uint64:
			return ByteSize(v), nil
		case float64:
			return ByteSize(v), nil
		default:
			return data, nil
		}
	}
}
