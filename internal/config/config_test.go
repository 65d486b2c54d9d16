package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s3xfer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "s3", cfg.Storage.Backend)
	assert.Equal(t, 5, cfg.Transfer.Concurrency)
	assert.Equal(t, 5, cfg.Transfer.MaxActiveJobs)
	assert.Equal(t, ByteSize(8*1024*1024), cfg.Transfer.PartSize)
	assert.Equal(t, int64(10000), cfg.Transfer.MaxParts)
	assert.Equal(t, 200*time.Millisecond, cfg.Transfer.BaseDelay)
	assert.Equal(t, 5*time.Second, cfg.Transfer.RetainFinished)
	assert.True(t, cfg.Transfer.VerifyIntegrity)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, ":8080", cfg.Server.Listen)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: minio
  endpoint: http://localhost:9000
  access_key: minio
  secret_key: minio123
transfer:
  concurrency: 8
  part_size: 16MiB
  max_delay: 3s
  jitter: 0.5
logging:
  level: debug
  format: json
`)
	t.Setenv("S3XFER_TRANSFER_CONCURRENCY", "12")
	t.Setenv("S3XFER_TRANSFER_MAX_ACTIVE_JOBS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "minio", cfg.Storage.Backend)
	assert.Equal(t, "http://localhost:9000", cfg.Storage.Endpoint)
	assert.Equal(t, 12, cfg.Transfer.Concurrency, "environment wins over file")
	assert.Equal(t, 2, cfg.Transfer.MaxActiveJobs)
	assert.Equal(t, ByteSize(16*1024*1024), cfg.Transfer.PartSize)
	assert.Equal(t, 3*time.Second, cfg.Transfer.MaxDelay)
	assert.Equal(t, 0.5, cfg.Transfer.Jitter)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown backend", "storage:\n  backend: gcs\n"},
		{"minio without endpoint", "storage:\n  backend: minio\n"},
		{"zero concurrency", "transfer:\n  concurrency: 0\n"},
		{"bad jitter", "transfer:\n  jitter: 1.5\n"},
		{"bad factor", "transfer:\n  backoff_factor: 0.5\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"bad format", "logging:\n  format: xml\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.True(t, errors.IsInvalidInput(err), "got %v", err)
		})
	}

	t.Run("bad size", func(t *testing.T) {
		_, err := Load(writeConfig(t, "transfer:\n  part_size: lots\n"))
		assert.Error(t, err)
	})

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestConfig_Options(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Transfer.Concurrency = 3
	cfg.Transfer.PartSize = 6 * 1024 * 1024

	var c xfertypes.Config
	for _, opt := range cfg.Options() {
		opt(&c)
	}
	assert.Equal(t, 3, c.Concurrency)
	assert.Equal(t, int64(6*1024*1024), c.PartSize)
	assert.Equal(t, 5, c.Retry.MaxAttempts)
	assert.Equal(t, 0.2, c.Retry.JitterBound)
	assert.Equal(t, xfertypes.Backend(""), c.Backend)

	cfg.Storage.Backend = "minio"
	cfg.Storage.AccessKey = "ak"
	c = xfertypes.Config{}
	for _, opt := range cfg.Options() {
		opt(&c)
	}
	assert.Equal(t, xfertypes.BackendMinio, c.Backend)
	assert.Equal(t, "ak", c.AccessKey)
}

func TestLoggingConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LoggingConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)

	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	logger.Info("hidden")
	logger.WithField("job_id", "j1").Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"job_id":"j1"`)

	_, err = LoggingConfig{Level: "nope"}.NewLogger(&buf)
	assert.Error(t, err)
}

func TestByteSize_String(t *testing.T) {
	assert.Equal(t, "8.0 MiB", ByteSize(8*1024*1024).String())
}
