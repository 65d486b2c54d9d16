package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/config"
)

// app carries state shared by every subcommand once the root has loaded it.
type app struct {
	cfgFile  string
	logLevel string

	cfg *config.Config
	log *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "s3xfer",
		Short: "Parallel multipart transfers for S3-compatible storage",
		Long: `s3xfer uploads and downloads large objects by splitting them into parts
that are transferred concurrently and retried independently. Interrupted
uploads are aborted on the service so no orphaned parts are billed.

Use "s3xfer [command] --help" for more information about a command.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: ./s3xfer.yaml or $XDG_CONFIG_HOME/s3xfer/s3xfer.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newUploadCmd(a))
	root.AddCommand(newDownloadCmd(a))
	root.AddCommand(newServeCmd(a))
	root.CompletionOptions.DisableDefaultCmd = true

	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	log, err := cfg.Logging.NewLogger(os.Stderr)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	a.cfg = cfg
	a.log = log
	log.WithFields(logrus.Fields{
		"backend": cfg.Storage.Backend,
		"source":  configSource(a.cfgFile),
	}).Debug("configuration loaded")
	return nil
}

func configSource(path string) string {
	if path != "" {
		return path
	}
	return "defaults and environment"
}
