package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	transfer "github.com/input-output-hk/catalyst-forge-libs/aws/transfer"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/api"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transfer manager behind an HTTP API",
		Long: `serve accepts jobs over HTTP, streams their progress as server-sent
events on /events and exposes Prometheus metrics on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.Server.Listen = listen
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config, :8080)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := append(a.cfg.Options(), transfer.WithLogger(a.log), transfer.WithMetrics(reg))
	m, err := transfer.New(ctx, opts...)
	if err != nil {
		return err
	}

	server := api.NewServer(a.cfg.Server.Listen, api.NewRouter(m, reg, a.log), a.cfg.Server.ShutdownTimeout, a.log)
	serveErr := server.Start(ctx)

	// unfinished jobs are cancelled and their uploads aborted
	closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Transfer.FinalizeTimeout+5*time.Second)
	defer cancel()
	if err := m.Close(closeCtx); err != nil {
		a.log.WithError(err).Error("manager close failed")
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}
