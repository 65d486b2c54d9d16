// Command s3xfer moves files to and from S3-compatible object storage with
// parallel, retried part transfers.
//
// Usage:
//
//	s3xfer upload ./backup.tar s3://bucket/backups/backup.tar
//	s3xfer download s3://bucket/backups/backup.tar ./restore.tar
//	s3xfer serve --config /etc/s3xfer.yaml
//
// Every configuration key can be overridden from the environment, e.g.
// S3XFER_TRANSFER_CONCURRENCY=16.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
