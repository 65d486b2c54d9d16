// Package transfer moves files to and from S3-compatible object storage.
//
// A Manager accepts upload and download jobs, splits large objects into
// parts, runs the parts on a bounded worker pool shared by every job, retries
// failed parts with jittered exponential backoff and publishes coalesced
// progress events. A multipart upload either completes or is aborted on the
// service exactly once; a download either lands at its destination or leaves
// nothing behind.
//
// Key features:
//   - Fair round-robin dispatch of parts across concurrent jobs
//   - A cap on active jobs with FIFO queueing of the rest
//   - Error classification into transient, permanent, integrity and cancelled failures
//   - MD5 integrity checks on uploaded and downloaded parts
//   - Monotonic progress with sliding-window throughput
//   - Directory uploads and prefix downloads expanded into one job per file
//   - S3 (AWS SDK v2) and MinIO backends, structured logging and Prometheus metrics
//
// Example usage:
//
//	m, err := transfer.New(ctx, transfer.WithRegion("eu-west-1"))
//	if err != nil {
//	    return err
//	}
//	defer m.Close(ctx)
//
//	id, err := m.Submit(ctx, xfertypes.JobSpec{
//	    Kind:      xfertypes.KindUpload,
//	    LocalPath: "/data/archive.tar",
//	    Remote:    xfertypes.Object{Bucket: "my-bucket", Key: "backups/archive.tar"},
//	})
//	if err != nil {
//	    return err
//	}
//
//	sub := m.Subscribe(id)
//	defer sub.Close()
//	for ev := range sub.C() {
//	    fmt.Printf("%s %.1f%%\n", ev.State, ev.Percent)
//	    if ev.State.Terminal() {
//	        break
//	    }
//	}
package transfer
