// Package internal contains private implementation details for the transfer module.
// These packages are not intended for external use and may change without notice.
//
// The internal packages are organized as follows:
//   - splitter: byte-range partitioning of objects into parts
//   - retry: failure classification and backoff
//   - worker: the shared part worker pool and round-robin dispatch
//   - progress: per-job progress aggregation and subscriptions
//   - storage: S3 and MinIO implementations of the storage client
//   - localfs: offset-addressed local file access
//   - validation: input validation logic
//   - pool: part buffer reuse
//   - metrics: Prometheus collectors
//   - batch: directory and prefix expansion into per-file jobs
//   - api: HTTP control surface
//   - config: file and environment configuration for the command
package internal
