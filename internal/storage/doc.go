// Package storage holds the storage client backends used by the transfer
// manager.
//
//   - s3store: AWS SDK v2 backed client for S3 and S3-compatible endpoints
//   - miniostore: minio-go backed client for MinIO deployments
//
// Both translate service errors into the errors package sentinels so the
// retry policy can classify failures without knowing the backend.
package storage
