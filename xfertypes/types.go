// Package xfertypes provides shared type definitions for the transfer module.
package xfertypes

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-git/go-billy/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// JobID identifies a transfer job.
type JobID string

// Kind is the direction of a transfer.
type Kind string

const (
	// KindUpload transfers a local file to an object.
	KindUpload Kind = "upload"
	// KindDownload transfers an object to a local file.
	KindDownload Kind = "download"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindUpload || k == KindDownload
}

// State is the lifecycle state of a job.
type State string

// Job states.
const (
	StateQueued     State = "queued"
	StateSplitting  State = "splitting"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// PartState is the state of a single part.
type PartState string

// Part states.
const (
	PartPending  PartState = "pending"
	PartInFlight PartState = "in_flight"
	PartDone     PartState = "done"
	PartFailed   PartState = "failed"
)

// StorageClass represents the storage class for uploaded objects.
type StorageClass string

// Common storage classes.
const (
	StorageClassStandard           StorageClass = "STANDARD"
	StorageClassStandardIA         StorageClass = "STANDARD_IA"
	StorageClassIntelligentTiering StorageClass = "INTELLIGENT_TIERING"
)

// Object addresses a remote object.
type Object struct {
	Bucket string
	Key    string
}

// String renders the object as an s3:// URL.
func (o Object) String() string {
	return fmt.Sprintf("s3://%s/%s", o.Bucket, o.Key)
}

// JobSpec describes a transfer to submit.
type JobSpec struct {
	// Kind is the transfer direction.
	Kind Kind

	// LocalPath is the source file for uploads and the destination for downloads.
	LocalPath string

	// Remote is the destination object for uploads and the source for downloads.
	Remote Object

	// Size is the object size for downloads when already known (e.g. from a listing).
	// Zero means the size is looked up with a head request.
	Size int64

	// ContentType overrides content type detection for uploads.
	ContentType string

	// Metadata is attached to uploaded objects.
	Metadata map[string]string

	// StorageClass is applied to uploaded objects.
	StorageClass StorageClass

	// PartSize overrides the manager's part size for this job.
	PartSize int64
}

// PartStatus is a snapshot of a single part.
type PartStatus struct {
	Index    int
	Start    int64
	End      int64
	State    PartState
	// Attempts and Bytes describe the running attempt while the part is in
	// flight and the final one once it has settled.
	Attempts int
	Bytes    int64
	Token    string
	LastErr  error
}

// Len returns the number of bytes the part covers.
func (p PartStatus) Len() int64 {
	return p.End - p.Start
}

// JobStatus is a point-in-time snapshot of a job.
type JobStatus struct {
	ID          JobID
	Kind        Kind
	Source      string
	Destination string
	TotalBytes  int64
	BytesDone   int64
	State       State
	UploadID    string
	Parts       []PartStatus
	CreatedAt   time.Time
	EndedAt     time.Time
	Err         error
}

// Event is a progress notification published to subscribers.
type Event struct {
	JobID      JobID
	Kind       Kind
	State      State
	BytesDone  int64
	TotalBytes int64
	PartsDone  int
	PartsTotal int
	Err        error
	Time       time.Time

	// Percent is in [0, 100]
	Percent float64

	// Throughput is bytes per second over the sliding window
	Throughput float64
}

// RetryConfig enumerates the retry and backoff parameters.
type RetryConfig struct {
	// MaxAttempts bounds the attempts per part, including the first
	MaxAttempts int

	// BaseDelay is the delay before the second attempt
	BaseDelay time.Duration

	// Factor multiplies the delay after each attempt
	Factor float64

	// MaxDelay caps the computed delay
	MaxDelay time.Duration

	// JitterBound is the fraction in [0, 1] of the computed delay that may be subtracted at random
	JitterBound float64
}

// Config holds the manager configuration.
type Config struct {
	// Concurrency is the number of part workers shared by all jobs
	Concurrency int

	// MaxActiveJobs bounds how many jobs leave the queue at once
	MaxActiveJobs int

	// PartSize is the multipart threshold and minimum part size in bytes
	PartSize int64

	// MaxParts is the service limit on the number of parts
	MaxParts int64

	// Retry configures part retries
	Retry RetryConfig

	// AttemptTimeout bounds a single part attempt; zero disables it
	AttemptTimeout time.Duration

	// FinalizeTimeout bounds head, initiate, complete and abort calls
	FinalizeTimeout time.Duration

	// ProgressInterval is the minimum spacing of non-terminal progress events per job
	ProgressInterval time.Duration

	// ThroughputWindow is the sliding window for throughput estimates
	ThroughputWindow time.Duration

	// RetainFinished is how long terminal jobs remain queryable
	RetainFinished time.Duration

	// VerifyIntegrity enables MD5 and length checks on parts
	VerifyIntegrity bool

	// Logger receives structured logs
	Logger logrus.FieldLogger

	// Backend selects the storage client New builds when Store is nil
	Backend Backend

	// Region, Endpoint and ForcePathStyle configure the backend built by New
	Region         string
	Endpoint       string
	ForcePathStyle bool

	// AccessKey and SecretKey are static credentials for the MinIO backend
	AccessKey string
	SecretKey string

	// AWSConfig overrides loading the default AWS configuration
	AWSConfig *aws.Config

	// Store replaces the backend entirely
	Store StorageClient

	// Filesystem holds local files; nil means the host filesystem
	Filesystem billy.Filesystem

	// Registerer receives the manager's metrics; nil disables them
	Registerer prometheus.Registerer
}

// Backend names a storage client implementation.
type Backend string

// Supported backends.
const (
	BackendS3    Backend = "s3"
	BackendMinio Backend = "minio"
)

// Option is a functional option for configuring the manager.
type Option func(*Config)

// UploadOptions carries object attributes for uploads.
type UploadOptions struct {
	ContentType  string
	Metadata     map[string]string
	StorageClass StorageClass
}

// CompletedPart is a part confirmed by the service.
type CompletedPart struct {
	Number int32
	Token  string
}

// ObjectInfo describes a remote object.
type ObjectInfo struct {
	Size        int64
	ETag        string
	ContentType string
}

// StorageClient is the capability the manager uses to move bytes.
// Implementations translate their errors into the errors package sentinels
// and must leave context cancellation errors recognisable with errors.Is.
// Part numbers are 1-based; tokens are ETags without surrounding quotes.
type StorageClient interface {
	InitiateMultipart(ctx context.Context, obj Object, opts UploadOptions) (string, error)
	PutPart(ctx context.Context, obj Object, uploadID string, number int32, body io.ReadSeeker, size int64, md5sum []byte) (string, error)
	CompleteMultipart(ctx context.Context, obj Object, uploadID string, parts []CompletedPart) (string, error)
	AbortMultipart(ctx context.Context, obj Object, uploadID string) error
	PutObject(ctx context.Context, obj Object, body io.ReadSeeker, size int64, md5sum []byte, opts UploadOptions) (string, error)
	// GetObjectRange returns the bytes in [start, end).
	GetObjectRange(ctx context.Context, obj Object, start, end int64) (io.ReadCloser, error)
	HeadObject(ctx context.Context, obj Object) (ObjectInfo, error)
}

// ListedObject is one entry of a prefix listing.
type ListedObject struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Lister is implemented by storage clients that can enumerate the objects
// under a prefix. fn is called once per object in key order; a non-nil
// return stops the listing and is returned.
type Lister interface {
	ListObjects(ctx context.Context, bucket, prefix string, fn func(ListedObject) error) error
}
