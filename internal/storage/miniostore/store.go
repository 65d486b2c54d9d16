// Package miniostore implements the storage client on top of minio-go, for
// MinIO and other S3-compatible services that the AWS SDK handles poorly.
package miniostore

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

// CoreAPI is the subset of *minio.Core used by the store.
type CoreAPI interface {
	NewMultipartUpload(ctx context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error)
	PutObjectPart(
		ctx context.Context,
		bucket, object, uploadID string,
		partID int,
		data io.Reader,
		size int64,
		opts minio.PutObjectPartOptions,
	) (minio.ObjectPart, error)
	CompleteMultipartUpload(
		ctx context.Context,
		bucket, object, uploadID string,
		parts []minio.CompletePart,
		opts minio.PutObjectOptions,
	) (minio.UploadInfo, error)
	AbortMultipartUpload(ctx context.Context, bucket, object, uploadID string) error
	PutObject(
		ctx context.Context,
		bucket, object string,
		data io.Reader,
		size int64,
		md5Base64, sha256Hex string,
		opts minio.PutObjectOptions,
	) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, minio.ObjectInfo, http.Header, error)
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// coreClient adapts *minio.Core to CoreAPI. Core's own ListObjects is the
// single-page V1 call; the store wants the recursive channel API of the
// embedded client.
type coreClient struct {
	*minio.Core
}

var _ CoreAPI = coreClient{}

func (c coreClient) ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	return c.Core.Client.ListObjects(ctx, bucket, opts)
}

// Options configures a connection to an S3-compatible endpoint.
type Options struct {
	// Endpoint is host[:port] without a scheme
	Endpoint string

	AccessKey string
	SecretKey string
	Region    string

	// Secure selects HTTPS
	Secure bool
}

// Store is a minio-go backed storage client.
type Store struct {
	core CoreAPI
}

var _ xfertypes.StorageClient = (*Store)(nil)

// New creates a store around a minio core client.
func New(core CoreAPI) *Store {
	return &Store{core: core}
}

// Dial connects to an endpoint using path-style addressing. Empty keys fall
// back to the AWS and MinIO environment variables.
func Dial(opts Options) (*Store, error) {
	creds := credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, "")
	if opts.AccessKey == "" {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
		})
	}
	core, err := minio.NewCore(strings.TrimPrefix(strings.TrimPrefix(opts.Endpoint, "https://"), "http://"), &minio.Options{
		Creds:        creds,
		Secure:       opts.Secure || strings.HasPrefix(opts.Endpoint, "https://"),
		Region:       opts.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, errors.NewError("dial", fmt.Errorf("%w: %w", errors.ErrConnection, err))
	}
	return New(coreClient{core}), nil
}

func putOptions(opts xfertypes.UploadOptions) minio.PutObjectOptions {
	return minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
		StorageClass: string(opts.StorageClass),
	}
}

// InitiateMultipart starts a multipart upload and returns its upload ID.
func (s *Store) InitiateMultipart(ctx context.Context, obj xfertypes.Object, opts xfertypes.UploadOptions) (string, error) {
	id, err := s.core.NewMultipartUpload(ctx, obj.Bucket, obj.Key, putOptions(opts))
	if err != nil {
		return "", translate("initiateMultipart", obj, err)
	}
	if id == "" {
		return "", errors.NewObjectError("initiateMultipart", obj.Bucket, obj.Key, errors.ErrServerError).
			WithMessage("no upload ID returned")
	}
	return id, nil
}

// PutPart uploads one part. number is 1-based.
func (s *Store) PutPart(
	ctx context.Context,
	obj xfertypes.Object,
	uploadID string,
	number int32,
	body io.ReadSeeker,
	size int64,
	md5sum []byte,
) (string, error) {
	var popts minio.PutObjectPartOptions
	if len(md5sum) > 0 {
		popts.Md5Base64 = base64.StdEncoding.EncodeToString(md5sum)
	}
	part, err := s.core.PutObjectPart(ctx, obj.Bucket, obj.Key, uploadID, int(number), body, size, popts)
	if err != nil {
		return "", translate("putPart", obj, err)
	}
	return strings.Trim(part.ETag, `"`), nil
}

// CompleteMultipart assembles the uploaded parts into the final object.
func (s *Store) CompleteMultipart(
	ctx context.Context,
	obj xfertypes.Object,
	uploadID string,
	parts []xfertypes.CompletedPart,
) (string, error) {
	completed := make([]minio.CompletePart, len(parts))
	for i, p := range parts {
		completed[i] = minio.CompletePart{PartNumber: int(p.Number), ETag: p.Token}
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].PartNumber < completed[j].PartNumber
	})

	info, err := s.core.CompleteMultipartUpload(ctx, obj.Bucket, obj.Key, uploadID, completed, minio.PutObjectOptions{})
	if err != nil {
		return "", translate("completeMultipart", obj, err)
	}
	return strings.Trim(info.ETag, `"`), nil
}

// AbortMultipart aborts an upload and releases its staged parts.
func (s *Store) AbortMultipart(ctx context.Context, obj xfertypes.Object, uploadID string) error {
	if err := s.core.AbortMultipartUpload(ctx, obj.Bucket, obj.Key, uploadID); err != nil {
		return translate("abortMultipart", obj, err)
	}
	return nil
}

// PutObject uploads a whole object in one request.
func (s *Store) PutObject(
	ctx context.Context,
	obj xfertypes.Object,
	body io.ReadSeeker,
	size int64,
	md5sum []byte,
	opts xfertypes.UploadOptions,
) (string, error) {
	var md5b64 string
	if len(md5sum) > 0 {
		md5b64 = base64.StdEncoding.EncodeToString(md5sum)
	}
	info, err := s.core.PutObject(ctx, obj.Bucket, obj.Key, body, size, md5b64, "", putOptions(opts))
	if err != nil {
		return "", translate("putObject", obj, err)
	}
	return strings.Trim(info.ETag, `"`), nil
}

// GetObjectRange streams the bytes in [start, end).
func (s *Store) GetObjectRange(ctx context.Context, obj xfertypes.Object, start, end int64) (io.ReadCloser, error) {
	if start < 0 || end <= start {
		return nil, errors.NewObjectError("getObjectRange", obj.Bucket, obj.Key, errors.ErrInvalidRange).
			WithMessage(fmt.Sprintf("empty or negative range [%d, %d)", start, end))
	}

	var gopts minio.GetObjectOptions
	if err := gopts.SetRange(start, end-1); err != nil {
		return nil, errors.NewObjectError("getObjectRange", obj.Bucket, obj.Key,
			fmt.Errorf("%w: %w", errors.ErrInvalidRange, err))
	}
	body, _, _, err := s.core.GetObject(ctx, obj.Bucket, obj.Key, gopts)
	if err != nil {
		return nil, translate("getObjectRange", obj, err)
	}
	return body, nil
}

// HeadObject returns the size and ETag of an object.
func (s *Store) HeadObject(ctx context.Context, obj xfertypes.Object) (xfertypes.ObjectInfo, error) {
	info, err := s.core.StatObject(ctx, obj.Bucket, obj.Key, minio.StatObjectOptions{})
	if err != nil {
		return xfertypes.ObjectInfo{}, translate("headObject", obj, err)
	}
	return xfertypes.ObjectInfo{
		Size:        info.Size,
		ETag:        strings.Trim(info.ETag, `"`),
		ContentType: info.ContentType,
	}, nil
}
