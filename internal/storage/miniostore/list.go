package miniostore

import (
	"context"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

var _ xfertypes.Lister = (*Store)(nil)

// ListObjects walks every object under prefix.
func (s *Store) ListObjects(ctx context.Context, bucket, prefix string, fn func(xfertypes.ListedObject) error) error {
	// cancelling stops the lister goroutine when fn bails out early
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	obj := xfertypes.Object{Bucket: bucket, Key: prefix}
	for info := range s.core.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return translate("listObjects", obj, info.Err)
		}
		if err := fn(xfertypes.ListedObject{
			Key:          info.Key,
			Size:         info.Size,
			ETag:         strings.Trim(info.ETag, `"`),
			LastModified: info.LastModified,
		}); err != nil {
			return err
		}
	}
	return ctx.Err()
}
