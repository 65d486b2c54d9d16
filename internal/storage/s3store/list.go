package s3store

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

// pageSize is the largest page S3 returns.
const pageSize = 1000

var _ xfertypes.Lister = (*Store)(nil)

// ListObjects pages through every object under prefix.
func (s *Store) ListObjects(ctx context.Context, bucket, prefix string, fn func(xfertypes.ListedObject) error) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(pageSize),
	})

	obj := xfertypes.Object{Bucket: bucket, Key: prefix}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return translate("listObjects", obj, err)
		}
		for _, o := range page.Contents {
			if err := fn(xfertypes.ListedObject{
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				ETag:         trimETag(o.ETag),
				LastModified: aws.ToTime(o.LastModified),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
