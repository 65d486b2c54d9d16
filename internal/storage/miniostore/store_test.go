package miniostore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

type fakeCore struct {
	CoreAPI

	data      []byte
	rangeHdr  string
	md5       string
	completed []minio.CompletePart
	listed    []minio.ObjectInfo
	err       error
}

func (f *fakeCore) NewMultipartUpload(context.Context, string, string, minio.PutObjectOptions) (string, error) {
	return "upload-1", f.err
}

func (f *fakeCore) PutObjectPart(
	_ context.Context,
	_, _, _ string,
	_ int,
	data io.Reader,
	_ int64,
	opts minio.PutObjectPartOptions,
) (minio.ObjectPart, error) {
	if f.err != nil {
		return minio.ObjectPart{}, f.err
	}
	body, _ := io.ReadAll(data)
	f.md5 = opts.Md5Base64
	return minio.ObjectPart{ETag: testutil.CalculateETag(body)}, nil
}

func (f *fakeCore) CompleteMultipartUpload(
	_ context.Context,
	_, _, _ string,
	parts []minio.CompletePart,
	_ minio.PutObjectOptions,
) (minio.UploadInfo, error) {
	f.completed = parts
	return minio.UploadInfo{ETag: `"done-3"`}, f.err
}

func (f *fakeCore) GetObject(
	_ context.Context,
	_, _ string,
	opts minio.GetObjectOptions,
) (io.ReadCloser, minio.ObjectInfo, http.Header, error) {
	if f.err != nil {
		return nil, minio.ObjectInfo{}, nil, f.err
	}
	f.rangeHdr = opts.Header().Get("Range")
	return io.NopCloser(bytes.NewReader(f.data)), minio.ObjectInfo{}, nil, nil
}

func (f *fakeCore) StatObject(context.Context, string, string, minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if f.err != nil {
		return minio.ObjectInfo{}, f.err
	}
	return minio.ObjectInfo{Size: int64(len(f.data)), ETag: `"abc"`}, nil
}

func (f *fakeCore) ListObjects(_ context.Context, _ string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(f.listed))
	for _, info := range f.listed {
		if strings.HasPrefix(info.Key, opts.Prefix) {
			ch <- info
		}
	}
	close(ch)
	return ch
}

var obj = xfertypes.Object{Bucket: "bucket", Key: "key"}

func TestStore(t *testing.T) {
	ctx := context.Background()
	core := &fakeCore{data: []byte("hello")}
	store := New(core)

	id, err := store.InitiateMultipart(ctx, obj, xfertypes.UploadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "upload-1", id)

	sum := []byte{1, 2, 3}
	token, err := store.PutPart(ctx, obj, id, 1, bytes.NewReader([]byte("p1")), 2, sum)
	require.NoError(t, err)
	assert.Equal(t, testutil.CalculateMD5Hex([]byte("p1")), token)
	assert.Equal(t, "AQID", core.md5)

	etag, err := store.CompleteMultipart(ctx, obj, id, []xfertypes.CompletedPart{
		{Number: 2, Token: "b"}, {Number: 1, Token: "a"}, {Number: 3, Token: "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, "done-3", etag)
	require.Len(t, core.completed, 3)
	for i, p := range core.completed {
		assert.Equal(t, i+1, p.PartNumber)
	}

	rc, err := store.GetObjectRange(ctx, obj, 10, 20)
	require.NoError(t, err)
	_ = rc.Close()
	assert.Equal(t, "bytes=10-19", core.rangeHdr)

	_, err = store.GetObjectRange(ctx, obj, 20, 10)
	assert.ErrorIs(t, err, errors.ErrInvalidRange)

	info, err := store.HeadObject(ctx, obj)
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "abc", info.ETag)
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}, errors.ErrObjectNotFound},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, errors.ErrAccessDenied},
		{"slow down", minio.ErrorResponse{Code: "SlowDown", StatusCode: 503}, errors.ErrTooManyRequests},
		{"status only", minio.ErrorResponse{StatusCode: 502}, errors.ErrServerError},
		{"no such upload", minio.ErrorResponse{Code: "NoSuchUpload", StatusCode: 404}, errors.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := New(&fakeCore{err: tt.err})
			_, err := store.HeadObject(context.Background(), obj)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("cancellation", func(t *testing.T) {
		err := translate("putPart", obj, context.Canceled)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, sentinelFor(context.Canceled))
	})
}

func TestStore_ListObjects(t *testing.T) {
	core := &fakeCore{listed: []minio.ObjectInfo{
		{Key: "logs/a", Size: 1, ETag: `"e1"`},
		{Key: "logs/b", Size: 2},
		{Key: "other", Size: 3},
	}}

	var got []xfertypes.ListedObject
	err := New(core).ListObjects(context.Background(), "bucket", "logs/", func(o xfertypes.ListedObject) error {
		got = append(got, o)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ETag)
	assert.Equal(t, int64(2), got[1].Size)

	core.listed = []minio.ObjectInfo{{Err: minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound}}}
	err = New(core).ListObjects(context.Background(), "bucket", "", func(xfertypes.ListedObject) error { return nil })
	assert.ErrorIs(t, err, errors.ErrBucketNotFound)
}

func TestDial_ListObjects(t *testing.T) {
	const listing = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>bucket</Name>
  <Prefix>logs/</Prefix>
  <KeyCount>1</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents>
    <Key>logs/a.txt</Key>
    <LastModified>2024-01-02T03:04:05.000Z</LastModified>
    <ETag>"abc"</ETag>
    <Size>42</Size>
    <StorageClass>STANDARD</StorageClass>
  </Contents>
</ListBucketResult>`

	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !strings.HasPrefix(r.URL.Path, "/bucket") {
			http.NotFound(w, r)
			return
		}
		queries = append(queries, r.URL.Query().Get("list-type"))
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, listing)
	}))
	defer srv.Close()

	store, err := Dial(Options{Endpoint: srv.URL, AccessKey: "key", SecretKey: "secret", Region: "us-east-1"})
	require.NoError(t, err)

	var got []xfertypes.ListedObject
	err = store.ListObjects(context.Background(), "bucket", "logs/", func(o xfertypes.ListedObject) error {
		got = append(got, o)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "logs/a.txt", got[0].Key)
	assert.Equal(t, int64(42), got[0].Size)
	assert.Equal(t, "abc", got[0].ETag)
	assert.Equal(t, []string{"2"}, queries, "recursive listing uses ListObjectsV2")
}
