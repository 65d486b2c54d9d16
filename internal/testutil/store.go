// Package testutil provides an in-memory storage client for manager and worker tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

// MockStore is an in-memory StorageClient. Hooks run before the default
// behaviour; a non-nil hook error is returned instead. attempt counts calls
// for the same part (or range start), starting at 1.
type MockStore struct {
	InitiateHook  func(ctx context.Context) error
	PutPartHook   func(ctx context.Context, number int32, attempt int) error
	PutObjectHook func(ctx context.Context, attempt int) error
	GetRangeHook  func(ctx context.Context, start, end int64, attempt int) error
	CompleteHook  func(ctx context.Context, parts []xfertypes.CompletedPart) error
	AbortHook     func(ctx context.Context) error
	HeadHook      func(ctx context.Context) error

	// ETagHook overrides the ETag returned for a part or object body.
	ETagHook func(number int32, data []byte) string

	InitiateCalls  atomic.Int64
	PutPartCalls   atomic.Int64
	PutObjectCalls atomic.Int64
	GetRangeCalls  atomic.Int64
	CompleteCalls  atomic.Int64
	AbortCalls     atomic.Int64
	HeadCalls      atomic.Int64

	mu          sync.Mutex
	objects     map[string][]byte
	modified    map[string]time.Time
	uploads     map[string]*mockUpload
	attempts    map[string]int
	inFlight    map[string]int
	overlap     bool
	active      int
	maxActive   int
	dispatchLog []string
}

type mockUpload struct {
	obj      xfertypes.Object
	parts    map[int32][]byte
	aborted  bool
	complete bool
}

var _ xfertypes.StorageClient = (*MockStore)(nil)

// NewMockStore creates an empty store.
func NewMockStore() *MockStore {
	return &MockStore{
		objects:  make(map[string][]byte),
		modified: make(map[string]time.Time),
		uploads:  make(map[string]*mockUpload),
		attempts: make(map[string]int),
		inFlight: make(map[string]int),
	}
}

// Seed stores an object.
func (m *MockStore) Seed(obj xfertypes.Object, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(obj, append([]byte(nil), data...))
}

// Object returns a stored object.
func (m *MockStore) Object(obj xfertypes.Object) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[obj.String()]
	return data, ok
}

// put stores an object. Callers hold m.mu.
func (m *MockStore) put(obj xfertypes.Object, data []byte) {
	m.objects[obj.String()] = data
	m.modified[obj.String()] = time.Now()
}

// PendingUploads returns the number of multipart uploads neither completed nor aborted.
func (m *MockStore) PendingUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.uploads {
		if !u.aborted && !u.complete {
			n++
		}
	}
	return n
}

// MaxConcurrent returns the highest number of simultaneous part calls observed.
func (m *MockStore) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive
}

// Overlapped reports whether two attempts for the same part ever ran at once.
func (m *MockStore) Overlapped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlap
}

// DispatchLog returns "<key>#<part>" entries in the order part calls started.
func (m *MockStore) DispatchLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dispatchLog...)
}

func (m *MockStore) begin(slot string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[slot]++
	m.inFlight[slot]++
	if m.inFlight[slot] > 1 {
		m.overlap = true
	}
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	m.dispatchLog = append(m.dispatchLog, slot)
	return m.attempts[slot]
}

func (m *MockStore) end(slot string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight[slot]--
	m.active--
}

func (m *MockStore) etag(number int32, data []byte) string {
	if m.ETagHook != nil {
		return m.ETagHook(number, data)
	}
	return CalculateMD5Hex(data)
}

// InitiateMultipart implements xfertypes.StorageClient.
func (m *MockStore) InitiateMultipart(ctx context.Context, obj xfertypes.Object, _ xfertypes.UploadOptions) (string, error) {
	m.InitiateCalls.Add(1)
	if m.InitiateHook != nil {
		if err := m.InitiateHook(ctx); err != nil {
			return "", err
		}
	}
	id := uuid.NewString()
	m.mu.Lock()
	m.uploads[id] = &mockUpload{obj: obj, parts: make(map[int32][]byte)}
	m.mu.Unlock()
	return id, nil
}

// PutPart implements xfertypes.StorageClient.
func (m *MockStore) PutPart(
	ctx context.Context,
	obj xfertypes.Object,
	uploadID string,
	number int32,
	body io.ReadSeeker,
	_ int64,
	_ []byte,
) (string, error) {
	m.PutPartCalls.Add(1)
	slot := fmt.Sprintf("%s#%d", obj.Key, number)
	attempt := m.begin(slot)
	defer m.end(slot)

	if m.PutPartHook != nil {
		if err := m.PutPartHook(ctx, number, attempt); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[uploadID]
	if !ok || u.aborted || u.complete {
		return "", errors.NewObjectError("putPart", obj.Bucket, obj.Key, errors.ErrInvalidInput).
			WithMessage("no such upload")
	}
	u.parts[number] = data
	return m.etag(number, data), nil
}

// CompleteMultipart implements xfertypes.StorageClient.
func (m *MockStore) CompleteMultipart(
	ctx context.Context,
	obj xfertypes.Object,
	uploadID string,
	parts []xfertypes.CompletedPart,
) (string, error) {
	m.CompleteCalls.Add(1)
	if m.CompleteHook != nil {
		if err := m.CompleteHook(ctx, parts); err != nil {
			return "", err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[uploadID]
	if !ok || u.aborted || u.complete {
		return "", errors.NewObjectError("completeMultipart", obj.Bucket, obj.Key, errors.ErrInvalidInput).
			WithMessage("no such upload")
	}

	sorted := append([]xfertypes.CompletedPart(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	var buf bytes.Buffer
	for i, p := range sorted {
		data, ok := u.parts[p.Number]
		if !ok || int32(i+1) != p.Number || m.etag(p.Number, data) != p.Token {
			return "", errors.NewObjectError("completeMultipart", obj.Bucket, obj.Key, errors.ErrInvalidInput).
				WithMessage(fmt.Sprintf("invalid part %d", p.Number))
		}
		buf.Write(data)
	}
	u.complete = true
	m.put(obj, buf.Bytes())
	return fmt.Sprintf("%s-%d", CalculateMD5Hex(buf.Bytes()), len(sorted)), nil
}

// AbortMultipart implements xfertypes.StorageClient.
func (m *MockStore) AbortMultipart(ctx context.Context, _ xfertypes.Object, uploadID string) error {
	m.AbortCalls.Add(1)
	if m.AbortHook != nil {
		if err := m.AbortHook(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.uploads[uploadID]; ok {
		u.aborted = true
	}
	return nil
}

// PutObject implements xfertypes.StorageClient.
func (m *MockStore) PutObject(
	ctx context.Context,
	obj xfertypes.Object,
	body io.ReadSeeker,
	_ int64,
	_ []byte,
	_ xfertypes.UploadOptions,
) (string, error) {
	m.PutObjectCalls.Add(1)
	slot := obj.Key + "#object"
	attempt := m.begin(slot)
	defer m.end(slot)

	if m.PutObjectHook != nil {
		if err := m.PutObjectHook(ctx, attempt); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(obj, data)
	return m.etag(0, data), nil
}

// GetObjectRange implements xfertypes.StorageClient.
func (m *MockStore) GetObjectRange(ctx context.Context, obj xfertypes.Object, start, end int64) (io.ReadCloser, error) {
	m.GetRangeCalls.Add(1)
	slot := fmt.Sprintf("%s#%d", obj.Key, start)
	attempt := m.begin(slot)
	defer m.end(slot)

	if m.GetRangeHook != nil {
		if err := m.GetRangeHook(ctx, start, end, attempt); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[obj.String()]
	if !ok {
		return nil, errors.NewObjectError("getObjectRange", obj.Bucket, obj.Key, errors.ErrObjectNotFound)
	}
	if start < 0 || end > int64(len(data)) || start >= end {
		return nil, errors.NewObjectError("getObjectRange", obj.Bucket, obj.Key, errors.ErrInvalidRange)
	}
	return io.NopCloser(bytes.NewReader(data[start:end])), nil
}

// HeadObject implements xfertypes.StorageClient.
func (m *MockStore) HeadObject(ctx context.Context, obj xfertypes.Object) (xfertypes.ObjectInfo, error) {
	m.HeadCalls.Add(1)
	if m.HeadHook != nil {
		if err := m.HeadHook(ctx); err != nil {
			return xfertypes.ObjectInfo{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[obj.String()]
	if !ok {
		return xfertypes.ObjectInfo{}, errors.NewObjectError("headObject", obj.Bucket, obj.Key, errors.ErrObjectNotFound)
	}
	return xfertypes.ObjectInfo{Size: int64(len(data)), ETag: CalculateMD5Hex(data)}, nil
}

var _ xfertypes.Lister = (*MockStore)(nil)

// ListObjects implements xfertypes.Lister over the stored objects.
func (m *MockStore) ListObjects(ctx context.Context, bucket, prefix string, fn func(xfertypes.ListedObject) error) error {
	root := xfertypes.Object{Bucket: bucket}.String()

	m.mu.Lock()
	var listed []xfertypes.ListedObject
	for name, data := range m.objects {
		key, ok := strings.CutPrefix(name, root)
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		listed = append(listed, xfertypes.ListedObject{
			Key:          key,
			Size:         int64(len(data)),
			ETag:         m.etag(0, data),
			LastModified: m.modified[name],
		})
	}
	m.mu.Unlock()

	sort.Slice(listed, func(i, j int) bool { return listed[i].Key < listed[j].Key })
	for _, o := range listed {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(o); err != nil {
			return err
		}
	}
	return nil
}
