package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/localfs"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/pool"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/retry"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

var remote = xfertypes.Object{Bucket: "bucket", Key: "data.bin"}

type fixture struct {
	exec     *Executor
	store    *testutil.MockStore
	progress *testutil.MockProgress
	files    *localfs.Files

	mu     sync.Mutex
	sleeps []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := memfs.New()
	f := &fixture{
		store:    testutil.NewMockStore(),
		progress: testutil.NewMockProgress(),
		files:    localfs.New(fs),
	}
	f.exec = &Executor{
		Store:    f.store,
		Files:    f.files,
		Policy:   retry.NewPolicy(retry.DefaultConfig()),
		Progress: f.progress,
		Buffers:  pool.NewBufferPool(0),
		Verify:   true,
		Sleep: func(ctx context.Context, d time.Duration) error {
			f.mu.Lock()
			f.sleeps = append(f.sleeps, d)
			f.mu.Unlock()
			return ctx.Err()
		},
	}
	return f
}

func (f *fixture) writeSource(t *testing.T, path string, data []byte) {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, path, data, 0o644))
	f.files = localfs.New(fs)
	f.exec.Files = f.files
}

func (f *fixture) uploadTask(t *testing.T, start, end int64, index int) Task {
	t.Helper()
	id, err := f.store.InitiateMultipart(context.Background(), remote, xfertypes.UploadOptions{})
	require.NoError(t, err)
	return Task{
		Ctx:       context.Background(),
		JobID:     "job-1",
		Kind:      xfertypes.KindUpload,
		Object:    remote,
		LocalPath: "/src/data.bin",
		UploadID:  id,
		Index:     index,
		Start:     start,
		End:       end,
	}
}

func TestExecutor_Upload(t *testing.T) {
	data := testutil.GenerateRandomData(100)

	t.Run("success on first attempt", func(t *testing.T) {
		f := newFixture(t)
		f.writeSource(t, "/src/data.bin", data)
		task := f.uploadTask(t, 50, 100, 1)

		res := f.exec.Run(task)

		require.NoError(t, res.Err)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, int64(50), res.Bytes)
		assert.Equal(t, testutil.CalculateMD5Hex(data[50:100]), res.Token)
		assert.Equal(t, int64(50), f.progress.Confirmed[1])
		assert.Equal(t, int64(50), f.progress.Advanced[1])
		assert.Empty(t, f.sleeps)
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		f := newFixture(t)
		f.writeSource(t, "/src/data.bin", data)
		f.store.PutPartHook = func(_ context.Context, _ int32, attempt int) error {
			if attempt < 3 {
				return errors.NewError("putPart", errors.ErrTimeout)
			}
			return nil
		}

		res := f.exec.Run(f.uploadTask(t, 0, 100, 0))

		require.NoError(t, res.Err)
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, 2, f.progress.Resets[0])
		assert.Len(t, f.sleeps, 2)
		assert.Equal(t, []string{"reset", "reset", "confirm"}, f.progress.Calls)
		assert.False(t, f.store.Overlapped())
	})

	t.Run("attempts are exhausted", func(t *testing.T) {
		f := newFixture(t)
		f.writeSource(t, "/src/data.bin", data)
		f.store.PutPartHook = func(context.Context, int32, int) error {
			return errors.ErrServerError
		}

		res := f.exec.Run(f.uploadTask(t, 0, 100, 2))

		assert.ErrorIs(t, res.Err, errors.ErrServerError)
		assert.Equal(t, retry.DefaultMaxAttempts, res.Attempts)
		assert.Equal(t, retry.Transient, res.Class)
		assert.Len(t, f.sleeps, retry.DefaultMaxAttempts-1)
		assert.Equal(t, int64(retry.DefaultMaxAttempts), f.store.PutPartCalls.Load())
		assert.Zero(t, f.progress.ConfirmedBytes())
	})

	t.Run("permanent failure stops immediately", func(t *testing.T) {
		f := newFixture(t)
		f.writeSource(t, "/src/data.bin", data)
		f.store.PutPartHook = func(context.Context, int32, int) error {
			return errors.ErrAccessDenied
		}

		res := f.exec.Run(f.uploadTask(t, 0, 100, 0))

		assert.ErrorIs(t, res.Err, errors.ErrAccessDenied)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, retry.Permanent, res.Class)
		assert.Empty(t, f.sleeps)
	})

	t.Run("integrity failure is retried once", func(t *testing.T) {
		f := newFixture(t)
		f.writeSource(t, "/src/data.bin", data)
		f.store.ETagHook = func(int32, []byte) string {
			return "00000000000000000000000000000000"
		}

		res := f.exec.Run(f.uploadTask(t, 0, 100, 0))

		assert.ErrorIs(t, res.Err, errors.ErrChecksumMismatch)
		assert.Equal(t, 2, res.Attempts)
		assert.Equal(t, retry.Permanent, res.Class)
	})

	t.Run("cancellation is not retried", func(t *testing.T) {
		f := newFixture(t)
		f.writeSource(t, "/src/data.bin", data)
		ctx, cancel := context.WithCancel(context.Background())
		f.store.PutPartHook = func(context.Context, int32, int) error {
			cancel()
			return ctx.Err()
		}
		task := f.uploadTask(t, 0, 100, 0)
		task.Ctx = ctx

		res := f.exec.Run(task)

		assert.ErrorIs(t, res.Err, context.Canceled)
		assert.Equal(t, retry.Cancelled, res.Class)
		assert.Equal(t, 1, res.Attempts)
		assert.Empty(t, f.sleeps)
	})

	t.Run("simple upload uses put object", func(t *testing.T) {
		f := newFixture(t)
		f.writeSource(t, "/src/data.bin", data)
		task := f.uploadTask(t, 0, 100, 0)
		task.UploadID = ""

		res := f.exec.Run(task)

		require.NoError(t, res.Err)
		assert.Equal(t, int64(1), f.store.PutObjectCalls.Load())
		assert.Zero(t, f.store.PutPartCalls.Load())
		stored, ok := f.store.Object(remote)
		require.True(t, ok)
		assert.Equal(t, data, stored)
	})

	t.Run("empty object", func(t *testing.T) {
		f := newFixture(t)
		f.writeSource(t, "/src/data.bin", nil)
		task := f.uploadTask(t, 0, 0, 0)
		task.UploadID = ""

		res := f.exec.Run(task)

		require.NoError(t, res.Err)
		stored, ok := f.store.Object(remote)
		require.True(t, ok)
		assert.Empty(t, stored)
	})
}

func TestExecutor_Download(t *testing.T) {
	data := testutil.GenerateRandomData(64)

	newTask := func(start, end int64) Task {
		return Task{
			Ctx:       context.Background(),
			JobID:     "job-2",
			Kind:      xfertypes.KindDownload,
			Object:    remote,
			LocalPath: "/dst/out.bin",
			Index:     0,
			Start:     start,
			End:       end,
		}
	}

	t.Run("writes the range", func(t *testing.T) {
		f := newFixture(t)
		f.store.Seed(remote, data)
		require.NoError(t, f.files.Create("/dst/out.bin", int64(len(data))))

		first := f.exec.Run(newTask(0, 32))
		second := f.exec.Run(newTask(32, 64))
		require.NoError(t, first.Err)
		require.NoError(t, second.Err)
		require.NoError(t, f.files.Commit("/dst/out.bin"))

		buf := make([]byte, len(data))
		n, err := f.files.ReadAt("/dst/out.bin", buf, 0)
		require.NoError(t, err)
		assert.Equal(t, len(data), n)
		assert.Equal(t, data, buf)
		assert.Equal(t, testutil.CalculateMD5Hex(data[:32]), first.Token)
	})

	t.Run("retries a failed range", func(t *testing.T) {
		f := newFixture(t)
		f.store.Seed(remote, data)
		require.NoError(t, f.files.Create("/dst/out.bin", int64(len(data))))
		f.store.GetRangeHook = func(_ context.Context, _, _ int64, attempt int) error {
			if attempt == 1 {
				return errors.ErrConnection
			}
			return nil
		}

		res := f.exec.Run(newTask(0, 64))

		require.NoError(t, res.Err)
		assert.Equal(t, 2, res.Attempts)
		assert.Equal(t, 1, f.progress.Resets[0])
	})

	t.Run("missing object is permanent", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.files.Create("/dst/out.bin", int64(len(data))))

		res := f.exec.Run(newTask(0, 64))

		assert.True(t, errors.IsObjectNotFound(res.Err))
		assert.Equal(t, retry.Permanent, res.Class)
		assert.Equal(t, 1, res.Attempts)
	})

	t.Run("empty range makes no call", func(t *testing.T) {
		f := newFixture(t)

		res := f.exec.Run(newTask(0, 0))

		require.NoError(t, res.Err)
		assert.Zero(t, f.store.GetRangeCalls.Load())
	})
}

func TestPool(t *testing.T) {
	f := newFixture(t)
	data := testutil.GenerateRandomData(40)
	f.writeSource(t, "/src/data.bin", data)

	p := NewPool(2, f.exec)
	id, err := f.store.InitiateMultipart(context.Background(), remote, xfertypes.UploadOptions{})
	require.NoError(t, err)

	go func() {
		for i := 0; i < 4; i++ {
			p.Tasks() <- Task{
				Ctx:       context.Background(),
				JobID:     "job-3",
				Kind:      xfertypes.KindUpload,
				Object:    remote,
				LocalPath: "/src/data.bin",
				UploadID:  id,
				Index:     i,
				Start:     int64(i * 10),
				End:       int64(i*10 + 10),
			}
		}
	}()

	seen := make(map[int]bool)
	for i := 0; i < 4; i++ {
		res := <-p.Results()
		require.NoError(t, res.Err)
		seen[res.Index] = true
	}
	p.Close()

	assert.Len(t, seen, 4)
	assert.LessOrEqual(t, f.store.MaxConcurrent(), 2)
	_, open := <-p.Results()
	assert.False(t, open)
}
