// Package worker executes part transfers on a bounded pool of goroutines.
//
// Each task is one part of one job. A worker runs every attempt for its part,
// classifying failures with the retry policy and sleeping the backoff itself,
// so a part never has more than one attempt in flight and the manager's
// control loop never blocks on network I/O or timers.
package worker

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // Content-MD5 is what the service verifies
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/localfs"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/metrics"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/pool"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/retry"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

const tracerName = "github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/worker"

// Task is one part to transfer.
type Task struct {
	// Ctx is the job context; it is cancelled when the job is cancelled or fails.
	Ctx context.Context

	JobID     xfertypes.JobID
	Kind      xfertypes.Kind
	Object    xfertypes.Object
	LocalPath string

	// UploadID is set for multipart uploads; empty uploads use PutObject.
	UploadID string

	// Upload carries object attributes for simple uploads.
	Upload xfertypes.UploadOptions

	Index int
	Start int64
	End   int64
}

// Len returns the number of bytes in the part.
func (t Task) Len() int64 {
	return t.End - t.Start
}

// Result is the outcome of a task after all of its attempts.
type Result struct {
	JobID    xfertypes.JobID
	Index    int
	Attempts int
	Bytes    int64
	Token    string
	Err      error
	Class    retry.Class
}

// Progress receives per-part byte deltas.
type Progress interface {
	Advance(id xfertypes.JobID, part int, n int64)
	Reset(id xfertypes.JobID, part int)
	Confirm(id xfertypes.JobID, part int, size int64)
}

// Executor runs the attempt loop for a single task.
type Executor struct {
	Store          xfertypes.StorageClient
	Files          *localfs.Files
	Policy         *retry.Policy
	Progress       Progress
	Buffers        *pool.BufferPool
	Metrics        *metrics.Collector
	Logger         logrus.FieldLogger
	Verify         bool
	AttemptTimeout time.Duration

	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run executes attempts for task until it succeeds, fails permanently,
// exhausts its attempts or is cancelled.
func (e *Executor) Run(task Task) Result {
	res := Result{JobID: task.JobID, Index: task.Index}
	log := e.logger().WithFields(logrus.Fields{
		"job_id": task.JobID,
		"kind":   task.Kind,
		"part":   task.Index,
	})

	integrityFailures := 0
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt

		started := time.Now()
		token, n, err := e.attempt(task, attempt)
		elapsed := time.Since(started)

		if err == nil {
			e.Progress.Confirm(task.JobID, task.Index, n)
			e.Metrics.PartAttempt(string(task.Kind), "success", elapsed)
			e.Metrics.Bytes(string(task.Kind), n)
			res.Bytes = n
			res.Token = token
			return res
		}

		class := retry.Classify(err)
		if task.Ctx.Err() != nil {
			class = retry.Cancelled
		}
		e.Progress.Reset(task.JobID, task.Index)
		e.Metrics.PartAttempt(string(task.Kind), class.String(), elapsed)

		if class == retry.Integrity {
			integrityFailures++
		}
		if !e.Policy.ShouldRetry(class, attempt, integrityFailures) {
			res.Err = err
			res.Class = class
			if class == retry.Integrity {
				// a repeated integrity failure is permanent
				res.Class = retry.Permanent
			}
			return res
		}

		delay := e.Policy.Delay(attempt)
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"class":   class.String(),
			"delay":   delay,
		}).WithError(err).Warn("part attempt failed, retrying")
		e.Metrics.Retry(class.String())

		if err := e.sleep(task.Ctx, delay); err != nil {
			res.Err = err
			res.Class = retry.Cancelled
			return res
		}
	}
}

func (e *Executor) attempt(task Task, attempt int) (token string, n int64, err error) {
	ctx, span := otel.Tracer(tracerName).Start(task.Ctx, "transfer.part.attempt",
		trace.WithAttributes(
			attribute.String("job.id", string(task.JobID)),
			attribute.String("job.kind", string(task.Kind)),
			attribute.Int("part.index", task.Index),
			attribute.Int64("part.size", task.Len()),
			attribute.Int("part.attempt", attempt),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if e.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.AttemptTimeout)
		defer cancel()
	}

	switch task.Kind {
	case xfertypes.KindUpload:
		return e.upload(ctx, task)
	case xfertypes.KindDownload:
		return e.download(ctx, task)
	default:
		return "", 0, errors.NewError("attempt", errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("unknown transfer kind %q", task.Kind))
	}
}

func (e *Executor) upload(ctx context.Context, task Task) (string, int64, error) {
	size := task.Len()
	buf := e.Buffers.Get(int(size))
	defer e.Buffers.Put(buf)

	if size > 0 {
		if _, err := e.Files.ReadAt(task.LocalPath, buf, task.Start); err != nil {
			return "", 0, errors.NewObjectError("readPart", task.Object.Bucket, task.Object.Key, err)
		}
	}

	sum := md5.Sum(buf) //nolint:gosec // integrity check, not security
	body := &progressReader{
		reader: bytes.NewReader(buf),
		report: func(n int64) { e.Progress.Advance(task.JobID, task.Index, n) },
	}

	var (
		token string
		err   error
	)
	if task.UploadID == "" {
		token, err = e.Store.PutObject(ctx, task.Object, body, size, sum[:], task.Upload)
	} else {
		token, err = e.Store.PutPart(ctx, task.Object, task.UploadID, int32(task.Index+1), body, size, sum[:])
	}
	if err != nil {
		return "", 0, err
	}

	token = strings.Trim(token, `"`)
	if e.Verify && isMD5Hex(token) && !strings.EqualFold(token, hex.EncodeToString(sum[:])) {
		return "", 0, errors.NewObjectError("putPart", task.Object.Bucket, task.Object.Key, errors.ErrChecksumMismatch).
			WithMessage(fmt.Sprintf("part %d etag %s does not match local md5", task.Index+1, token))
	}
	return token, size, nil
}

func (e *Executor) download(ctx context.Context, task Task) (string, int64, error) {
	size := task.Len()
	if size == 0 {
		return "", 0, nil
	}

	rc, err := e.Store.GetObjectRange(ctx, task.Object, task.Start, task.End)
	if err != nil {
		return "", 0, err
	}
	defer rc.Close()

	buf := e.Buffers.Get(int(size))
	defer e.Buffers.Put(buf)

	body := &progressReader{
		reader: rc,
		report: func(n int64) { e.Progress.Advance(task.JobID, task.Index, n) },
	}
	if _, err := io.ReadFull(body, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return "", 0, errors.NewObjectError("getRange", task.Object.Bucket, task.Object.Key, err)
	}
	if e.Verify {
		var extra [1]byte
		if n, _ := rc.Read(extra[:]); n > 0 {
			return "", 0, errors.NewObjectError("getRange", task.Object.Bucket, task.Object.Key, errors.ErrChecksumMismatch).
				WithMessage(fmt.Sprintf("range [%d, %d) returned more than %d bytes", task.Start, task.End, size))
		}
	}

	if err := e.Files.WriteAt(task.LocalPath, buf, task.Start); err != nil {
		return "", 0, errors.NewObjectError("writePart", task.Object.Bucket, task.Object.Key, err)
	}

	sum := md5.Sum(buf) //nolint:gosec // integrity token, not security
	return hex.EncodeToString(sum[:]), size, nil
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.NewError("backoff", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (e *Executor) logger() logrus.FieldLogger {
	if e.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		return l
	}
	return e.Logger
}

func isMD5Hex(s string) bool {
	if len(s) != 32 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
