package transfer

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/localfs"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/metrics"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/pool"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/progress"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/retry"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/splitter"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/validation"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/worker"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

const tracerName = "github.com/input-output-hk/catalyst-forge-libs/aws/transfer"

// Subscription delivers progress events until it is closed.
type Subscription = progress.Subscription

// Manager queues transfer jobs and runs their parts on a shared worker pool.
// It is safe for concurrent use.
//
// All job state is owned by a single control loop. Public methods hand the
// loop a closure and wait for it to run; storage calls other than part
// attempts run on their own goroutines and report back over channels, so the
// loop never blocks on the network.
type Manager struct {
	cfg     xfertypes.Config
	store   xfertypes.StorageClient
	files   *localfs.Files
	agg     *progress.Aggregator
	pool    *worker.Pool
	metrics *metrics.Collector
	log     logrus.FieldLogger
	now     func() time.Time

	calls     chan func()
	prepared  chan prepared
	finalized chan finalized
	purge     chan xfertypes.JobID
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// owned by the control loop
	jobs       map[xfertypes.JobID]*job
	queue      []xfertypes.JobID
	dispatch   *worker.RoundRobin
	active     int
	background int
	closed     bool
}

// prepared is the outcome of stat/head, split and initiate for one job.
type prepared struct {
	id       xfertypes.JobID
	total    int64
	ranges   []splitter.Range
	upload   xfertypes.UploadOptions
	uploadID string
	partial  bool
	err      error
}

type finalizeOp int

const (
	opComplete finalizeOp = iota
	opAbort
)

// finalized is the outcome of a completion or abort.
type finalized struct {
	id  xfertypes.JobID
	op  finalizeOp
	err error
}

func newManager(cfg xfertypes.Config, store xfertypes.StorageClient) *Manager {
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	files := localfs.NewOS()
	if cfg.Filesystem != nil {
		files = localfs.New(cfg.Filesystem)
	}

	var collector *metrics.Collector
	if cfg.Registerer != nil {
		collector = metrics.New(cfg.Registerer)
	}

	m := &Manager{
		cfg:       cfg,
		store:     store,
		files:     files,
		agg:       progress.New(cfg.ProgressInterval, cfg.ThroughputWindow),
		metrics:   collector,
		log:       log,
		now:       time.Now,
		calls:     make(chan func()),
		prepared:  make(chan prepared),
		finalized: make(chan finalized),
		purge:     make(chan xfertypes.JobID),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		jobs:      make(map[xfertypes.JobID]*job),
		dispatch:  worker.NewRoundRobin(),
	}

	m.pool = worker.NewPool(cfg.Concurrency, &worker.Executor{
		Store:          store,
		Files:          files,
		Policy:         retry.NewPolicy(cfg.Retry),
		Progress:       m.agg,
		Buffers:        pool.NewBufferPool(0),
		Metrics:        collector,
		Logger:         log,
		Verify:         cfg.VerifyIntegrity,
		AttemptTimeout: cfg.AttemptTimeout,
	})

	go m.run()
	return m
}

// Submit validates spec and queues it. The job starts once fewer than
// MaxActiveJobs jobs are active.
func (m *Manager) Submit(ctx context.Context, spec xfertypes.JobSpec) (xfertypes.JobID, error) {
	if err := validation.ValidateJobSpec(spec); err != nil {
		return "", err
	}

	id := xfertypes.JobID(uuid.NewString())
	var err error
	if callErr := m.call(ctx, "submit", func() {
		if m.closed {
			err = errors.NewError("submit", errors.ErrClosed)
			return
		}
		j := newJob(id, spec, m.now())
		m.jobs[id] = j
		m.queue = append(m.queue, id)
		m.agg.Register(id, spec.Kind)
		m.jobLog(j).WithFields(logrus.Fields{
			"source":      j.source(),
			"destination": j.destination(),
		}).Info("job queued")
	}); callErr != nil {
		return "", callErr
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// Cancel stops a job. Cancelling a finished job is a no-op. The job reaches
// Cancelled once its in-flight parts have drained and its multipart upload
// or partial file has been cleaned up; subscribe to observe it.
func (m *Manager) Cancel(ctx context.Context, id xfertypes.JobID) error {
	var err error
	if callErr := m.call(ctx, "cancel", func() {
		j, ok := m.jobs[id]
		if !ok {
			err = errors.NewError("cancel", errors.ErrJobNotFound).WithMessage(string(id))
			return
		}
		if j.state.Terminal() || j.terminating != "" {
			return
		}

		reason := errors.NewObjectError("cancel", j.spec.Remote.Bucket, j.spec.Remote.Key, context.Canceled)
		if j.state == xfertypes.StateQueued {
			m.finish(j, xfertypes.StateCancelled, reason)
			return
		}
		m.terminate(j, xfertypes.StateCancelled, reason)
	}); callErr != nil {
		return callErr
	}
	return err
}

// Subscribe returns a subscription to one job's events, or to every job's
// events when id is empty. Callers must Close it.
func (m *Manager) Subscribe(id xfertypes.JobID) *Subscription {
	return m.agg.Subscribe(id)
}

// Status returns a snapshot of a job. Finished jobs remain visible for
// RetainFinished.
func (m *Manager) Status(ctx context.Context, id xfertypes.JobID) (xfertypes.JobStatus, error) {
	var (
		status xfertypes.JobStatus
		err    error
	)
	if callErr := m.call(ctx, "status", func() {
		j, ok := m.jobs[id]
		if !ok {
			err = errors.NewError("status", errors.ErrJobNotFound).WithMessage(string(id))
			return
		}
		status = m.snapshot(j)
	}); callErr != nil {
		return xfertypes.JobStatus{}, callErr
	}
	return status, err
}

// Jobs lists active and retained jobs, oldest first.
func (m *Manager) Jobs(ctx context.Context) ([]xfertypes.JobStatus, error) {
	var out []xfertypes.JobStatus
	if err := m.call(ctx, "jobs", func() {
		out = make([]xfertypes.JobStatus, 0, len(m.jobs))
		for _, j := range m.jobs {
			out = append(out, m.snapshot(j))
		}
	}); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}

// Close cancels every unfinished job, waits for their aborts and stops the
// workers. Subscriptions are closed after their terminal events.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() { close(m.closing) })

	select {
	case <-m.done:
	case <-ctx.Done():
		return errors.NewError("close", ctx.Err())
	}
	m.pool.Close()
	m.agg.Close()
	return nil
}

// call runs fn on the control loop and waits for it to return.
func (m *Manager) call(ctx context.Context, op string, fn func()) error {
	done := make(chan struct{})
	select {
	case m.calls <- func() {
		defer close(done)
		fn()
	}:
	case <-ctx.Done():
		return errors.NewError(op, ctx.Err())
	case <-m.done:
		return errors.NewError(op, errors.ErrClosed)
	}
	<-done
	return nil
}

func (m *Manager) run() {
	defer close(m.done)
	closing := m.closing

	for {
		// a nil channel disables the send case while nothing is pending
		var tasks chan<- worker.Task
		next, ok := m.dispatch.Peek()
		if ok {
			tasks = m.pool.Tasks()
		}

		select {
		case tasks <- next:
			m.dispatch.Pop()
			m.onDispatched(next)
		case res := <-m.pool.Results():
			m.onResult(res)
		case fn := <-m.calls:
			fn()
		case p := <-m.prepared:
			m.background--
			m.onPrepared(p)
		case f := <-m.finalized:
			m.background--
			m.onFinalized(f)
		case id := <-m.purge:
			m.onPurge(id)
		case <-closing:
			closing = nil
			m.shutdown()
		}

		m.admit()
		if m.closed && m.active == 0 && m.background == 0 {
			return
		}
	}
}

// admit starts queued jobs while active slots are free.
func (m *Manager) admit() {
	for !m.closed && m.active < m.cfg.MaxActiveJobs && len(m.queue) > 0 {
		id := m.queue[0]
		m.queue = m.queue[1:]
		if j, ok := m.jobs[id]; ok && j.state == xfertypes.StateQueued {
			m.start(j)
		}
	}
}

func (m *Manager) start(j *job) {
	j.admitted = true
	j.preparing = true
	j.startedAt = m.now()
	m.active++
	m.metrics.JobStarted()
	m.transition(j, xfertypes.StateSplitting)

	m.background++
	ctx, id, spec := j.ctx, j.id, j.spec
	go func() {
		m.prepared <- m.prepare(ctx, id, spec)
	}()
}

// prepare sizes, splits and initiates a job off the control loop.
func (m *Manager) prepare(ctx context.Context, id xfertypes.JobID, spec xfertypes.JobSpec) (p prepared) {
	p.id = id
	obj := spec.Remote

	ctx, span := otel.Tracer(tracerName).Start(ctx, "transfer.job.prepare",
		trace.WithAttributes(
			attribute.String("job.id", string(id)),
			attribute.String("job.kind", string(spec.Kind)),
			attribute.String("object", obj.String()),
		))
	defer func() {
		if p.err != nil {
			span.RecordError(p.err)
			span.SetStatus(codes.Error, p.err.Error())
		}
		span.End()
	}()

	switch spec.Kind {
	case xfertypes.KindUpload:
		size, err := m.files.Size(spec.LocalPath)
		if err != nil {
			p.err = errors.NewObjectError("prepare", obj.Bucket, obj.Key,
				fmt.Errorf("%w: %w", errors.ErrInvalidInput, err))
			return p
		}
		p.total = size
	case xfertypes.KindDownload:
		p.total = spec.Size
		if p.total == 0 {
			hctx, cancel := m.finalizeContext(ctx)
			info, err := m.store.HeadObject(hctx, obj)
			cancel()
			if err != nil {
				p.err = err
				return p
			}
			p.total = info.Size
		}
	}

	partSize := m.cfg.PartSize
	if spec.PartSize > 0 {
		partSize = spec.PartSize
	}
	ranges, err := splitter.Split(p.total, partSize, m.cfg.MaxParts)
	if err != nil {
		p.err = errors.NewObjectError("split", obj.Bucket, obj.Key, err)
		return p
	}
	p.ranges = ranges

	if spec.Kind == xfertypes.KindDownload {
		if err := m.files.Create(spec.LocalPath, p.total); err != nil {
			p.err = errors.NewObjectError("createPartial", obj.Bucket, obj.Key, err)
			return p
		}
		p.partial = true
		return p
	}

	p.upload = xfertypes.UploadOptions{
		ContentType:  spec.ContentType,
		Metadata:     spec.Metadata,
		StorageClass: spec.StorageClass,
	}
	if p.upload.ContentType == "" {
		p.upload.ContentType = m.files.DetectContentType(spec.LocalPath)
	}
	if splitter.Multipart(ranges) {
		// a cancel must not lose an upload the service already created; the
		// loop aborts it once prepare reports back
		ictx, cancel := m.finalizeContext(context.WithoutCancel(ctx))
		defer cancel()
		uploadID, err := m.store.InitiateMultipart(ictx, obj, p.upload)
		if err != nil {
			p.err = err
			return p
		}
		p.uploadID = uploadID
	}
	return p
}

func (m *Manager) onPrepared(p prepared) {
	j, ok := m.jobs[p.id]
	if !ok {
		return
	}
	j.preparing = false
	j.upload = p.upload
	j.uploadID = p.uploadID
	j.partial = p.partial

	if p.err != nil {
		if j.terminating == "" {
			m.jobLog(j).WithError(p.err).Error("job preparation failed")
			j.terminating = xfertypes.StateFailed
			j.err = p.err
		}
		m.finish(j, j.terminating, j.err)
		return
	}

	j.layout(p.total, p.ranges)
	m.agg.Layout(j.id, p.total, len(p.ranges))

	if j.terminating != "" {
		// cancelled while splitting
		m.drain(j)
		return
	}

	m.jobLog(j).WithFields(logrus.Fields{
		"total_bytes": p.total,
		"parts":       len(p.ranges),
	}).Info("job split")
	m.dispatch.Add(j.id, j.tasks())
}

func (m *Manager) onDispatched(task worker.Task) {
	j, ok := m.jobs[task.JobID]
	if !ok {
		return
	}
	j.inflight++
	j.parts[task.Index].State = xfertypes.PartInFlight
	if j.state == xfertypes.StateSplitting {
		m.transition(j, xfertypes.StateInProgress)
	}
}

func (m *Manager) onResult(res worker.Result) {
	j, ok := m.jobs[res.JobID]
	if !ok {
		return
	}
	j.inflight--

	part := &j.parts[res.Index]
	part.Attempts = res.Attempts
	if res.Err == nil {
		part.State = xfertypes.PartDone
		part.Bytes = res.Bytes
		part.Token = res.Token
		j.done++
	} else {
		part.State = xfertypes.PartFailed
		part.LastErr = res.Err
	}

	if j.terminating != "" {
		m.drain(j)
		return
	}

	if res.Err != nil {
		m.jobLog(j).WithFields(logrus.Fields{
			"part":     res.Index,
			"attempts": res.Attempts,
			"class":    res.Class.String(),
		}).WithError(res.Err).Error("part failed")
		m.terminate(j, xfertypes.StateFailed, res.Err)
		return
	}

	if j.done == len(j.parts) {
		m.finalize(j)
	}
}

// terminate stops dispatching a job's parts and cancels those in flight.
// The job moves to state once they have drained and it has been aborted.
func (m *Manager) terminate(j *job, state xfertypes.State, err error) {
	if j.state.Terminal() || j.terminating != "" {
		return
	}
	j.terminating = state
	j.err = err
	j.cancel()
	dropped := m.dispatch.Remove(j.id)

	m.jobLog(j).WithFields(logrus.Fields{
		"target":   state,
		"dropped":  dropped,
		"inflight": j.inflight,
	}).Info("job stopping")

	// preparation and completion report back to the loop and resume from there
	if j.preparing || j.finalizing {
		return
	}
	m.drain(j)
}

// drain aborts a terminating job once no part is in flight.
func (m *Manager) drain(j *job) {
	if j.inflight > 0 {
		return
	}
	m.abort(j)
}

// abort runs at most once per job. Multipart uploads are aborted on the
// service and downloads discard their partial file; anything else finishes
// without a call.
func (m *Manager) abort(j *job) {
	if j.abortIssued {
		return
	}
	j.abortIssued = true

	id, obj := j.id, j.spec.Remote
	switch {
	case j.uploadID != "":
		uploadID := j.uploadID
		m.jobLog(j).Warn("aborting multipart upload")
		m.background++
		go func() {
			ctx, cancel := m.finalizeContext(context.Background())
			defer cancel()
			err := m.store.AbortMultipart(ctx, obj, uploadID)
			m.finalized <- finalized{id: id, op: opAbort, err: err}
		}()
	case j.partial:
		path := j.spec.LocalPath
		m.jobLog(j).Warn("discarding partial download")
		m.background++
		go func() {
			err := m.files.Discard(path)
			m.finalized <- finalized{id: id, op: opAbort, err: err}
		}()
	default:
		m.finish(j, j.terminating, j.err)
	}
}

// finalize completes a job whose parts are all done.
func (m *Manager) finalize(j *job) {
	if j.spec.Kind == xfertypes.KindUpload && !j.multipart() {
		m.finish(j, xfertypes.StateCompleted, nil)
		return
	}

	j.finalizing = true
	m.background++
	id, obj, kind, uploadID, path := j.id, j.spec.Remote, j.spec.Kind, j.uploadID, j.spec.LocalPath
	parts := j.completed()
	go func() {
		var err error
		if kind == xfertypes.KindUpload {
			ctx, cancel := m.finalizeContext(context.Background())
			_, err = m.store.CompleteMultipart(ctx, obj, uploadID, parts)
			cancel()
		} else if err = m.files.Commit(path); err != nil {
			err = errors.NewObjectError("commit", obj.Bucket, obj.Key, err)
		}
		m.finalized <- finalized{id: id, op: opComplete, err: err}
	}()
}

func (m *Manager) onFinalized(f finalized) {
	j, ok := m.jobs[f.id]
	if !ok {
		return
	}

	switch f.op {
	case opComplete:
		j.finalizing = false
		if f.err == nil {
			// a cancel that raced the completion call loses
			m.finish(j, xfertypes.StateCompleted, nil)
			return
		}
		if j.terminating == "" {
			m.jobLog(j).WithError(f.err).Error("completion failed")
			j.terminating = xfertypes.StateFailed
			j.err = f.err
			j.cancel()
		}
		m.abort(j)
	case opAbort:
		m.metrics.Abort(f.err)
		if f.err != nil {
			m.jobLog(j).WithError(f.err).Warn("abort failed")
		}
		m.finish(j, j.terminating, j.err)
	}
}

// finish moves a job to a terminal state. The terminal event is handed to
// every subscriber before the job releases its active slot.
func (m *Manager) finish(j *job, state xfertypes.State, err error) {
	j.state = state
	j.err = err
	j.endedAt = m.now()
	j.cancel()

	m.agg.SetState(j.id, state, err)
	if j.admitted {
		m.active--
	}
	m.metrics.JobFinished(string(j.spec.Kind), string(state), j.admitted, j.endedAt.Sub(j.createdAt))

	entry := m.jobLog(j).WithFields(logrus.Fields{
		"state":    state,
		"duration": j.endedAt.Sub(j.createdAt),
	})
	if state == xfertypes.StateFailed {
		entry.WithError(err).Error("job failed")
	} else {
		entry.Info("job finished")
	}

	id := j.id
	time.AfterFunc(m.cfg.RetainFinished, func() {
		select {
		case m.purge <- id:
		case <-m.done:
		}
	})
}

func (m *Manager) onPurge(id xfertypes.JobID) {
	delete(m.jobs, id)
	m.agg.Remove(id)
}

// shutdown cancels queued jobs outright and stops the active ones.
func (m *Manager) shutdown() {
	m.closed = true
	for _, id := range m.queue {
		if j, ok := m.jobs[id]; ok && j.state == xfertypes.StateQueued {
			m.finish(j, xfertypes.StateCancelled, closeReason(j))
		}
	}
	m.queue = nil

	for _, j := range m.jobs {
		if j.admitted && !j.state.Terminal() {
			m.terminate(j, xfertypes.StateCancelled, closeReason(j))
		}
	}
	m.log.WithField("active", m.active).Info("manager closing")
}

func closeReason(j *job) error {
	return errors.NewObjectError("close", j.spec.Remote.Bucket, j.spec.Remote.Key,
		fmt.Errorf("%w: %w", errors.ErrClosed, context.Canceled))
}

func (m *Manager) transition(j *job, state xfertypes.State) {
	j.state = state
	m.agg.SetState(j.id, state, nil)
	m.jobLog(j).WithField("state", state).Info("job state changed")
}

func (m *Manager) snapshot(j *job) xfertypes.JobStatus {
	var done int64
	if ev, ok := m.agg.Snapshot(j.id); ok {
		done = ev.BytesDone
	}
	st := j.status(done)

	// in-flight parts report the attempt that is running now
	live := m.agg.Parts(j.id)
	for i := range st.Parts {
		p := &st.Parts[i]
		if p.State != xfertypes.PartInFlight || i >= len(live) {
			continue
		}
		p.Bytes = live[i].Bytes
		p.Attempts = live[i].Failures + 1
	}
	return st
}

// finalizeContext bounds head, initiate, complete and abort calls.
func (m *Manager) finalizeContext(parent context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.FinalizeTimeout > 0 {
		return context.WithTimeout(parent, m.cfg.FinalizeTimeout)
	}
	return context.WithCancel(parent)
}

func (m *Manager) jobLog(j *job) logrus.FieldLogger {
	fields := logrus.Fields{
		"job_id": j.id,
		"kind":   j.spec.Kind,
	}
	if j.uploadID != "" {
		fields["upload_id"] = j.uploadID
	}
	return m.log.WithFields(fields)
}
