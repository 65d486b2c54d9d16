package transfer

import (
	"context"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/splitter"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/worker"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

// job is the manager's record of a transfer. Only the control loop reads or
// writes it.
type job struct {
	id    xfertypes.JobID
	spec  xfertypes.JobSpec
	state xfertypes.State
	err   error

	ctx    context.Context
	cancel context.CancelFunc

	total    int64
	parts    []xfertypes.PartStatus
	upload   xfertypes.UploadOptions
	uploadID string

	// partial is set once a download's "<dest>.part" file exists.
	partial bool

	// admitted is set once the job leaves the queue and holds an active slot.
	admitted   bool
	preparing  bool
	finalizing bool
	inflight   int
	done       int

	// terminating is the terminal state the job moves to once its in-flight
	// parts have drained and its abort has run.
	terminating xfertypes.State
	abortIssued bool

	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time
}

func newJob(id xfertypes.JobID, spec xfertypes.JobSpec, now time.Time) *job {
	ctx, cancel := context.WithCancel(context.Background())
	return &job{
		id:        id,
		spec:      spec,
		state:     xfertypes.StateQueued,
		ctx:       ctx,
		cancel:    cancel,
		createdAt: now,
	}
}

// source and destination render the job's endpoints for status reports.
func (j *job) source() string {
	if j.spec.Kind == xfertypes.KindUpload {
		return j.spec.LocalPath
	}
	return j.spec.Remote.String()
}

func (j *job) destination() string {
	if j.spec.Kind == xfertypes.KindUpload {
		return j.spec.Remote.String()
	}
	return j.spec.LocalPath
}

// multipart reports whether the job talks the multipart protocol.
func (j *job) multipart() bool {
	return j.uploadID != ""
}

// layout records the split of a prepared job.
func (j *job) layout(total int64, ranges []splitter.Range) {
	j.total = total
	j.parts = make([]xfertypes.PartStatus, len(ranges))
	for i, r := range ranges {
		j.parts[i] = xfertypes.PartStatus{
			Index: r.Index,
			Start: r.Start,
			End:   r.End,
			State: xfertypes.PartPending,
		}
	}
}

// tasks builds the dispatch tasks for every part, in index order.
func (j *job) tasks() []worker.Task {
	tasks := make([]worker.Task, len(j.parts))
	for i, p := range j.parts {
		tasks[i] = worker.Task{
			Ctx:       j.ctx,
			JobID:     j.id,
			Kind:      j.spec.Kind,
			Object:    j.spec.Remote,
			LocalPath: j.spec.LocalPath,
			UploadID:  j.uploadID,
			Upload:    j.upload,
			Index:     p.Index,
			Start:     p.Start,
			End:       p.End,
		}
	}
	return tasks
}

// completed returns the confirmed parts in part-number order.
func (j *job) completed() []xfertypes.CompletedPart {
	out := make([]xfertypes.CompletedPart, 0, len(j.parts))
	for _, p := range j.parts {
		out = append(out, xfertypes.CompletedPart{Number: int32(p.Index + 1), Token: p.Token})
	}
	return out
}

func (j *job) status(bytesDone int64) xfertypes.JobStatus {
	parts := make([]xfertypes.PartStatus, len(j.parts))
	copy(parts, j.parts)
	return xfertypes.JobStatus{
		ID:          j.id,
		Kind:        j.spec.Kind,
		Source:      j.source(),
		Destination: j.destination(),
		TotalBytes:  j.total,
		BytesDone:   bytesDone,
		State:       j.state,
		UploadID:    j.uploadID,
		Parts:       parts,
		CreatedAt:   j.createdAt,
		EndedAt:     j.endedAt,
		Err:         j.err,
	}
}
