// Package progress merges per-part byte counters into per-job progress
// snapshots and publishes them to subscribers at a bounded rate.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

const (
	// DefaultInterval is the minimum spacing of non-terminal events per job.
	DefaultInterval = 200 * time.Millisecond

	// DefaultWindow is the sliding window used for throughput estimates.
	DefaultWindow = 5 * time.Second
)

// Aggregator tracks job progress. Workers update counters concurrently with
// atomic operations; snapshots are immutable Event values.
type Aggregator struct {
	interval time.Duration
	window   time.Duration
	now      func() time.Time

	mu   sync.RWMutex
	jobs map[xfertypes.JobID]*tracker

	subsMu sync.Mutex
	subs   map[*Subscription]struct{}

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type sample struct {
	at    time.Time
	bytes int64
}

type tracker struct {
	id   xfertypes.JobID
	kind xfertypes.Kind

	total     atomic.Int64
	confirmed atomic.Int64
	reported  atomic.Int64
	partsDone atomic.Int64
	dirty     atomic.Bool

	inflight atomic.Pointer[[]partCounter]

	// pubMu serialises snapshot publication so a stale snapshot can never
	// follow a terminal one.
	pubMu   sync.Mutex
	state   xfertypes.State
	err     error
	samples []sample
}

type partCounter struct {
	bytes    atomic.Int64
	failures atomic.Int64
}

// PartProgress is the live state of one part.
type PartProgress struct {
	// Bytes moved by the current attempt
	Bytes int64
	// Failures counts the attempts that did not succeed
	Failures int
}

// New creates an aggregator and starts its publishing loop.
// Zero durations select the defaults.
func New(interval, window time.Duration) *Aggregator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if window <= 0 {
		window = DefaultWindow
	}
	a := &Aggregator{
		interval: interval,
		window:   window,
		now:      time.Now,
		jobs:     make(map[xfertypes.JobID]*tracker),
		subs:     make(map[*Subscription]struct{}),
		stop:     make(chan struct{}),
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

// Register starts tracking a job in the Queued state and publishes it.
func (a *Aggregator) Register(id xfertypes.JobID, kind xfertypes.Kind) {
	t := &tracker{id: id, kind: kind, state: xfertypes.StateQueued}
	a.mu.Lock()
	a.jobs[id] = t
	a.mu.Unlock()
	a.publish(t)
}

// Layout records the total size and part count once a job has been split.
func (a *Aggregator) Layout(id xfertypes.JobID, total int64, parts int) {
	t := a.get(id)
	if t == nil {
		return
	}
	counters := make([]partCounter, parts)
	t.total.Store(total)
	t.inflight.Store(&counters)
}

// Advance adds n in-flight bytes to a part.
func (a *Aggregator) Advance(id xfertypes.JobID, part int, n int64) {
	t := a.get(id)
	if t == nil || n <= 0 {
		return
	}
	if c := t.counter(part); c != nil {
		c.bytes.Add(n)
	}
	t.bump()
}

// Reset clears a part's in-flight bytes after a failed attempt. Confirmed
// bytes of other parts are untouched and the reported total never decreases.
func (a *Aggregator) Reset(id xfertypes.JobID, part int) {
	t := a.get(id)
	if t == nil {
		return
	}
	if c := t.counter(part); c != nil {
		c.bytes.Store(0)
		c.failures.Add(1)
	}
}

// Confirm records a part as done with size bytes.
func (a *Aggregator) Confirm(id xfertypes.JobID, part int, size int64) {
	t := a.get(id)
	if t == nil {
		return
	}
	if c := t.counter(part); c != nil {
		c.bytes.Store(0)
	}
	t.confirmed.Add(size)
	t.partsDone.Add(1)
	t.bump()
}

// SetState records a state transition and publishes it immediately.
func (a *Aggregator) SetState(id xfertypes.JobID, state xfertypes.State, err error) {
	t := a.get(id)
	if t == nil {
		return
	}
	t.pubMu.Lock()
	if t.state.Terminal() {
		t.pubMu.Unlock()
		return
	}
	t.state = state
	t.err = err
	if state == xfertypes.StateCompleted {
		raiseTo(&t.reported, t.total.Load())
	}
	t.pubMu.Unlock()
	a.publish(t)
}

// Parts returns the live counters of every part of a job, or nil before the
// job is laid out.
func (a *Aggregator) Parts(id xfertypes.JobID) []PartProgress {
	t := a.get(id)
	if t == nil {
		return nil
	}
	counters := t.inflight.Load()
	if counters == nil {
		return nil
	}
	out := make([]PartProgress, len(*counters))
	for i := range *counters {
		c := &(*counters)[i]
		out[i] = PartProgress{Bytes: c.bytes.Load(), Failures: int(c.failures.Load())}
	}
	return out
}

// Snapshot returns the current progress of a job.
func (a *Aggregator) Snapshot(id xfertypes.JobID) (xfertypes.Event, bool) {
	t := a.get(id)
	if t == nil {
		return xfertypes.Event{}, false
	}
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	return a.snapshotLocked(t), true
}

// Remove stops tracking a job.
func (a *Aggregator) Remove(id xfertypes.JobID) {
	a.mu.Lock()
	delete(a.jobs, id)
	a.mu.Unlock()

	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	for s := range a.subs {
		if s.wants(id) {
			s.forget(id)
		}
	}
}

// Close stops the publishing loop and ends every subscription. Each one
// closes its channel once the subscriber has read what was pending.
func (a *Aggregator) Close() {
	a.closeOnce.Do(func() {
		a.subsMu.Lock()
		close(a.stop)
		a.subsMu.Unlock()
		a.wg.Wait()

		a.subsMu.Lock()
		for s := range a.subs {
			delete(a.subs, s)
			s.end()
		}
		a.subsMu.Unlock()
	})
}

func (a *Aggregator) get(id xfertypes.JobID) *tracker {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.jobs[id]
}

func (a *Aggregator) loop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.flush()
		}
	}
}

// flush publishes every job whose counters moved since the last tick.
func (a *Aggregator) flush() {
	a.mu.RLock()
	dirty := make([]*tracker, 0, len(a.jobs))
	for _, t := range a.jobs {
		if t.dirty.CompareAndSwap(true, false) {
			dirty = append(dirty, t)
		}
	}
	a.mu.RUnlock()

	for _, t := range dirty {
		a.publish(t)
	}
}

func (a *Aggregator) publish(t *tracker) {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	ev := a.snapshotLocked(t)
	t.samples = append(t.samples, sample{at: ev.Time, bytes: ev.BytesDone})

	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	for s := range a.subs {
		if s.wants(t.id) {
			s.offer(ev)
		}
	}
}

// snapshotLocked builds an Event; callers hold t.pubMu.
func (a *Aggregator) snapshotLocked(t *tracker) xfertypes.Event {
	now := a.now()
	total := t.total.Load()
	done := t.reported.Load()

	ev := xfertypes.Event{
		JobID:      t.id,
		Kind:       t.kind,
		State:      t.state,
		BytesDone:  done,
		TotalBytes: total,
		PartsDone:  int(t.partsDone.Load()),
		PartsTotal: t.parts(),
		Err:        t.err,
		Time:       now,
	}
	switch {
	case total > 0:
		ev.Percent = float64(done) / float64(total) * 100
	case t.state == xfertypes.StateCompleted:
		ev.Percent = 100
	}

	t.samples = trim(t.samples, now.Add(-a.window))
	ev.Throughput = throughput(t.samples, now, done)
	return ev
}

func (t *tracker) counter(part int) *partCounter {
	counters := t.inflight.Load()
	if counters == nil || part < 0 || part >= len(*counters) {
		return nil
	}
	return &(*counters)[part]
}

func (t *tracker) parts() int {
	if counters := t.inflight.Load(); counters != nil {
		return len(*counters)
	}
	return 0
}

// bump raises the reported counter to confirmed plus in-flight bytes.
func (t *tracker) bump() {
	cur := t.confirmed.Load()
	if counters := t.inflight.Load(); counters != nil {
		for i := range *counters {
			cur += (*counters)[i].bytes.Load()
		}
	}

	if total := t.total.Load(); cur > total {
		cur = total
	}
	raiseTo(&t.reported, cur)
	t.dirty.Store(true)
}

// raiseTo stores v into c if it is larger than the current value.
func raiseTo(c *atomic.Int64, v int64) {
	for {
		old := c.Load()
		if v <= old || c.CompareAndSwap(old, v) {
			return
		}
	}
}
