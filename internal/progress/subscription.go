package progress

import (
	"sync"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

// Subscription is a stream of progress events for one job or for all jobs.
//
// Events are coalesced per job: a subscriber that falls behind receives the
// latest snapshot of each job instead of every intermediate one. A terminal
// event is never replaced and nothing is delivered for a job after it.
//
// When the aggregator closes, every pending event is still delivered before C
// is closed. A subscriber that stops reading must call Close to release it.
type Subscription struct {
	agg    *Aggregator
	filter xfertypes.JobID
	ch     chan xfertypes.Event

	mu       sync.Mutex
	pending  map[xfertypes.JobID]xfertypes.Event
	order    []xfertypes.JobID
	finished map[xfertypes.JobID]bool

	notify    chan struct{}
	done      chan struct{}
	ended     chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	endOnce   sync.Once
}

// Subscribe returns a subscription to one job, or to every job when id is empty.
// The current snapshot of each matching job is delivered first.
func (a *Aggregator) Subscribe(id xfertypes.JobID) *Subscription {
	s := &Subscription{
		agg:      a,
		filter:   id,
		ch:       make(chan xfertypes.Event, 16),
		pending:  make(map[xfertypes.JobID]xfertypes.Event),
		finished: make(map[xfertypes.JobID]bool),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		ended:    make(chan struct{}),
		exited:   make(chan struct{}),
	}
	go s.pump()

	a.subsMu.Lock()
	select {
	case <-a.stop:
		a.subsMu.Unlock()
		s.end()
		return s
	default:
	}
	a.subs[s] = struct{}{}
	a.subsMu.Unlock()

	a.mu.RLock()
	trackers := make([]*tracker, 0, len(a.jobs))
	for jid, t := range a.jobs {
		if s.wants(jid) {
			trackers = append(trackers, t)
		}
	}
	a.mu.RUnlock()

	for _, t := range trackers {
		t.pubMu.Lock()
		s.offer(a.snapshotLocked(t))
		t.pubMu.Unlock()
	}
	return s
}

// C returns the event channel. It is closed after Close.
func (s *Subscription) C() <-chan xfertypes.Event {
	return s.ch
}

// Close ends the subscription. Pending events that fit in the channel buffer
// remain readable; the rest are discarded.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.agg.subsMu.Lock()
		delete(s.agg.subs, s)
		s.agg.subsMu.Unlock()

		close(s.done)
		<-s.exited
	})
}

// end stops new offers; the pump delivers what is pending, then closes C.
func (s *Subscription) end() {
	s.endOnce.Do(func() { close(s.ended) })
}

// forget drops the bookkeeping of a job that is no longer tracked. An
// undelivered terminal event for it stays pending.
func (s *Subscription) forget(id xfertypes.JobID) {
	s.mu.Lock()
	delete(s.finished, id)
	s.mu.Unlock()
}

func (s *Subscription) wants(id xfertypes.JobID) bool {
	return s.filter == "" || s.filter == id
}

func (s *Subscription) offer(ev xfertypes.Event) {
	s.mu.Lock()
	if s.finished[ev.JobID] {
		s.mu.Unlock()
		return
	}
	if ev.State.Terminal() {
		s.finished[ev.JobID] = true
	}
	if _, ok := s.pending[ev.JobID]; !ok {
		s.order = append(s.order, ev.JobID)
	}
	s.pending[ev.JobID] = ev
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.exited)
	defer close(s.ch)
	for {
		select {
		case <-s.done:
			s.deliverBuffered(s.take())
			return
		case <-s.ended:
			for {
				batch := s.take()
				if len(batch) == 0 || !s.send(batch) {
					return
				}
			}
		case <-s.notify:
			if !s.send(s.take()) {
				return
			}
		}
	}
}

// send blocks until batch is read. It reports false if the subscriber
// closed first, after buffering what still fits.
func (s *Subscription) send(batch []xfertypes.Event) bool {
	for i, ev := range batch {
		select {
		case s.ch <- ev:
		case <-s.done:
			s.deliverBuffered(append(batch[i:], s.take()...))
			return false
		}
	}
	return true
}

// take removes the pending events in arrival order.
func (s *Subscription) take() []xfertypes.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]xfertypes.Event, 0, len(s.order))
	for _, id := range s.order {
		batch = append(batch, s.pending[id])
	}
	s.order = s.order[:0]
	clear(s.pending)
	return batch
}

// deliverBuffered hands events to the channel buffer without waiting for a
// reader, so a closing subscription keeps what still fits.
func (s *Subscription) deliverBuffered(batch []xfertypes.Event) {
	for _, ev := range batch {
		select {
		case s.ch <- ev:
		default:
			return
		}
	}
}
