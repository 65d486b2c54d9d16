package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

// collect reads events until a terminal event for id arrives.
func collect(t *testing.T, s *Subscription, id xfertypes.JobID) []xfertypes.Event {
	t.Helper()
	var events []xfertypes.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.C():
			require.True(t, ok, "subscription closed before terminal event")
			events = append(events, ev)
			if ev.JobID == id && ev.State.Terminal() {
				return events
			}
		case <-timeout:
			t.Fatalf("no terminal event for %s", id)
		}
	}
}

func TestAggregator_MonotonicUnderConcurrency(t *testing.T) {
	a := New(time.Millisecond, time.Second)
	defer a.Close()

	const (
		parts    = 8
		partSize = int64(1000)
	)
	id := xfertypes.JobID("job")
	a.Register(id, xfertypes.KindUpload)
	a.Layout(id, parts*partSize, parts)

	sub := a.Subscribe(id)
	defer sub.Close()

	var wg sync.WaitGroup
	for p := 0; p < parts; p++ {
		wg.Add(1)
		go func(part int) {
			defer wg.Done()
			// a failed attempt that is reset, then a successful one
			for i := 0; i < 10; i++ {
				a.Advance(id, part, 30)
			}
			a.Reset(id, part)
			for i := 0; i < 10; i++ {
				a.Advance(id, part, partSize/10)
			}
			a.Confirm(id, part, partSize)
		}(p)
	}

	done := make(chan struct{})
	var observed []int64
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			ev, _ := a.Snapshot(id)
			observed = append(observed, ev.BytesDone)
			time.Sleep(50 * time.Microsecond)
		}
	}()

	wg.Wait()
	<-done
	a.SetState(id, xfertypes.StateCompleted, nil)

	for i := 1; i < len(observed); i++ {
		assert.GreaterOrEqual(t, observed[i], observed[i-1])
	}

	events := collect(t, sub, id)
	var last int64
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.BytesDone, last)
		assert.LessOrEqual(t, ev.BytesDone, int64(parts)*partSize)
		last = ev.BytesDone
	}
	final := events[len(events)-1]
	assert.Equal(t, xfertypes.StateCompleted, final.State)
	assert.Equal(t, int64(parts)*partSize, final.BytesDone)
	assert.Equal(t, parts, final.PartsDone)
	assert.InDelta(t, 100.0, final.Percent, 0.001)
}

func TestAggregator_CoalescesBetweenTicks(t *testing.T) {
	a := New(time.Hour, time.Second)
	defer a.Close()

	id := xfertypes.JobID("job")
	sub := a.Subscribe("")
	defer sub.Close()

	a.Register(id, xfertypes.KindDownload)
	a.Layout(id, 1000, 1)
	a.SetState(id, xfertypes.StateInProgress, nil)
	for i := 0; i < 1000; i++ {
		a.Advance(id, 0, 1)
	}
	a.Confirm(id, 0, 1000)
	a.SetState(id, xfertypes.StateCompleted, nil)

	events := collect(t, sub, id)
	// The hour-long ticker never fires: only state changes are published.
	assert.LessOrEqual(t, len(events), 3)
	assert.Equal(t, int64(1000), events[len(events)-1].BytesDone)
}

func TestAggregator_TerminalIsFinal(t *testing.T) {
	a := New(time.Hour, time.Second)
	defer a.Close()

	id := xfertypes.JobID("job")
	a.Register(id, xfertypes.KindUpload)
	a.Layout(id, 10, 1)

	sub := a.Subscribe(id)
	defer sub.Close()

	failure := errors.New("boom")
	a.SetState(id, xfertypes.StateFailed, failure)
	a.SetState(id, xfertypes.StateCompleted, nil)
	a.Advance(id, 0, 5)
	a.flush()

	events := collect(t, sub, id)
	final := events[len(events)-1]
	assert.Equal(t, xfertypes.StateFailed, final.State)
	assert.ErrorIs(t, final.Err, failure)

	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event after terminal: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	snap, ok := a.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, xfertypes.StateFailed, snap.State)
}

func TestAggregator_SubscriptionFilter(t *testing.T) {
	a := New(time.Hour, time.Second)
	defer a.Close()

	sub := a.Subscribe("b")
	defer sub.Close()

	a.Register("a", xfertypes.KindUpload)
	a.Register("b", xfertypes.KindUpload)
	a.SetState("a", xfertypes.StateCancelled, nil)
	a.SetState("b", xfertypes.StateCancelled, nil)

	for _, ev := range collect(t, sub, "b") {
		assert.Equal(t, xfertypes.JobID("b"), ev.JobID)
	}
}

func TestAggregator_Throughput(t *testing.T) {
	a := New(time.Hour, 10*time.Second)
	defer a.Close()

	clock := time.Unix(1000, 0)
	a.now = func() time.Time { return clock }

	id := xfertypes.JobID("job")
	a.Register(id, xfertypes.KindUpload)
	a.Layout(id, 4000, 2)

	a.Advance(id, 0, 2000)
	clock = clock.Add(2 * time.Second)
	a.flush()

	ev, ok := a.Snapshot(id)
	require.True(t, ok)
	assert.InDelta(t, 1000.0, ev.Throughput, 0.001)
	assert.InDelta(t, 50.0, ev.Percent, 0.001)
}

func TestAggregator_ZeroSizeCompleted(t *testing.T) {
	a := New(time.Hour, time.Second)
	defer a.Close()

	id := xfertypes.JobID("empty")
	a.Register(id, xfertypes.KindDownload)
	a.Layout(id, 0, 1)
	a.Confirm(id, 0, 0)
	a.SetState(id, xfertypes.StateCompleted, nil)

	ev, ok := a.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, 100.0, ev.Percent)
	assert.Equal(t, int64(0), ev.BytesDone)
}

func TestAggregator_CloseClosesSubscriptions(t *testing.T) {
	a := New(time.Hour, time.Second)
	sub := a.Subscribe("")
	a.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)

	late := a.Subscribe("")
	_, ok = <-late.C()
	assert.False(t, ok)
}

func TestAggregator_CloseKeepsTerminalEvent(t *testing.T) {
	a := New(time.Hour, time.Second)
	sub := a.Subscribe("")

	a.Register("job", xfertypes.KindDownload)
	a.Layout("job", 10, 1)
	a.SetState("job", xfertypes.StateCancelled, context.Canceled)
	a.Close()

	var last xfertypes.Event
	for ev := range sub.C() {
		last = ev
	}
	assert.Equal(t, xfertypes.StateCancelled, last.State)
	assert.ErrorIs(t, last.Err, context.Canceled)
}

func TestAggregator_CloseDeliversEveryTerminalEvent(t *testing.T) {
	const jobs = 40
	a := New(time.Hour, time.Second)
	sub := a.Subscribe("")
	defer sub.Close()

	for i := 0; i < jobs; i++ {
		id := xfertypes.JobID(fmt.Sprintf("job-%02d", i))
		a.Register(id, xfertypes.KindUpload)
		a.Layout(id, 10, 1)
		a.SetState(id, xfertypes.StateCancelled, context.Canceled)
	}
	a.Close()

	terminal := make(map[xfertypes.JobID]bool)
	for ev := range sub.C() {
		// a reader slower than the shutdown
		time.Sleep(time.Millisecond)
		if ev.State.Terminal() {
			terminal[ev.JobID] = true
		}
	}
	assert.Len(t, terminal, jobs)
}

func TestAggregator_CloseReleasesIdleSubscriber(t *testing.T) {
	a := New(time.Hour, time.Second)
	sub := a.Subscribe("")
	for i := 0; i < 40; i++ {
		id := xfertypes.JobID(fmt.Sprintf("job-%02d", i))
		a.Register(id, xfertypes.KindUpload)
		a.SetState(id, xfertypes.StateCompleted, nil)
	}
	a.Close()

	closed := make(chan struct{})
	go func() {
		sub.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked on an unread subscription")
	}

	n := 0
	for range sub.C() {
		n++
	}
	assert.LessOrEqual(t, n, cap(sub.ch))
}

func TestAggregator_RemoveForgetsFinishedJobs(t *testing.T) {
	a := New(time.Hour, time.Second)
	defer a.Close()
	sub := a.Subscribe("")
	defer sub.Close()

	a.Register("job", xfertypes.KindUpload)
	a.SetState("job", xfertypes.StateCompleted, nil)
	collect(t, sub, "job")

	sub.mu.Lock()
	assert.True(t, sub.finished["job"])
	sub.mu.Unlock()

	a.Remove("job")

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Empty(t, sub.finished)
}

func TestAggregator_Parts(t *testing.T) {
	a := New(time.Hour, time.Second)
	defer a.Close()

	assert.Nil(t, a.Parts("missing"))

	a.Register("job", xfertypes.KindUpload)
	assert.Nil(t, a.Parts("job"))

	a.Layout("job", 30, 3)
	a.Advance("job", 0, 4)
	a.Reset("job", 0)
	a.Advance("job", 0, 7)
	a.Advance("job", 1, 5)
	a.Confirm("job", 2, 10)

	assert.Equal(t, []PartProgress{
		{Bytes: 7, Failures: 1},
		{Bytes: 5},
		{},
	}, a.Parts("job"))
}
