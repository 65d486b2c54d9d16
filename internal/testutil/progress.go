// Package testutil provides a recording progress sink for worker tests.
package testutil

import (
	"sync"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

// MockProgress records progress deltas. It is safe for concurrent use.
type MockProgress struct {
	mu        sync.Mutex
	Advanced  map[int]int64
	Resets    map[int]int
	Confirmed map[int]int64
	Calls     []string
}

// NewMockProgress creates an empty recorder.
func NewMockProgress() *MockProgress {
	return &MockProgress{
		Advanced:  make(map[int]int64),
		Resets:    make(map[int]int),
		Confirmed: make(map[int]int64),
	}
}

// Advance records in-flight bytes.
func (m *MockProgress) Advance(_ xfertypes.JobID, part int, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Advanced[part] += n
}

// Reset records a retry reset.
func (m *MockProgress) Reset(_ xfertypes.JobID, part int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resets[part]++
	m.Calls = append(m.Calls, "reset")
}

// Confirm records a confirmed part.
func (m *MockProgress) Confirm(_ xfertypes.JobID, part int, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Confirmed[part] = size
	m.Calls = append(m.Calls, "confirm")
}

// ConfirmedBytes sums confirmed bytes over all parts.
func (m *MockProgress) ConfirmedBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, n := range m.Confirmed {
		total += n
	}
	return total
}
