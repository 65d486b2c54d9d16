package pool

import (
	"math/bits"
	"sync"
)

const (
	// MinClassSize is the smallest buffer class (64KB).
	MinClassSize = 64 * 1024

	// DefaultMaxPooledSize is the largest buffer kept for reuse (64MB).
	DefaultMaxPooledSize = 64 * 1024 * 1024
)

// BufferPool manages reusable byte buffers in power-of-two size classes.
type BufferPool struct {
	maxPooled int

	mu      sync.Mutex
	classes map[int]*sync.Pool
}

// NewBufferPool creates a buffer pool. Buffers larger than maxPooled are
// allocated on demand and never retained; zero selects DefaultMaxPooledSize.
func NewBufferPool(maxPooled int) *BufferPool {
	if maxPooled <= 0 {
		maxPooled = DefaultMaxPooledSize
	}
	return &BufferPool{
		maxPooled: maxPooled,
		classes:   make(map[int]*sync.Pool),
	}
}

// Get returns a buffer of length size.
// The caller is responsible for calling Put to return the buffer to the pool.
func (bp *BufferPool) Get(size int) []byte {
	if size <= 0 {
		return []byte{}
	}
	class := classFor(size)
	if class > bp.maxPooled {
		return make([]byte, size)
	}
	bufPtr := bp.pool(class).Get().(*[]byte)
	return (*bufPtr)[:size]
}

// Put returns a buffer obtained from Get.
// The buffer should not be used after calling Put.
func (bp *BufferPool) Put(buf []byte) {
	class := cap(buf)
	if class < MinClassSize || class > bp.maxPooled || class != classFor(class) {
		return
	}
	buf = buf[:0]
	bp.pool(class).Put(&buf)
}

func (bp *BufferPool) pool(class int) *sync.Pool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	p, ok := bp.classes[class]
	if !ok {
		p = &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, class)
				return &buf
			},
		}
		bp.classes[class] = p
	}
	return p
}

// classFor rounds size up to the next power of two, at least MinClassSize.
func classFor(size int) int {
	if size <= MinClassSize {
		return MinClassSize
	}
	return 1 << bits.Len(uint(size-1))
}
