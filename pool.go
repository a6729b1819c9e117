package wspush

import (
	"sync"
	"sync/atomic"
)

// PrefixSize is the number of bytes reserved in front of every pooled buffer
// for transport framing. Producers write payload data at this offset.
const PrefixSize = 16

// defaultMaxPooled bounds the free list when no explicit limit is configured.
const defaultMaxPooled = 256

// PooledBuffer is a byte buffer with a reserved prefix and a reference count.
// The producer that acquired it holds one reference until it calls Release;
// every queue entry and in-flight send holds one more. A buffer on the free
// list has no references.
type PooledBuffer struct {
	data   []byte
	refs   atomic.Int32
	pooled bool // guarded by the owning pool's mutex
}

// NewPaddedBuffer wraps a buffer whose first PrefixSize bytes are already
// reserved. The caller holds the only reference. It panics if padded is
// shorter than the prefix.
func NewPaddedBuffer(padded []byte) *PooledBuffer {
	if len(padded) < PrefixSize {
		panic("wspush: padded buffer shorter than PrefixSize")
	}
	b := &PooledBuffer{data: padded}
	b.refs.Store(1)
	return b
}

// Bytes returns the usable region, starting right after the prefix.
func (b *PooledBuffer) Bytes() []byte {
	return b.data[PrefixSize:]
}

// Padded returns the whole buffer including the reserved prefix.
func (b *PooledBuffer) Padded() []byte {
	return b.data
}

// Len returns the number of usable bytes.
func (b *PooledBuffer) Len() int {
	return len(b.data) - PrefixSize
}

// Refs returns the number of owners currently holding the buffer.
func (b *PooledBuffer) Refs() int {
	return int(b.refs.Load())
}

func (b *PooledBuffer) retain(n int) {
	b.refs.Add(int32(n))
}

// drop releases one reference and returns the remaining count. It reports
// false, leaving the count at zero, when no reference was held.
func (b *PooledBuffer) drop() (int, bool) {
	for {
		n := b.refs.Load()
		if n <= 0 {
			return 0, false
		}
		if b.refs.CompareAndSwap(n, n-1) {
			return int(n - 1), true
		}
	}
}

// BufferPool recycles sent buffers for reuse by producers. A buffer goes back
// on the free list when its last reference is released; with recycling
// disabled it is left to the GC instead.
type BufferPool struct {
	mu      sync.Mutex
	free    []*PooledBuffer
	recycle bool
	max     int
}

// NewBufferPool creates a pool. maxPooled bounds the free list; a value <= 0
// selects the default.
func NewBufferPool(recycle bool, maxPooled int) *BufferPool {
	if maxPooled <= 0 {
		maxPooled = defaultMaxPooled
	}
	return &BufferPool{
		recycle: recycle,
		max:     maxPooled,
	}
}

// Recycling reports whether released buffers are kept for reuse.
func (p *BufferPool) Recycling() bool {
	return p.recycle
}

// Acquire returns a buffer with exactly size usable bytes, holding one
// reference for the caller. A free buffer is reused when one is available,
// otherwise a new one is allocated. The contents of a reused buffer are not
// cleared.
func (p *BufferPool) Acquire(size int) *PooledBuffer {
	if size < 0 {
		size = 0
	}
	want := PrefixSize + size

	p.mu.Lock()
	n := len(p.free)
	if n == 0 {
		p.mu.Unlock()
		b := &PooledBuffer{data: make([]byte, want)}
		b.refs.Store(1)
		return b
	}
	b := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	b.pooled = false
	b.refs.Store(1)
	p.mu.Unlock()

	if cap(b.data) < want {
		b.data = make([]byte, want)
	} else {
		b.data = b.data[:want]
	}
	return b
}

// Release drops one reference to b. The buffer is put on the free list once
// no reference is left, unless recycling is disabled or the free list is
// full. Releasing a buffer that holds no reference does nothing.
func (p *BufferPool) Release(b *PooledBuffer) {
	if b == nil {
		return
	}
	left, ok := b.drop()
	if !ok || left > 0 || !p.recycle {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if b.pooled || len(p.free) >= p.max {
		return
	}
	b.pooled = true
	p.free = append(p.free, b)
}

// Len returns the number of buffers waiting on the free list.
func (p *BufferPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
