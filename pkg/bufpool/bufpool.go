// Package bufpool pools the chunk-sized byte slices used during bundle
// transfer. Chunks are all cut to the same configured size, so a single
// fixed-size class covers the hot path; anything larger is allocated
// directly and never pooled.
package bufpool

import (
	"sync"
)

// Pool hands out byte slices backed by fixed-size pooled buffers.
type Pool struct {
	pool sync.Pool
	size int
}

// New creates a Pool whose class size is size bytes.
func New(size int) *Pool {
	p := &Pool{size: size}
	p.pool = sync.Pool{
		New: func() any {
			buf := make([]byte, size)
			return &buf
		},
	}
	return p
}

// Get returns a slice of length n. Requests up to the class size come from
// the pool; larger requests are allocated directly and ignored by Put.
func (p *Pool) Get(n int) []byte {
	if n > p.size {
		return make([]byte, n)
	}
	buf := *p.pool.Get().(*[]byte)
	return buf[:n]
}

// Put returns a buffer obtained from Get. The buffer must not be used
// afterwards.
func (p *Pool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	full := buf[:cap(buf)]
	p.pool.Put(&full)
}

// Size returns the pool's class size in bytes.
func (p *Pool) Size() int {
	return p.size
}
