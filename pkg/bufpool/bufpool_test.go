package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetReturnsRequestedLength(t *testing.T) {
	p := New(1024)

	buf := p.Get(100)
	assert.Len(t, buf, 100)
	assert.Equal(t, 1024, cap(buf))
	p.Put(buf)

	buf = p.Get(1024)
	assert.Len(t, buf, 1024)
	p.Put(buf)
}

func TestOversizedRequestsBypassPool(t *testing.T) {
	p := New(1024)

	buf := p.Get(4096)
	assert.Len(t, buf, 4096)
	assert.Equal(t, 4096, cap(buf))

	// Returning it is a no-op; the pool only keeps class-size buffers.
	p.Put(buf)
}

func TestPutIgnoresForeignBuffers(t *testing.T) {
	p := New(1024)
	p.Put(nil)
	p.Put(make([]byte, 10))

	buf := p.Get(8)
	assert.Len(t, buf, 8)
}

func TestConcurrentUse(t *testing.T) {
	p := New(256)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 1000; j++ {
				buf := p.Get(128)
				buf[0] = byte(j)
				p.Put(buf)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
