package optimize

import "sync"

// BytePool hands out fixed-size byte slices, e.g. RTP read buffers.
type BytePool struct {
	pool sync.Pool
	size int
}

func NewBytePool(size int) *BytePool {
	p := &BytePool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

func (p *BytePool) Size() int {
	return p.size
}

// Get returns a slice of exactly Size bytes. Contents are undefined.
func (p *BytePool) Get() []byte {
	return (*p.pool.Get().(*[]byte))[:p.size]
}

// Put returns b to the pool. Slices smaller than Size are dropped.
func (p *BytePool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}
