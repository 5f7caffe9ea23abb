// Package util holds small helpers shared across the service: vector
// hashing for watch deduplication and cache keys, and a pooled byte
// buffer for the hot encode paths.
package util

import (
	"bytes"
	"sync"
)

var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// GetBytesBuffer returns an empty buffer from the pool. Hand it back
// with PutBytesBuffer once done.
func GetBytesBuffer() *bytes.Buffer {
	return bufPool.Get().(*bytes.Buffer)
}

// PutBytesBuffer resets the buffer and returns it to the pool.
func PutBytesBuffer(p *bytes.Buffer) {
	p.Reset()
	bufPool.Put(p)
}
