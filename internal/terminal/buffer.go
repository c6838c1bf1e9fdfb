package terminal

import "sync"

// outputBuffer accumulates pane output and serves incremental reads by
// absolute offset. When the retained window exceeds max, the oldest bytes
// are dropped and base advances so offsets stay stable.
type outputBuffer struct {
	mu   sync.Mutex
	data []byte
	base int64
	max  int
}

func newOutputBuffer(max int) *outputBuffer {
	return &outputBuffer{max: max}
}

func (b *outputBuffer) Append(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if b.max > 0 && len(b.data) > b.max {
		drop := len(b.data) - b.max
		b.base += int64(drop)
		kept := make([]byte, b.max)
		copy(kept, b.data[drop:])
		b.data = kept
	}
}

func (b *outputBuffer) ReadSince(offset int64) (string, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if offset < b.base {
		offset = b.base
	}
	end := b.base + int64(len(b.data))
	if offset > end {
		offset = end
	}
	return string(b.data[offset-b.base:]), end
}

func (b *outputBuffer) End() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.base + int64(len(b.data))
}
