// Package ring implements the sample ring buffer between an audio callback
// and the refresh loop.
package ring

import "sync"

// Buffer keeps the most recent Size mono samples. Writers downmix
// interleaved frames. It is safe for one writer and many readers.
type Buffer struct {
	mu     sync.RWMutex
	buffer []float32
	index  int
	filled bool
}

// New creates a Buffer holding size samples.
func New(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{buffer: make([]float32, size)}
}

// Size returns the capacity in samples.
func (b *Buffer) Size() int {
	return len(b.buffer)
}

// WriteInterleaved averages each frame of channels samples and appends the
// result.
func (b *Buffer) WriteInterleaved(in []float32, channels int) {
	if channels <= 1 {
		b.Write(in)
		return
	}
	mono := make([]float32, len(in)/channels)
	for i := range mono {
		sum := float32(0)
		base := i * channels
		for ch := 0; ch < channels; ch++ {
			sum += in[base+ch]
		}
		mono[i] = sum / float32(channels)
	}
	b.Write(mono)
}

// Write appends mono samples, overwriting the oldest.
func (b *Buffer) Write(in []float32) {
	if len(in) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(in) >= len(b.buffer) {
		copy(b.buffer, in[len(in)-len(b.buffer):])
		b.index = 0
		b.filled = true
		return
	}

	if b.index+len(in) <= len(b.buffer) {
		copy(b.buffer[b.index:], in)
		b.index += len(in)
		if b.index == len(b.buffer) {
			b.index = 0
			b.filled = true
		}
		return
	}

	remaining := len(b.buffer) - b.index
	copy(b.buffer[b.index:], in[:remaining])
	copy(b.buffer, in[remaining:])
	b.index = len(in) - remaining
	b.filled = true
}

// Latest returns a copy of the newest n samples, oldest first. Before the
// buffer has wrapped the unwritten tail reads as silence at the front.
func (b *Buffer) Latest(n int) []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	size := len(b.buffer)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]float32, n)
	start := b.index - n
	if start < 0 {
		start += size
	}
	if start+n <= size {
		copy(out, b.buffer[start:start+n])
		return out
	}
	first := copy(out, b.buffer[start:])
	copy(out[first:], b.buffer[:n-first])
	return out
}

// Filled reports whether at least Size samples have been written.
func (b *Buffer) Filled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filled
}
