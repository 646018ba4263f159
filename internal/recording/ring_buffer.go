package recording

import (
	"fmt"

	"vigil/internal/frame"
)

// RingBuffer is a fixed-capacity rolling cache of the most recent frames.
// It makes pre-roll possible: when a detection triggers, the buffer holds
// what the camera saw just before the trigger.
//
// Capacity is fixed at construction (pre-roll seconds times frame rate);
// changing either requires constructing a new buffer.
type RingBuffer struct {
	frames []*frame.Frame
	head   int // index of the oldest entry
	size   int
}

// NewRingBuffer creates a buffer holding at most capacity frames
func NewRingBuffer(capacity int) (*RingBuffer, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("ring buffer capacity must be positive, got %d", capacity)
	}
	return &RingBuffer{frames: make([]*frame.Frame, capacity)}, nil
}

// Push appends an owned copy of the frame, evicting the oldest entry
// once the buffer is full
func (b *RingBuffer) Push(f *frame.Frame) {
	tail := (b.head + b.size) % len(b.frames)
	if b.size == len(b.frames) {
		// At capacity: overwrite the oldest slot
		b.frames[b.head] = f.Clone()
		b.head = (b.head + 1) % len(b.frames)
		return
	}
	b.frames[tail] = f.Clone()
	b.size++
}

// Snapshot returns the buffered frames oldest-to-newest. The returned
// slice and its frames are copies and are not aliased by later pushes.
func (b *RingBuffer) Snapshot() []*frame.Frame {
	out := make([]*frame.Frame, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.frames[(b.head+i)%len(b.frames)].Clone())
	}
	return out
}

// Len returns the number of buffered frames
func (b *RingBuffer) Len() int { return b.size }

// Cap returns the fixed capacity
func (b *RingBuffer) Cap() int { return len(b.frames) }
