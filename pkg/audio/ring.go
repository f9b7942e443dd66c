package audio

import "sync"

// FrameRing is a bounded FIFO of audio frames. When the byte budget would be
// exceeded, whole oldest frames are dropped: audio loss is preferable to
// unbounded memory growth or backpressure stalling the carrier link.
type FrameRing struct {
	mu       sync.Mutex
	frames   [][]byte
	bytes    int
	maxBytes int
	dropped  int64
}

// NewFrameRing creates a ring holding up to maxDurationMs of audio in f.
func NewFrameRing(f Format, maxDurationMs int) *FrameRing {
	maxBytes := f.BytesForDurationMs(maxDurationMs)
	if maxBytes <= 0 {
		maxBytes = 1
	}
	return &FrameRing{maxBytes: maxBytes}
}

// Push appends a frame, evicting oldest frames if the budget is exceeded.
// Frames larger than the whole budget are rejected outright.
func (r *FrameRing) Push(frame []byte) {
	if len(frame) == 0 || len(frame) > r.maxBytes {
		return
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, cp)
	r.bytes += len(cp)
	for r.bytes > r.maxBytes && len(r.frames) > 0 {
		r.bytes -= len(r.frames[0])
		r.frames[0] = nil
		r.frames = r.frames[1:]
		r.dropped++
	}
}

// Drain returns all held frames in arrival order and empties the ring.
func (r *FrameRing) Drain() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.frames
	r.frames = nil
	r.bytes = 0
	return out
}

// Len returns the number of held frames.
func (r *FrameRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Bytes returns the total held byte count.
func (r *FrameRing) Bytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes
}

// Dropped returns how many frames were evicted since creation.
func (r *FrameRing) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
