package poller

// frameRing is a bounded FIFO of PollFrames. Appending past capacity
// evicts the oldest frame. Not safe for concurrent use; the engine
// guards it with its own mutex.
type frameRing struct {
	frames []PollFrame
	cap    int
}

func newFrameRing(capacity int) *frameRing {
	if capacity < 1 {
		capacity = 1
	}
	return &frameRing{frames: make([]PollFrame, 0, capacity), cap: capacity}
}

func (r *frameRing) append(f PollFrame) {
	if len(r.frames) == r.cap {
		copy(r.frames, r.frames[1:])
		r.frames[len(r.frames)-1] = f
		return
	}
	r.frames = append(r.frames, f)
}

func (r *frameRing) len() int { return len(r.frames) }

func (r *frameRing) latest() (PollFrame, bool) {
	if len(r.frames) == 0 {
		return PollFrame{}, false
	}
	return r.frames[len(r.frames)-1], true
}

// since returns a copy of all frames with timestamp strictly greater
// than ts, in append order.
func (r *frameRing) since(ts float64) []PollFrame {
	// Frames are appended in increasing timestamp order; scan back to
	// the first frame at or before ts.
	i := len(r.frames)
	for i > 0 && r.frames[i-1].Timestamp > ts {
		i--
	}
	if i == len(r.frames) {
		return nil
	}
	out := make([]PollFrame, len(r.frames)-i)
	copy(out, r.frames[i:])
	return out
}
