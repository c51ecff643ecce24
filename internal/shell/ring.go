package shell

import "sync"

// lineRing is a bounded line buffer. When the byte budget is exceeded the
// oldest lines are evicted first, so memory stays capped regardless of how
// long the process runs.
type lineRing struct {
	mu      sync.Mutex
	lines   []string
	size    int
	maxSize int
	evicted int
	closed  bool
}

func newLineRing(maxSize int) *lineRing {
	if maxSize <= 0 {
		maxSize = DefaultBufferBytes
	}
	return &lineRing{maxSize: maxSize}
}

func (r *lineRing) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.lines = append(r.lines, line)
	r.size += len(line) + 1
	for r.size > r.maxSize && len(r.lines) > 1 {
		r.size -= len(r.lines[0]) + 1
		r.lines = r.lines[1:]
		r.evicted++
	}
}

// Snapshot returns the buffered lines and the count of evicted lines.
func (r *lineRing) Snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out, r.evicted
}

// Close stops accepting new output.
func (r *lineRing) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
