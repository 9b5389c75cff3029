package stats

import (
	"sync"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
)

// errorRing is a fixed-size ring of the most recent job failures. Once full,
// the oldest entry is overwritten.
type errorRing struct {
	entries []ports.ErrorSample
	next    int
	size    int
	mu      sync.Mutex
}

func newErrorRing(capacity int) *errorRing {
	if capacity <= 0 {
		capacity = MaxRecentErrors
	}
	return &errorRing{
		entries: make([]ports.ErrorSample, capacity),
	}
}

func (r *errorRing) add(sample ports.ErrorSample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = sample
	r.next = (r.next + 1) % len(r.entries)
	if r.size < len(r.entries) {
		r.size++
	}
}

// snapshot returns the retained errors oldest first.
func (r *errorRing) snapshot() []ports.ErrorSample {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ports.ErrorSample, 0, r.size)
	start := r.next - r.size
	if start < 0 {
		start += len(r.entries)
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.entries[(start+i)%len(r.entries)])
	}
	return out
}
