package syncer

// window is a fixed-capacity set with FIFO eviction. It backs both event
// deduplication and the action identity window: membership is cheap to
// test and the oldest entry is evicted once the cap is exceeded, so memory
// stays bounded over an arbitrarily long session.
//
// Not safe for concurrent use; owners hold their own lock.
type window struct {
	capacity int
	order    []string
	seen     map[string]struct{}
}

func newWindow(capacity int) *window {
	if capacity < 1 {
		capacity = 1
	}
	return &window{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// Contains reports whether id is currently inside the window.
func (w *window) Contains(id string) bool {
	_, ok := w.seen[id]
	return ok
}

// Add inserts id, evicting the oldest entry when the window is full.
// Re-adding a present id is a no-op.
func (w *window) Add(id string) {
	if w.Contains(id) {
		return
	}
	if len(w.order) >= w.capacity {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.seen, oldest)
	}
	w.order = append(w.order, id)
	w.seen[id] = struct{}{}
}

// Observe adds id and reports whether it was new.
func (w *window) Observe(id string) bool {
	if w.Contains(id) {
		return false
	}
	w.Add(id)
	return true
}

func (w *window) Len() int {
	return len(w.order)
}
