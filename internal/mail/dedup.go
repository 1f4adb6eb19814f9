package mail

// DedupWindow remembers recently processed message identifiers so a
// redelivered message is handled at most once. The window is bounded:
// when capacity is exceeded the oldest half is evicted.
type DedupWindow struct {
	capacity int
	seen     map[string]struct{}
	order    []string
}

// NewDedupWindow creates a window holding at most capacity ids.
func NewDedupWindow(capacity int) *DedupWindow {
	if capacity < 2 {
		capacity = 2
	}
	return &DedupWindow{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// Seen reports whether id was already recorded.
func (w *DedupWindow) Seen(id string) bool {
	_, ok := w.seen[id]
	return ok
}

// Add records id, evicting the oldest half of the window when the
// capacity is exceeded.
func (w *DedupWindow) Add(id string) {
	if _, ok := w.seen[id]; ok {
		return
	}
	w.seen[id] = struct{}{}
	w.order = append(w.order, id)

	if len(w.order) > w.capacity {
		cut := len(w.order) / 2
		for _, old := range w.order[:cut] {
			delete(w.seen, old)
		}
		w.order = append([]string(nil), w.order[cut:]...)
	}
}

// Len returns the number of remembered ids.
func (w *DedupWindow) Len() int {
	return len(w.order)
}
