package store

import "sync"

// DefaultDedupCapacity bounds the dedup window per conversation. It covers a
// retransmission horizon of seconds to low minutes; a very late duplicate
// past the window is still caught by MessageStore's id-based insert.
const DefaultDedupCapacity = 1024

// DedupFilter is a capacity-bounded set of recently seen event ids, evicting
// oldest first. Seen marks and tests in one step so there is no
// check-then-mark race.
type DedupFilter struct {
	sync.Mutex

	capacity int
	ids      map[string]struct{}
	ring     []string
	head     int
}

func NewDedupFilter(capacity int) *DedupFilter {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &DedupFilter{
		capacity: capacity,
		ids:      make(map[string]struct{}, capacity),
		ring:     make([]string, capacity),
	}
}

// Seen reports whether eventId was seen within the retention window, marking
// it as seen either way.
func (f *DedupFilter) Seen(eventId string) bool {
	f.Lock()
	defer f.Unlock()

	if _, ok := f.ids[eventId]; ok {
		return true
	}

	if old := f.ring[f.head]; old != "" {
		delete(f.ids, old)
	}
	f.ring[f.head] = eventId
	f.head = (f.head + 1) % f.capacity
	f.ids[eventId] = struct{}{}
	return false
}

// Len returns the number of ids currently retained.
func (f *DedupFilter) Len() int {
	f.Lock()
	defer f.Unlock()
	return len(f.ids)
}
