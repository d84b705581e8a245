package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process Queue for single-instance deployments and tests.
type MemoryQueue struct {
	mu       sync.Mutex
	capacity int
	events   map[string][]Event
}

// NewMemoryQueue creates a MemoryQueue keeping at most capacity events per
// Area (DefaultCapacity when capacity <= 0).
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryQueue{
		capacity: capacity,
		events:   make(map[string][]Event),
	}
}

func (q *MemoryQueue) Push(_ context.Context, areaID string, ev Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ev.AreaID = areaID
	list := append(q.events[areaID], ev)
	if over := len(list) - q.capacity; over > 0 {
		list = append([]Event(nil), list[over:]...)
	}
	q.events[areaID] = list
	return nil
}

func (q *MemoryQueue) Drain(_ context.Context, areaID string, max int) ([]Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.events[areaID]
	if len(list) == 0 {
		return nil, nil
	}
	if max <= 0 || max >= len(list) {
		delete(q.events, areaID)
		return list, nil
	}
	out := append([]Event(nil), list[:max]...)
	q.events[areaID] = append([]Event(nil), list[max:]...)
	return out, nil
}

func (q *MemoryQueue) Len(_ context.Context, areaID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events[areaID]), nil
}

var _ Queue = (*MemoryQueue)(nil)
