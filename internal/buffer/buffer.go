package buffer

import (
	"errors"
	"sync"
)

// Ring keeps the most recent trajectories, dropping the oldest when full.
type Ring struct {
	mu       sync.Mutex
	items    []Trajectory
	capacity int
	total    int
}

func NewRing(capacity int) (*Ring, error) {
	if capacity <= 0 {
		return nil, errors.New("capacity must be greater than zero")
	}
	return &Ring{
		items:    make([]Trajectory, 0, capacity),
		capacity: capacity,
	}, nil
}

func (r *Ring) Add(t Trajectory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items) >= r.capacity {
		copy(r.items, r.items[1:])
		r.items = r.items[:len(r.items)-1]
	}
	r.items = append(r.items, t)
	r.total++
}

// Snapshot returns the kept trajectories, oldest first.
func (r *Ring) Snapshot() []Trajectory {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Trajectory, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Ring) Capacity() int {
	return r.capacity
}

func (r *Ring) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.items)
}

// Total counts every trajectory ever added.
func (r *Ring) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.total
}

// Record adds the summary of t, dropping per-step data.
func (r *Ring) Record(t Trajectory) error {
	r.Add(t.Summary())
	return nil
}
