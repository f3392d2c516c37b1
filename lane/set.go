package lane

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

// Item is a queued reference to a job record.
type Item struct {
	JobID    id.JobID
	Priority job.Priority
}

// Set is the four-lane priority queue. Enqueue appends to a lane's tail;
// Dequeue scans lanes in strict precedence order (critical → high →
// normal → low) and pops the head of the first non-empty lane. A steady
// stream of critical work therefore starves lower lanes — an accepted
// property, not a bug: critical is reserved for rare, fast, safety-class
// jobs. No aging or reordering is performed.
//
// Set is safe for concurrent use.
type Set struct {
	mu    sync.Mutex
	lanes [job.NumPriorities]*list.List
	index map[string]*list.Element

	// notify carries at most one pending wakeup for idle workers.
	notify chan struct{}
}

// NewSet creates an empty lane set.
func NewSet() *Set {
	s := &Set{
		index:  make(map[string]*list.Element),
		notify: make(chan struct{}, 1),
	}
	for i := range s.lanes {
		s.lanes[i] = list.New()
	}
	return s
}

// Enqueue appends the item to the tail of its lane and wakes one idle
// worker. Duplicate ids are rejected so a job can never occupy two lane
// positions at once.
func (s *Set) Enqueue(it Item) error {
	if !it.Priority.Valid() {
		return fmt.Errorf("%w: %d", triage.ErrInvalidPriority, int(it.Priority))
	}

	s.mu.Lock()
	key := it.JobID.String()
	if _, dup := s.index[key]; dup {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s already queued", triage.ErrJobAlreadyExists, key)
	}
	s.index[key] = s.lanes[it.Priority].PushBack(it)
	s.mu.Unlock()

	s.wake()
	return nil
}

// Dequeue pops the head of the first non-empty lane, most urgent first.
// Returns false when every lane is empty.
func (s *Set) Dequeue() (Item, bool) {
	return s.DequeueWhere(nil)
}

// DequeueWhere is Dequeue with a lane gate. A lane whose head exists but
// whose gate returns false is skipped for this scan, letting less urgent
// lanes proceed while the gated lane is paced. A nil gate admits all.
func (s *Set) DequeueWhere(gate func(job.Priority) bool) (Item, bool) {
	s.mu.Lock()

	for _, p := range job.Priorities {
		l := s.lanes[p]
		if l.Len() == 0 {
			continue
		}
		if gate != nil && !gate(p) {
			continue
		}

		front := l.Front()
		it := front.Value.(Item)
		l.Remove(front)
		delete(s.index, it.JobID.String())

		remaining := s.sizeLocked()
		s.mu.Unlock()

		// Chain the wakeup if more work is visible.
		if remaining > 0 {
			s.wake()
		}
		return it, true
	}

	s.mu.Unlock()
	return Item{}, false
}

// Remove deletes a queued item by job id, regardless of lane. Returns
// false if the id is not currently queued. Used by cancellation.
func (s *Set) Remove(jobID id.JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobID.String()
	el, ok := s.index[key]
	if !ok {
		return false
	}
	it := el.Value.(Item)
	s.lanes[it.Priority].Remove(el)
	delete(s.index, key)
	return true
}

// Depth returns the number of queued items in one lane.
func (s *Set) Depth(p job.Priority) int {
	if !p.Valid() {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lanes[p].Len()
}

// Depths returns the per-lane depths indexed by priority.
func (s *Set) Depths() [job.NumPriorities]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var d [job.NumPriorities]int
	for i, l := range s.lanes {
		d[i] = l.Len()
	}
	return d
}

// Size returns the total number of queued items across all lanes.
func (s *Set) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizeLocked()
}

func (s *Set) sizeLocked() int {
	n := 0
	for _, l := range s.lanes {
		n += l.Len()
	}
	return n
}

// Notify returns the wakeup channel. Idle workers select on it alongside
// their poll timer; a receive means at least one item was enqueued since
// the last drain, not that one is still available.
func (s *Set) Notify() <-chan struct{} {
	return s.notify
}

func (s *Set) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
