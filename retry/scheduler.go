// Package retry holds jobs that are waiting out a delay — a backoff
// window after a failed attempt, or a future RunAt on a scheduled
// submission — and releases them when due. Release order follows ready
// time, with schedule order breaking ties, and the engine re-inserts
// released jobs at the tail of their lane.
package retry

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

// Sink receives a job whose delay has elapsed. It runs on the scheduler
// goroutine, so it must be quick: transition the record and enqueue it.
type Sink func(jobID id.JobID, priority job.Priority)

type entry struct {
	jobID    id.JobID
	priority job.Priority
	readyAt  time.Time
	seq      uint64
	index    int
}

// Scheduler is a single-goroutine timer over a min-heap of delayed jobs.
type Scheduler struct {
	mu      sync.Mutex
	heap    entryHeap
	entries map[string]*entry
	seq     uint64

	release Sink
	logger  *slog.Logger

	wake    chan struct{}
	stopCh  chan struct{}
	stopped chan struct{}
	started bool
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// NewScheduler creates a Scheduler that hands due jobs to release.
func NewScheduler(release Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		entries: make(map[string]*entry),
		release: release,
		logger:  slog.Default(),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "retry"))
	return s
}

// Start launches the scheduler goroutine. Idempotent.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	go s.run()
	return nil
}

// Stop halts the scheduler. Pending entries stay queued in memory and
// are lost on process exit; crash recovery re-arms them from the store.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule arms (or re-arms) a job to be released at readyAt. A job id
// may occupy at most one slot; scheduling it again moves its ready time.
func (s *Scheduler) Schedule(jobID id.JobID, priority job.Priority, readyAt time.Time) {
	s.mu.Lock()
	key := jobID.String()
	if existing, ok := s.entries[key]; ok {
		existing.readyAt = readyAt
		heap.Fix(&s.heap, existing.index)
	} else {
		s.seq++
		e := &entry{jobID: jobID, priority: priority, readyAt: readyAt, seq: s.seq}
		s.entries[key] = e
		heap.Push(&s.heap, e)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel removes a scheduled job before it is released. Returns false if
// the id is not currently scheduled.
func (s *Scheduler) Cancel(jobID id.JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[jobID.String()]
	if !ok {
		return false
	}
	heap.Remove(&s.heap, e.index)
	delete(s.entries, jobID.String())
	return true
}

// Len returns the number of jobs waiting on a delay.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) run() {
	defer close(s.stopped)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		due, next := s.collectDue(time.Now())
		for _, e := range due {
			s.release(e.jobID, e.priority)
		}

		var timerC <-chan time.Time
		if !next.IsZero() {
			timer.Reset(time.Until(next))
			timerC = timer.C
		}

		select {
		case <-s.stopCh:
			if timerC != nil && !timer.Stop() {
				<-timer.C
			}
			return
		case <-s.wake:
		case <-timerC:
			continue
		}

		if timerC != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// collectDue pops every entry ready at or before now and returns the
// ready time of the next armed entry, or zero when the heap is empty.
func (s *Scheduler) collectDue(now time.Time) (due []*entry, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.heap.Len() > 0 {
		head := s.heap[0]
		if head.readyAt.After(now) {
			next = head.readyAt
			break
		}
		heap.Pop(&s.heap)
		delete(s.entries, head.jobID.String())
		due = append(due, head)
	}
	return due, next
}

// ──────────────────────────────────────────────────
// Heap plumbing
// ──────────────────────────────────────────────────

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].readyAt.Before(h[j].readyAt)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
