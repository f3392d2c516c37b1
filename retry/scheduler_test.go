package retry_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
	"github.com/triagehq/triage/retry"
)

// releaseRecorder collects released job ids in order.
type releaseRecorder struct {
	mu  sync.Mutex
	ids []id.JobID
}

func (r *releaseRecorder) sink(jobID id.JobID, _ job.Priority) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, jobID)
}

func (r *releaseRecorder) snapshot() []id.JobID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]id.JobID, len(r.ids))
	copy(out, r.ids)
	return out
}

func (r *releaseRecorder) waitFor(t *testing.T, n int, deadline time.Duration) []id.JobID {
	t.Helper()
	stop := time.Now().Add(deadline)
	for time.Now().Before(stop) {
		if got := r.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := r.snapshot()
	t.Fatalf("timed out waiting for %d releases, got %d", n, len(got))
	return got
}

func startScheduler(t *testing.T, sink retry.Sink) *retry.Scheduler {
	t.Helper()
	s := retry.NewScheduler(sink)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestSchedule_ReleasesWhenDue(t *testing.T) {
	rec := &releaseRecorder{}
	s := startScheduler(t, rec.sink)

	jobID := id.NewJobID()
	s.Schedule(jobID, job.PriorityNormal, time.Now().Add(20*time.Millisecond))

	got := rec.waitFor(t, 1, 2*time.Second)
	if got[0] != jobID {
		t.Errorf("released %s, want %s", got[0], jobID)
	}
	if s.Len() != 0 {
		t.Errorf("len after release = %d, want 0", s.Len())
	}
}

func TestSchedule_PastReadyAtFiresImmediately(t *testing.T) {
	rec := &releaseRecorder{}
	s := startScheduler(t, rec.sink)

	jobID := id.NewJobID()
	s.Schedule(jobID, job.PriorityHigh, time.Now().Add(-time.Second))

	rec.waitFor(t, 1, 2*time.Second)
}

func TestSchedule_ReleaseOrderFollowsReadyTime(t *testing.T) {
	rec := &releaseRecorder{}
	s := startScheduler(t, rec.sink)

	late := id.NewJobID()
	early := id.NewJobID()
	// Schedule the later one first; release order must still be by ready time.
	s.Schedule(late, job.PriorityNormal, time.Now().Add(80*time.Millisecond))
	s.Schedule(early, job.PriorityNormal, time.Now().Add(20*time.Millisecond))

	got := rec.waitFor(t, 2, 2*time.Second)
	if got[0] != early || got[1] != late {
		t.Errorf("release order = [%s %s], want [%s %s]", got[0], got[1], early, late)
	}
}

func TestCancel_PreventsRelease(t *testing.T) {
	rec := &releaseRecorder{}
	s := startScheduler(t, rec.sink)

	keep := id.NewJobID()
	drop := id.NewJobID()
	s.Schedule(drop, job.PriorityNormal, time.Now().Add(30*time.Millisecond))
	s.Schedule(keep, job.PriorityNormal, time.Now().Add(30*time.Millisecond))

	if !s.Cancel(drop) {
		t.Fatal("cancel of scheduled job should succeed")
	}
	if s.Cancel(drop) {
		t.Fatal("second cancel should report false")
	}

	got := rec.waitFor(t, 1, 2*time.Second)
	time.Sleep(50 * time.Millisecond)
	got = rec.snapshot()
	if len(got) != 1 || got[0] != keep {
		t.Errorf("releases = %v, want only %s", got, keep)
	}
}

func TestSchedule_RearmMovesReadyTime(t *testing.T) {
	rec := &releaseRecorder{}
	s := startScheduler(t, rec.sink)

	jobID := id.NewJobID()
	s.Schedule(jobID, job.PriorityNormal, time.Now().Add(10*time.Minute))
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}

	// Re-arming the same id must move, not duplicate, the slot.
	s.Schedule(jobID, job.PriorityNormal, time.Now().Add(20*time.Millisecond))
	if s.Len() != 1 {
		t.Fatalf("len after rearm = %d, want 1", s.Len())
	}

	got := rec.waitFor(t, 1, 2*time.Second)
	if got[0] != jobID {
		t.Errorf("released %s, want %s", got[0], jobID)
	}
}
