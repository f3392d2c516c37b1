package track

import (
	"sort"
	"time"

	"github.com/triagehq/triage/job"
)

// Snapshot is the derived, read-only metrics view. It is recomputed from
// tracker state on every call and is never authoritative: everything in
// it can be reconstructed from the job records themselves.
type Snapshot struct {
	TotalSubmitted    int64                  `json:"total_submitted"`
	TotalCompleted    int64                  `json:"total_completed"`
	TotalDeadLettered int64                  `json:"total_dead_lettered"`
	TotalCancelled    int64                  `json:"total_cancelled"`
	StateCounts       map[job.State]int64    `json:"state_counts"`
	SuccessRate       float64                `json:"success_rate"`
	AvgProcessingTime time.Duration          `json:"avg_processing_time"`
	P95ProcessingTime time.Duration          `json:"p95_processing_time"`
	WindowSize        int                    `json:"window_size"`
	LaneDepths        map[job.Priority]int   `json:"lane_depths"`
}

// Snapshot computes the current metrics. Lane depths are read through the
// injected DepthFunc after the tracker lock is released, so depth reads
// never nest inside the record lock.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	counts := make(map[job.State]int64, len(t.counts))
	for s, n := range t.counts {
		if n != 0 {
			counts[s] = n
		}
	}
	submitted := t.submitted
	samples := t.ring.snapshot()
	window := t.ring.size()
	depthFn := t.depths
	t.mu.Unlock()

	completed := counts[job.StateCompleted]
	dead := counts[job.StateDeadLettered]

	snap := Snapshot{
		TotalSubmitted:    submitted,
		TotalCompleted:    completed,
		TotalDeadLettered: dead,
		TotalCancelled:    counts[job.StateCancelled],
		StateCounts:       counts,
		WindowSize:        window,
		LaneDepths:        make(map[job.Priority]int, job.NumPriorities),
	}

	if completed+dead > 0 {
		snap.SuccessRate = float64(completed) / float64(completed+dead)
	}
	snap.AvgProcessingTime, snap.P95ProcessingTime = processingStats(samples)

	if depthFn != nil {
		depths := depthFn()
		for _, p := range job.Priorities {
			snap.LaneDepths[p] = depths[p]
		}
	}
	return snap
}

// processingStats returns the mean and the nearest-rank 95th percentile
// of the sample window.
func processingStats(samples []time.Duration) (avg, p95 time.Duration) {
	if len(samples) == 0 {
		return 0, 0
	}

	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	avg = sum / time.Duration(len(samples))

	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	rank := (95*len(samples) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	p95 = samples[rank-1]
	return avg, p95
}

// durationRing is a fixed-size ring of recent processing durations.
type durationRing struct {
	buf    []time.Duration
	next   int
	filled int
}

func newDurationRing(size int) *durationRing {
	return &durationRing{buf: make([]time.Duration, size)}
}

func (r *durationRing) push(d time.Duration) {
	r.buf[r.next] = d
	r.next = (r.next + 1) % len(r.buf)
	if r.filled < len(r.buf) {
		r.filled++
	}
}

func (r *durationRing) size() int { return len(r.buf) }

// snapshot copies the filled portion of the ring. Order is irrelevant to
// the consumers (mean and percentile).
func (r *durationRing) snapshot() []time.Duration {
	out := make([]time.Duration, r.filled)
	copy(out, r.buf[:r.filled])
	return out
}
