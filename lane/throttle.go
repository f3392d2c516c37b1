package lane

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/triagehq/triage/job"
)

// Limit defines pacing for a single lane. Zero values disable the
// corresponding constraint.
type Limit struct {
	// Priority is the lane this limit applies to.
	Priority job.Priority

	// RateLimit is the maximum sustained dispatches per second from this
	// lane. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst size. Defaults to 1 when
	// RateLimit is set but RateBurst is zero.
	RateBurst int

	// MaxConcurrency caps how many jobs from this lane may run
	// simultaneously across the pool. Zero means no lane-specific cap.
	MaxConcurrency int
}

// laneState tracks runtime pacing state for one lane.
type laneState struct {
	limit   Limit
	limiter *rate.Limiter
	active  int
}

// Throttle paces dequeues per lane. It is safe for concurrent use.
// Lanes without a configured Limit are never throttled.
type Throttle struct {
	mu    sync.Mutex
	lanes [job.NumPriorities]*laneState
}

// NewThrottle creates a Throttle with the given lane limits.
func NewThrottle(limits ...Limit) *Throttle {
	t := &Throttle{}
	for _, lim := range limits {
		if !lim.Priority.Valid() {
			continue
		}
		t.lanes[lim.Priority] = newLaneState(lim)
	}
	return t
}

func newLaneState(lim Limit) *laneState {
	ls := &laneState{limit: lim}
	if lim.RateLimit > 0 {
		burst := lim.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ls.limiter = rate.NewLimiter(rate.Limit(lim.RateLimit), burst)
	}
	return ls
}

// Acquire reports whether a job from the lane may be dispatched now and,
// if so, claims an active slot. The caller must Release the slot when the
// attempt finishes. Acquire is usable directly as a [Set.DequeueWhere]
// gate.
func (t *Throttle) Acquire(p job.Priority) bool {
	if !p.Valid() {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ls := t.lanes[p]
	if ls == nil {
		return true
	}
	if ls.limiter != nil && !ls.limiter.Allow() {
		return false
	}
	if ls.limit.MaxConcurrency > 0 && ls.active >= ls.limit.MaxConcurrency {
		return false
	}
	ls.active++
	return true
}

// Release returns an active slot to the lane.
func (t *Throttle) Release(p job.Priority) {
	if !p.Valid() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if ls := t.lanes[p]; ls != nil && ls.active > 0 {
		ls.active--
	}
}

// Active returns the number of claimed slots for a lane.
func (t *Throttle) Active(p job.Priority) int {
	if !p.Valid() {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if ls := t.lanes[p]; ls != nil {
		return ls.active
	}
	return 0
}
