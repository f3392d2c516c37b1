package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/lane"
)

// Pool manages a fixed set of worker goroutines that drain the priority
// lanes and execute jobs through the Executor. Idle workers block on the
// lane notify channel with a poll-interval fallback, never busy-spin.
type Pool struct {
	lanes        *lane.Set
	executor     *Executor
	throttle     *lane.Throttle
	size         int
	pollInterval time.Duration
	logger       *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// active maps in-flight job ids to their attempt cancel funcs so an
	// expired shutdown grace can abort them.
	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolSize sets the number of concurrent worker goroutines.
func WithPoolSize(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithPollInterval sets how long an idle worker waits before rescanning
// the lanes when no enqueue notification arrives.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithThrottle installs per-lane dispatch pacing. Pacing never reorders
// work within a lane; it only delays when a lane may next dispatch.
func WithThrottle(t *lane.Throttle) PoolOption {
	return func(p *Pool) { p.throttle = t }
}

// NewPool creates a worker pool over the given lane set.
func NewPool(lanes *lane.Set, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		lanes:        lanes,
		executor:     executor,
		size:         4,
		pollInterval: 100 * time.Millisecond,
		logger:       logger,
		stopCh:       make(chan struct{}),
		active:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the number of worker goroutines the pool runs.
func (p *Pool) Size() int { return p.size }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting", slog.Int("workers", p.size))

	for range p.size {
		p.wg.Add(1)
		go p.runWorker()
	}
	return nil
}

// Stop signals all workers to stop and waits for in-flight attempts to
// finish. When the context expires first, the remaining attempts are
// cancelled and the pool waits for them to unwind.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-ctx.Done():
		p.logger.Warn("shutdown grace expired, cancelling in-flight attempts")
		p.cancelActive()
		p.wg.Wait()
	}
	return nil
}

// runWorker is the per-goroutine dequeue loop. Each worker carries its
// own typed id so log lines attribute attempts to a specific worker.
func (p *Pool) runWorker() {
	defer p.wg.Done()

	workerID := id.NewWorkerID()
	logger := p.logger.With(slog.String("worker_id", workerID.String()))
	logger.Debug("worker started")

	for {
		select {
		case <-p.stopCh:
			logger.Debug("worker stopped")
			return
		default:
		}

		it, ok := p.dequeue()
		if !ok {
			p.wait()
			continue
		}

		p.execute(it, workerID, logger)
	}
}

// dequeue pops the most urgent available item, honoring the lane
// throttle when one is installed.
func (p *Pool) dequeue() (lane.Item, bool) {
	if p.throttle == nil {
		return p.lanes.Dequeue()
	}
	return p.lanes.DequeueWhere(p.throttle.Acquire)
}

// execute runs one attempt and releases the worker's pacing slot.
func (p *Pool) execute(it lane.Item, workerID id.WorkerID, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	p.trackAttempt(it.JobID.String(), cancel)

	if err := p.executor.Execute(ctx, it.JobID, workerID); err != nil {
		logger.Error("attempt not accounted for",
			slog.String("job_id", it.JobID.String()),
			slog.String("error", err.Error()),
		)
	}

	p.untrackAttempt(it.JobID.String())
	cancel()

	if p.throttle != nil {
		p.throttle.Release(it.Priority)
	}
}

// wait blocks until new work is signalled, the poll interval lapses, or
// the pool stops.
func (p *Pool) wait() {
	select {
	case <-p.lanes.Notify():
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackAttempt(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackAttempt(jobID string) {
	p.activeMu.Lock()
	delete(p.active, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.active {
		p.logger.Warn("cancelling in-flight attempt", slog.String("job_id", jobID))
		cancel()
	}
}
