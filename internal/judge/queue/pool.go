// Package queue bounds concurrent sandbox executions with a fixed pool of
// workers over a FIFO queue. Capacity exhaustion backpressures by waiting;
// enqueue never drops a job.
package queue

import (
	"context"
	"fmt"
	"sync"

	"gavel/pkg/utils/logger"

	"go.uber.org/zap"
)

// Job is one unit of work claimed by a single worker.
type Job struct {
	ID string

	// Execute runs the job. The ctx is canceled on pool shutdown so
	// in-flight sandbox executions can be interrupted.
	Execute func(ctx context.Context) error

	// Fail is invoked when Execute returns an error or panics, so the
	// owner can record a terminal internal-error verdict. Must not block.
	Fail func(ctx context.Context, err error)
}

// PoolStatus is a snapshot of pool occupancy.
type PoolStatus struct {
	Active   int `json:"active"`
	Queued   int `json:"queued"`
	Capacity int `json:"capacity"`
}

// Pool is the bounded worker pool. The queue and the active counter are
// the only state shared across workers; both change under one mutex so a
// claim is a single indivisible transition.
type Pool struct {
	capacity int

	mu      sync.Mutex
	cond    *sync.Cond
	pending []Job
	active  int
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a pool with the given worker capacity.
func NewPool(capacity int) (*Pool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("pool capacity must be positive")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		capacity: capacity,
		ctx:      ctx,
		cancel:   cancel,
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.capacity; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Enqueue appends a job to the FIFO queue. It only fails once the pool is
// shut down; a full pool waits, it does not reject.
func (p *Pool) Enqueue(job Job) error {
	if job.Execute == nil {
		return fmt.Errorf("job has no execute function")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("pool is shut down")
	}
	p.pending = append(p.pending, job)
	p.cond.Signal()
	return nil
}

// Status reports current occupancy.
func (p *Pool) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStatus{
		Active:   p.active,
		Queued:   len(p.pending),
		Capacity: p.capacity,
	}
}

// Shutdown cancels in-flight jobs and waits for workers to drain.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.cond.Broadcast()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		job, ok := p.claim()
		if !ok {
			return
		}
		p.runJob(job)
		p.release()
	}
}

// claim blocks until a job is available, then dequeues it and takes a
// capacity slot in the same critical section.
func (p *Pool) claim() (Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.pending) == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed && len(p.pending) == 0 {
		return Job{}, false
	}
	job := p.pending[0]
	p.pending = p.pending[1:]
	p.active++
	return job, true
}

func (p *Pool) release() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	p.cond.Signal()
}

// runJob executes one job, converting panics into Fail callbacks so a
// broken submission never takes down the worker.
func (p *Pool) runJob(job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(p.ctx, "worker panic", zap.String("job_id", job.ID), zap.Any("panic", r))
			if job.Fail != nil {
				job.Fail(p.ctx, fmt.Errorf("worker panic: %v", r))
			}
		}
	}()
	if err := job.Execute(p.ctx); err != nil {
		if job.Fail != nil {
			job.Fail(p.ctx, err)
		}
	}
}
