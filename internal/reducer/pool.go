package reducer

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harliandi/go-shrink/pkg/metrics"
)

var (
	// ErrPoolBusy is returned when the worker pool is at capacity
	ErrPoolBusy = errors.New("worker pool is busy, please retry later")
	// ErrPoolStopped is returned when submitting to a stopped pool
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// Job represents a reduction job
type Job struct {
	Ctx     context.Context
	Request Request
	Result  chan<- Result
}

// Result represents the outcome of a reduction job
type Result struct {
	Outcome *Outcome
	Err     error
}

// WorkerPool runs reductions on a fixed number of goroutines so that
// CPU-bound searches do not block request handling.
type WorkerPool struct {
	reducer *Reducer
	jobs    chan Job
	workers int
	active  atomic.Int32
	wg      sync.WaitGroup
	once    sync.Once

	mu      sync.RWMutex
	stopped bool
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(r *Reducer, workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		reducer: r,
		jobs:    make(chan Job, workers*2), // Buffered channel
		workers: workers,
	}
}

// Start starts the worker pool goroutines
func (p *WorkerPool) Start() {
	p.once.Do(func() {
		log.Printf("Starting worker pool with %d workers", p.workers)
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

// worker processes jobs from the job channel
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		var result Result
		if err := job.Ctx.Err(); err != nil {
			// Submitter already gave up.
			result.Err = err
		} else {
			p.active.Add(1)
			p.updateMetrics()
			result.Outcome, result.Err = p.reducer.Reduce(job.Ctx, job.Request)
			p.active.Add(-1)
		}
		p.updateMetrics()

		// Send result (non-blocking in case receiver is gone)
		select {
		case job.Result <- result:
		default:
			log.Printf("Worker %d: result channel full or closed", id)
		}
	}
}

// Submit submits a job to the worker pool with context cancellation support
// Returns ErrPoolBusy if the worker pool queue is full
func (p *WorkerPool) Submit(ctx context.Context, req Request) (*Outcome, error) {
	// Start the pool if not already started
	p.Start()

	resultChan := make(chan Result, 1)
	job := Job{
		Ctx:     ctx,
		Request: req,
		Result:  resultChan,
	}

	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return nil, ErrPoolStopped
	}
	select {
	case <-ctx.Done():
		p.mu.RUnlock()
		return nil, ctx.Err()
	case p.jobs <- job:
		p.mu.RUnlock()
	default:
		// Queue is full, return busy error
		p.mu.RUnlock()
		return nil, ErrPoolBusy
	}
	p.updateMetrics()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultChan:
		return result.Outcome, result.Err
	}
}

// SubmitWithRetry submits a job to the worker pool with retry on busy
func (p *WorkerPool) SubmitWithRetry(ctx context.Context, req Request, maxRetries int) (*Outcome, error) {
	var lastErr error = ErrPoolBusy
	for i := 0; i < maxRetries; i++ {
		out, err := p.Submit(ctx, req)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrPoolBusy) {
			return nil, err
		}
		lastErr = err

		// Wait a bit before retry, longer each time
		waitTime := time.Duration(i+1) * 10 * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(waitTime):
		}
	}
	return nil, lastErr
}

// Stop gracefully shuts down the worker pool after queued jobs finish
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	log.Printf("Worker pool stopped")
}

// Stats returns the number of running and queued jobs
func (p *WorkerPool) Stats() (active, queued int) {
	return int(p.active.Load()), len(p.jobs)
}

func (p *WorkerPool) updateMetrics() {
	active, queued := p.Stats()
	metrics.UpdateWorkerPoolMetrics(queued, active)
}
