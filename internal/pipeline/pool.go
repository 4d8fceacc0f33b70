package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"call-monitoring-service/internal/observability/metrics"
)

var (
	// ErrQueueFull is returned by Submit when every worker is busy and the queue is full.
	ErrQueueFull = errors.New("analysis queue full")
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("analysis pool closed")
)

// Job is a unit of background work. ctx is cancelled if the pool is
// closed before the job finishes.
type Job func(ctx context.Context)

// Pool runs jobs on a fixed number of workers fed by a bounded queue.
type Pool struct {
	jobs    chan Job
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	metrics *metrics.Metrics
}

// NewPool starts workers goroutines with a queue of queueSize pending jobs.
func NewPool(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		jobs:    make(chan Job, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		metrics: metrics.DefaultMetrics,
	}
	for range workers {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.metrics.AnalysisQueueDepth.Dec()
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Analysis job panicked")
		}
	}()
	job(p.ctx)
}

// Submit enqueues job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	// A worker may dequeue and Dec before this goroutine runs again.
	p.metrics.AnalysisQueueDepth.Inc()
	select {
	case p.jobs <- job:
		return nil
	default:
		p.metrics.AnalysisQueueDepth.Dec()
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for queued and running jobs to
// finish. If ctx expires first, running jobs are cancelled and ctx's error
// is returned.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
