package worker

import (
	"context"
	"errors"
	"log"
	"runtime/debug"
	"sync"

	"github.com/dubstudio/api/internal/model"
)

var (
	ErrQueueFull  = errors.New("job queue is full")
	ErrPoolClosed = errors.New("worker pool is stopped")
)

// HandlerFunc processes one queued payload.
type HandlerFunc func(ctx context.Context, payload model.DubbingTaskPayload) error

// Pool is the in-process queue backend: a fixed number of workers reading a
// bounded channel. Submit never blocks.
type Pool struct {
	jobs    chan model.DubbingTaskPayload
	workers int
	handler HandlerFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(workers, capacity int, handler HandlerFunc) *Pool {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{
		jobs:    make(chan model.DubbingTaskPayload, capacity),
		workers: workers,
		handler: handler,
	}
}

// Start launches the workers. They stop once Stop drains the queue.
func (p *Pool) Start(ctx context.Context) {
	log.Printf("[Pool] Starting worker pool with %d workers (queue %d)", p.workers, cap(p.jobs))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Submit enqueues payload or fails fast with ErrQueueFull.
func (p *Pool) Submit(payload model.DubbingTaskPayload) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- payload:
		log.Printf("[Pool] Job %s enqueued (%d/%d)", payload.JobID, len(p.jobs), cap(p.jobs))
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending is the number of queued jobs not yet picked up.
func (p *Pool) Pending() int {
	return len(p.jobs)
}

// Stop rejects new jobs, lets the workers finish what is queued, and waits.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
	log.Println("[Pool] Worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for payload := range p.jobs {
		p.process(ctx, id, payload)
	}
}

func (p *Pool) process(ctx context.Context, id int, payload model.DubbingTaskPayload) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Pool] Worker %d: PANIC processing job %s: %v\n%s", id, payload.JobID, r, debug.Stack())
		}
	}()
	if err := p.handler(ctx, payload); err != nil {
		log.Printf("[Pool] Worker %d: %v", id, err)
	}
}
