package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dubstudio/api/internal/model"
	"github.com/dubstudio/api/internal/worker"
	"github.com/hibiken/asynq"
)

// Dispatcher hands an accepted job to a worker. Implementations return
// ErrQueueFull instead of blocking when no capacity is left.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload model.DubbingTaskPayload) error
}

// PoolDispatcher feeds the in-process worker pool.
type PoolDispatcher struct {
	pool *worker.Pool
}

func NewPoolDispatcher(pool *worker.Pool) *PoolDispatcher {
	return &PoolDispatcher{pool: pool}
}

func (d *PoolDispatcher) Dispatch(_ context.Context, payload model.DubbingTaskPayload) error {
	err := d.pool.Submit(payload)
	if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrPoolClosed) {
		return fmt.Errorf("%w: %v", ErrQueueFull, err)
	}
	return err
}

type enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// AsynqDispatcher enqueues onto the Redis-backed asynq queue. Capacity is
// enforced by inspecting the queue before each enqueue.
type AsynqDispatcher struct {
	client    enqueuer
	inspector queueInspector
	capacity  int
	timeout   time.Duration
}

func NewAsynqDispatcher(client enqueuer, inspector queueInspector, capacity int, timeout time.Duration) *AsynqDispatcher {
	return &AsynqDispatcher{
		client:    client,
		inspector: inspector,
		capacity:  capacity,
		timeout:   timeout,
	}
}

func (d *AsynqDispatcher) Dispatch(_ context.Context, payload model.DubbingTaskPayload) error {
	if err := d.checkCapacity(); err != nil {
		return err
	}

	task, err := worker.NewDubbingTask(payload)
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.Queue(worker.QueueDubbing),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(0),
		asynq.Retention(24 * time.Hour),
	}
	if d.timeout > 0 {
		opts = append(opts, asynq.Timeout(d.timeout))
	}
	if _, err := d.client.Enqueue(task, opts...); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func (d *AsynqDispatcher) checkCapacity() error {
	if d.inspector == nil || d.capacity <= 0 {
		return nil
	}
	info, err := d.inspector.GetQueueInfo(worker.QueueDubbing)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to inspect queue: %w", err)
	}
	if info.Pending+info.Active >= d.capacity {
		return fmt.Errorf("%w: %d pending, %d active", ErrQueueFull, info.Pending, info.Active)
	}
	return nil
}
