package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dubstudio/api/internal/model"
)

// MemoryTracker keeps jobs for the life of the process.
type MemoryTracker struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
	now  func() time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		jobs: make(map[string]*model.Job),
		now:  time.Now,
	}
}

func (t *MemoryTracker) Create(_ context.Context, job model.Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	now := t.now()
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	t.jobs[job.ID] = &job
	return nil
}

func (t *MemoryTracker) SetStatus(_ context.Context, jobID string, status model.JobStatus, progress int, errMsg string) (model.Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[jobID]
	if !ok {
		return model.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	updated := *job
	if err := apply(&updated, status, progress, errMsg, t.now()); err != nil {
		return *job, err
	}
	*job = updated
	return updated, nil
}

func (t *MemoryTracker) Get(_ context.Context, jobID string) (model.Job, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[jobID]
	if !ok {
		return model.Job{}, false, nil
	}
	return *job, true, nil
}
