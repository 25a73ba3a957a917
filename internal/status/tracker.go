// Package status tracks the lifecycle of dubbing jobs.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dubstudio/api/internal/model"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Tracker maps job ids to their lifecycle state.
type Tracker interface {
	Create(ctx context.Context, job model.Job) error
	SetStatus(ctx context.Context, jobID string, status model.JobStatus, progress int, errMsg string) (model.Job, error)
	Get(ctx context.Context, jobID string) (model.Job, bool, error)
}

// apply mutates job in place. Progress never goes down unless the job is
// being re-queued, and terminal jobs only accept a re-queue.
func apply(job *model.Job, status model.JobStatus, progress int, errMsg string, now time.Time) error {
	if status != model.JobStatusQueued && status != job.Status && !model.CanTransition(job.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, status)
	}
	if status == job.Status && job.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, job.Status)
	}

	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	switch {
	case status == model.JobStatusQueued:
		job.Progress = progress
		job.Error = nil
		job.CompletedAt = nil
	case status == model.JobStatusError:
		// progress stays where the failed stage left it
		msg := errMsg
		if msg == "" {
			msg = "unknown error"
		}
		job.Error = &msg
	case progress > job.Progress:
		job.Progress = progress
	}

	job.Status = status
	job.UpdatedAt = now
	if status.IsTerminal() {
		t := now
		job.CompletedAt = &t
	}
	return nil
}
