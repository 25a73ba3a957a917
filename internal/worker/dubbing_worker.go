package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/dubstudio/api/internal/client"
	"github.com/dubstudio/api/internal/model"
	"github.com/hibiken/asynq"
)

const (
	TaskTypeDubbing = "dubbing:process"
	QueueDubbing    = "dubbing"
)

// Pipeline runs one job to a terminal state.
type Pipeline interface {
	Run(ctx context.Context, videoPath, jobID string) (string, error)
}

// DubbingWorker executes dubbing jobs taken from either queue backend.
type DubbingWorker struct {
	pipeline Pipeline
	store    client.ResultStore
	timeout  time.Duration
}

// NewDubbingWorker creates a dubbing worker. store may be nil when results
// are only kept on local disk.
func NewDubbingWorker(pipeline Pipeline, store client.ResultStore, timeout time.Duration) *DubbingWorker {
	return &DubbingWorker{
		pipeline: pipeline,
		store:    store,
		timeout:  timeout,
	}
}

// NewDubbingTask builds the asynq task for a payload.
func NewDubbingTask(payload model.DubbingTaskPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dubbing payload: %w", err)
	}
	return asynq.NewTask(TaskTypeDubbing, data), nil
}

// ProcessTask handles dubbing tasks from the asynq server.
func (w *DubbingWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.DubbingTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal dubbing payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := w.Handle(ctx, payload); err != nil {
		// the job is already in its error state; a retry would start from scratch
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}

// Handle runs the pipeline for payload under the configured job timeout.
func (w *DubbingWorker) Handle(ctx context.Context, payload model.DubbingTaskPayload) error {
	if payload.JobID == "" || payload.VideoPath == "" {
		return fmt.Errorf("incomplete dubbing payload: %+v", payload)
	}
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	log.Printf("[Worker] Starting dubbing job: %s (%s)", payload.JobID, payload.SourceName)
	out, err := w.pipeline.Run(ctx, payload.VideoPath, payload.JobID)
	if err != nil {
		return fmt.Errorf("dubbing job %s failed: %w", payload.JobID, err)
	}

	w.mirror(ctx, payload.JobID, out)
	log.Printf("[Worker] Dubbing job %s finished: %s", payload.JobID, out)
	return nil
}

// mirror copies the result to object storage. Failures keep the local file
// as the only copy.
func (w *DubbingWorker) mirror(ctx context.Context, jobID, path string) {
	if w.store == nil {
		return
	}
	key := ResultKey(jobID)
	if err := w.store.UploadFile(context.WithoutCancel(ctx), key, path, "video/mp4"); err != nil {
		log.Printf("[Worker] Failed to mirror %s to %s: %v", filepath.Base(path), key, err)
		return
	}
	log.Printf("[Worker] Mirrored %s to %s", filepath.Base(path), key)
}

// ResultKey is the object storage key of a job's output video.
func ResultKey(jobID string) string {
	return fmt.Sprintf("results/%s.mp4", jobID)
}
