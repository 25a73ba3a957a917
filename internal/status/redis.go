package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dubstudio/api/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "dub:job:"
	maxTxRetries   = 10
)

// RedisTracker stores each job as a JSON record. Updates run in a WATCH
// transaction so concurrent writers never lose a progress bump.
type RedisTracker struct {
	redis     redis.UniversalClient
	retention time.Duration
	now       func() time.Time
}

// NewRedisTracker creates a tracker; retention 0 keeps records forever.
func NewRedisTracker(client redis.UniversalClient, retention time.Duration) *RedisTracker {
	return &RedisTracker{
		redis:     client,
		retention: retention,
		now:       time.Now,
	}
}

func jobKey(jobID string) string {
	return redisKeyPrefix + jobID
}

func (t *RedisTracker) Create(ctx context.Context, job model.Job) error {
	now := t.now()
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ok, err := t.redis.SetNX(ctx, jobKey(job.ID), data, t.retention).Result()
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	return nil
}

func (t *RedisTracker) SetStatus(ctx context.Context, jobID string, status model.JobStatus, progress int, errMsg string) (model.Job, error) {
	key := jobKey(jobID)
	var updated model.Job

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}

		var job model.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to unmarshal job: %w", err)
		}
		if err := apply(&job, status, progress, errMsg, t.now()); err != nil {
			updated = job
			return err
		}

		out, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if t.retention > 0 {
				pipe.Set(ctx, key, out, t.retention)
			} else {
				pipe.Set(ctx, key, out, redis.KeepTTL)
			}
			return nil
		})
		if err == nil {
			updated = job
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := t.redis.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return updated, err
	}
	return updated, fmt.Errorf("failed to update job %s: too much contention", jobID)
}

func (t *RedisTracker) Get(ctx context.Context, jobID string) (model.Job, bool, error) {
	data, err := t.redis.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Job{}, false, nil
	}
	if err != nil {
		return model.Job{}, false, fmt.Errorf("failed to get job: %w", err)
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return model.Job{}, false, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return job, true, nil
}
