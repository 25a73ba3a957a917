package status

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dubstudio/api/internal/model"
	"github.com/redis/go-redis/v9"
)

func trackers(t *testing.T) map[string]Tracker {
	t.Helper()
	out := map[string]Tracker{"memory": NewMemoryTracker()}

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		return out
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Logf("redis unavailable at %s: %v", addr, err)
		return out
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	out["redis"] = NewRedisTracker(client, time.Hour)
	return out
}

func uniqueID(t *testing.T, name string) string {
	return fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
}

func TestTracker_Lifecycle(t *testing.T) {
	ctx := context.Background()
	for name, tr := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			id := uniqueID(t, "clip")
			if err := tr.Create(ctx, model.Job{ID: id, SourceName: "clip.mp4"}); err != nil {
				t.Fatalf("Create: %v", err)
			}
			job, ok, err := tr.Get(ctx, id)
			if err != nil || !ok {
				t.Fatalf("Get: ok=%v err=%v", ok, err)
			}
			if job.Status != model.JobStatusQueued || job.Progress != 0 {
				t.Fatalf("unexpected initial job: %+v", job)
			}

			steps := []struct {
				status   model.JobStatus
				progress int
			}{
				{model.JobStatusProcessing, 0},
				{model.JobStatusTranscribing, 20},
				{model.JobStatusSynthesizing, 40},
				{model.JobStatusSynthesizing, 50},
				{model.JobStatusCombining, 60},
				{model.JobStatusCombining, 80},
				{model.JobStatusCompleted, 100},
			}
			for _, s := range steps {
				if _, err := tr.SetStatus(ctx, id, s.status, s.progress, ""); err != nil {
					t.Fatalf("SetStatus(%s, %d): %v", s.status, s.progress, err)
				}
			}

			job, _, _ = tr.Get(ctx, id)
			if job.Status != model.JobStatusCompleted || job.Progress != 100 || job.Error != nil {
				t.Errorf("unexpected final job: %+v", job)
			}
			if job.CompletedAt == nil {
				t.Error("expected completedAt to be set")
			}
		})
	}
}

func TestTracker_ErrorKeepsProgress(t *testing.T) {
	ctx := context.Background()
	for name, tr := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			id := uniqueID(t, "clip")
			if err := tr.Create(ctx, model.Job{ID: id}); err != nil {
				t.Fatal(err)
			}
			tr.SetStatus(ctx, id, model.JobStatusProcessing, 0, "")
			tr.SetStatus(ctx, id, model.JobStatusTranscribing, 20, "")

			job, err := tr.SetStatus(ctx, id, model.JobStatusError, 0, "Transcription returned no segments")
			if err != nil {
				t.Fatalf("SetStatus(error): %v", err)
			}
			if job.Progress != 20 {
				t.Errorf("expected progress to stay at 20, got %d", job.Progress)
			}
			if job.ErrorMessage() != "Transcription returned no segments" {
				t.Errorf("unexpected error message %q", job.ErrorMessage())
			}

			if _, err := tr.SetStatus(ctx, id, model.JobStatusCombining, 60, ""); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected terminal job to reject updates, got %v", err)
			}
		})
	}
}

func TestTracker_ProgressNeverDecreases(t *testing.T) {
	ctx := context.Background()
	for name, tr := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			id := uniqueID(t, "clip")
			tr.Create(ctx, model.Job{ID: id})
			tr.SetStatus(ctx, id, model.JobStatusProcessing, 0, "")
			tr.SetStatus(ctx, id, model.JobStatusTranscribing, 20, "")
			tr.SetStatus(ctx, id, model.JobStatusSynthesizing, 55, "")

			job, err := tr.SetStatus(ctx, id, model.JobStatusSynthesizing, 45, "")
			if err != nil {
				t.Fatal(err)
			}
			if job.Progress != 55 {
				t.Errorf("expected progress 55, got %d", job.Progress)
			}
		})
	}
}

func TestTracker_RejectsSkippedStage(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()
	tr.Create(ctx, model.Job{ID: "clip"})

	if _, err := tr.SetStatus(ctx, "clip", model.JobStatusCombining, 60, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	job, _, _ := tr.Get(ctx, "clip")
	if job.Status != model.JobStatusQueued {
		t.Errorf("rejected update must not change the job, got %s", job.Status)
	}
}

func TestTracker_UnknownAndDuplicate(t *testing.T) {
	ctx := context.Background()
	for name, tr := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			id := uniqueID(t, "clip")
			if _, ok, err := tr.Get(ctx, id); ok || err != nil {
				t.Errorf("expected missing job, ok=%v err=%v", ok, err)
			}
			if _, err := tr.SetStatus(ctx, id, model.JobStatusProcessing, 0, ""); !errors.Is(err, ErrJobNotFound) {
				t.Errorf("expected ErrJobNotFound, got %v", err)
			}
			if err := tr.Create(ctx, model.Job{ID: id}); err != nil {
				t.Fatal(err)
			}
			if err := tr.Create(ctx, model.Job{ID: id}); !errors.Is(err, ErrJobExists) {
				t.Errorf("expected ErrJobExists, got %v", err)
			}
		})
	}
}

func TestMemoryTracker_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("job-%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := tr.Create(ctx, model.Job{ID: id}); err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			tr.SetStatus(ctx, id, model.JobStatusProcessing, 0, "")
			tr.SetStatus(ctx, id, model.JobStatusTranscribing, 20, "")
			for p := 40; p <= 60; p += 5 {
				tr.SetStatus(ctx, id, model.JobStatusSynthesizing, p, "")
			}
		}()
		go func() {
			defer wg.Done()
			last := 0
			for j := 0; j < 50; j++ {
				job, ok, _ := tr.Get(ctx, id)
				if !ok {
					continue
				}
				if job.Progress < last {
					t.Errorf("progress went backwards for %s: %d -> %d", id, last, job.Progress)
				}
				last = job.Progress
			}
		}()
	}
	wg.Wait()
}

func TestNotifying_ForwardsUpdates(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var seen []model.JobStatus

	tr := Notifying(NewMemoryTracker(), NotifierFunc(func(job model.Job) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, job.Status)
	}), nil)

	tr.Create(ctx, model.Job{ID: "clip"})
	tr.SetStatus(ctx, "clip", model.JobStatusProcessing, 0, "")
	// rejected transitions are not forwarded
	tr.SetStatus(ctx, "clip", model.JobStatusCompleted, 100, "")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != model.JobStatusQueued || seen[1] != model.JobStatusProcessing {
		t.Errorf("unexpected notifications: %v", seen)
	}
}

func TestNotifying_NoNotifiersReturnsTracker(t *testing.T) {
	base := NewMemoryTracker()
	if got := Notifying(base); got != Tracker(base) {
		t.Error("expected the base tracker when no notifiers are given")
	}
}
