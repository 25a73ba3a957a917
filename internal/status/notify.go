package status

import (
	"context"

	"github.com/dubstudio/api/internal/model"
)

// Notifier receives every successful status change.
type Notifier interface {
	NotifyStatus(job model.Job)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(job model.Job)

func (f NotifierFunc) NotifyStatus(job model.Job) { f(job) }

type notifyingTracker struct {
	Tracker
	notifiers []Notifier
}

// Notifying wraps a tracker so that creations and updates are forwarded to
// the given notifiers. Nil notifiers are ignored.
func Notifying(tracker Tracker, notifiers ...Notifier) Tracker {
	active := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	if len(active) == 0 {
		return tracker
	}
	return &notifyingTracker{Tracker: tracker, notifiers: active}
}

func (t *notifyingTracker) Create(ctx context.Context, job model.Job) error {
	if err := t.Tracker.Create(ctx, job); err != nil {
		return err
	}
	if stored, ok, err := t.Tracker.Get(ctx, job.ID); err == nil && ok {
		t.notify(stored)
	}
	return nil
}

func (t *notifyingTracker) SetStatus(ctx context.Context, jobID string, status model.JobStatus, progress int, errMsg string) (model.Job, error) {
	job, err := t.Tracker.SetStatus(ctx, jobID, status, progress, errMsg)
	if err != nil {
		return job, err
	}
	t.notify(job)
	return job, nil
}

func (t *notifyingTracker) notify(job model.Job) {
	for _, n := range t.notifiers {
		n.NotifyStatus(job)
	}
}
