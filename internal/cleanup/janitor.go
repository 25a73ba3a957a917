// Package cleanup removes job leftovers that no running job owns.
package cleanup

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dubstudio/api/internal/status"
	"github.com/dubstudio/api/internal/workspace"
)

type Workspaces interface {
	List() ([]workspace.Entry, error)
	Release(jobID string) error
}

// Options configure the sweep. A zero max age disables that half of it.
type Options struct {
	UploadDir       string
	Interval        time.Duration
	WorkspaceMaxAge time.Duration
	UploadMaxAge    time.Duration
}

// Report counts what one sweep removed.
type Report struct {
	Workspaces int
	Uploads    int
}

// Janitor periodically removes workspaces left behind by crashed runs and
// uploads of finished jobs.
type Janitor struct {
	workspaces Workspaces
	tracker    status.Tracker
	opts       Options
	now        func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

func NewJanitor(workspaces Workspaces, tracker status.Tracker, opts Options) *Janitor {
	return &Janitor{
		workspaces: workspaces,
		tracker:    tracker,
		opts:       opts,
		now:        time.Now,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs one sweep immediately and then one per interval.
func (j *Janitor) Start(ctx context.Context) {
	interval := j.opts.Interval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	j.Sweep(ctx)

	go func() {
		defer close(j.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				j.Sweep(ctx)
			case <-j.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[Cleanup] Janitor started (interval: %s, workspace max age: %s, upload max age: %s)",
		interval, j.opts.WorkspaceMaxAge, j.opts.UploadMaxAge)
}

func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopChan)
		<-j.done
		log.Println("[Cleanup] Janitor stopped")
	})
}

// Sweep removes expired leftovers once.
func (j *Janitor) Sweep(ctx context.Context) Report {
	var r Report
	if j.opts.WorkspaceMaxAge > 0 {
		r.Workspaces = j.sweepWorkspaces(ctx)
	}
	if j.opts.UploadMaxAge > 0 && j.opts.UploadDir != "" {
		r.Uploads = j.sweepUploads(ctx)
	}
	if r.Workspaces > 0 || r.Uploads > 0 {
		log.Printf("[Cleanup] Sweep complete: %d workspaces, %d uploads removed", r.Workspaces, r.Uploads)
	}
	return r
}

func (j *Janitor) sweepWorkspaces(ctx context.Context) int {
	entries, err := j.workspaces.List()
	if err != nil {
		log.Printf("[Cleanup] Failed to list workspaces: %v", err)
		return 0
	}
	removed := 0
	for _, e := range entries {
		if j.now().Sub(e.ModTime) <= j.opts.WorkspaceMaxAge || j.active(ctx, e.JobID) {
			continue
		}
		if err := j.workspaces.Release(e.JobID); err != nil {
			log.Printf("[Cleanup] Failed to remove workspace %s: %v", e.JobID, err)
			continue
		}
		log.Printf("[Cleanup] Removed orphaned workspace %s (age: %s)", e.JobID, j.now().Sub(e.ModTime).Round(time.Minute))
		removed++
	}
	return removed
}

func (j *Janitor) sweepUploads(ctx context.Context) int {
	entries, err := os.ReadDir(j.opts.UploadDir)
	if err != nil {
		log.Printf("[Cleanup] Failed to read upload dir: %v", err)
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || j.now().Sub(info.ModTime()) <= j.opts.UploadMaxAge {
			continue
		}
		jobID := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if j.active(ctx, jobID) {
			continue
		}
		if err := os.Remove(filepath.Join(j.opts.UploadDir, e.Name())); err != nil && !os.IsNotExist(err) {
			log.Printf("[Cleanup] Failed to delete upload %s: %v", e.Name(), err)
			continue
		}
		removed++
	}
	return removed
}

// active reports whether a job still owns its files. Lookup failures count as
// active so nothing is deleted on a tracker outage.
func (j *Janitor) active(ctx context.Context, jobID string) bool {
	if j.tracker == nil {
		return false
	}
	job, ok, err := j.tracker.Get(ctx, jobID)
	if err != nil {
		return true
	}
	return ok && !job.Status.IsTerminal()
}
