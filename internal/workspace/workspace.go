// Package workspace allocates per-job scratch directories.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidJobID is returned for ids that are not a single path element.
var ErrInvalidJobID = errors.New("invalid job id")

// Manager owns the scratch root. Each job gets <root>/<jobID>.
type Manager struct {
	root string
}

// NewManager creates the root directory if needed.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	return &Manager{root: root}, nil
}

// Root returns the scratch root directory.
func (m *Manager) Root() string {
	return m.root
}

// Path returns the directory a job would use, without creating it.
func (m *Manager) Path(jobID string) (string, error) {
	if err := validateID(jobID); err != nil {
		return "", err
	}
	return filepath.Join(m.root, jobID), nil
}

// Acquire removes any stale directory for the job and creates an empty one.
func (m *Manager) Acquire(jobID string) (string, error) {
	dir, err := m.Path(jobID)
	if err != nil {
		return "", err
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to clear stale workspace %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace %s: %w", dir, err)
	}
	return dir, nil
}

// Release deletes the job's directory. Releasing a missing directory is not an error.
func (m *Manager) Release(jobID string) error {
	dir, err := m.Path(jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", dir, err)
	}
	return nil
}

// Exists reports whether the job's directory is present.
func (m *Manager) Exists(jobID string) bool {
	dir, err := m.Path(jobID)
	if err != nil {
		return false
	}
	_, err = os.Stat(dir)
	return err == nil
}

// Entry describes one directory under the root.
type Entry struct {
	JobID   string
	ModTime time.Time
}

// List returns the job directories currently present.
func (m *Manager) List() ([]Entry, error) {
	items, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if !item.IsDir() {
			continue
		}
		info, err := item.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{JobID: item.Name(), ModTime: info.ModTime()})
	}
	return entries, nil
}

func validateID(jobID string) error {
	if jobID == "" || jobID == "." || jobID == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	if strings.ContainsAny(jobID, `/\`) || filepath.Base(jobID) != jobID {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	return nil
}
