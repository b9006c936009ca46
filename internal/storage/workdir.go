// Package storage manages per-transfer scratch directories under the
// configured temp root. Every transfer gets its own directory so terminal
// cleanup is a single RemoveAll.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

type Workdirs struct {
	root string
}

func New(root string) (*Workdirs, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, err
	}
	return &Workdirs{root: abs}, nil
}

// Root returns the absolute temp root.
func (w *Workdirs) Root() string {
	return w.root
}

// Create makes the scratch directory for a transfer and returns its path.
func (w *Workdirs) Create(taskID string) (string, error) {
	dir := w.Dir(taskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// Dir returns the scratch directory path for a transfer.
func (w *Workdirs) Dir(taskID string) string {
	return filepath.Join(w.root, taskID)
}

// Path returns the full path for a file inside a transfer's directory.
func (w *Workdirs) Path(taskID, filename string) string {
	return filepath.Join(w.Dir(taskID), filename)
}

// Remove deletes a transfer's directory and everything in it.
func (w *Workdirs) Remove(taskID string) error {
	dir := w.Dir(taskID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove files: %w", err)
	}
	// Double check
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		return fmt.Errorf("directory still exists: %s", dir)
	}
	return nil
}
