package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrBadPath rejects file paths that are empty or would escape the
// session work directory.
var ErrBadPath = errors.New("invalid file path")

// Workspace owns the per-session work directories under a single base
// directory. Each directory holds a session's materialized file map
// and is bind-mounted read-write into the worker container.
type Workspace struct {
	basePath string
}

// NewWorkspace creates a workspace rooted at basePath, creating the
// directory when missing. An empty basePath falls back to the host
// temp area.
func NewWorkspace(basePath string) (*Workspace, error) {
	if basePath == "" {
		basePath = filepath.Join(os.TempDir(), "hutch-sessions")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace base %s: %w", basePath, err)
	}
	return &Workspace{basePath: basePath}, nil
}

// Dir returns the work directory path for a session.
func (w *Workspace) Dir(sessionID string) string {
	return filepath.Join(w.basePath, sessionID)
}

// Materialize writes the file map into a fresh work directory and
// returns its path. Paths must already be normalized; every write is
// still verified to land inside the directory.
func (w *Workspace) Materialize(sessionID string, files map[string]string) (string, error) {
	dir := w.Dir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}

	for path, content := range files {
		if err := w.writeFile(dir, path, content); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// WriteFile writes one file into an existing session work directory,
// creating intermediate directories as needed.
func (w *Workspace) WriteFile(sessionID, path, content string) error {
	return w.writeFile(w.Dir(sessionID), path, content)
}

func (w *Workspace) writeFile(dir, path, content string) error {
	target, err := resolve(dir, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create parent directories for %s: %w", path, err)
	}
	if err := os.WriteFile(target, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// resolve joins path onto dir and verifies the result stays inside dir.
func resolve(dir, path string) (string, error) {
	cleanDir := filepath.Clean(dir)
	target := filepath.Clean(filepath.Join(cleanDir, path))
	if target == cleanDir || !strings.HasPrefix(target, cleanDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrBadPath, path)
	}
	return target, nil
}

// Remove deletes a session's work directory. A missing directory is
// fine; teardown may run before materialization finished.
func (w *Workspace) Remove(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("refusing to remove the workspace base")
	}

	dir := w.Dir(sessionID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove work directory: %w", err)
	}
	return nil
}

// NormalizePath strips leading separators and collapses the path,
// rejecting anything that would climb out of the work directory.
func NormalizePath(path string) (string, error) {
	trimmed := strings.TrimLeft(path, "/")
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty path", ErrBadPath)
	}

	clean := filepath.Clean(trimmed)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrBadPath, path)
	}
	return clean, nil
}

// NormalizeFiles normalizes every path in a client file map. Paths
// that collide after normalization keep one arbitrary winner, matching
// map iteration.
func NormalizeFiles(files map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(files))
	for path, content := range files {
		normalized, err := NormalizePath(path)
		if err != nil {
			return nil, err
		}
		out[normalized] = content
	}
	return out, nil
}
