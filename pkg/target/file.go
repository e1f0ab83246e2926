package target

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileTarget is a target backed by a local file. Writes go through a
// temporary file and a rename, so a target never exists half-written.
type FileTarget struct {
	path string
}

// NewFile returns a file target for the given path. A "file://" prefix is
// accepted and stripped.
func NewFile(path string) *FileTarget {
	return &FileTarget{path: strings.TrimPrefix(path, "file://")}
}

// Path is the local filesystem path.
func (t *FileTarget) Path() string { return t.path }

// URI returns the file:// form of the path.
func (t *FileTarget) URI() string { return "file://" + t.path }

// Exists reports whether the file is present.
func (t *FileTarget) Exists(_ context.Context) (bool, error) {
	_, err := os.Stat(t.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", t.path, err)
}

// Write creates the target atomically from the reader's contents.
func (t *FileTarget) Write(r io.Reader) error {
	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".stardag-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", t.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		return fmt.Errorf("publish %s: %w", t.path, err)
	}
	return nil
}

// WriteString is Write over a string body.
func (t *FileTarget) WriteString(body string) error {
	return t.Write(strings.NewReader(body))
}

// Open opens the target for reading.
func (t *FileTarget) Open() (io.ReadCloser, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", t.path, err)
	}
	return f, nil
}
