package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

var (
	// ErrNotFound reports a path with no staged file.
	ErrNotFound = errors.New("staging: file not found")
	// ErrInvalidPath reports a path that is empty, absolute or escapes the
	// store root.
	ErrInvalidPath = errors.New("staging: invalid path")
)

const filePermission = 0o644

// Store is a thread-safe in-memory file store. Concurrent writes to the
// same path are last-writer-wins.
type Store struct {
	mu    sync.RWMutex
	fs    afero.Fs
	paths map[string]struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{
		fs:    afero.NewMemMapFs(),
		paths: make(map[string]struct{}),
	}
}

// Clean validates p and returns its canonical form: slash separated,
// relative, without "." or ".." elements.
func Clean(p string) (string, error) {
	if p == "" || strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if path.IsAbs(p) {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q escapes the store root", ErrInvalidPath, p)
	}
	return cleaned, nil
}

// Write stores data at p, replacing any previous content.
func (s *Store) Write(p string, data []byte) error {
	key, err := Clean(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.paths[key]; !ok && s.isDirLocked(key) {
		return fmt.Errorf("%w: %q is a directory", ErrInvalidPath, p)
	}
	if dir := path.Dir(key); dir != "." {
		if s.hasFileAncestorLocked(key) {
			return fmt.Errorf("%w: a parent of %q is a file", ErrInvalidPath, p)
		}
		if err := s.fs.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := afero.WriteFile(s.fs, key, data, filePermission); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	s.paths[key] = struct{}{}
	return nil
}

// Read returns a copy of the content stored at p.
func (s *Store) Read(p string) ([]byte, error) {
	key, err := Clean(p)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.paths[key]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	data, err := afero.ReadFile(s.fs, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether a file is staged at p. Invalid paths never exist.
func (s *Store) Exists(p string) bool {
	key, err := Clean(p)
	if err != nil {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.paths[key]
	return ok
}

// Remove deletes the file at p.
func (s *Store) Remove(p string) error {
	key, err := Clean(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.paths[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err := s.fs.Remove(key); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	delete(s.paths, key)
	return nil
}

// Paths lists every staged file, sorted.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.paths))
	for p := range s.paths {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of staged files.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.paths)
}

// Snapshot copies the current contents into a new read-only filesystem.
// Later writes to the store are not visible through it.
func (s *Store) Snapshot() (fs.FS, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frozen := afero.NewMemMapFs()
	for key := range s.paths {
		data, err := afero.ReadFile(s.fs, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		if dir := path.Dir(key); dir != "." {
			if err := frozen.MkdirAll(dir, os.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
		if err := afero.WriteFile(frozen, key, data, filePermission); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", key, err)
		}
	}
	return afero.NewIOFS(afero.NewReadOnlyFs(frozen)), nil
}

func (s *Store) isDirLocked(key string) bool {
	prefix := key + "/"
	for p := range s.paths {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (s *Store) hasFileAncestorLocked(key string) bool {
	for dir := path.Dir(key); dir != "."; dir = path.Dir(dir) {
		if _, ok := s.paths[dir]; ok {
			return true
		}
	}
	return false
}
