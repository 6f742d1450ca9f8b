// Package storage resolves user-supplied file names inside the configured
// resource directories and refuses anything that would escape them.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// Resource categories.
const (
	CategoryInputs      = "inputs"
	CategoryStaffImages = "staff_images"
	CategoryVectorDB    = "vector_db"
)

var (
	ErrUnknownCategory = errors.New("unknown storage category")
	ErrPathEscape      = errors.New("path escapes storage directory")
	ErrNotFound        = errors.New("input not found")
)

// Manager maps categories to directories under one root.
type Manager struct {
	root string
	dirs map[string]string
}

// New resolves every category directory and creates any that are missing.
func New(cfg config.StorageConfig) (*Manager, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	m := &Manager{root: root, dirs: make(map[string]string, len(cfg.Paths))}
	for category, rel := range cfg.Paths {
		dir := filepath.Join(root, rel)
		if !strings.HasPrefix(dir+string(filepath.Separator), root+string(filepath.Separator)) {
			return nil, fmt.Errorf("category %s: %w", category, ErrPathEscape)
		}
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", category, err)
		}
		m.dirs[category] = dir
	}
	return m, nil
}

// Root returns the absolute storage root.
func (m *Manager) Root() string {
	return m.root
}

// Dir returns the directory of category.
func (m *Manager) Dir(category string) (string, error) {
	dir, ok := m.dirs[category]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	return dir, nil
}

// Path resolves name inside category. name may contain subdirectories but
// must stay inside the category directory.
func (m *Manager) Path(category, name string) (string, error) {
	dir, err := m.Dir(category)
	if err != nil {
		return "", err
	}
	if name == "" {
		return dir, nil
	}

	clean := filepath.FromSlash(name)
	if filepath.IsAbs(clean) || !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, name)
	}
	return filepath.Join(dir, clean), nil
}

// Existing is Path for a regular file that must already exist.
func (m *Manager) Existing(category, name string) (string, error) {
	path, err := m.Path(category, name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", name, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrNotFound, name)
	}
	return path, nil
}

// Save writes r to name inside category, creating subdirectories.
func (m *Manager) Save(category, name string, r io.Reader) (string, error) {
	path, err := m.Path(category, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path) //nolint:gosec // path validated above
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	return path, nil
}

// List returns the regular files directly inside category, sorted by name.
func (m *Manager) List(category string) ([]string, error) {
	dir, err := m.Dir(category)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", category, err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
