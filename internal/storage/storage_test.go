package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/config"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(config.StorageConfig{
		Root: t.TempDir(),
		Paths: map[string]string{
			CategoryInputs:      "inputs",
			CategoryStaffImages: "staff/images",
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestNewCreatesDirectories(t *testing.T) {
	m := newManager(t)
	for _, c := range []string{CategoryInputs, CategoryStaffImages} {
		dir, err := m.Dir(c)
		if err != nil {
			t.Fatalf("Dir(%s): %v", c, err)
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected %s to exist", dir)
		}
	}
}

func TestNewRejectsEscapingCategory(t *testing.T) {
	_, err := New(config.StorageConfig{Root: t.TempDir(), Paths: map[string]string{"bad": "../outside"}})
	if !errors.Is(err, ErrPathEscape) {
		t.Errorf("expected ErrPathEscape, got %v", err)
	}
}

func TestPath(t *testing.T) {
	m := newManager(t)
	inputs, _ := m.Dir(CategoryInputs)

	tests := []struct {
		name    string
		file    string
		want    string
		wantErr error
	}{
		{"plain file", "a.jpg", filepath.Join(inputs, "a.jpg"), nil},
		{"subdirectory", "2024/05/a.jpg", filepath.Join(inputs, "2024", "05", "a.jpg"), nil},
		{"empty returns dir", "", inputs, nil},
		{"parent escape", "../secret", "", ErrPathEscape},
		{"nested escape", "a/../../secret", "", ErrPathEscape},
		{"absolute", "/etc/passwd", "", ErrPathEscape},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Path(CategoryInputs, tt.file)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Path: %v", err)
			}
			if got != tt.want {
				t.Errorf("Path(%q) = %q, want %q", tt.file, got, tt.want)
			}
		})
	}

	if _, err := m.Path("nope", "a.jpg"); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestExistingAndSave(t *testing.T) {
	m := newManager(t)

	if _, err := m.Existing(CategoryInputs, "missing.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	path, err := m.Save(CategoryInputs, "day1/cam.jpg", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := m.Existing(CategoryInputs, "day1/cam.jpg")
	if err != nil {
		t.Fatalf("Existing: %v", err)
	}
	if got != path {
		t.Errorf("Existing = %q, want %q", got, path)
	}

	if _, err := m.Existing(CategoryInputs, "day1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("directory should not count as an input, got %v", err)
	}
}

func TestList(t *testing.T) {
	m := newManager(t)
	for _, name := range []string{"E2_bob.jpg", "E1_alice.png"} {
		if _, err := m.Save(CategoryStaffImages, name, strings.NewReader("x")); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if _, err := m.Save(CategoryStaffImages, "sub/E3.jpg", strings.NewReader("x")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	names, err := m.List(CategoryStaffImages)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 || names[0] != "E1_alice.png" || names[1] != "E2_bob.jpg" {
		t.Errorf("unexpected listing %v", names)
	}
}
