package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/storage"
)

func TestParseEnrollmentName(t *testing.T) {
	tests := []struct {
		file   string
		wantID string
		wantNm string
		wantOK bool
	}{
		{"E1001_Alice.jpg", "E1001", "Alice", true},
		{"E1001_Alice_Smith.png", "E1001", "Alice Smith", true},
		{"dir/E7_Jiří__Novák.jpeg", "E7", "Jiří Novák", true},
		{"E1001.jpg", "", "", false},
		{"_Alice.jpg", "", "", false},
		{"E1001_.jpg", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			id, name, ok := parseEnrollmentName(tt.file)
			if ok != tt.wantOK || id != tt.wantID || name != tt.wantNm {
				t.Errorf("parseEnrollmentName(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.file, id, name, ok, tt.wantID, tt.wantNm, tt.wantOK)
			}
		})
	}
}

func newTestStorage(t *testing.T) *storage.Manager {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Root = t.TempDir()
	m, err := storage.New(cfg.Storage)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	return m
}

func TestCollectEnrollments_ImportsFolder(t *testing.T) {
	m := newTestStorage(t)
	src := t.TempDir()
	for _, name := range []string{"E1_Alice.jpg", "E2_Bob_Lee.png", "notes.txt", "group.jpg"} {
		if err := os.WriteFile(filepath.Join(src, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	entries, ignored, err := collectEnrollments(m, src)
	if err != nil {
		t.Fatalf("collectEnrollments: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	if entries[1].StaffID != "E2" || entries[1].Name != "Bob Lee" || entries[1].Path != "E2_Bob_Lee.png" {
		t.Errorf("unexpected entry %+v", entries[1])
	}
	if len(ignored) != 1 || ignored[0] != "group.jpg" {
		t.Errorf("expected group.jpg to be ignored, got %v", ignored)
	}

	if _, err := m.Existing(storage.CategoryStaffImages, "E1_Alice.jpg"); err != nil {
		t.Errorf("photo not imported into staff_images: %v", err)
	}
}

func TestCollectEnrollments_StaffDirectory(t *testing.T) {
	m := newTestStorage(t)
	if _, err := importFile(m, writeTemp(t, "E9_Zoe.jpg")); err != nil {
		t.Fatal(err)
	}

	entries, _, err := collectEnrollments(m, "")
	if err != nil {
		t.Fatalf("collectEnrollments: %v", err)
	}
	if len(entries) != 1 || entries[0].StaffID != "E9" {
		t.Errorf("unexpected entries %+v", entries)
	}
}

func writeTemp(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
