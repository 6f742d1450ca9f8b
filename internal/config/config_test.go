package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Analysis.ThresholdVerify != 0.5 {
		t.Errorf("expected threshold_verify 0.5, got %v", cfg.Analysis.ThresholdVerify)
	}
	if cfg.Analysis.MinClusterSamples != 3 {
		t.Errorf("expected min_cluster_samples 3, got %d", cfg.Analysis.MinClusterSamples)
	}
	if cfg.Database.BatchSize != 50 {
		t.Errorf("expected batch_size 50, got %d", cfg.Database.BatchSize)
	}
	if cfg.Embedding.MaxFrameWidth != 640 {
		t.Errorf("expected max_frame_width 640, got %d", cfg.Embedding.MaxFrameWidth)
	}
	if cfg.Embedding.Timeout != 30*time.Second {
		t.Errorf("expected 30s embedding timeout, got %v", cfg.Embedding.Timeout)
	}
	if cfg.Storage.Paths["vector_db"] != "vector_db" {
		t.Errorf("expected vector_db category, got %v", cfg.Storage.Paths)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeConfig(t, `
analysis:
  threshold_verify: 0.62
storage:
  paths:
    inputs: uploads
auth:
  ip_whitelist: ["10.0.0.5"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Analysis.ThresholdVerify != 0.62 {
		t.Errorf("expected 0.62, got %v", cfg.Analysis.ThresholdVerify)
	}
	if cfg.Analysis.ThresholdCluster != 0.6 {
		t.Errorf("unset field should keep default, got %v", cfg.Analysis.ThresholdCluster)
	}
	if cfg.Storage.Paths["inputs"] != "uploads" || cfg.Storage.Paths["staff_images"] != "staff_images" {
		t.Errorf("expected merged storage paths, got %v", cfg.Storage.Paths)
	}
	if len(cfg.Auth.IPWhitelist) != 1 || cfg.Auth.IPWhitelist[0] != "10.0.0.5" {
		t.Errorf("unexpected whitelist %v", cfg.Auth.IPWhitelist)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "hnsw" {
		t.Errorf("expected default driver, got %q", cfg.Database.Driver)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("WEB_PORT", "9090")
	t.Setenv("AUTH_TOKEN", "secret")
	t.Setenv("EMBEDDING_DIM", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected sqlite, got %q", cfg.Database.Driver)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Auth.Token != "secret" {
		t.Errorf("expected token from env, got %q", cfg.Auth.Token)
	}
	if cfg.Embedding.Dim != 512 {
		t.Errorf("invalid env int should keep default, got %d", cfg.Embedding.Dim)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"threshold too high", "analysis:\n  threshold_verify: 1.5\n", "threshold_verify"},
		{"zero samples", "analysis:\n  min_cluster_samples: 0\n", "min_cluster_samples"},
		{"negative interval", "analysis:\n  video_sample_interval: -1\n", "video_sample_interval"},
		{"bad yaml", "analysis: [", "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestHolderUpdatePersists(t *testing.T) {
	t.Setenv("AUTH_TOKEN", "from-env")
	path := writeConfig(t, "analysis:\n  threshold_verify: 0.4\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	h := NewHolder(cfg, path)
	before := h.Current()

	verify := 0.7
	samples := 5
	next, err := h.Update(Update{ThresholdVerify: &verify, MinClusterSamples: &samples, IPWhitelist: []string{"192.168.1.10"}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if next.Analysis.ThresholdVerify != 0.7 || next.Analysis.MinClusterSamples != 5 {
		t.Errorf("update not applied: %+v", next.Analysis)
	}
	if h.Current() != next {
		t.Error("holder should publish the new snapshot")
	}
	if before.Analysis.ThresholdVerify != 0.4 {
		t.Errorf("old snapshot must not change, got %v", before.Analysis.ThresholdVerify)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Analysis.ThresholdVerify != 0.7 || reloaded.Auth.IPWhitelist[0] != "192.168.1.10" {
		t.Errorf("update not persisted: %+v", reloaded)
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "from-env") {
		t.Error("environment overrides must not be written to the config file")
	}
}

func TestHolderUpdateRejectsInvalid(t *testing.T) {
	h := NewHolder(Default(), "")
	bad := 2.0
	if _, err := h.Update(Update{ThresholdCluster: &bad}); err == nil {
		t.Fatal("expected validation error")
	}
	if h.Current().Analysis.ThresholdCluster != 0.6 {
		t.Errorf("rejected update must not be published")
	}
}

func TestHolderConcurrentReaders(t *testing.T) {
	h := NewHolder(Default(), "")
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			v := float64(i) / 20
			_, _ = h.Update(Update{ThresholdVerify: &v})
		}()
		go func() {
			defer wg.Done()
			snap := h.Current()
			if snap.Analysis.ThresholdVerify < 0 || snap.Analysis.ThresholdVerify > 1 {
				t.Errorf("torn snapshot: %v", snap.Analysis.ThresholdVerify)
			}
		}()
	}
	wg.Wait()
}

func TestWatchReloads(t *testing.T) {
	path := writeConfig(t, "analysis:\n  threshold_cluster: 0.6\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	h := NewHolder(cfg, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := Watch(ctx, h); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("analysis:\n  threshold_cluster: 0.75\n"), 0600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.Current().Analysis.ThresholdCluster == 0.75 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("config was not reloaded, threshold_cluster = %v", h.Current().Analysis.ThresholdCluster)
}
