package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Update is a partial change to the runtime-tunable settings.
// Nil fields are left unchanged.
type Update struct {
	ThresholdVerify     *float64 `json:"thresholdVerify,omitempty"`
	ThresholdCluster    *float64 `json:"thresholdCluster,omitempty"`
	VideoSampleInterval *float64 `json:"videoInterval,omitempty"`
	MinClusterSamples   *int     `json:"minClusterSamples,omitempty"`
	IPWhitelist         []string `json:"ipWhitelist,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u Update) IsEmpty() bool {
	return u.ThresholdVerify == nil && u.ThresholdCluster == nil && u.VideoSampleInterval == nil &&
		u.MinClusterSamples == nil && u.IPWhitelist == nil
}

func (u Update) apply(c *Config) {
	if u.ThresholdVerify != nil {
		c.Analysis.ThresholdVerify = *u.ThresholdVerify
	}
	if u.ThresholdCluster != nil {
		c.Analysis.ThresholdCluster = *u.ThresholdCluster
	}
	if u.VideoSampleInterval != nil {
		c.Analysis.VideoSampleInterval = *u.VideoSampleInterval
	}
	if u.MinClusterSamples != nil {
		c.Analysis.MinClusterSamples = *u.MinClusterSamples
	}
	if u.IPWhitelist != nil {
		c.Auth.IPWhitelist = append([]string(nil), u.IPWhitelist...)
	}
}

// Holder publishes configuration snapshots. Readers call Current once per
// operation and keep using that snapshot; updates swap in a new one.
type Holder struct {
	path    string
	current atomic.Pointer[Config]
	mu      sync.Mutex // serializes writers
}

// NewHolder wraps cfg. When path is set, updates are written back to it.
func NewHolder(cfg *Config, path string) *Holder {
	h := &Holder{path: path}
	h.current.Store(cfg)
	return h
}

// Path returns the backing config file, if any.
func (h *Holder) Path() string {
	return h.path
}

// Current returns the active snapshot. Callers must not modify it.
func (h *Holder) Current() *Config {
	return h.current.Load()
}

// Update validates and applies u, persists it to the config file and then
// publishes the new snapshot. On error nothing changes.
func (h *Holder) Update(u Update) (*Config, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.Current().Clone()
	u.apply(next)
	if err := next.Analysis.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if h.path != "" {
		if err := h.persist(u); err != nil {
			return nil, err
		}
	}

	h.current.Store(next)
	return next, nil
}

// persist applies u to the file contents rather than to the live snapshot,
// so environment overrides are not written to disk.
func (h *Holder) persist(u Update) error {
	onDisk, err := loadFile(h.path)
	if err != nil {
		return err
	}
	u.apply(onDisk)

	data, err := yaml.Marshal(onDisk)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(h.path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), h.path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Reload re-reads the config file and publishes it. An invalid file leaves
// the current snapshot in place.
func (h *Holder) Reload() (*Config, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cfg, err := Load(h.path)
	if err != nil {
		return nil, err
	}
	h.current.Store(cfg)
	return cfg, nil
}
