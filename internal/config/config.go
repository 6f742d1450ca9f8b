package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalid marks a rejected configuration update.
var ErrInvalid = errors.New("invalid configuration")

// Config is an immutable snapshot of the service configuration. Code that
// needs to change it goes through a Holder.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Video     VideoConfig     `yaml:"video"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Auth      AuthConfig      `yaml:"auth"`
	Server    ServerConfig    `yaml:"server"`
}

type StorageConfig struct {
	Root  string            `yaml:"root"`
	Paths map[string]string `yaml:"paths"` // category -> directory relative to Root
}

type DatabaseConfig struct {
	Driver        string `yaml:"driver"`          // memory, hnsw, sqlite, mysql or postgres
	URL           string `yaml:"url"`             // DSN for sqlite, mysql and postgres
	Path          string `yaml:"path"`            // directory for file-backed stores (defaults to the vector_db category)
	Collection    string `yaml:"collection"`      // file base name for file-backed stores
	BatchSize     int    `yaml:"batch_size"`      // records per write when enrolling in bulk
	MaxOpenConns  int    `yaml:"max_open_conns"`  // Maximum open connections
	MaxIdleConns  int    `yaml:"max_idle_conns"`  // Maximum idle connections
	HNSW          bool   `yaml:"hnsw"`            // postgres: serve queries from an in-memory HNSW index
	HNSWIndexPath string `yaml:"hnsw_index_path"` // postgres: persist that index here (optional)
}

type EmbeddingConfig struct {
	URL           string        `yaml:"url"` // InsightFace embedding server
	Dim           int           `yaml:"dim"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxFrameWidth int           `yaml:"max_frame_width"` // frames wider than this are downscaled first
}

type VideoConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
}

// AnalysisConfig holds the values that may change while the service runs.
type AnalysisConfig struct {
	ThresholdVerify     float64 `yaml:"threshold_verify"`
	ThresholdCluster    float64 `yaml:"threshold_cluster"`
	MinClusterSamples   int     `yaml:"min_cluster_samples"`
	VideoSampleInterval float64 `yaml:"video_sample_interval"` // seconds between sampled frames
	// DuplicateFaceThreshold rejects registering a face that already belongs
	// to another staff member above this similarity. 0 disables the check.
	DuplicateFaceThreshold float64 `yaml:"duplicate_face_threshold"`
}

type AuthConfig struct {
	Token       string   `yaml:"token"`
	IPWhitelist []string `yaml:"ip_whitelist"`
}

type ServerConfig struct {
	Host                string        `yaml:"host"`
	Port                int           `yaml:"port"`
	RateLimit           float64       `yaml:"rate_limit"` // requests per second per client, 0 disables
	RateBurst           int           `yaml:"rate_burst"`
	MaxConcurrentVideos int           `yaml:"max_concurrent_videos"`
	VideoTimeout        time.Duration `yaml:"video_timeout"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envString returns the environment variable or defaultVal when unset.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

// loadFile overlays the YAML file at path on the defaults. A missing file
// is not an error.
func loadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted flag
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads the config file at path, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Storage.Root = envString("STORAGE_ROOT", c.Storage.Root)

	c.Database.Driver = envString("DATABASE_DRIVER", c.Database.Driver)
	c.Database.URL = envString("DATABASE_URL", c.Database.URL)
	c.Database.Path = envString("DATABASE_PATH", c.Database.Path)
	c.Database.HNSWIndexPath = envString("HNSW_INDEX_PATH", c.Database.HNSWIndexPath)
	c.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)

	c.Embedding.URL = envString("EMBEDDING_URL", c.Embedding.URL)
	c.Embedding.Dim = envInt("EMBEDDING_DIM", c.Embedding.Dim)

	c.Video.FFmpegPath = envString("FFMPEG_PATH", c.Video.FFmpegPath)
	c.Video.FFprobePath = envString("FFPROBE_PATH", c.Video.FFprobePath)

	c.Auth.Token = envString("AUTH_TOKEN", c.Auth.Token)

	c.Server.Host = envString("WEB_HOST", c.Server.Host)
	c.Server.Port = envInt("WEB_PORT", c.Server.Port)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := c.Analysis.Validate(); err != nil {
		return err
	}
	if c.Storage.Root == "" {
		return errors.New("storage.root is required")
	}
	if c.Database.Driver == "" {
		return errors.New("database.driver is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

// Validate checks the analysis thresholds and sampling settings.
func (a AnalysisConfig) Validate() error {
	if a.ThresholdVerify < -1 || a.ThresholdVerify > 1 {
		return fmt.Errorf("analysis.threshold_verify %v outside [-1, 1]", a.ThresholdVerify)
	}
	if a.ThresholdCluster < -1 || a.ThresholdCluster > 1 {
		return fmt.Errorf("analysis.threshold_cluster %v outside [-1, 1]", a.ThresholdCluster)
	}
	if a.DuplicateFaceThreshold < 0 || a.DuplicateFaceThreshold > 1 {
		return fmt.Errorf("analysis.duplicate_face_threshold %v outside [0, 1]", a.DuplicateFaceThreshold)
	}
	if a.MinClusterSamples < 1 {
		return fmt.Errorf("analysis.min_cluster_samples must be at least 1, got %d", a.MinClusterSamples)
	}
	if a.VideoSampleInterval <= 0 {
		return fmt.Errorf("analysis.video_sample_interval must be positive, got %v", a.VideoSampleInterval)
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Storage.Paths = make(map[string]string, len(c.Storage.Paths))
	for k, v := range c.Storage.Paths {
		out.Storage.Paths[k] = v
	}
	out.Auth.IPWhitelist = append([]string(nil), c.Auth.IPWhitelist...)
	return &out
}
