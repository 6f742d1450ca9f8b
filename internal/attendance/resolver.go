package attendance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/media"
	"github.com/kozaktomas/face-attendance/internal/storage"
)

// Paths resolves names inside the resource directories.
type Paths interface {
	Existing(category, name string) (string, error)
}

// ConfigSource hands out the current configuration snapshot.
// *config.Holder implements it.
type ConfigSource interface {
	Current() *config.Config
}

// StaticConfig is a ConfigSource that never changes.
type StaticConfig struct{ Config *config.Config }

func (s StaticConfig) Current() *config.Config { return s.Config }

// VideoProgress reports how far a video analysis got.
type VideoProgress struct {
	FrameIndex    int `json:"frameIndex"`
	FrameCount    int `json:"frameCount"`
	FramesSampled int `json:"framesSampled"`
	FacesSeen     int `json:"facesSeen"`
	Clusters      int `json:"clusters"`
}

// Resolver turns images and videos into attendance lists. It never writes to
// the store.
type Resolver struct {
	Store     database.IdentityReader
	Extractor embedding.Extractor
	Frames    media.Opener
	Paths     Paths
	Config    ConfigSource
	// MaxFrameWidth downscales sampled frames before extraction, 0 disables it.
	MaxFrameWidth int
}

func (r *Resolver) matcher() Matcher {
	return Matcher{Store: r.Store}
}

// resolveInput maps a caller-supplied name to an existing file under category.
func resolveInput(paths Paths, category, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty file path", ErrInvalidInput)
	}
	path, err := paths.Existing(category, name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "", fmt.Errorf("%w: %s", ErrInputNotFound, name)
	case err != nil:
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return path, nil
}

// RecognizeImage matches every face found in an image under the inputs
// directory. Results follow detection order; the same person may appear twice.
func (r *Resolver) RecognizeImage(ctx context.Context, relPath string) ([]MatchResult, error) {
	cfg := r.Config.Current().Analysis

	path, err := resolveInput(r.Paths, storage.CategoryInputs, relPath)
	if err != nil {
		return nil, err
	}
	img, err := media.DecodeImage(path)
	if err != nil {
		return nil, err
	}

	faces := r.Extractor.Extract(ctx, img)
	return r.RecognizeFaces(ctx, faces, cfg)
}

// RecognizeFaces matches already extracted faces.
func (r *Resolver) RecognizeFaces(ctx context.Context, faces []facematch.Face, cfg config.AnalysisConfig) ([]MatchResult, error) {
	m := r.matcher()
	results := make([]MatchResult, 0, len(faces))
	for _, face := range faces {
		match, err := m.Match(ctx, face.Embedding, cfg.ThresholdVerify)
		if err != nil {
			return nil, err
		}
		if match != nil {
			results = append(results, *match)
		}
	}
	return results, nil
}

// Stride returns how many frames lie between two samples.
func Stride(fps, intervalSeconds float64) int {
	stride := int(math.Round(fps * intervalSeconds))
	return max(stride, 1)
}

// AnalyzeVideo samples a video under the inputs directory, clusters the faces
// it sees and returns one entry per recognized staff member.
// progress may be nil.
func (r *Resolver) AnalyzeVideo(ctx context.Context, relPath string, progress func(VideoProgress)) ([]MatchResult, error) {
	cfg := r.Config.Current().Analysis

	path, err := resolveInput(r.Paths, storage.CategoryInputs, relPath)
	if err != nil {
		return nil, err
	}

	src, err := r.Frames.Open(ctx, path)
	if err != nil {
		if !errors.Is(err, ErrSourceUnreadable) {
			err = fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
		}
		return nil, err
	}
	defer func() {
		if err := src.Release(); err != nil {
			slog.Warn("failed to release video source", "path", relPath, "error", err)
		}
	}()

	clusters, err := r.sampleClusters(ctx, src, cfg, progress)
	if err != nil {
		return nil, err
	}
	return r.ResolveClusters(ctx, clusters, cfg)
}

// sampleClusters reads every stride-th frame and feeds its faces to the
// aggregator.
func (r *Resolver) sampleClusters(ctx context.Context, src media.FrameSource, cfg config.AnalysisConfig, progress func(VideoProgress)) ([]facematch.Cluster, error) {
	agg := facematch.Aggregator{Threshold: cfg.ThresholdCluster}
	stride := Stride(src.FrameRate(), cfg.VideoSampleInterval)
	frameCount := src.FrameCount()

	var clusters []facematch.Cluster
	state := VideoProgress{FrameCount: frameCount}
	report := func() {
		if progress != nil {
			state.Clusters = len(clusters)
			progress(state)
		}
	}

	for idx := 0; ; idx += stride {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// an unknown frame count reads until the decoder runs dry
		if frameCount > 0 && idx >= frameCount {
			break
		}

		if err := src.Seek(idx); err != nil {
			slog.Warn("video seek failed, ending analysis", "frame", idx, "error", err)
			break
		}
		frame, err := src.ReadNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Warn("video read failed, ending analysis", "frame", idx, "error", err)
			break
		}

		frame = media.DownscaleToWidth(frame, r.MaxFrameWidth)
		faces := r.Extractor.Extract(ctx, frame)
		for _, face := range faces {
			clusters = agg.Assign(clusters, face.Embedding)
		}

		state.FrameIndex = idx
		state.FramesSampled++
		state.FacesSeen += len(faces)
		if state.FramesSampled%constants.ProgressEveryFrames == 0 {
			report()
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report()
	return clusters, nil
}

// ResolveClusters drops clusters seen fewer than MinClusterSamples times,
// matches the remaining centers and keeps one result per staff ID. When two
// clusters resolve to the same person the later one wins.
func (r *Resolver) ResolveClusters(ctx context.Context, clusters []facematch.Cluster, cfg config.AnalysisConfig) ([]MatchResult, error) {
	m := r.matcher()
	index := make(map[string]int)
	results := make([]MatchResult, 0)

	for _, c := range facematch.FilterClusters(clusters, cfg.MinClusterSamples) {
		match, err := m.Match(ctx, c.Center, cfg.ThresholdVerify)
		if err != nil {
			return nil, err
		}
		if match == nil {
			continue
		}
		if i, seen := index[match.StaffID]; seen {
			results[i] = *match
			continue
		}
		index[match.StaffID] = len(results)
		results = append(results, *match)
	}
	return results, nil
}
