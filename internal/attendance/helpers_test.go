package attendance

import (
	"context"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/media"
	"github.com/kozaktomas/face-attendance/internal/storage"
)

// fakeExtractor returns canned faces keyed by the width of the image it gets.
type fakeExtractor struct {
	mu      sync.Mutex
	byWidth map[int][]facematch.Face
	calls   int
	onCall  func()
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{byWidth: make(map[int][]facematch.Face)}
}

func (f *fakeExtractor) set(width int, faces ...facematch.Face) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byWidth[width] = faces
}

func (f *fakeExtractor) Extract(_ context.Context, img image.Image) []facematch.Face {
	f.mu.Lock()
	f.calls++
	faces := f.byWidth[img.Bounds().Dx()]
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return faces
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func face(area float64, emb ...float32) facematch.Face {
	return facematch.Face{BBox: facematch.BBox{0, 0, area, 1}, DetScore: 0.9, Embedding: emb}
}

// fakeSource serves frames whose width is index+1 so the extractor can tell
// them apart.
type fakeSource struct {
	fps      float64
	count    int
	frames   int // frames actually decodable
	pos      int
	seeks    []int
	released bool
}

func (s *fakeSource) FrameRate() float64 { return s.fps }
func (s *fakeSource) FrameCount() int    { return s.count }

func (s *fakeSource) Seek(idx int) error {
	s.seeks = append(s.seeks, idx)
	s.pos = idx
	return nil
}

func (s *fakeSource) ReadNext() (image.Image, error) {
	if s.pos >= s.frames {
		return nil, io.EOF
	}
	img := image.NewGray(image.Rect(0, 0, s.pos+1, 1))
	s.pos++
	return img, nil
}

func (s *fakeSource) Release() error {
	s.released = true
	return nil
}

type fakeOpener struct {
	src *fakeSource
	err error
}

func (o *fakeOpener) Open(context.Context, string) (media.FrameSource, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.src, nil
}

func newTestPaths(t *testing.T) *storage.Manager {
	t.Helper()
	cfg := config.Default().Storage
	cfg.Root = t.TempDir()
	paths, err := storage.New(cfg)
	require.NoError(t, err)
	return paths
}

// writeImage writes a blank PNG of the given width into category.
func writeImage(t *testing.T, paths *storage.Manager, category, name string, width int) {
	t.Helper()
	path, err := paths.Path(category, name)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, width, 1))))
}

func writeFile(t *testing.T, paths *storage.Manager, category, name, content string) {
	t.Helper()
	path, err := paths.Path(category, name)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func testConfig(mutate func(a *config.AnalysisConfig)) StaticConfig {
	cfg := config.Default()
	cfg.Analysis.ThresholdVerify = 0.5
	cfg.Analysis.ThresholdCluster = 0.8
	cfg.Analysis.MinClusterSamples = 2
	cfg.Analysis.VideoSampleInterval = 0.5
	cfg.Analysis.DuplicateFaceThreshold = 0
	if mutate != nil {
		mutate(&cfg.Analysis)
	}
	return StaticConfig{Config: cfg}
}
