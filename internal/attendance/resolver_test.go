package attendance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/database/storetest"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/storage"
)

type resolverFixture struct {
	store     *mock.Store
	extractor *fakeExtractor
	paths     *storage.Manager
	source    *fakeSource
	resolver  *Resolver
}

func newResolverFixture(t *testing.T, mutate func(a *config.AnalysisConfig)) *resolverFixture {
	t.Helper()
	f := &resolverFixture{
		store:     mock.NewStore(),
		extractor: newFakeExtractor(),
		paths:     newTestPaths(t),
		source:    &fakeSource{fps: 10, count: 20, frames: 20},
	}
	require.NoError(t, f.store.UpsertBatch(context.Background(), []database.IdentityRecord{
		storetest.Record("E1", "Alice", 1, 0, 0),
		storetest.Record("E2", "Bob", 0, 1, 0),
	}))
	f.resolver = &Resolver{
		Store:     f.store,
		Extractor: f.extractor,
		Frames:    &fakeOpener{src: f.source},
		Paths:     f.paths,
		Config:    testConfig(mutate),
	}
	return f
}

func TestRecognizeImage(t *testing.T) {
	f := newResolverFixture(t, nil)
	writeImage(t, f.paths, storage.CategoryInputs, "class.png", 7)
	f.extractor.set(7,
		face(10, 0, 1, 0),
		face(10, 0, 0, 1), // unknown
		face(10, 1, 0.05, 0),
		face(10, 0, 0.98, 0.05),
	)

	results, err := f.resolver.RecognizeImage(context.Background(), "class.png")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "E2", results[0].StaffID)
	assert.Equal(t, "E1", results[1].StaffID)
	assert.Equal(t, "E2", results[2].StaffID, "image path does not deduplicate")
	assert.Equal(t, 1, f.store.Calls("UpsertBatch"), "recognition must not write")
}

func TestRecognizeImageNoFaces(t *testing.T) {
	f := newResolverFixture(t, nil)
	writeImage(t, f.paths, storage.CategoryInputs, "empty.png", 3)

	results, err := f.resolver.RecognizeImage(context.Background(), "empty.png")
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRecognizeImageErrors(t *testing.T) {
	f := newResolverFixture(t, nil)
	writeFile(t, f.paths, storage.CategoryInputs, "broken.png", "not a png")

	tests := []struct {
		name string
		path string
		want Kind
	}{
		{"missing file", "nobody.png", KindInputNotFound},
		{"corrupt file", "broken.png", KindDecode},
		{"path escape", "../secrets.png", KindInvalidInput},
		{"empty path", "", KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.resolver.RecognizeImage(context.Background(), tt.path)
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err), err.Error())
		})
	}
}

func TestStride(t *testing.T) {
	tests := []struct {
		fps, interval float64
		want          int
	}{
		{30, 1, 30},
		{25, 0.5, 13}, // 12.5 rounds half away from zero
		{29.97, 1, 30},
		{10, 0.01, 1},
		{0, 1, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Stride(tt.fps, tt.interval), "fps=%v interval=%v", tt.fps, tt.interval)
	}
}

func TestAnalyzeVideo(t *testing.T) {
	f := newResolverFixture(t, nil)
	writeFile(t, f.paths, storage.CategoryInputs, "lecture.mp4", "video")

	// stride = round(10 * 0.5) = 5 -> frames 0, 5, 10, 15 (widths 1, 6, 11, 16)
	f.extractor.set(1, face(10, 1, 0, 0))
	f.extractor.set(6, face(10, 0.99, 0.05, 0))
	f.extractor.set(11, face(10, 1, 0.02, 0))
	// Bob is seen only once, below min_cluster_samples
	f.extractor.set(16, face(10, 0, 1, 0))

	var reports []VideoProgress
	results, err := f.resolver.AnalyzeVideo(context.Background(), "lecture.mp4", func(p VideoProgress) {
		reports = append(reports, p)
	})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 5, 10, 15}, f.source.seeks)
	require.Len(t, results, 1)
	assert.Equal(t, "E1", results[0].StaffID)
	assert.True(t, f.source.released)

	require.NotEmpty(t, reports)
	last := reports[len(reports)-1]
	assert.Equal(t, 4, last.FramesSampled)
	assert.Equal(t, 4, last.FacesSeen)
	assert.Equal(t, 2, last.Clusters)
}

func TestAnalyzeVideoStopsAtEndOfStream(t *testing.T) {
	f := newResolverFixture(t, func(a *config.AnalysisConfig) { a.VideoSampleInterval = 0.1 })
	f.source.frames = 3 // container claims 20 frames but only 3 decode
	writeFile(t, f.paths, storage.CategoryInputs, "short.mp4", "video")

	_, err := f.resolver.AnalyzeVideo(context.Background(), "short.mp4", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, f.source.seeks)
}

func TestAnalyzeVideoUnreadable(t *testing.T) {
	f := newResolverFixture(t, nil)
	writeFile(t, f.paths, storage.CategoryInputs, "bad.mp4", "video")
	f.resolver.Frames = &fakeOpener{err: errors.New("moov atom not found")}

	_, err := f.resolver.AnalyzeVideo(context.Background(), "bad.mp4", nil)
	require.ErrorIs(t, err, ErrSourceUnreadable)
	assert.Zero(t, f.extractor.callCount())
}

func TestAnalyzeVideoMissingInput(t *testing.T) {
	f := newResolverFixture(t, nil)
	_, err := f.resolver.AnalyzeVideo(context.Background(), "nothing.mp4", nil)
	require.ErrorIs(t, err, ErrInputNotFound)
}

func TestAnalyzeVideoCancellation(t *testing.T) {
	f := newResolverFixture(t, func(a *config.AnalysisConfig) { a.VideoSampleInterval = 0.1 })
	writeFile(t, f.paths, storage.CategoryInputs, "long.mp4", "video")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.extractor.onCall = cancel

	_, err := f.resolver.AnalyzeVideo(ctx, "long.mp4", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.extractor.callCount())
	assert.True(t, f.source.released, "the video handle must be released on cancellation")
}

func TestResolveClustersFiltersSmallClusters(t *testing.T) {
	f := newResolverFixture(t, func(a *config.AnalysisConfig) { a.MinClusterSamples = 3 })
	cfg := f.resolver.Config.Current().Analysis

	clusters := []facematch.Cluster{
		{Center: []float32{1, 0, 0}, Count: 2}, // perfect match, too few samples
		{Center: []float32{0, 1, 0}, Count: 3},
	}
	results, err := f.resolver.ResolveClusters(context.Background(), clusters, cfg)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "E2", results[0].StaffID)
}

func TestResolveClustersDeduplicates(t *testing.T) {
	f := newResolverFixture(t, nil)
	cfg := f.resolver.Config.Current().Analysis

	clusters := []facematch.Cluster{
		{Center: []float32{1, 0, 0}, Count: 5},
		{Center: []float32{0, 1, 0}, Count: 5},
		{Center: []float32{1, 0.3, 0}, Count: 5},
	}
	results, err := f.resolver.ResolveClusters(context.Background(), clusters, cfg)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[string]MatchResult{}
	for _, r := range results {
		byID[r.StaffID] = r
	}
	require.Contains(t, byID, "E1")
	assert.Less(t, byID["E1"].Similarity, 1.0, "the later cluster wins")
}

func TestRecognitionUsesConfigSnapshot(t *testing.T) {
	f := newResolverFixture(t, func(a *config.AnalysisConfig) { a.ThresholdVerify = 0.99 })
	faces := []facematch.Face{face(10, 1, 0.3, 0)}

	strict := f.resolver.Config.Current().Analysis
	results, err := f.resolver.RecognizeFaces(context.Background(), faces, strict)
	require.NoError(t, err)
	assert.Empty(t, results)

	relaxed := strict
	relaxed.ThresholdVerify = 0.5
	results, err = f.resolver.RecognizeFaces(context.Background(), faces, relaxed)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}
