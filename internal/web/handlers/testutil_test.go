package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/media"
	"github.com/kozaktomas/face-attendance/internal/storage"
)

// fakeExtractor returns canned faces keyed by image width. When gate is set,
// Extract blocks until it is closed or the context ends.
type fakeExtractor struct {
	mu    sync.Mutex
	faces map[int][]facematch.Face
	gate  chan struct{}
}

func (f *fakeExtractor) Extract(ctx context.Context, img image.Image) []facematch.Face {
	f.mu.Lock()
	gate := f.gate
	faces := f.faces[img.Bounds().Dx()]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	return faces
}

// frameSource serves n frames of width 1.
type frameSource struct {
	n, pos int
}

func (s *frameSource) FrameRate() float64 { return 1 }
func (s *frameSource) FrameCount() int    { return s.n }
func (s *frameSource) Seek(idx int) error { s.pos = idx; return nil }
func (s *frameSource) Release() error     { return nil }

func (s *frameSource) ReadNext() (image.Image, error) {
	if s.pos >= s.n {
		return nil, io.EOF
	}
	s.pos++
	return image.NewGray(image.Rect(0, 0, 1, 1)), nil
}

type frameOpener struct{ frames int }

func (o frameOpener) Open(context.Context, string) (media.FrameSource, error) {
	return &frameSource{n: o.frames}, nil
}

type testEnv struct {
	holder    *config.Holder
	store     *mock.Store
	paths     *storage.Manager
	extractor *fakeExtractor
	resolver  *attendance.Resolver
	registry  *attendance.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Root = t.TempDir()
	cfg.Auth.Token = "secret"
	cfg.Analysis.MinClusterSamples = 1

	paths, err := storage.New(cfg.Storage)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}

	env := &testEnv{
		holder:    config.NewHolder(cfg, filepath.Join(t.TempDir(), "config.yaml")),
		store:     mock.NewStore(),
		paths:     paths,
		extractor: &fakeExtractor{faces: make(map[int][]facematch.Face)},
	}
	env.resolver = &attendance.Resolver{
		Store:     env.store,
		Extractor: env.extractor,
		Frames:    frameOpener{frames: 3},
		Paths:     paths,
		Config:    env.holder,
	}
	env.registry = &attendance.Registry{
		Store:     env.store,
		Extractor: env.extractor,
		Paths:     paths,
		Config:    env.holder,
	}
	return env
}

// writeImage stores a blank PNG of the given width and registers faces for it.
func (e *testEnv) writeImage(t *testing.T, category, name string, width int, faces ...facematch.Face) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, width, 1))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if _, err := e.paths.Save(category, name, &buf); err != nil {
		t.Fatalf("save image: %v", err)
	}
	e.extractor.mu.Lock()
	e.extractor.faces[width] = faces
	e.extractor.mu.Unlock()
}

func (e *testEnv) writeFile(t *testing.T, category, name string) {
	t.Helper()
	path, err := e.paths.Path(category, name)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("data"), 0o600); err != nil {
		t.Fatal(err)
	}
}

func testFace(emb ...float32) facematch.Face {
	return facematch.Face{BBox: facematch.BBox{0, 0, 10, 10}, Embedding: emb}
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// jsonRequest builds a request with a JSON body.
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// decodedResponse is apiResponse with the data left raw.
type decodedResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) decodedResponse {
	t.Helper()
	var resp decodedResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", recorder.Body.String(), err)
	}
	return resp
}

func decodeData(t *testing.T, resp decodedResponse, v any) {
	t.Helper()
	if err := json.Unmarshal(resp.Data, v); err != nil {
		t.Fatalf("failed to unmarshal data %q: %v", resp.Data, err)
	}
}
