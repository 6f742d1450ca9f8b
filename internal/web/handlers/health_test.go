package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakePinger struct{ err error }

func (p fakePinger) Health(context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name          string
		countErr      error
		embedding     Pinger
		wantStatus    int
		wantHealth    string
		wantEmbedding string
	}{
		{"all ok", nil, fakePinger{}, http.StatusOK, "ok", "ok"},
		{"no embedding check", nil, nil, http.StatusOK, "ok", ""},
		{"embedding down", nil, fakePinger{err: errors.New("refused")}, http.StatusOK, "degraded", "unavailable"},
		{"store down", errors.New("closed"), fakePinger{}, http.StatusServiceUnavailable, "degraded", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.store.CountError = tc.countErr
			h := NewHealthHandler(env.store, tc.embedding)

			recorder := httptest.NewRecorder()
			h.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

			if recorder.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d", tc.wantStatus, recorder.Code)
			}
			var resp healthResponse
			if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tc.wantHealth || resp.Embedding != tc.wantEmbedding {
				t.Errorf("unexpected health %+v", resp)
			}
		})
	}
}
