package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

func TestRespondJSON_SetsContentType(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusOK, map[string]string{"status": "ok"})

	contentType := recorder.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", contentType)
	}
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusNoContent, nil)

	if recorder.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body for nil data, got '%s'", recorder.Body.String())
	}
}

func TestRespondError_Envelope(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"BadRequest", http.StatusBadRequest},
		{"Unauthorized", http.StatusUnauthorized},
		{"NotFound", http.StatusNotFound},
		{"InternalServerError", http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondError(recorder, tc.statusCode, "test error")

			if recorder.Code != tc.statusCode {
				t.Errorf("expected status %d, got %d", tc.statusCode, recorder.Code)
			}
			resp := decodeResponse(t, recorder)
			if resp.Code != tc.statusCode || resp.Msg != "test error" {
				t.Errorf("unexpected envelope %+v", resp)
			}
		})
	}
}

func TestRespondOK_WrapsData(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondOK(recorder, "done", []string{"one", "two"})

	resp := decodeResponse(t, recorder)
	if resp.Code != http.StatusOK || resp.Msg != "done" {
		t.Errorf("unexpected envelope %+v", resp)
	}
	var data []string
	decodeData(t, resp, &data)
	if len(data) != 2 {
		t.Errorf("expected 2 items, got %d", len(data))
	}
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind attendance.Kind
		want int
	}{
		{attendance.KindInputNotFound, http.StatusNotFound},
		{attendance.KindStaffNotFound, http.StatusNotFound},
		{attendance.KindDecode, http.StatusUnprocessableEntity},
		{attendance.KindSourceUnreadable, http.StatusUnprocessableEntity},
		{attendance.KindNoFaceDetected, http.StatusUnprocessableEntity},
		{attendance.KindInvalidInput, http.StatusBadRequest},
		{attendance.KindDuplicateFace, http.StatusConflict},
		{attendance.KindStoreUnavailable, http.StatusServiceUnavailable},
		{attendance.KindCanceled, http.StatusGatewayTimeout},
		{attendance.KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := statusForKind(tc.kind); got != tc.want {
			t.Errorf("statusForKind(%q) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		wantOK bool
	}{
		{"valid", `{"staffId":"E1"}`, true},
		{"malformed", `{"staffId":`, false},
		{"trailing data", `{"staffId":"E1"} {}`, false},
		{"too large", `{"staffId":"` + strings.Repeat("x", 2<<20) + `"}`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			recorder := httptest.NewRecorder()

			var v DeleteRequest
			ok := decodeJSON(recorder, req, &v)
			if ok != tc.wantOK {
				t.Fatalf("decodeJSON() = %v, want %v (%s)", ok, tc.wantOK, recorder.Body.String())
			}
			if !ok {
				var resp map[string]any
				if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
					t.Errorf("error response is not JSON: %v", err)
				}
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("a\nb\rc"); got != "abc" {
		t.Errorf("sanitizeForLog() = %q", got)
	}
}
