package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

// StaffHandler handles registration and staff management endpoints
type StaffHandler struct {
	registry *attendance.Registry
}

// NewStaffHandler creates a new staff handler
func NewStaffHandler(registry *attendance.Registry) *StaffHandler {
	return &StaffHandler{registry: registry}
}

// RegisterRequest represents a staff registration request
type RegisterRequest struct {
	StaffID   string `json:"staffId"`
	Name      string `json:"name"`
	ImagePath string `json:"imagePath"`
}

// DeleteRequest represents a staff deletion request
type DeleteRequest struct {
	StaffID string `json:"staffId"`
}

// StaffRecord is one stored record as returned by the staff detail endpoint.
type StaffRecord struct {
	RecordID       string `json:"recordId"`
	Name           string `json:"name"`
	SourceFileName string `json:"sourceFileName"`
	CreatedAt      string `json:"createdAt,omitempty"`
}

// Register enrolls a staff member from an image in the staff images directory
func (h *StaffHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StaffID == "" || req.Name == "" || req.ImagePath == "" {
		respondError(w, http.StatusBadRequest, "staffId, name and imagePath are required")
		return
	}

	result, err := h.registry.Register(r.Context(), req.ImagePath, req.StaffID, req.Name)
	if err != nil {
		respondFailure(w, "register "+sanitizeForLog(req.StaffID), err)
		return
	}
	respondOK(w, "registered", result)
}

// Delete removes every record of a staff member
func (h *StaffHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StaffID == "" {
		respondError(w, http.StatusBadRequest, "staffId is required")
		return
	}

	n, err := h.registry.Delete(r.Context(), req.StaffID)
	if err != nil {
		respondFailure(w, "delete staff", err)
		return
	}
	if n == 0 {
		respondError(w, http.StatusNotFound, "staff not found")
		return
	}
	respondOK(w, fmt.Sprintf("deleted %d records", n), map[string]int{"deleted": n})
}

// List returns the enrolled staff, filtered by the optional ?name= query
func (h *StaffHandler) List(w http.ResponseWriter, r *http.Request) {
	staff, err := h.registry.List(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		respondFailure(w, "list staff", err)
		return
	}
	respondOK(w, "ok", staff)
}

// Get returns the records of one staff member
func (h *StaffHandler) Get(w http.ResponseWriter, r *http.Request) {
	staffID := chi.URLParam(r, "staffId")
	records, err := h.registry.Lookup(r.Context(), staffID)
	if err != nil {
		respondFailure(w, "lookup staff", err)
		return
	}

	out := make([]StaffRecord, 0, len(records))
	for _, rec := range records {
		sr := StaffRecord{RecordID: rec.RecordID, Name: rec.Name, SourceFileName: rec.SourceFileName}
		if !rec.CreatedAt.IsZero() {
			sr.CreatedAt = rec.CreatedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, sr)
	}
	respondOK(w, "ok", map[string]any{"staffId": staffID, "records": out})
}
