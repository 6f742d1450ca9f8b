package handlers

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/storage"
)

// FilesHandler stores uploaded images and videos in the resource directories
// so they can be referenced by path afterwards.
type FilesHandler struct {
	storage *storage.Manager
}

// NewFilesHandler creates a new files handler
func NewFilesHandler(m *storage.Manager) *FilesHandler {
	return &FilesHandler{storage: m}
}

var uploadCategories = map[string]bool{
	storage.CategoryInputs:      true,
	storage.CategoryStaffImages: true,
}

// Upload handles multipart uploads to /files/{category}. Every part of the
// "files" field is stored under its base name.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	if !uploadCategories[category] {
		respondError(w, http.StatusNotFound, "unknown category")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no files provided")
		return
	}

	saved := make([]string, 0, len(files))
	for _, fh := range files {
		name := filepath.Base(fh.Filename)
		f, err := fh.Open()
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to open "+name)
			return
		}
		_, err = h.storage.Save(category, name, f)
		f.Close()
		if errors.Is(err, storage.ErrPathEscape) {
			respondError(w, http.StatusBadRequest, "invalid file name "+name)
			return
		}
		if err != nil {
			respondFailure(w, "save upload", err)
			return
		}
		saved = append(saved, name)
	}
	respondOK(w, "uploaded", map[string]any{"category": category, "files": saved})
}

// List returns the files stored in a category.
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	if !uploadCategories[category] {
		respondError(w, http.StatusNotFound, "unknown category")
		return
	}
	names, err := h.storage.List(category)
	if err != nil {
		respondFailure(w, "list files", err)
		return
	}
	respondOK(w, "ok", names)
}
