package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/semaphore"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

// Recognition input types.
const (
	RecognizeTypeImage = 0
	RecognizeTypeVideo = 1
)

// RecognizeHandler handles attendance recognition endpoints
type RecognizeHandler struct {
	resolver     *attendance.Resolver
	jobs         *JobManager
	videoSlots   *semaphore.Weighted
	videoTimeout time.Duration
	// baseCtx outlives requests; async jobs derive from it.
	baseCtx context.Context
}

// NewRecognizeHandler creates a recognize handler allowing maxVideos
// concurrent video analyses.
func NewRecognizeHandler(ctx context.Context, resolver *attendance.Resolver, jobs *JobManager, maxVideos int, videoTimeout time.Duration) *RecognizeHandler {
	if maxVideos <= 0 {
		maxVideos = 1
	}
	return &RecognizeHandler{
		resolver:     resolver,
		jobs:         jobs,
		videoSlots:   semaphore.NewWeighted(int64(maxVideos)),
		videoTimeout: videoTimeout,
		baseCtx:      ctx,
	}
}

// RecognizeRequest represents an attendance request. Type 0 is an image,
// type 1 a video.
type RecognizeRequest struct {
	FilePath string `json:"filePath"`
	Type     int    `json:"type"`
}

func (req RecognizeRequest) validate(w http.ResponseWriter) bool {
	if req.FilePath == "" {
		respondError(w, http.StatusBadRequest, "filePath is required")
		return false
	}
	if req.Type != RecognizeTypeImage && req.Type != RecognizeTypeVideo {
		respondError(w, http.StatusBadRequest, "type must be 0 (image) or 1 (video)")
		return false
	}
	return true
}

// Recognize runs an image or video analysis and answers with the attendees.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	var req RecognizeRequest
	if !decodeJSON(w, r, &req) || !req.validate(w) {
		return
	}

	var (
		results []attendance.MatchResult
		err     error
	)
	if req.Type == RecognizeTypeVideo {
		if !h.videoSlots.TryAcquire(1) {
			respondError(w, http.StatusServiceUnavailable, "too many video analyses in progress")
			return
		}
		ctx, cancel := h.videoContext(r.Context())
		results, err = h.resolver.AnalyzeVideo(ctx, req.FilePath, nil)
		cancel()
		h.videoSlots.Release(1)
	} else {
		results, err = h.resolver.RecognizeImage(r.Context(), req.FilePath)
	}
	if err != nil {
		respondFailure(w, "recognize "+sanitizeForLog(req.FilePath), err)
		return
	}
	respondOK(w, "attendance complete", results)
}

func (h *RecognizeHandler) videoContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.videoTimeout > 0 {
		return context.WithTimeout(ctx, h.videoTimeout)
	}
	return context.WithCancel(ctx)
}

// StartJob starts an asynchronous video analysis and answers 202 with the job.
func (h *RecognizeHandler) StartJob(w http.ResponseWriter, r *http.Request) {
	var req RecognizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Type = RecognizeTypeVideo
	if !req.validate(w) {
		return
	}
	if !h.videoSlots.TryAcquire(1) {
		respondError(w, http.StatusServiceUnavailable, "too many video analyses in progress")
		return
	}

	filePath := req.FilePath
	job := h.jobs.Start(h.baseCtx, filePath, h.videoTimeout,
		func(ctx context.Context, progress func(attendance.VideoProgress)) ([]attendance.MatchResult, error) {
			return h.resolver.AnalyzeVideo(ctx, filePath, progress)
		},
		func() { h.videoSlots.Release(1) },
	)
	respondJSON(w, http.StatusAccepted, apiResponse{Code: http.StatusAccepted, Msg: "job started", Data: job.Snapshot()})
}

// JobStatus returns the state of an async job.
func (h *RecognizeHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	job := h.jobs.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondOK(w, "ok", job.Snapshot())
}

// ListJobs returns every tracked job.
func (h *RecognizeHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobs.ListJobs()
	out := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.Snapshot())
	}
	respondOK(w, "ok", out)
}

// Events streams job progress as server-sent events.
func (h *RecognizeHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			if job := h.jobs.GetJob(id); job != nil {
				return job
			}
			return nil
		},
		func(job SSEJob) any {
			if vj, ok := job.(*VideoJob); ok {
				return vj.Snapshot()
			}
			return nil
		},
	)
}

// Cancel cancels a running job.
func (h *RecognizeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job := h.jobs.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if !job.Cancel() {
		respondError(w, http.StatusConflict, "job already finished")
		return
	}
	respondOK(w, "job cancelled", job.Snapshot())
}
