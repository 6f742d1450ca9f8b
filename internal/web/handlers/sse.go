package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// isJobTerminal returns true if the job status is a terminal state
func isJobTerminal(status JobStatus) bool {
	return status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled
}

// sendSSEEvent writes one server-sent event and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte(`{}`)
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
	flusher.Flush()
}

// streamSSEEvents streams the events of the job named by the "jobId" URL
// parameter until it finishes or the client goes away. The first event is
// the current status from getInitialData.
func streamSSEEvents(w http.ResponseWriter, r *http.Request, lookupJob func(string) SSEJob, getInitialData func(SSEJob) any) {
	job := lookupJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventCh := job.AddListener()
	defer job.RemoveListener(eventCh)

	sendSSEEvent(w, flusher, "status", getInitialData(job))
	if isJobTerminal(job.GetStatus()) {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
			if isJobTerminal(job.GetStatus()) {
				return
			}
		}
	}
}
