package handlers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// JobView is the JSON form of a VideoJob.
type JobView struct {
	ID          string                   `json:"jobId"`
	FilePath    string                   `json:"filePath"`
	Status      JobStatus                `json:"status"`
	Progress    attendance.VideoProgress `json:"progress"`
	Error       string                   `json:"error,omitempty"`
	ErrorKind   attendance.Kind          `json:"errorKind,omitempty"`
	StartedAt   time.Time                `json:"startedAt"`
	CompletedAt *time.Time               `json:"completedAt,omitempty"`
	Result      []attendance.MatchResult `json:"result,omitempty"`
}

// VideoJob is an asynchronous video attendance analysis.
type VideoJob struct {
	EventBroadcaster

	ID          string                   `json:"jobId"`
	FilePath    string                   `json:"filePath"`
	Status      JobStatus                `json:"status"`
	Progress    attendance.VideoProgress `json:"progress"`
	Error       string                   `json:"error,omitempty"`
	ErrorKind   attendance.Kind          `json:"errorKind,omitempty"`
	StartedAt   time.Time                `json:"startedAt"`
	CompletedAt *time.Time               `json:"completedAt,omitempty"`
	Result      []attendance.MatchResult `json:"result,omitempty"`
}

// GetStatus returns the current job status (implements SSEJob).
func (j *VideoJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Snapshot returns a copy of the job state safe to encode.
func (j *VideoJob) Snapshot() JobView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobView{
		ID:          j.ID,
		FilePath:    j.FilePath,
		Status:      j.Status,
		Progress:    j.Progress,
		Error:       j.Error,
		ErrorKind:   j.ErrorKind,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Result:      j.Result,
	}
}

// Cancel cancels the job. A job that already finished is left alone.
func (j *VideoJob) Cancel() bool {
	j.mu.Lock()
	if isJobTerminal(j.Status) {
		j.mu.Unlock()
		return false
	}
	j.Status = JobStatusCancelled
	cancel := j.cancel
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	j.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled by user"})
	return true
}

func (j *VideoJob) setProgress(p attendance.VideoProgress) {
	j.mu.Lock()
	j.Progress = p
	j.mu.Unlock()
	j.SendEvent(JobEvent{Type: "progress", Data: p})
}

// finish records the outcome unless the job was cancelled meanwhile.
func (j *VideoJob) finish(result []attendance.MatchResult, err error) {
	now := time.Now()
	j.mu.Lock()
	j.CompletedAt = &now
	if j.Status == JobStatusCancelled {
		j.mu.Unlock()
		return
	}
	if err != nil {
		j.Status = JobStatusFailed
		j.Error = err.Error()
		j.ErrorKind = attendance.KindOf(err)
	} else {
		j.Status = JobStatusCompleted
		j.Result = result
	}
	j.mu.Unlock()

	if err != nil {
		j.SendEvent(JobEvent{Type: "job_failed", Message: err.Error()})
		return
	}
	j.SendEvent(JobEvent{Type: "job_completed", Data: result})
}

// VideoAnalyzer runs one video analysis.
type VideoAnalyzer func(ctx context.Context, progress func(attendance.VideoProgress)) ([]attendance.MatchResult, error)

// JobManager manages async jobs.
type JobManager struct {
	jobs map[string]*VideoJob
	mu   sync.RWMutex
	wg   sync.WaitGroup
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*VideoJob),
	}
}

// Start registers a job for filePath and runs analyze in the background.
// The job context derives from ctx, not from the request that started it.
// done is called once the job ends.
func (m *JobManager) Start(ctx context.Context, filePath string, timeout time.Duration, analyze VideoAnalyzer, done func()) *VideoJob {
	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}

	job := &VideoJob{
		ID:        uuid.NewString(),
		FilePath:  filePath,
		Status:    JobStatusRunning,
		StartedAt: time.Now(),
	}
	job.cancel = cancel

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.pruneLocked()
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		if done != nil {
			defer done()
		}
		result, err := analyze(jobCtx, job.setProgress)
		job.finish(result, err)
	}()
	return job
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *VideoJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ListJobs returns all jobs, newest first.
func (m *JobManager) ListJobs() []*VideoJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*VideoJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].StartedAt.After(jobs[k].StartedAt) })
	return jobs
}

// CancelAll cancels every running job and waits for them to stop.
func (m *JobManager) CancelAll() {
	for _, job := range m.ListJobs() {
		job.Cancel()
	}
	m.wg.Wait()
}

// pruneLocked forgets the oldest finished jobs beyond the retention limit.
func (m *JobManager) pruneLocked() {
	if len(m.jobs) <= constants.JobRetention {
		return
	}
	finished := make([]*VideoJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		if isJobTerminal(job.GetStatus()) {
			finished = append(finished, job)
		}
	}
	sort.Slice(finished, func(i, k int) bool { return finished[i].StartedAt.Before(finished[k].StartedAt) })
	for _, job := range finished {
		if len(m.jobs) <= constants.JobRetention {
			return
		}
		delete(m.jobs, job.ID)
	}
}
