package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/dgallion1/ragingest/internal/crawl"
	"github.com/google/uuid"
)

// JobStatus represents the state of an ingestion job.
type JobStatus string

const (
	StatusQueued       JobStatus = "queued"
	StatusInitializing JobStatus = "initializing"
	StatusConverting   JobStatus = "converting"
	StatusChunking     JobStatus = "chunking"
	StatusStoring      JobStatus = "storing"
	StatusCompleted    JobStatus = "completed"
	StatusPartial      JobStatus = "partial"
	StatusFailed       JobStatus = "failed"
	StatusRevoked      JobStatus = "revoked"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusRevoked:
		return true
	}
	return false
}

// progress percentages reported for each stage.
var stageProgress = map[JobStatus]int{
	StatusQueued:       0,
	StatusInitializing: 0,
	StatusConverting:   20,
	StatusChunking:     40,
	StatusStoring:      60,
	StatusCompleted:    100,
	StatusPartial:      100,
}

// JobKind selects the pipeline a job runs through.
type JobKind string

const (
	KindDocument   JobKind = "document"
	KindConfluence JobKind = "confluence"
)

// Result is the outcome of a finished job.
type Result struct {
	ChunksProcessed  int           `json:"chunks_processed"`
	DocumentID       string        `json:"document_id,omitempty"`
	Filename         string        `json:"filename,omitempty"`
	RenderErrors     int           `json:"render_errors"`
	ProvenanceErrors int           `json:"provenance_errors"`
	ExportedFiles    []string      `json:"exported_files,omitempty"`
	ExportErrors     int           `json:"export_errors,omitempty"`
	Crawl            *crawl.Result `json:"crawl,omitempty"`
}

// Job tracks the state of a single ingestion.
type Job struct {
	mu sync.Mutex

	ID   string
	Kind JobKind

	// Document jobs
	Source      string
	Category    string
	Subcategory string

	// Confluence jobs
	Crawl crawl.Request

	status    JobStatus
	progress  int
	result    *Result
	err       string
	warnings  []string
	createdAt time.Time
	updatedAt time.Time
	cancel    context.CancelFunc
}

// NewDocumentJob returns a queued job for a local path or URL.
func NewDocumentJob(source, category, subcategory string) *Job {
	j := newJob(KindDocument)
	j.Source = source
	j.Category = category
	j.Subcategory = subcategory
	return j
}

// NewConfluenceJob returns a queued crawl job.
func NewConfluenceJob(req crawl.Request) *Job {
	j := newJob(KindConfluence)
	j.Crawl = req
	return j
}

func newJob(kind JobKind) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		status:    StatusQueued,
		createdAt: now,
		updatedAt: now,
	}
}

// SetStage moves a running job to status. It returns false once the job has
// reached a terminal state, for example after a revoke.
func (j *Job) SetStage(status JobStatus) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = status
	j.progress = stageProgress[status]
	j.updatedAt = time.Now()
	return true
}

// Finish records the result with a completed or partial status.
func (j *Job) Finish(status JobStatus, res *Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.status = status
	j.progress = 100
	j.result = res
	j.updatedAt = time.Now()
}

// Fail marks the job failed unless it already ended.
func (j *Job) Fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.status = StatusFailed
	j.err = err.Error()
	j.updatedAt = time.Now()
}

// Warn records a recovered problem.
func (j *Job) Warn(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.warnings = append(j.warnings, msg)
	j.updatedAt = time.Now()
}

// Revoke stops the job. Queued jobs are never started and running jobs have
// their context cancelled. It reports false for jobs that already ended.
func (j *Job) Revoke() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = StatusRevoked
	j.updatedAt = time.Now()
	if j.cancel != nil {
		j.cancel()
	}
	return true
}

// Status returns the current status.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) setCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
}

func (j *Job) lastUpdate() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.updatedAt
}

// Progress is the stage report of a running job.
type Progress struct {
	Stage   JobStatus `json:"stage"`
	Percent int       `json:"progress"`
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID        string    `json:"task_id"`
	Kind      JobKind   `json:"kind"`
	Status    JobStatus `json:"status"`
	Result    *Result   `json:"result"`
	Error     *string   `json:"error"`
	Progress  Progress  `json:"progress"`
	Warnings  []string  `json:"warnings"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	warnings := append([]string{}, j.warnings...)
	snap := JobSnapshot{
		ID:        j.ID,
		Kind:      j.Kind,
		Status:    j.status,
		Result:    j.result,
		Progress:  Progress{Stage: j.status, Percent: j.progress},
		Warnings:  warnings,
		CreatedAt: j.createdAt,
		UpdatedAt: j.updatedAt,
	}
	if j.Kind == KindDocument {
		snap.Source = j.Source
	} else {
		snap.Source = j.Crawl.URL
	}
	if j.err != "" {
		e := j.err
		snap.Error = &e
	}
	return snap
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes finished jobs that have not changed within the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if job.Status().Terminal() && now.Sub(job.lastUpdate()) > s.ttl {
			delete(s.jobs, id)
		}
	}
}
