// Package jobs defines asynchronous invoice extraction jobs and the
// publisher, consumer and store abstractions that carry them.
package jobs

import (
	"context"
	"errors"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeProcessInvoice runs OCR and LLM extraction for an accepted invoice.
	JobTypeProcessInvoice JobType = "process_invoice"
)

// DefaultMaxRetries applies when a job does not set MaxRetries.
const DefaultMaxRetries = 3

// ErrJobNotFound is returned by a JobStore for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// ProcessInvoiceJob asks a worker to extract an invoice whose document is
// already stored.
type ProcessInvoiceJob struct {
	JobID string `json:"job_id"`

	InvoiceID   string `json:"invoice_id"`
	BatchID     string `json:"batch_id,omitempty"`
	UserID      string `json:"user_id"`
	StorageKey  string `json:"storage_key"`
	ContentType string `json:"content_type"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error holds the last failure message.
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *ProcessInvoiceJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *ProcessInvoiceJob) GetType() JobType {
	return JobTypeProcessInvoice
}

// GetStatus implements the Job interface.
func (j *ProcessInvoiceJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishProcessInvoice publishes an invoice extraction job.
	PublishProcessInvoice(ctx context.Context, job *ProcessInvoiceJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *ProcessInvoiceJob) error

	// GetJob retrieves a job by ID. Unknown ids yield ErrJobNotFound.
	GetJob(ctx context.Context, jobID string) (*ProcessInvoiceJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ProcessInvoiceJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	UserID    string
	InvoiceID string
	Status    JobStatus
	Limit     int
	Offset    int
}

// Prepare fills the defaults every backend applies before publishing.
func (j *ProcessInvoiceJob) Prepare(newID func() string, now time.Time) {
	if j.JobID == "" {
		j.JobID = newID()
	}
	if j.Status == "" {
		j.Status = JobStatusPending
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.MaxRetries == 0 {
		j.MaxRetries = DefaultMaxRetries
	}
}
