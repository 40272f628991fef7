package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusDownloading JobStatus = "downloading"
	StatusRetrying    JobStatus = "retrying"
	StatusComplete    JobStatus = "complete"
	StatusError       JobStatus = "error"
)

// IsActive reports whether the job still holds a concurrency slot.
func (s JobStatus) IsActive() bool {
	return s == StatusPending || s == StatusDownloading || s == StatusRetrying
}

// IsTerminal reports whether the job can transition no further.
func (s JobStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

// Job is one tracked request to fetch a piece of external media.
type Job struct {
	ID         uuid.UUID `json:"id"`
	ContentID  string    `json:"contentId"`
	Title      string    `json:"title"`
	Artist     string    `json:"artist,omitempty"`
	Duration   int       `json:"duration,omitempty"` // seconds
	CoverURL   string    `json:"coverUrl,omitempty"`
	Status     JobStatus `json:"status"`
	Progress   int       `json:"progress"` // 0..100
	RetryCount int       `json:"retryCount"`
	FilePath   string    `json:"filePath,omitempty"`
	FileSize   int64     `json:"fileSize,omitempty"`
	Error      *string   `json:"error,omitempty"`
	ErrorKind  string    `json:"errorKind,omitempty"`
	Retryable  bool      `json:"retryable"`
	UsageCount int       `json:"usageCount"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CreateJobFields is the caller-supplied part of a new job record.
// The repository assigns id, timestamps and the initial pending status.
type CreateJobFields struct {
	ContentID string
	Title     string
	Artist    string
	Duration  int
	CoverURL  string
}

// JobPatch is a partial update; nil fields are left untouched.
type JobPatch struct {
	Status     *JobStatus
	Progress   *int
	RetryCount *int
	FilePath   *string
	FileSize   *int64
	Error      *string
	ErrorKind  *string
	Retryable  *bool
}
