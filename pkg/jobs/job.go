// Package jobs holds the state of video jobs: an injected store with TTL
// expiry of finished jobs and the admission gate that bounds how many jobs
// run at once.
package jobs

import (
	"errors"
	"time"

	"lessonforge/pkg/utils"
)

// MaxErrorLength bounds the error text kept on a failed job.
const MaxErrorLength = 500

// ErrNotFound is returned for unknown job ids.
var ErrNotFound = errors.New("job not found")

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusPlanning  Status = "planning"
	StatusRendering Status = "rendering"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ValidStatus reports whether s names a known status.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusPlanning, StatusRendering, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the job has finished.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one topic-to-video request.
type Job struct {
	ID          string     `json:"task_id"`
	Topic       string     `json:"topic"`
	Description string     `json:"context,omitempty"`
	MaxScenes   int        `json:"max_scenes"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message,omitempty"`
	Artifact    string     `json:"video_url,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Fail marks the job failed with a bounded error message.
func (j *Job) Fail(err error, now time.Time) {
	j.Status = StatusFailed
	j.Error = TruncateError(err.Error())
	j.Message = "failed"
	j.CompletedAt = &now
}

// Complete marks the job completed.
func (j *Job) Complete(artifact string, now time.Time) {
	j.Status = StatusCompleted
	j.Progress = 100
	j.Artifact = artifact
	j.Message = "completed"
	j.CompletedAt = &now
}

// TruncateError bounds msg to MaxErrorLength runes.
func TruncateError(msg string) string {
	return utils.TruncateRunes(msg, MaxErrorLength)
}
