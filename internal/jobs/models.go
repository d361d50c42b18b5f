// Package jobs queues export requests in SQLite and runs them one at a time
// against the compositing engine.
package jobs

import (
	"time"
)

const (
	KindVideo = "video"
	KindAudio = "audio"
	KindEDL   = "edl"

	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// SettingAuthToken holds the API bearer token.
const SettingAuthToken = "auth_token"

// Job is one queued or finished export.
type Job struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Format     string    `json:"format,omitempty"`
	FPS        float64   `json:"fps,omitempty"`
	Duration   float64   `json:"duration,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	Status     string    `json:"status"`
	Progress   int       `json:"progress"`
	Error      string    `json:"error,omitempty"`
	OutputPath string    `json:"-"`
	MIMEType   string    `json:"mime_type,omitempty"`
	SizeBytes  int64     `json:"size_bytes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Done reports whether the job reached a terminal status.
func (j *Job) Done() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Request describes an export to enqueue.
type Request struct {
	Kind     string  `json:"kind"`
	Format   string  `json:"format,omitempty"`
	FPS      float64 `json:"fps,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	RunID    string  `json:"run_id,omitempty"`
}
