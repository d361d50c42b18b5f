package api

import (
	"time"

	"github.com/Dombom123/viral-launch-video/internal/jobs"
	"github.com/Dombom123/viral-launch-video/internal/playback"
)

type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeS       int64  `json:"uptime_s"`
	Exporting     bool   `json:"exporting"`
	QueuedExports int    `json:"queued_exports"`
}

type StateResponse struct {
	CurrentTime float64 `json:"current_time"`
	IsPlaying   bool    `json:"is_playing"`
	Duration    float64 `json:"duration"`
}

type SeekRequest struct {
	Time *float64 `json:"time"`
}

type ExportRequest struct {
	Kind     string  `json:"kind"`
	Format   string  `json:"format,omitempty"`
	FPS      float64 `json:"fps,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

type ExportResponse struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	Format      string  `json:"format"`
	FPS         float64 `json:"fps,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	RunID       string  `json:"run_id,omitempty"`
	Status      string  `json:"status"`
	Progress    int     `json:"progress"`
	Error       string  `json:"error,omitempty"`
	MIMEType    string  `json:"mime_type,omitempty"`
	SizeBytes   int64   `json:"size_bytes,omitempty"`
	DownloadURL string  `json:"download_url,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type ExportsResponse struct {
	Exports []ExportResponse `json:"exports"`
}

type GenerateOverlaysRequest struct {
	Prompt string `json:"prompt,omitempty"`
}

type GenerateOverlaysResponse struct {
	Overlays int     `json:"overlays"`
	Duration float64 `json:"duration"`
}

type LoadRunResponse struct {
	RunID    string  `json:"run_id"`
	Items    int     `json:"items"`
	Duration float64 `json:"duration"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func StateToResponse(st playback.State) StateResponse {
	return StateResponse{
		CurrentTime: st.CurrentTime,
		IsPlaying:   st.IsPlaying,
		Duration:    st.Duration,
	}
}

func JobToResponse(j *jobs.Job) ExportResponse {
	resp := ExportResponse{
		ID:        j.ID,
		Kind:      j.Kind,
		Format:    j.Format,
		FPS:       j.FPS,
		Duration:  j.Duration,
		RunID:     j.RunID,
		Status:    j.Status,
		Progress:  j.Progress,
		Error:     j.Error,
		MIMEType:  j.MIMEType,
		SizeBytes: j.SizeBytes,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
	if j.Status == jobs.StatusCompleted {
		resp.DownloadURL = "/exports/" + j.ID + "/file"
	}
	return resp
}
