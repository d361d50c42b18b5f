package media

import "time"

// ProbeResult is the subset of ffprobe output the engine consumes.
type ProbeResult struct {
	Duration      float64
	Width         int
	Height        int
	Codec         string
	Bitrate       int64
	FrameRate     float64
	HasAudio      bool
	AudioCodec    string
	AudioSample   int
	AudioChannels int
}

// Capabilities reports what the installed ffmpeg can encode.
type Capabilities struct {
	Version  string          `json:"version"`
	Encoders map[string]bool `json:"encoders"`

	HasH264   bool      `json:"has_h264"`
	HasAAC    bool      `json:"has_aac"`
	HasMP3    bool      `json:"has_mp3"`
	HasVorbis bool      `json:"has_vorbis"`
	ProbedAt  time.Time `json:"probed_at"`
}

// RunResult is the structured outcome of one ffmpeg/ffprobe subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	OutputPath string        `json:"output_path,omitempty"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }
