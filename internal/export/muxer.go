package export

import (
	"fmt"
	"image"
	"os"
	"sync"

	vidio "github.com/AlexEidt/Vidio"
)

// Muxer accepts rendered frames in presentation order and produces the
// encoded container.
type Muxer interface {
	AddFrame(img *image.RGBA, ts, dur float64) error
	Close() error
	Output() ([]byte, error)
}

// MuxerConfig describes the video stream to encode.
type MuxerConfig struct {
	Path    string
	Width   int
	Height  int
	FPS     float64
	Bitrate int
	// AudioPath is muxed in as the audio stream when set.
	AudioPath string
}

// MuxerFactory opens a muxer for one export.
type MuxerFactory func(cfg MuxerConfig) (Muxer, error)

// VidioMuxer pipes frames into an ffmpeg libx264 encoder via Vidio.
type VidioMuxer struct {
	cfg    MuxerConfig
	writer *vidio.VideoWriter

	mu     sync.Mutex
	frames int
	lastTS float64
	closed bool
}

func NewVidioMuxer(cfg MuxerConfig) (Muxer, error) {
	opts := &vidio.Options{
		FPS:        cfg.FPS,
		Bitrate:    cfg.Bitrate,
		Codec:      "libx264",
		StreamFile: cfg.AudioPath,
	}
	w, err := vidio.NewVideoWriter(cfg.Path, cfg.Width, cfg.Height, opts)
	if err != nil {
		return nil, fmt.Errorf("open video writer: %w", err)
	}
	return &VidioMuxer{cfg: cfg, writer: w}, nil
}

func (m *VidioMuxer) AddFrame(img *image.RGBA, ts, dur float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("muxer closed")
	}
	if m.frames > 0 && ts <= m.lastTS {
		return fmt.Errorf("frame timestamp %.4f not after %.4f", ts, m.lastTS)
	}
	b := img.Bounds()
	if b.Dx() != m.cfg.Width || b.Dy() != m.cfg.Height {
		return fmt.Errorf("frame is %dx%d, muxer expects %dx%d", b.Dx(), b.Dy(), m.cfg.Width, m.cfg.Height)
	}
	if err := m.writer.Write(img.Pix); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	m.frames++
	m.lastTS = ts
	return nil
}

// Close flushes the encoder. It is safe to call more than once.
func (m *VidioMuxer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.writer.Close()
	return nil
}

func (m *VidioMuxer) Output() ([]byte, error) {
	data, err := os.ReadFile(m.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("read muxer output: %w", err)
	}
	return data, nil
}
