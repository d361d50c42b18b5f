package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

// Runner executes ffmpeg and ffprobe as subprocesses. It is the single seam
// between the engine and the ffmpeg command line.
type Runner interface {
	// Probe runs ffprobe on path.
	Probe(ctx context.Context, path string) (*ProbeResult, error)

	// ExtractAudio decodes the first audio stream of src from 0 for at most
	// seconds and writes 16-bit stereo 44.1 kHz WAV to outPath.
	ExtractAudio(ctx context.Context, src string, seconds float64, outPath string) (RunResult, error)

	// Transcode converts inPath to outPath with extra encoder args.
	Transcode(ctx context.Context, inPath, outPath string, args ...string) (RunResult, error)

	// RunDoctor lists the encoders of the installed ffmpeg.
	RunDoctor(ctx context.Context) (*Capabilities, error)
}

// Config holds the runner's configuration.
type Config struct {
	FFmpegPath       string        // empty = look up "ffmpeg" on PATH
	FFprobePath      string        // empty = derive from FFmpegPath, then PATH
	ProbeTimeout     time.Duration // per ffprobe call
	ExtractTimeout   time.Duration // per audio extraction
	TranscodeTimeout time.Duration // per transcode
	DoctorTimeout    time.Duration
	Logger           *slog.Logger
	DebugPaths       bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		ProbeTimeout:     30 * time.Second,
		ExtractTimeout:   5 * time.Minute,
		TranscodeTimeout: 10 * time.Minute,
		DoctorTimeout:    30 * time.Second,
		Logger:           logger,
	}
}

// SubprocessRunner is the production implementation of Runner.
type SubprocessRunner struct {
	cfg     Config
	ffmpeg  string
	ffprobe string
}

// NewRunner creates a SubprocessRunner, resolving the binaries.
func NewRunner(cfg Config) (*SubprocessRunner, error) {
	ffmpeg, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffmpeg: %w", err)
	}

	probePref := cfg.FFprobePath
	if probePref == "" && strings.ContainsRune(ffmpeg, os.PathSeparator) {
		candidate := filepath.Join(filepath.Dir(ffmpeg), "ffprobe")
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			probePref = candidate
		}
	}
	ffprobe, err := resolveBinary(probePref, "ffprobe")
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffprobe: %w", err)
	}

	cfg.Logger.Info("ffmpeg runner initialised", "ffmpeg", ffmpeg, "ffprobe", ffprobe)

	return &SubprocessRunner{cfg: cfg, ffmpeg: ffmpeg, ffprobe: ffprobe}, nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

func (r *SubprocessRunner) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	var stdout bytes.Buffer
	result := r.exec(ctx, r.ffprobe, "", &stdout,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("ffprobe exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return parseProbe(stdout.Bytes())
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}

	res := &ProbeResult{}
	res.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	res.Bitrate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)

	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if res.Codec != "" {
				continue
			}
			res.Codec = s.CodecName
			res.Width = s.Width
			res.Height = s.Height
			res.FrameRate = parseRate(s.RFrameRate)
		case "audio":
			if res.HasAudio {
				continue
			}
			res.HasAudio = true
			res.AudioCodec = s.CodecName
			res.AudioSample, _ = strconv.Atoi(s.SampleRate)
			res.AudioChannels = s.Channels
		}
	}
	return res, nil
}

func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func (r *SubprocessRunner) ExtractAudio(ctx context.Context, src string, seconds float64, outPath string) (RunResult, error) {
	if seconds <= 0 {
		return RunResult{}, errors.New("extract duration must be positive")
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ExtractTimeout)
	defer cancel()

	result := r.exec(ctx, r.ffmpeg, outPath, nil,
		"-hide_banner", "-nostdin", "-y",
		"-v", "error",
		"-i", src,
		"-t", strconv.FormatFloat(seconds, 'f', 6, 64),
		"-map", "0:a:0",
		"-vn",
		"-ac", "2",
		"-ar", "44100",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		outPath,
	)
	return result, nil
}

func (r *SubprocessRunner) Transcode(ctx context.Context, inPath, outPath string, args ...string) (RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TranscodeTimeout)
	defer cancel()

	cmdArgs := []string{"-hide_banner", "-nostdin", "-y", "-v", "error", "-i", inPath}
	cmdArgs = append(cmdArgs, args...)
	cmdArgs = append(cmdArgs, outPath)

	return r.exec(ctx, r.ffmpeg, outPath, nil, cmdArgs...), nil
}

// RunDoctor probes the installed ffmpeg for version and encoders.
func (r *SubprocessRunner) RunDoctor(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DoctorTimeout)
	defer cancel()

	var version bytes.Buffer
	if res := r.exec(ctx, r.ffmpeg, "", &version, "-hide_banner", "-version"); !res.IsSuccess() {
		return nil, fmt.Errorf("ffmpeg -version exited %d: %s", res.ExitCode, res.StderrTail)
	}

	var encoders bytes.Buffer
	if res := r.exec(ctx, r.ffmpeg, "", &encoders, "-hide_banner", "-encoders"); !res.IsSuccess() {
		return nil, fmt.Errorf("ffmpeg -encoders exited %d: %s", res.ExitCode, res.StderrTail)
	}

	caps := parseCapabilities(version.String(), encoders.String())
	caps.ProbedAt = time.Now()

	r.cfg.Logger.Info("ffmpeg probe complete",
		"version", caps.Version,
		"h264", caps.HasH264,
		"aac", caps.HasAAC,
		"mp3", caps.HasMP3,
		"vorbis", caps.HasVorbis,
	)
	return caps, nil
}

func parseCapabilities(version, encoders string) *Capabilities {
	caps := &Capabilities{Encoders: make(map[string]bool)}

	if first, _, _ := strings.Cut(version, "\n"); first != "" {
		fields := strings.Fields(first)
		if len(fields) >= 3 && fields[0] == "ffmpeg" && fields[1] == "version" {
			caps.Version = fields[2]
		}
	}

	// Encoder lines look like " V....D libx264    libx264 H.264 ..." after
	// a "------" separator.
	sc := bufio.NewScanner(strings.NewReader(encoders))
	listing := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "------") {
			listing = true
			continue
		}
		if !listing {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			caps.Encoders[fields[1]] = true
		}
	}

	caps.HasH264 = caps.Encoders["libx264"]
	caps.HasAAC = caps.Encoders["aac"]
	caps.HasMP3 = caps.Encoders["libmp3lame"]
	caps.HasVorbis = caps.Encoders["libvorbis"]
	return caps
}

// exec is the core subprocess execution helper.
func (r *SubprocessRunner) exec(ctx context.Context, bin, outPath string, stdout io.Writer, args ...string) RunResult {
	start := time.Now()

	if outPath != "" {
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			r.cfg.Logger.Error("cannot create output dir", "error", err)
			return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
		}
	}

	cmd := exec.CommandContext(ctx, bin, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = io.Discard
	}

	r.cfg.Logger.Debug("executing media command",
		"bin", filepath.Base(bin),
		"args", args,
	)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			stderrBuf.WriteString(err.Error())
		}
	}

	stderrTail := stderrBuf.String()

	if exitCode != 0 {
		r.cfg.Logger.Warn("media command failed",
			"bin", filepath.Base(bin),
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else if outPath != "" {
		r.cfg.Logger.Debug("media command succeeded",
			"bin", filepath.Base(bin),
			"duration_ms", elapsed.Milliseconds(),
			"output", r.safePath(outPath),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		OutputPath: outPath,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

func (r *SubprocessRunner) safePath(path string) string {
	if r.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

// resolveBinary finds a usable binary, preferring the configured one.
func resolveBinary(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("no %s binary found on PATH", name)
	}
	return p, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
