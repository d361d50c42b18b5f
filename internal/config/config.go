// Package config provides configuration management for launchvideo.
// Defaults are overridden by an optional YAML file, which is in turn
// overridden by environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort         = 8790
	DefaultLogLevel     = "info"
	DefaultDataDir      = ".launchvideo"
	DefaultMediaRoot    = "."
	DefaultStripPrefix  = "/static/"
	DefaultWidth        = 1280
	DefaultHeight       = 720
	DefaultFPS          = 30
	DefaultTickInterval = 16 * time.Millisecond
	DefaultVideoBitrate = 8_000_000
	DefaultAudioBitrate = 128_000
	DefaultAudioWorkers = 4
	DefaultGeminiModel  = "gemini-2.5-flash"
	DefaultGeminiURL    = "https://generativelanguage.googleapis.com"
	DefaultBackendURL   = "http://localhost:8000"
	DefaultPollInterval = 2 * time.Second

	// Environment variable names
	EnvConfigFile   = "LAUNCHVIDEO_CONFIG"
	EnvPort         = "LAUNCHVIDEO_PORT"
	EnvLogLevel     = "LAUNCHVIDEO_LOG_LEVEL"
	EnvDataDir      = "LAUNCHVIDEO_DATA_DIR"
	EnvMediaRoot    = "LAUNCHVIDEO_MEDIA_ROOT"
	EnvStripPrefix  = "LAUNCHVIDEO_STRIP_PREFIX"
	EnvTimeline     = "LAUNCHVIDEO_TIMELINE"
	EnvWidth        = "LAUNCHVIDEO_WIDTH"
	EnvHeight       = "LAUNCHVIDEO_HEIGHT"
	EnvFPS          = "LAUNCHVIDEO_FPS"
	EnvTickInterval = "LAUNCHVIDEO_TICK_INTERVAL"
	EnvFFmpeg       = "LAUNCHVIDEO_FFMPEG"
	EnvFFprobe      = "LAUNCHVIDEO_FFPROBE"
	EnvVideoBitrate = "LAUNCHVIDEO_VIDEO_BITRATE"
	EnvAudioBitrate = "LAUNCHVIDEO_AUDIO_BITRATE"
	EnvAudioWorkers = "LAUNCHVIDEO_AUDIO_WORKERS"
	EnvGeminiKey    = "LAUNCHVIDEO_GEMINI_API_KEY"
	EnvGeminiModel  = "LAUNCHVIDEO_GEMINI_MODEL"
	EnvGeminiURL    = "LAUNCHVIDEO_GEMINI_BASE_URL"
	EnvBackendURL   = "LAUNCHVIDEO_BACKEND_URL"
	EnvHeadless     = "LAUNCHVIDEO_HEADLESS"

	// EnvGeminiKeyFallback is read when EnvGeminiKey is unset.
	EnvGeminiKeyFallback = "GEMINI_API_KEY"

	// Database filename
	DBFilename = "launchvideo.db"
)

// FileConfig is the YAML file layout. Unknown keys are rejected.
type FileConfig struct {
	Port        int    `yaml:"port"`
	LogLevel    string `yaml:"log_level"`
	DataDir     string `yaml:"data_dir"`
	MediaRoot   string `yaml:"media_root"`
	StripPrefix string `yaml:"strip_prefix"`
	Timeline    string `yaml:"timeline"`
	Headless    bool   `yaml:"headless"`

	Surface struct {
		Width        int    `yaml:"width"`
		Height       int    `yaml:"height"`
		TickInterval string `yaml:"tick_interval"`
	} `yaml:"surface"`

	Export struct {
		FPS          float64 `yaml:"fps"`
		VideoBitrate int     `yaml:"video_bitrate"`
		AudioBitrate int     `yaml:"audio_bitrate"`
		AudioWorkers int     `yaml:"audio_workers"`
	} `yaml:"export"`

	FFmpeg struct {
		Path        string `yaml:"path"`
		FFprobePath string `yaml:"ffprobe_path"`
	} `yaml:"ffmpeg"`

	Gemini struct {
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"gemini"`

	Backend struct {
		URL string `yaml:"url"`
	} `yaml:"backend"`
}

// EnvConfig is the resolved configuration.
type EnvConfig struct {
	port         int
	logLevel     string
	dataDir      string
	mediaRoot    string
	stripPrefix  string
	timeline     string
	headless     bool
	width        int
	height       int
	fps          float64
	tickInterval time.Duration
	ffmpegPath   string
	ffprobePath  string
	videoBitrate int
	audioBitrate int
	audioWorkers int
	geminiAPIKey string
	geminiModel  string
	geminiURL    string
	backendURL   string
	configFile   string
}

// New loads the file named by LAUNCHVIDEO_CONFIG, if any, then applies
// environment overrides.
func New() (*EnvConfig, error) {
	return Load(os.Getenv(EnvConfigFile))
}

// Load is New with an explicit config file path. An empty path means no
// file.
func Load(path string) (*EnvConfig, error) {
	cfg := defaults()

	if path != "" {
		fc, err := ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cfg.applyFile(fc); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		cfg.configFile = path
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile parses a YAML config file strictly.
func ReadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fc FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		if errors.Is(err, io.EOF) {
			return &fc, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fc, nil
}

func defaults() *EnvConfig {
	return &EnvConfig{
		port:         DefaultPort,
		logLevel:     DefaultLogLevel,
		dataDir:      defaultDataDir(),
		mediaRoot:    DefaultMediaRoot,
		stripPrefix:  DefaultStripPrefix,
		width:        DefaultWidth,
		height:       DefaultHeight,
		fps:          DefaultFPS,
		tickInterval: DefaultTickInterval,
		ffmpegPath:   "ffmpeg",
		videoBitrate: DefaultVideoBitrate,
		audioBitrate: DefaultAudioBitrate,
		audioWorkers: DefaultAudioWorkers,
		geminiModel:  DefaultGeminiModel,
		geminiURL:    DefaultGeminiURL,
		backendURL:   DefaultBackendURL,
	}
}

func (c *EnvConfig) applyFile(fc *FileConfig) error {
	setString(&c.logLevel, fc.LogLevel)
	setString(&c.dataDir, fc.DataDir)
	setString(&c.mediaRoot, fc.MediaRoot)
	setString(&c.stripPrefix, fc.StripPrefix)
	setString(&c.timeline, fc.Timeline)
	setString(&c.ffmpegPath, fc.FFmpeg.Path)
	setString(&c.ffprobePath, fc.FFmpeg.FFprobePath)
	setString(&c.geminiAPIKey, fc.Gemini.APIKey)
	setString(&c.geminiModel, fc.Gemini.Model)
	setString(&c.geminiURL, fc.Gemini.BaseURL)
	setString(&c.backendURL, fc.Backend.URL)

	if fc.Port != 0 {
		c.port = fc.Port
	}
	if fc.Headless {
		c.headless = true
	}
	if fc.Surface.Width != 0 {
		c.width = fc.Surface.Width
	}
	if fc.Surface.Height != 0 {
		c.height = fc.Surface.Height
	}
	if fc.Surface.TickInterval != "" {
		d, err := time.ParseDuration(fc.Surface.TickInterval)
		if err != nil {
			return fmt.Errorf("invalid surface.tick_interval: %w", err)
		}
		c.tickInterval = d
	}
	if fc.Export.FPS != 0 {
		c.fps = fc.Export.FPS
	}
	if fc.Export.VideoBitrate != 0 {
		c.videoBitrate = fc.Export.VideoBitrate
	}
	if fc.Export.AudioBitrate != 0 {
		c.audioBitrate = fc.Export.AudioBitrate
	}
	if fc.Export.AudioWorkers != 0 {
		c.audioWorkers = fc.Export.AudioWorkers
	}
	return nil
}

func (c *EnvConfig) applyEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.dataDir, os.Getenv(EnvDataDir))
	setString(&c.mediaRoot, os.Getenv(EnvMediaRoot))
	setString(&c.stripPrefix, os.Getenv(EnvStripPrefix))
	setString(&c.timeline, os.Getenv(EnvTimeline))
	setString(&c.ffmpegPath, os.Getenv(EnvFFmpeg))
	setString(&c.ffprobePath, os.Getenv(EnvFFprobe))
	setString(&c.geminiAPIKey, os.Getenv(EnvGeminiKeyFallback))
	setString(&c.geminiAPIKey, os.Getenv(EnvGeminiKey))
	setString(&c.geminiModel, os.Getenv(EnvGeminiModel))
	setString(&c.geminiURL, os.Getenv(EnvGeminiURL))
	setString(&c.backendURL, os.Getenv(EnvBackendURL))

	ints := []struct {
		env string
		dst *int
	}{
		{EnvWidth, &c.width},
		{EnvHeight, &c.height},
		{EnvVideoBitrate, &c.videoBitrate},
		{EnvAudioBitrate, &c.audioBitrate},
		{EnvAudioWorkers, &c.audioWorkers},
	}
	for _, v := range ints {
		if s := os.Getenv(v.env); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", v.env, err)
			}
			*v.dst = n
		}
	}

	if s := os.Getenv(EnvFPS); s != "" {
		fps, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvFPS, err)
		}
		c.fps = fps
	}
	if s := os.Getenv(EnvTickInterval); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvTickInterval, err)
		}
		c.tickInterval = d
	}
	if s := os.Getenv(EnvHeadless); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = b
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.port)
	}
	if c.width <= 0 || c.height <= 0 {
		return fmt.Errorf("invalid surface size %dx%d", c.width, c.height)
	}
	if c.fps <= 0 || c.fps > 120 {
		return fmt.Errorf("invalid fps %v: must be in (0, 120]", c.fps)
	}
	if c.tickInterval <= 0 {
		return fmt.Errorf("invalid tick interval: must be a positive duration")
	}
	if c.videoBitrate <= 0 || c.audioBitrate <= 0 {
		return fmt.Errorf("invalid bitrate: must be positive")
	}
	if c.audioWorkers < 1 {
		return fmt.Errorf("invalid audio workers %d: must be >= 1", c.audioWorkers)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ExportsDir is where finished exports are stored.
func (c *EnvConfig) ExportsDir() string {
	return filepath.Join(c.dataDir, "exports")
}

// TempDir holds per-export scratch files.
func (c *EnvConfig) TempDir() string {
	return filepath.Join(c.dataDir, "tmp")
}

func (c *EnvConfig) MediaRoot() string {
	return c.mediaRoot
}

func (c *EnvConfig) StripPrefix() string {
	return c.stripPrefix
}

// TimelinePath is the timeline JSON file to load and watch, if any.
func (c *EnvConfig) TimelinePath() string {
	return c.timeline
}

// Headless disables the system tray.
func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) SurfaceSize() (int, int) {
	return c.width, c.height
}

func (c *EnvConfig) FPS() float64 {
	return c.fps
}

func (c *EnvConfig) TickInterval() time.Duration {
	return c.tickInterval
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

// FFprobePath is empty when ffprobe should be found next to ffmpeg.
func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) VideoBitrate() int {
	return c.videoBitrate
}

func (c *EnvConfig) AudioBitrate() int {
	return c.audioBitrate
}

func (c *EnvConfig) AudioWorkers() int {
	return c.audioWorkers
}

func (c *EnvConfig) GeminiAPIKey() string {
	return c.geminiAPIKey
}

func (c *EnvConfig) GeminiModel() string {
	return c.geminiModel
}

func (c *EnvConfig) GeminiBaseURL() string {
	return c.geminiURL
}

func (c *EnvConfig) BackendURL() string {
	return c.backendURL
}

// ConfigFile is the YAML file that was loaded, or "".
func (c *EnvConfig) ConfigFile() string {
	return c.configFile
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
