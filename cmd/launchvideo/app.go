package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Dombom123/viral-launch-video/internal/compositor"
	"github.com/Dombom123/viral-launch-video/internal/config"
	"github.com/Dombom123/viral-launch-video/internal/export"
	"github.com/Dombom123/viral-launch-video/internal/logging"
	"github.com/Dombom123/viral-launch-video/internal/media"
	"github.com/Dombom123/viral-launch-video/internal/overlaygen"
	"github.com/Dombom123/viral-launch-video/internal/playback"
	"github.com/Dombom123/viral-launch-video/internal/session"
	"github.com/Dombom123/viral-launch-video/internal/timeline"
)

// app is the engine stack shared by every command: one store, one
// compositor, the ticker that drives it interactively and the exporters
// that drive it offline.
type app struct {
	cfg    *config.EnvConfig
	logger *slog.Logger

	resolver timeline.Resolver
	runner   *media.SubprocessRunner
	doctor   *media.CachedDoctor
	store    *playback.Store
	engine   *compositor.Engine
	ticker   *playback.Ticker
	session  *session.Session

	video *export.VideoExporter
	audio *export.AudioExporter
}

func newApp(cfg *config.EnvConfig, logger *slog.Logger, tl *timeline.Timeline) (*app, error) {
	for _, dir := range []string{cfg.DataDir(), cfg.TempDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	mediaCfg := media.DefaultConfig(logger)
	mediaCfg.FFmpegPath = cfg.FFmpegPath()
	mediaCfg.FFprobePath = cfg.FFprobePath()
	runner, err := media.NewRunner(mediaCfg)
	if err != nil {
		return nil, err
	}

	resolver := timeline.Resolver{MediaRoot: cfg.MediaRoot(), StripPrefix: cfg.StripPrefix()}
	loader := media.NewFileLoader(resolver, logger)

	width, height := cfg.SurfaceSize()
	engine, err := compositor.New(compositor.Config{
		Width:  width,
		Height: height,
		Loader: loader,
		Images: loader,
		Logger: logging.WithComponent(logger, "compositor"),
	}, tl)
	if err != nil {
		return nil, fmt.Errorf("failed to create compositor: %w", err)
	}

	store := playback.NewStore()
	store.SetTimeline(engine.Timeline())
	ticker := playback.NewTicker(store, engine, cfg.TickInterval(), logger)

	doctor := media.NewCachedDoctor(runner, logger)
	assembler := export.NewAudioAssembler(runner, resolver, cfg.AudioWorkers(), cfg.TempDir(), logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		resolver: resolver,
		runner:   runner,
		doctor:   doctor,
		store:    store,
		engine:   engine,
		ticker:   ticker,
		session:  session.New(store, engine, logger),
		video: export.NewVideoExporter(export.VideoExporterConfig{
			Assembler: assembler,
			Suspender: ticker,
			Bitrate:   cfg.VideoBitrate(),
			TempDir:   cfg.TempDir(),
			Logger:    logger,
		}),
		audio: export.NewAudioExporter(assembler, runner, doctor, cfg.AudioBitrate(), cfg.TempDir(), logger),
	}, nil
}

func (a *app) overlayGenerator() *overlaygen.Generator {
	return overlaygen.NewGenerator(overlaygen.Config{
		APIKey:  a.cfg.GeminiAPIKey(),
		Model:   a.cfg.GeminiModel(),
		BaseURL: a.cfg.GeminiBaseURL(),
	}, a.audio, a.logger)
}

func (a *app) close() {
	a.engine.Destroy()
}

// loadTimeline reads --timeline, falling back to the configured path. No
// path yields an empty timeline.
func loadTimeline(cfg *config.EnvConfig) (*timeline.Timeline, string, error) {
	path := timelineFile
	if path == "" {
		path = cfg.TimelinePath()
	}
	if path == "" {
		return &timeline.Timeline{}, "", nil
	}
	tl, err := timeline.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("failed to load timeline: %w", err)
	}
	return tl, path, nil
}
