package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dombom123/viral-launch-video/internal/api"
	"github.com/Dombom123/viral-launch-video/internal/config"
	"github.com/Dombom123/viral-launch-video/internal/db"
	"github.com/Dombom123/viral-launch-video/internal/export"
	"github.com/Dombom123/viral-launch-video/internal/jobs"
	"github.com/Dombom123/viral-launch-video/internal/logging"
	"github.com/Dombom123/viral-launch-video/internal/runs"
	"github.com/Dombom123/viral-launch-video/internal/session"
	"github.com/Dombom123/viral-launch-video/internal/timeline"
	"github.com/Dombom123/viral-launch-video/internal/ui"
	"github.com/Dombom123/viral-launch-video/internal/watcher"
)

var headless bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the player, export queue and local API",
	Long: `Serve keeps the timeline playing in real time, queues exports in SQLite,
and exposes the control API on 127.0.0.1. The timeline file, when given,
is reloaded whenever it changes on disk.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&headless, "headless", false, "run without the system tray")
}

func runServe(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting launchvideo", "version", config.Version, "data_dir", cfg.DataDir())

	tl, timelinePath, err := loadTimeline(cfg)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger, tl)
	if err != nil {
		return err
	}
	defer a.close()

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := jobs.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                    LAUNCHVIDEO v%-26s║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	artifacts, err := export.NewArtifactStore(cfg.ExportsDir())
	if err != nil {
		return fmt.Errorf("failed to create exports dir: %w", err)
	}

	jobSvc := jobs.NewService(repo, logger)
	worker := jobs.NewWorker(jobs.WorkerConfig{
		Repo:   repo,
		Engine: a.engine,
		Video:  a.video,
		Audio:  a.audio,
		Store:  artifacts,
		Logger: logging.WithComponent(logger, "exports"),
		Hold:   a.session.BeginExport,
	})
	jobSvc.SetNotifier(worker.Notify)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.ticker.Start(ctx)
	go worker.Start(ctx)

	if timelinePath != "" {
		w := watcher.NewTimelineWatcher(timelinePath, func(next *timeline.Timeline) {
			if err := a.session.SetTimeline(next); err != nil {
				if errors.Is(err, session.ErrBusy) {
					logger.Warn("timeline changed on disk during an export; keeping the current one")
					return
				}
				logger.Error("failed to apply timeline from disk", "error", err)
			}
		}, logging.WithComponent(logger, "watcher"))
		if err := w.Watch(ctx); err != nil {
			logger.Warn("timeline hot reload disabled", "error", err)
		} else {
			defer w.Stop()
		}
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:      cfg.Port(),
		Session:   a.session,
		Frames:    a.engine,
		Engine:    a.engine,
		Jobs:      jobSvc,
		Worker:    worker,
		Settings:  repo,
		Overlays:  a.overlayGenerator(),
		Runs:      runs.NewClient(cfg.BackendURL(), logging.WithComponent(logger, "runs")),
		Logger:    logger,
		StartTime: startTime,
		Version:   config.Version,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	sigCtx, stop := commandContext(ctx)
	defer stop()

	quitCh := make(chan struct{})

	if headless || cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Store:  a.store,
			Jobs:   jobSvc,
			Queue:  worker,
			Logger: logger,
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
	}

	select {
	case <-sigCtx.Done():
		logger.Info("received shutdown signal", "reason", context.Cause(sigCtx))
	case <-quitCh:
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
			cancel()
			return err
		}
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func ensureAuthToken(repo jobs.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetSetting(ctx, jobs.SettingAuthToken)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetSetting(ctx, jobs.SettingAuthToken, token); err != nil {
		return "", err
	}

	return token, nil
}

