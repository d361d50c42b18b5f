package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Dombom123/viral-launch-video/internal/export"
	"github.com/Dombom123/viral-launch-video/internal/logging"
	"github.com/Dombom123/viral-launch-video/internal/timeline"
)

// VideoExporter is satisfied by *export.VideoExporter.
type VideoExporter interface {
	Export(ctx context.Context, engine export.Engine, opts export.Options) (*export.Result, error)
}

// AudioExporter is satisfied by *export.AudioExporter.
type AudioExporter interface {
	Export(ctx context.Context, engine export.Engine, format string, opts export.Options) (*export.Result, error)
}

type WorkerConfig struct {
	Repo   Repository
	Engine export.Engine
	Video  VideoExporter
	Audio  AudioExporter
	Store  *export.ArtifactStore
	Logger *slog.Logger
	// Title is written into EDL headers.
	Title string
	// Hold, when set, is held for the duration of each render and keeps the
	// timeline from being replaced underneath it.
	Hold func() (release func())
}

// Worker executes pending export jobs one at a time, oldest first.
type Worker struct {
	repo   Repository
	engine export.Engine
	video  VideoExporter
	audio  AudioExporter
	store  *export.ArtifactStore
	logger *slog.Logger
	title  string
	hold   func() func()

	pollInterval     time.Duration
	progressInterval time.Duration
	wake             chan struct{}
	running          atomic.Bool
	paused           atomic.Bool

	mu        sync.Mutex
	currentID string
	cancelCur context.CancelFunc
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Title == "" {
		cfg.Title = "launchvideo"
	}
	return &Worker{
		repo:             cfg.Repo,
		engine:           cfg.Engine,
		video:            cfg.Video,
		audio:            cfg.Audio,
		store:            cfg.Store,
		logger:           cfg.Logger,
		title:            cfg.Title,
		hold:             cfg.Hold,
		pollInterval:     5 * time.Second,
		progressInterval: 500 * time.Millisecond,
		wake:             make(chan struct{}, 1),
	}
}

// Start processes jobs until ctx is done. A second concurrent call returns
// immediately.
func (w *Worker) Start(ctx context.Context) {
	if w.running.Swap(true) {
		return
	}
	defer w.running.Store(false)

	w.logger.Info("export worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if !w.paused.Load() {
			for w.processNextJob(ctx) {
				if ctx.Err() != nil || w.paused.Load() {
					break
				}
			}
		}
		select {
		case <-ctx.Done():
			w.logger.Info("export worker stopping")
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// Notify wakes the worker without waiting for the next poll.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) Pause() {
	w.paused.Store(true)
	w.logger.Info("export worker paused")
}

func (w *Worker) Resume() {
	w.paused.Store(false)
	w.logger.Info("export worker resumed")
	w.Notify()
}

func (w *Worker) IsPaused() bool {
	return w.paused.Load()
}

func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

// Cancel aborts the job with the given id if it is currently rendering.
func (w *Worker) Cancel(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentID != id || w.cancelCur == nil {
		return false
	}
	w.cancelCur()
	return true
}

// processNextJob runs the oldest pending job. It reports whether a job was
// found.
func (w *Worker) processNextJob(ctx context.Context) bool {
	pending, err := w.repo.ListPendingJobs(ctx)
	if err != nil {
		w.logger.Error("failed to list pending exports", "error", err)
		return false
	}
	if len(pending) == 0 {
		return false
	}

	job := pending[0]
	log := logging.WithExportID(w.logger, job.ID)
	if job.RunID != "" {
		log = logging.WithRunID(log, job.RunID)
	}

	if err := w.repo.UpdateJobStatus(ctx, job.ID, StatusRunning, ""); err != nil {
		log.Error("failed to mark export running", "error", err)
		return false
	}
	log.Info("export started", "kind", job.Kind, "format", job.Format)

	jobCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.currentID, w.cancelCur = job.ID, cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.currentID, w.cancelCur = "", nil
		w.mu.Unlock()
		cancel()
	}()

	start := time.Now()
	res, err := w.render(jobCtx, job)
	if err == nil {
		err = w.publish(ctx, job, res)
	}
	if err != nil {
		log.Error("export failed", "kind", job.Kind, "error", err)
		// ctx may already be cancelled on shutdown; the record is still
		// written so the job does not stay running.
		if uerr := w.repo.UpdateJobStatus(context.WithoutCancel(ctx), job.ID, StatusFailed, err.Error()); uerr != nil {
			log.Error("failed to mark export failed", "error", uerr)
		}
		return true
	}

	log.Info("export completed",
		"kind", job.Kind,
		"bytes", len(res.Data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return true
}

func (w *Worker) render(ctx context.Context, job *Job) (*export.Result, error) {
	if w.hold != nil {
		release := w.hold()
		defer release()
	}
	return w.run(ctx, job)
}

func (w *Worker) run(ctx context.Context, job *Job) (*export.Result, error) {
	opts := export.Options{
		FPS:        job.FPS,
		Duration:   job.Duration,
		OnProgress: w.progressReporter(ctx, job.ID),
	}

	switch job.Kind {
	case KindVideo:
		if w.video == nil {
			return nil, fmt.Errorf("video export is not configured")
		}
		return w.video.Export(ctx, w.engine, opts)
	case KindAudio:
		if w.audio == nil {
			return nil, fmt.Errorf("audio export is not configured")
		}
		return w.audio.Export(ctx, w.engine, job.Format, opts)
	case KindEDL:
		tl := w.engine.Timeline()
		if timeline.Duration(tl) <= 0 {
			return nil, export.ErrEmptyTimeline
		}
		edl := export.GenerateEDL(tl, w.title, opts.FPS)
		return &export.Result{Data: []byte(edl), MIMEType: "text/plain"}, nil
	default:
		return nil, fmt.Errorf("unknown export kind %q", job.Kind)
	}
}

func (w *Worker) publish(ctx context.Context, job *Job, res *export.Result) error {
	if w.store == nil {
		return fmt.Errorf("artifact store is not configured")
	}
	path, err := w.store.Write(fmt.Sprintf("%s-%s", job.Kind, job.ID), res.MIMEType, res.Data)
	if err != nil {
		return err
	}
	return w.repo.CompleteJob(ctx, job.ID, path, res.MIMEType, int64(len(res.Data)))
}

// progressReporter persists progress as a 0..100 integer, at most every
// progressInterval.
func (w *Worker) progressReporter(ctx context.Context, id string) func(float64) {
	limiter := &rate.Sometimes{Interval: w.progressInterval}
	last := -1
	return func(p float64) {
		pct := int(math.Floor(p * 100))
		if pct == last || pct >= 100 {
			return
		}
		limiter.Do(func() {
			last = pct
			if err := w.repo.UpdateJobProgress(ctx, id, pct); err != nil {
				w.logger.Warn("failed to record export progress", "export_id", id, "error", err)
			}
		})
	}
}
