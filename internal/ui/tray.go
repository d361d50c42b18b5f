package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"
	"golang.org/x/time/rate"

	"github.com/Dombom123/viral-launch-video/internal/jobs"
	"github.com/Dombom123/viral-launch-video/internal/playback"
)

// ExportQueue is the part of the export worker the tray controls.
type ExportQueue interface {
	Pause()
	Resume()
	IsPaused() bool
}

type Tray struct {
	store  *playback.Store
	jobs   *jobs.Service
	queue  ExportQueue
	logger *slog.Logger

	statusItem *systray.MenuItem
	playItem   *systray.MenuItem
	queueItem  *systray.MenuItem

	mu sync.Mutex

	onQuit func()
}

type TrayConfig struct {
	Store  *playback.Store
	Jobs   *jobs.Service
	Queue  ExportQueue
	Logger *slog.Logger
	OnQuit func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		store:  cfg.Store,
		jobs:   cfg.Jobs,
		queue:  cfg.Queue,
		logger: cfg.Logger,
		onQuit: cfg.OnQuit,
	}
}

// Run blocks on the platform event loop; call it from the main goroutine
// on macOS.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	icon, err := iconPNG()
	if err != nil {
		t.logger.Warn("failed to render tray icon", "error", err)
	} else {
		systray.SetIcon(icon)
	}
	systray.SetTitle("Launch Video")
	systray.SetTooltip("Launch video compositor")

	t.statusItem = systray.AddMenuItem(formatStatus(t.store.State()), "Playback position")
	t.statusItem.Disable()

	systray.AddSeparator()

	t.playItem = systray.AddMenuItem("Play", "Start or stop playback")
	exportItem := systray.AddMenuItem("Export Video", "Queue an MP4 export")
	t.queueItem = systray.AddMenuItem("Pause Exports", "Hold queued exports")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Launch Video")

	updates, unsubscribe := t.store.Subscribe()
	go t.follow(updates)

	go func() {
		defer unsubscribe()
		for {
			select {
			case <-t.playItem.ClickedCh:
				t.togglePlay()
			case <-exportItem.ClickedCh:
				t.queueExport()
			case <-t.queueItem.ClickedCh:
				t.toggleQueue()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

// follow mirrors playback into the menu, a few times per second at most.
// Play/pause transitions are always shown.
func (t *Tray) follow(updates <-chan playback.State) {
	limiter := rate.Sometimes{Interval: 250 * time.Millisecond}
	playing := false
	for st := range updates {
		if st.IsPlaying != playing {
			playing = st.IsPlaying
			t.show(st)
			continue
		}
		limiter.Do(func() { t.show(st) })
	}
}

func (t *Tray) show(st playback.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusItem.SetTitle(formatStatus(st))
	if st.IsPlaying {
		t.playItem.SetTitle("Pause")
	} else {
		t.playItem.SetTitle("Play")
	}
}

func (t *Tray) togglePlay() {
	if t.store.State().IsPlaying {
		t.store.Pause()
	} else {
		t.store.Play()
	}
}

func (t *Tray) queueExport() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := t.jobs.Submit(ctx, jobs.Request{Kind: jobs.KindVideo})
	if err != nil {
		t.logger.Error("failed to queue export from tray", "error", err)
		return
	}
	t.logger.Info("export queued from tray", "export_id", job.ID)
}

func (t *Tray) toggleQueue() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.queue == nil {
		return
	}

	if t.queue.IsPaused() {
		t.queue.Resume()
		t.queueItem.SetTitle("Pause Exports")
	} else {
		t.queue.Pause()
		t.queueItem.SetTitle("Resume Exports")
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}

// formatStatus renders "▶ 0:03 / 0:15" style menu text.
func formatStatus(st playback.State) string {
	mark := "■"
	if st.IsPlaying {
		mark = "▶"
	}
	return fmt.Sprintf("%s %s / %s", mark, clock(st.CurrentTime), clock(st.Duration))
}

func clock(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
