package playback

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTickInterval is roughly one display refresh.
const DefaultTickInterval = time.Second / 60

// Renderer is the part of the compositor the ticker drives.
type Renderer interface {
	Update(currentTime float64, isPlaying, wasSeeked, force bool) bool
}

// Ticker is the interactive, real-time driver: every interval it advances
// the store and pushes the resulting state into the renderer. Export
// suspends it so only one driver touches the decoders at a time.
type Ticker struct {
	store    *Store
	renderer Renderer
	logger   *slog.Logger
	interval time.Duration

	running   atomic.Bool
	suspended atomic.Int32
	ticks     atomic.Uint64
	// set by the last resume; the next tick reseeks the renderer
	resync atomic.Bool

	// held for the duration of one tick
	tickMu sync.Mutex
}

func NewTicker(store *Store, renderer Renderer, interval time.Duration, logger *slog.Logger) *Ticker {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Ticker{
		store:    store,
		renderer: renderer,
		logger:   logger,
		interval: interval,
	}
}

// Start runs the loop until ctx is cancelled. A second concurrent Start is
// a no-op.
func (t *Ticker) Start(ctx context.Context) {
	if t.running.Swap(true) {
		return
	}

	t.logger.Info("playback ticker started", "interval_ms", t.interval.Milliseconds())

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("playback ticker stopping")
			t.running.Store(false)
			return
		case now := <-ticker.C:
			delta := now.Sub(last).Seconds()
			last = now
			t.step(delta)
		}
	}
}

func (t *Ticker) step(delta float64) {
	t.tickMu.Lock()
	defer t.tickMu.Unlock()

	if t.suspended.Load() > 0 {
		return
	}

	st := t.store.Advance(delta)
	// Whoever held the suspension may have moved the decoders away from
	// the playhead, so the first tick back seeks them to the store time.
	seeked := t.resync.Swap(false) || st.WasSeeked
	t.renderer.Update(st.CurrentTime, st.IsPlaying, seeked, seeked)
	t.ticks.Add(1)
}

// Suspend stops the ticker from driving the renderer until the returned
// resume func is called. It waits for an in-flight tick to finish. Calls
// nest; the ticker runs again once every resume has been called, and its
// first tick then seeks the renderer back to the store's time.
func (t *Ticker) Suspend() (resume func()) {
	t.suspended.Add(1)
	t.tickMu.Lock()
	t.tickMu.Unlock()
	t.logger.Info("playback ticker suspended")

	var once sync.Once
	return func() {
		once.Do(func() {
			if t.suspended.Add(-1) == 0 {
				t.resync.Store(true)
			}
			t.logger.Info("playback ticker resumed")
		})
	}
}

func (t *Ticker) IsSuspended() bool {
	return t.suspended.Load() > 0
}

func (t *Ticker) IsRunning() bool {
	return t.running.Load()
}

// Ticks returns the number of ticks that reached the renderer.
func (t *Ticker) Ticks() uint64 {
	return t.ticks.Load()
}
