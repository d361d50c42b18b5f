// Package api serves the local control API: transport, timeline, preview
// frames, export jobs and overlay generation.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Dombom123/viral-launch-video/internal/export"
	"github.com/Dombom123/viral-launch-video/internal/jobs"
	"github.com/Dombom123/viral-launch-video/internal/overlaygen"
	"github.com/Dombom123/viral-launch-video/internal/session"
	"github.com/Dombom123/viral-launch-video/internal/timeline"
)

// FrameSource encodes the last rendered frame.
type FrameSource interface {
	EncodePNG(w io.Writer) error
}

type OverlayGenerator interface {
	Generate(ctx context.Context, engine export.Engine, req overlaygen.Request) ([]*timeline.OverlayItem, error)
}

// RunLoader fetches finished timelines from the generation backend.
type RunLoader interface {
	Timeline(ctx context.Context, runID string) (*timeline.Timeline, error)
	WaitReady(ctx context.Context, runID string, interval time.Duration) (*timeline.Timeline, error)
}

type ExportCanceller interface {
	Cancel(id string) bool
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port     int
	Session  *session.Session
	Frames   FrameSource
	Engine   export.Engine
	Jobs     *jobs.Service
	Worker   ExportCanceller
	Settings SettingsReader
	Overlays OverlayGenerator // optional
	Runs     RunLoader        // optional
	// GenerateLimit caps overlay generations per minute and client.
	GenerateLimit int
	Logger        *slog.Logger
	StartTime     time.Time
	Version       string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	// Hijacked websocket connections are not closed by Shutdown; they watch
	// the base context instead.
	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancel)

	return &Server{
		httpServer: srv,
		logger:     cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
