package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dombom123/viral-launch-video/internal/session"
	"github.com/Dombom123/viral-launch-video/internal/timeline"
)

const maxTimelineBytes = 8 << 20

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.GenerateLimit <= 0 {
		cfg.GenerateLimit = 6
	}
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware())

	r.Get("/health", healthHandler(cfg))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Settings, cfg.Logger))

		r.Get("/state", stateHandler(cfg))
		r.Get("/state/ws", stateStreamHandler(cfg))
		r.Get("/timeline", getTimelineHandler(cfg))
		r.Put("/timeline", putTimelineHandler(cfg))
		r.Post("/transport/play", playHandler(cfg))
		r.Post("/transport/pause", pauseHandler(cfg))
		r.Post("/transport/seek", seekHandler(cfg))
		r.Get("/frame.png", frameHandler(cfg))

		r.Post("/exports", createExportHandler(cfg))
		r.Get("/exports", listExportsHandler(cfg))
		r.Get("/exports/{id}", getExportHandler(cfg))
		r.Get("/exports/{id}/file", exportFileHandler(cfg))
		r.Post("/exports/{id}/cancel", cancelExportHandler(cfg))

		r.With(RateLimit(cfg.GenerateLimit, time.Minute)).
			Post("/overlays/generate", generateOverlaysHandler(cfg))
		r.Post("/runs/{id}/load", loadRunHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		resp := HealthResponse{
			Status:    "ok",
			Version:   cfg.Version,
			UptimeS:   uptime,
			Exporting: cfg.Session.Exporting(),
		}
		if cfg.Jobs != nil {
			resp.QueuedExports = cfg.Jobs.ActiveCount(r.Context())
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func stateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, StateToResponse(cfg.Session.Store().State()))
	}
}

func getTimelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := timeline.Encode(&buf, cfg.Session.Timeline()); err != nil {
			cfg.Logger.Error("failed to encode timeline", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to encode timeline", "INTERNAL_ERROR")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(buf.Bytes())
	}
}

func putTimelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tl, err := timeline.Decode(http.MaxBytesReader(w, r.Body, maxTimelineBytes))
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if err := cfg.Session.SetTimeline(tl); err != nil {
			writeSessionError(cfg, w, err)
			return
		}
		WriteJSON(w, http.StatusOK, StateToResponse(cfg.Session.Store().State()))
	}
}

func playHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Session.Store().Play()
		WriteJSON(w, http.StatusOK, StateToResponse(cfg.Session.Store().State()))
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Session.Store().Pause()
		WriteJSON(w, http.StatusOK, StateToResponse(cfg.Session.Store().State()))
	}
}

func seekHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SeekRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Time == nil || math.IsNaN(*req.Time) || math.IsInf(*req.Time, 0) {
			WriteError(w, http.StatusBadRequest, "time is required", "BAD_REQUEST")
			return
		}

		cfg.Session.Store().Seek(*req.Time)
		WriteJSON(w, http.StatusOK, StateToResponse(cfg.Session.Store().State()))
	}
}

func frameHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := cfg.Frames.EncodePNG(&buf); err != nil {
			cfg.Logger.Error("failed to encode frame", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to encode frame", "INTERNAL_ERROR")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(buf.Bytes())
	}
}

// writeSessionError maps timeline replacement failures.
func writeSessionError(cfg ServerConfig, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrBusy):
		WriteError(w, http.StatusConflict, "an export is running, try again when it finishes", "CONFLICT")
	case errors.Is(err, timeline.ErrInvalid):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	default:
		cfg.Logger.Error("failed to replace timeline", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to replace timeline", "INTERNAL_ERROR")
	}
}
