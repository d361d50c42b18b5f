package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Dombom123/viral-launch-video/internal/export"
	"github.com/Dombom123/viral-launch-video/internal/logging"
	"github.com/Dombom123/viral-launch-video/internal/overlaygen"
	"github.com/Dombom123/viral-launch-video/internal/runs"
	"github.com/Dombom123/viral-launch-video/internal/timeline"
)

// generateOverlaysHandler regenerates every overlay of the current timeline
// from its audio. An optional prompt turns the request into a correction of
// the existing overlays.
func generateOverlaysHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Overlays == nil {
			WriteError(w, http.StatusServiceUnavailable, "overlay generation is not configured", "UPSTREAM_ERROR")
			return
		}

		var req GenerateOverlaysRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		// The audio render reads the timeline; keep it from being swapped
		// until the answer is in.
		end := cfg.Session.BeginExport()
		items, err := cfg.Overlays.Generate(r.Context(), cfg.Engine, overlaygen.Request{
			UserPrompt:      req.Prompt,
			CurrentOverlays: timeline.Overlays(cfg.Session.Timeline()),
		})
		end()
		if err != nil {
			writeGenerateError(cfg, w, err)
			return
		}

		next, err := cfg.Session.SetOverlays(items)
		if err != nil {
			writeSessionError(cfg, w, err)
			return
		}
		WriteJSON(w, http.StatusOK, GenerateOverlaysResponse{
			Overlays: len(items),
			Duration: timeline.Duration(next),
		})
	}
}

func writeGenerateError(cfg ServerConfig, w http.ResponseWriter, err error) {
	var se *overlaygen.ServiceError
	switch {
	case errors.Is(err, overlaygen.ErrNoAPIKey):
		WriteError(w, http.StatusServiceUnavailable, "gemini api key is not configured", "UPSTREAM_ERROR")
	case errors.Is(err, export.ErrEmptyTimeline):
		WriteError(w, http.StatusBadRequest, "timeline has no audio to analyse", "BAD_REQUEST")
	case errors.Is(err, context.Canceled):
		cfg.Logger.Info("overlay generation cancelled by client")
	case errors.As(err, &se):
		cfg.Logger.Error("overlay generation failed", "status", se.StatusCode, "error", err)
		if se.StatusCode == http.StatusTooManyRequests {
			WriteError(w, http.StatusTooManyRequests, "generation service is rate limited", "RATE_LIMITED")
			return
		}
		WriteError(w, http.StatusBadGateway, "generation service failed", "UPSTREAM_ERROR")
	default:
		cfg.Logger.Error("overlay generation failed", "error", err)
		WriteError(w, http.StatusBadGateway, "overlay generation failed", "UPSTREAM_ERROR")
	}
}

// loadRunHandler fetches a run's timeline from the backend and makes it
// current. With wait=true it polls until the run finishes.
func loadRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runs == nil {
			WriteError(w, http.StatusServiceUnavailable, "backend is not configured", "UPSTREAM_ERROR")
			return
		}
		runID := chi.URLParam(r, "id")
		if runID == "" {
			WriteError(w, http.StatusBadRequest, "run id required", "BAD_REQUEST")
			return
		}
		log := logging.WithRunID(cfg.Logger, runID)

		wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
		var tl *timeline.Timeline
		var err error
		if wait {
			tl, err = cfg.Runs.WaitReady(r.Context(), runID, runs.DefaultPollInterval)
		} else {
			tl, err = cfg.Runs.Timeline(r.Context(), runID)
		}
		if err != nil {
			var he *runs.HTTPError
			var fe *runs.RunFailedError
			switch {
			case errors.As(err, &he) && he.StatusCode == http.StatusNotFound:
				WriteError(w, http.StatusNotFound, "run timeline not found", "NOT_FOUND")
			case errors.As(err, &fe):
				WriteError(w, http.StatusConflict, fe.Error(), "CONFLICT")
			case errors.Is(err, context.Canceled):
				log.Info("run load cancelled by client")
			default:
				log.Error("failed to fetch run timeline", "error", err)
				WriteError(w, http.StatusBadGateway, "failed to fetch run timeline", "UPSTREAM_ERROR")
			}
			return
		}

		if err := cfg.Session.SetTimeline(tl); err != nil {
			writeSessionError(cfg, w, err)
			return
		}
		log.Info("run timeline loaded", "items", len(tl.Items))
		WriteJSON(w, http.StatusOK, LoadRunResponse{
			RunID:    runID,
			Items:    len(tl.Items),
			Duration: timeline.Duration(tl),
		})
	}
}
