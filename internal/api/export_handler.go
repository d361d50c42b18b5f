package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Dombom123/viral-launch-video/internal/jobs"
)

func createExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		job, err := cfg.Jobs.Submit(r.Context(), jobs.Request{
			Kind:     req.Kind,
			Format:   req.Format,
			FPS:      req.FPS,
			Duration: req.Duration,
		})
		if err != nil {
			if errors.Is(err, jobs.ErrInvalidRequest) {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			cfg.Logger.Error("failed to submit export", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to submit export", "INTERNAL_ERROR")
			return
		}

		w.Header().Set("Location", "/exports/"+job.ID)
		WriteJSON(w, http.StatusAccepted, JobToResponse(job))
	}
}

func listExportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = n
		}

		list, err := cfg.Jobs.List(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list exports", "INTERNAL_ERROR")
			return
		}

		resp := ExportsResponse{Exports: make([]ExportResponse, len(list))}
		for i, j := range list {
			resp.Exports[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := lookupJob(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

// exportFileHandler streams a finished artifact. http.ServeContent answers
// Range and conditional requests.
func exportFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := lookupJob(cfg, w, r)
		if !ok {
			return
		}
		if job.Status != jobs.StatusCompleted || job.OutputPath == "" {
			WriteError(w, http.StatusConflict, "export is "+job.Status, "CONFLICT")
			return
		}

		f, err := os.Open(job.OutputPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				WriteError(w, http.StatusNotFound, "export file is gone", "NOT_FOUND")
				return
			}
			cfg.Logger.Error("failed to open export", "export_id", job.ID, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to open export", "INTERNAL_ERROR")
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to stat export", "INTERNAL_ERROR")
			return
		}

		name := filepath.Base(job.OutputPath)
		if job.MIMEType != "" {
			w.Header().Set("Content-Type", job.MIMEType)
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		http.ServeContent(w, r, name, info.ModTime(), f)
	}
}

func cancelExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := lookupJob(cfg, w, r)
		if !ok {
			return
		}
		if cfg.Worker == nil || !cfg.Worker.Cancel(job.ID) {
			WriteError(w, http.StatusConflict, "export is not running", "CONFLICT")
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func lookupJob(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "export id required", "BAD_REQUEST")
		return nil, false
	}

	job, err := cfg.Jobs.Get(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, false
	}
	if job == nil {
		WriteError(w, http.StatusNotFound, "export not found", "NOT_FOUND")
		return nil, false
	}
	return job, true
}
