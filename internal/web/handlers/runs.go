package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/logging"
	"github.com/kozaktomas/media-annotator/internal/pipeline"
)

// RunController starts and stops background pipeline runs.
type RunController interface {
	Start(ctx context.Context, root string, stages ...string) (pipeline.RunStatus, error)
	Cancel(id string) error
	Status() (pipeline.RunStatus, bool)
}

// RunsHandler exposes the background runner.
type RunsHandler struct {
	runs        RunController
	baseCtx     context.Context // runs outlive the request that started them
	defaultRoot string
	logger      *zap.Logger
}

func NewRunsHandler(ctx context.Context, runs RunController, defaultRoot string, logger *zap.Logger) *RunsHandler {
	return &RunsHandler{runs: runs, baseCtx: ctx, defaultRoot: defaultRoot, logger: logging.OrNop(logger)}
}

type startRunRequest struct {
	Root   string   `json:"root"`
	Stages []string `json:"stages"`
}

// Start handles POST /runs.
func (h *RunsHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}
	if req.Root == "" {
		req.Root = h.defaultRoot
	}
	if req.Root == "" {
		respondError(w, http.StatusBadRequest, "root is required")
		return
	}

	status, err := h.runs.Start(h.baseCtx, req.Root, req.Stages...)
	switch {
	case errors.Is(err, pipeline.ErrRunActive):
		respondError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Info("run started over HTTP", zap.String("id", status.ID), zap.String("root", sanitizeForLog(req.Root)))
	respondJSON(w, http.StatusAccepted, status)
}

// Current handles GET /runs/current.
func (h *RunsHandler) Current(w http.ResponseWriter, r *http.Request) {
	status, ok := h.runs.Status()
	if !ok {
		respondError(w, http.StatusNotFound, "no run yet")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// Get handles GET /runs/{runId}. Only the latest run is kept.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	status, ok := h.runs.Status()
	if !ok || status.ID != chi.URLParam(r, "runId") {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// Cancel handles DELETE /runs/{runId}.
func (h *RunsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runId")
	if err := h.runs.Cancel(id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.Info("run cancelled over HTTP", zap.String("id", sanitizeForLog(id)))
	respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "state": "cancelling"})
}
