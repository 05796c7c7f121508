package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/database"
	"github.com/kozaktomas/media-annotator/internal/logging"
)

// LibraryReader is the read side of media and rename history.
type LibraryReader interface {
	database.MediaReader
	database.HistoryReader
}

// MediaHandler serves catalogue listings and the rename history.
type MediaHandler struct {
	store  LibraryReader
	logger *zap.Logger
}

func NewMediaHandler(store LibraryReader, logger *zap.Logger) *MediaHandler {
	return &MediaHandler{store: store, logger: logging.OrNop(logger)}
}

// MediaResponse is the JSON shape of a catalogued item.
type MediaResponse struct {
	ID              int64      `json:"id"`
	Path            string     `json:"path"`
	Hash            string     `json:"hash"`
	Kind            string     `json:"kind"`
	Status          string     `json:"status"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	PipelineVersion string     `json:"pipeline_version"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
}

// List handles GET /media?prefix=&status=.
func (h *MediaHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.store.ListMedia(r.Context(), q.Get("prefix"))
	if err != nil {
		h.logger.Error("list media", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list media")
		return
	}
	status := q.Get("status")
	out := make([]MediaResponse, 0, len(items))
	for _, it := range items {
		if status != "" && it.Status != status {
			continue
		}
		out = append(out, MediaResponse{
			ID:              it.ID,
			Path:            it.Path,
			Hash:            it.Hash,
			Kind:            it.Kind,
			Status:          it.Status,
			ErrorMessage:    it.ErrorMessage,
			PipelineVersion: it.PipelineVersion,
			LastProcessedAt: it.LastProcessedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// HistoryResponse is the JSON shape of one rename history record.
type HistoryResponse struct {
	ID          int64     `json:"id"`
	MediaHash   string    `json:"media_hash"`
	OldPath     string    `json:"old_path"`
	NewPath     string    `json:"new_path"`
	SidecarsOld []string  `json:"sidecars_old"`
	SidecarsNew []string  `json:"sidecars_new"`
	Mode        string    `json:"mode"`
	AppliedAt   time.Time `json:"applied_at"`
}

// History handles GET /history?limit=N.
func (h *MediaHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(r, "limit", 50)
	if !ok {
		respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	records, err := h.store.ListHistory(r.Context(), limit)
	if err != nil {
		h.logger.Error("list history", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	out := make([]HistoryResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, HistoryResponse{
			ID:          rec.ID,
			MediaHash:   rec.MediaHash,
			OldPath:     rec.OldPath,
			NewPath:     rec.NewPath,
			SidecarsOld: rec.SidecarsOld,
			SidecarsNew: rec.SidecarsNew,
			Mode:        rec.Mode,
			AppliedAt:   rec.AppliedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}
