package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/database"
	"github.com/kozaktomas/media-annotator/internal/facematch"
	"github.com/kozaktomas/media-annotator/internal/logging"
)

// PersonStore is the identity side of the library.
type PersonStore interface {
	database.PersonReader
	SetNotes(ctx context.Context, id int64, notes string) error
}

// Promoter labels anonymous identities and suggests look-alikes.
type Promoter interface {
	Promote(ctx context.Context, personID int64, name string) (database.Person, error)
	Similar(personID int64, k int) []facematch.Suggestion
}

// PersonsHandler lists identities and labels unknown ones.
type PersonsHandler struct {
	store    PersonStore
	promoter Promoter
	logger   *zap.Logger
}

func NewPersonsHandler(store PersonStore, promoter Promoter, logger *zap.Logger) *PersonsHandler {
	return &PersonsHandler{store: store, promoter: promoter, logger: logging.OrNop(logger)}
}

// PersonResponse is the JSON shape of a person.
type PersonResponse struct {
	ID          int64                `json:"id"`
	Label       string               `json:"label"`
	DisplayName string               `json:"display_name,omitempty"`
	IsKnown     bool                 `json:"is_known"`
	Notes       string               `json:"notes,omitempty"`
	Occurrences int                  `json:"occurrences,omitempty"`
	Examples    []string             `json:"examples,omitempty"`
	Similar     []SuggestionResponse `json:"similar,omitempty"`
}

// SuggestionResponse is another identity that looks like a person.
type SuggestionResponse struct {
	ID         int64   `json:"id"`
	Label      string  `json:"label"`
	Similarity float64 `json:"similarity"`
}

func personResponse(p database.Person) PersonResponse {
	return PersonResponse{
		ID:          p.ID,
		Label:       p.Label(),
		DisplayName: p.DisplayName,
		IsKnown:     p.IsKnown,
		Notes:       p.Notes,
	}
}

// List handles GET /persons?q=. The query matches labels ignoring case
// and diacritics.
func (h *PersonsHandler) List(w http.ResponseWriter, r *http.Request) {
	persons, err := h.store.ListPersons(r.Context())
	if err != nil {
		h.logger.Error("list persons", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list persons")
		return
	}
	query := facematch.FoldName(strings.TrimSpace(r.URL.Query().Get("q")))
	out := make([]PersonResponse, 0, len(persons))
	for _, p := range persons {
		if query != "" && !strings.Contains(facematch.FoldName(p.Label()), query) {
			continue
		}
		out = append(out, personResponse(p))
	}
	respondJSON(w, http.StatusOK, out)
}

// Unknown handles GET /persons/unknown?examples=N.
func (h *PersonsHandler) Unknown(w http.ResponseWriter, r *http.Request) {
	examples, ok := intQuery(r, "examples", 3)
	if !ok {
		respondError(w, http.StatusBadRequest, "examples must be a non-negative integer")
		return
	}
	similar, ok := intQuery(r, "similar", 2)
	if !ok {
		respondError(w, http.StatusBadRequest, "similar must be a non-negative integer")
		return
	}
	counts, err := h.store.ListUnknownWithCounts(r.Context())
	if err != nil {
		h.logger.Error("list unknown persons", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list unknown persons")
		return
	}
	out := make([]PersonResponse, 0, len(counts))
	for _, pc := range counts {
		resp := personResponse(pc.Person)
		resp.Occurrences = pc.Occurrences
		if examples > 0 {
			paths, err := h.store.ExamplePaths(r.Context(), pc.Person.ID, examples)
			if err != nil {
				h.logger.Error("example paths", zap.Int64("person_id", pc.Person.ID), zap.Error(err))
				respondError(w, http.StatusInternalServerError, "failed to list examples")
				return
			}
			resp.Examples = paths
		}
		for _, sg := range h.promoter.Similar(pc.Person.ID, similar) {
			resp.Similar = append(resp.Similar, SuggestionResponse{ID: sg.PersonID, Label: sg.Label, Similarity: sg.Similarity})
		}
		out = append(out, resp)
	}
	respondJSON(w, http.StatusOK, out)
}

// Get handles GET /persons/{id}.
func (h *PersonsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid person id")
		return
	}
	p, err := h.store.GetPerson(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "person not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get person")
		return
	}
	respondJSON(w, http.StatusOK, personResponse(*p))
}

type labelRequest struct {
	Name string `json:"name"`
}

// Label handles PUT /persons/{id}/name.
func (h *PersonsHandler) Label(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid person id")
		return
	}
	var req labelRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	p, err := h.promoter.Promote(r.Context(), id, req.Name)
	switch {
	case errors.Is(err, facematch.ErrInvalidName):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "person not found")
		return
	case err != nil:
		h.logger.Error("label person", zap.Int64("person_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to label person")
		return
	}
	respondJSON(w, http.StatusOK, personResponse(p))
}

type notesRequest struct {
	Notes string `json:"notes"`
}

// Notes handles PUT /persons/{id}/notes.
func (h *PersonsHandler) Notes(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid person id")
		return
	}
	var req notesRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	err := h.store.SetNotes(r.Context(), id, req.Notes)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "person not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update notes")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
