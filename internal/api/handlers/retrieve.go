package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/service"
)

const defaultRetrieveLimit = 10

// RetrieveHandler serves the retrieval engine: simple, persona-aware,
// structured, and narrative.
type RetrieveHandler struct {
	retrieval *service.RetrievalService
	profiles  *service.ProfileService
}

func NewRetrieveHandler(retrieval *service.RetrievalService, profiles *service.ProfileService) *RetrieveHandler {
	return &RetrieveHandler{retrieval: retrieval, profiles: profiles}
}

// Simple is the GET surface: cosine search with metadata filters. A
// persona parameter upgrades the call to the hybrid persona path.
func (h *RetrieveHandler) Simple(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	query := r.URL.Query().Get("query")
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	if query == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrQueryEmpty.Error())
		return
	}

	limit := intParam(r, "limit", defaultRetrieveLimit)

	if persona := r.URL.Query().Get("persona"); persona != "" {
		hits, exp, err := h.retrieval.Persona(r.Context(), service.HybridQuery{
			UserID: userID,
			Query:  query,
			Limit:  limit,
		}, persona)
		if err != nil {
			h.retrieveError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "success",
			"results":        hits,
			"explainability": exp,
		})
		return
	}

	opts := domain.SearchOpts{
		Limit:  limit,
		Offset: intParam(r, "offset", 0),
	}
	if l := r.URL.Query().Get("layer"); l != "" {
		if !domain.ValidLayer(l) {
			writeError(w, http.StatusBadRequest, codeValidation, service.ErrInvalidLayer.Error())
			return
		}
		layer := domain.Layer(l)
		opts.Layer = &layer
	}
	if t := r.URL.Query().Get("type"); t != "" {
		if !domain.ValidMemoryType(t) {
			writeError(w, http.StatusBadRequest, codeValidation, service.ErrInvalidMemoryType.Error())
			return
		}
		mt := domain.MemoryType(t)
		opts.Type = &mt
	}

	hits, err := h.retrieval.Simple(r.Context(), userID, query, opts)
	if err != nil {
		h.retrieveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"results": hits,
	})
}

type personaRetrieveRequest struct {
	UserID  string     `json:"user_id"`
	Query   string     `json:"query"`
	Persona string     `json:"persona,omitempty"`
	Start   *time.Time `json:"start,omitempty"`
	End     *time.Time `json:"end,omitempty"`
	Limit   int        `json:"limit,omitempty"`
}

// PersonaRetrieve is the POST surface: hybrid retrieval with persona
// weight overrides and an explainability block.
func (h *RetrieveHandler) PersonaRetrieve(w http.ResponseWriter, r *http.Request) {
	var req personaRetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrQueryEmpty.Error())
		return
	}

	q := service.HybridQuery{
		UserID: req.UserID,
		Query:  req.Query,
		Limit:  req.Limit,
	}
	if req.Start != nil {
		q.Start = *req.Start
	}
	if req.End != nil {
		q.End = *req.End
	}

	hits, exp, err := h.retrieval.Persona(r.Context(), q, req.Persona)
	if err != nil {
		h.retrieveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "success",
		"results":        hits,
		"explainability": exp,
	})
}

type structuredRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
	Limit  int    `json:"limit,omitempty"`
}

func (h *RetrieveHandler) Structured(w http.ResponseWriter, r *http.Request) {
	var req structuredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrQueryEmpty.Error())
		return
	}

	categories, err := h.retrieval.Structured(r.Context(), req.UserID, req.Query, req.Limit)
	if err != nil {
		h.retrieveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"categories": categories,
	})
}

type narrativeRequest struct {
	UserID string     `json:"user_id"`
	Query  string     `json:"query"`
	Start  *time.Time `json:"start,omitempty"`
	End    *time.Time `json:"end,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

func (h *RetrieveHandler) Narrative(w http.ResponseWriter, r *http.Request) {
	var req narrativeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrQueryEmpty.Error())
		return
	}

	var start, end time.Time
	if req.Start != nil {
		start = *req.Start
	}
	if req.End != nil {
		end = *req.End
	}

	narrative, err := h.retrieval.Narrative(r.Context(), req.UserID, req.Query, start, end, req.Limit, h.profiles)
	if err != nil {
		if errors.Is(err, service.ErrNarrativeUnavailable) {
			writeError(w, http.StatusServiceUnavailable, codeLLM, err.Error())
			return
		}
		h.retrieveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"narrative": narrative,
	})
}

func (h *RetrieveHandler) retrieveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrQueryEmpty), errors.Is(err, service.ErrUserIDMissing):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, service.ErrInvalidPersona):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, service.ErrEmbeddingFail):
		writeError(w, http.StatusBadGateway, codeEmbedding, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, "retrieval failed")
	}
}
