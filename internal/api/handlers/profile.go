package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/service"
)

// ProfileHandler serves the structured user-model surface: view, manual
// edits, import/export, audit trail, and completeness.
type ProfileHandler struct {
	profiles *service.ProfileService
}

func NewProfileHandler(ps *service.ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: ps}
}

func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	view, err := h.profiles.View(r.Context(), userID)
	if err != nil {
		h.profileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "profile": view})
}

func (h *ProfileHandler) Category(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	category := domain.ProfileCategory(chi.URLParam(r, "category"))
	fields, err := h.profiles.Category(r.Context(), userID, category)
	if err != nil {
		h.profileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "fields": fields})
}

type setFieldRequest struct {
	UserID    string `json:"user_id"`
	Value     string `json:"value"`
	ValueType string `json:"value_type,omitempty"`
}

// SetField is the manual edit path; the write is recorded as an explicit
// source with confidence 100.
func (h *ProfileHandler) SetField(w http.ResponseWriter, r *http.Request) {
	var req setFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}

	category := domain.ProfileCategory(chi.URLParam(r, "category"))
	fieldName := chi.URLParam(r, "field")

	profile, err := h.profiles.Set(r.Context(), req.UserID, category, fieldName, req.Value, req.ValueType)
	if err != nil {
		h.profileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "profile": profile})
}

func (h *ProfileHandler) DeleteField(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	category := domain.ProfileCategory(chi.URLParam(r, "category"))
	fieldName := chi.URLParam(r, "field")

	if err := h.profiles.DeleteField(r.Context(), userID, category, fieldName); err != nil {
		h.profileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "deleted": true})
}

func (h *ProfileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	if err := h.profiles.Delete(r.Context(), userID); err != nil {
		h.profileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "deleted": true})
}

func (h *ProfileHandler) Completeness(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	profile, err := h.profiles.Completeness(r.Context(), userID)
	if err != nil {
		h.profileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "success",
		"completeness": profile.CompletenessPct,
		"profile":      profile,
	})
}

func (h *ProfileHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	payload, err := h.profiles.Export(r.Context(), userID)
	if err != nil {
		h.profileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "profile": payload})
}

type importRequest struct {
	UserID  string                                       `json:"user_id"`
	Profile map[domain.ProfileCategory]map[string]string `json:"profile"`
}

func (h *ProfileHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	profile, err := h.profiles.Import(r.Context(), req.UserID, req.Profile)
	if err != nil {
		h.profileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "profile": profile})
}

func (h *ProfileHandler) Audit(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	sources, err := h.profiles.Audit(r.Context(), userID)
	if err != nil {
		h.profileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "sources": sources})
}

func (h *ProfileHandler) profileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCategory),
		errors.Is(err, service.ErrInvalidSourceType),
		errors.Is(err, service.ErrProfileFieldMissing),
		errors.Is(err, service.ErrUserIDMissing):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, service.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, "profile operation failed")
	}
}
