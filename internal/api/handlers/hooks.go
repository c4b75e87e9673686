package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/service"
)

// HookHandler is the consent-gated ingress for external connector events.
type HookHandler struct {
	hooks *service.HookService
}

func NewHookHandler(hs *service.HookService) *HookHandler {
	return &HookHandler{hooks: hs}
}

type consentRequest struct {
	UserID  string `json:"user_id"`
	Granted bool   `json:"granted"`
}

func (h *HookHandler) SetConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	consent, err := h.hooks.SetConsent(r.Context(), req.UserID, domain.HookKind(chi.URLParam(r, "hook")), req.Granted)
	if err != nil {
		h.hookError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "consent": consent})
}

func (h *HookHandler) GetConsent(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	consent, err := h.hooks.GetConsent(r.Context(), userID, domain.HookKind(chi.URLParam(r, "hook")))
	if err != nil {
		h.hookError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "consent": consent})
}

type hookEventRequest struct {
	UserID          string         `json:"user_id"`
	SourceMessageID string         `json:"source_message_id,omitempty"`
	Subject         string         `json:"subject,omitempty"`
	Body            string         `json:"body"`
	OccurredAt      *time.Time     `json:"occurred_at,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Event accepts one external event, deduplicates it by source message id,
// and routes it through the ingestion pipeline.
func (h *HookHandler) Event(w http.ResponseWriter, r *http.Request) {
	var req hookEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	ev := &domain.HookEvent{
		UserID:          req.UserID,
		Hook:            domain.HookKind(chi.URLParam(r, "hook")),
		SourceMessageID: req.SourceMessageID,
		Subject:         req.Subject,
		Body:            req.Body,
		Metadata:        req.Metadata,
	}
	if req.OccurredAt != nil {
		ev.OccurredAt = req.OccurredAt.UTC()
	}

	result, err := h.hooks.HandleEvent(r.Context(), ev)
	if err != nil {
		h.hookError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "result": result})
}

func (h *HookHandler) hookError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUserIDMissing),
		errors.Is(err, service.ErrInvalidHook),
		errors.Is(err, service.ErrHookEventEmpty):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, service.ErrConsentDenied):
		writeError(w, http.StatusForbidden, codeCrossUser, err.Error())
	case errors.Is(err, service.ErrDuplicateHookEvent):
		writeError(w, http.StatusConflict, codeConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, "hook event failed")
	}
}
