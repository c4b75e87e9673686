package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/service"
)

const defaultHistoryLimit = 50

// IntentHandler serves the scheduled-intent CRUD plus the worker surface:
// pending, claim, fire, history.
type IntentHandler struct {
	intents *service.IntentService
}

func NewIntentHandler(is *service.IntentService) *IntentHandler {
	return &IntentHandler{intents: is}
}

func (h *IntentHandler) Create(w http.ResponseWriter, r *http.Request) {
	// Enabled defaults to true when the field is absent.
	var body struct {
		domain.ScheduledIntent
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	i := body.ScheduledIntent
	i.Enabled = body.Enabled == nil || *body.Enabled

	intent, err := h.intents.Create(r.Context(), &i)
	if err != nil {
		h.intentError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "success", "intent": intent})
}

func (h *IntentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	intents, err := h.intents.List(r.Context(), userID)
	if err != nil {
		h.intentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "intents": intents})
}

func (h *IntentHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	intent, err := h.intents.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.intentError(w, err)
		return
	}
	if intent.UserID != userID {
		writeError(w, http.StatusForbidden, codeCrossUser, service.ErrCrossUser.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "intent": intent})
}

func (h *IntentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var body domain.ScheduledIntent
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	body.ID = chi.URLParam(r, "id")

	intent, err := h.intents.Update(r.Context(), &body)
	if err != nil {
		h.intentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "intent": intent})
}

func (h *IntentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	if err := h.intents.Delete(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		h.intentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "deleted": true})
}

// Pending lists due intents with the read-only cooldown flag, ordered for
// the polling worker.
func (h *IntentHandler) Pending(w http.ResponseWriter, r *http.Request) {
	// user_id is optional here: workers poll the whole due set.
	pending, err := h.intents.Pending(r.Context(), userIDParam(r), intParam(r, "limit", 0))
	if err != nil {
		h.intentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "intents": pending})
}

func (h *IntentHandler) Claim(w http.ResponseWriter, r *http.Request) {
	intent, err := h.intents.Claim(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.intentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "intent": intent})
}

func (h *IntentHandler) Fire(w http.ResponseWriter, r *http.Request) {
	var req service.FireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	intent, err := h.intents.Fire(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.intentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "intent": intent})
}

func (h *IntentHandler) History(w http.ResponseWriter, r *http.Request) {
	executions, err := h.intents.History(r.Context(), chi.URLParam(r, "id"), intParam(r, "limit", defaultHistoryLimit))
	if err != nil {
		h.intentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "executions": executions})
}

func (h *IntentHandler) intentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUserIDMissing),
		errors.Is(err, service.ErrIntentNameMissing),
		errors.Is(err, service.ErrInvalidTrigger),
		errors.Is(err, service.ErrInvalidCron),
		errors.Is(err, service.ErrIntervalTooShort),
		errors.Is(err, service.ErrOnceInPast),
		errors.Is(err, service.ErrScheduleIncomplete),
		errors.Is(err, service.ErrInvalidFireResult):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, service.ErrCronTooFrequent),
		errors.Is(err, service.ErrIntentCapReached),
		errors.Is(err, service.ErrIntentDisabled):
		writeError(w, http.StatusUnprocessableEntity, codeValidation, err.Error())
	case errors.Is(err, service.ErrIntentNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, service.ErrCrossUser):
		writeError(w, http.StatusForbidden, codeCrossUser, err.Error())
	case errors.Is(err, service.ErrIntentClaimed):
		writeError(w, http.StatusConflict, codeConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, "intent operation failed")
	}
}
