package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/service"
)

// OrchestratorHandler fronts the per-conversation actors.
type OrchestratorHandler struct {
	conversations *service.ConversationService
}

func NewOrchestratorHandler(cs *service.ConversationService) *OrchestratorHandler {
	return &OrchestratorHandler{conversations: cs}
}

type orchestratorRequest struct {
	ConversationID string        `json:"conversation_id"`
	UserID         string        `json:"user_id"`
	Message        string        `json:"message,omitempty"`
	Query          string        `json:"query,omitempty"`
	Turns          []domain.Turn `json:"turns,omitempty"`
}

func (h *OrchestratorHandler) Message(w http.ResponseWriter, r *http.Request) {
	var req orchestratorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	resp, err := h.conversations.Message(r.Context(), req.ConversationID, req.UserID, req.Message)
	if err != nil {
		h.orchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "turn": resp})
}

func (h *OrchestratorHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req orchestratorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	resp, err := h.conversations.Retrieve(r.Context(), req.ConversationID, req.UserID, req.Query)
	if err != nil {
		h.orchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "turn": resp})
}

func (h *OrchestratorHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	var req orchestratorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	resp, err := h.conversations.Transcript(r.Context(), req.ConversationID, req.UserID, req.Turns)
	if err != nil {
		h.orchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "turn": resp})
}

func (h *OrchestratorHandler) orchestratorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrConversationIDMissing),
		errors.Is(err, service.ErrUserIDMissing),
		errors.Is(err, service.ErrMessageEmpty),
		errors.Is(err, service.ErrQueryEmpty),
		errors.Is(err, service.ErrTranscriptEmpty):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, service.ErrOrchestratorStopped):
		writeError(w, http.StatusServiceUnavailable, codeInternal, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, "orchestrator failed")
	}
}
