package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mnemo-ai/mnemo/internal/service"
)

// MaintenanceHandler triggers forget, per-user compaction, and the full
// sweep on demand. The same compaction code runs on the daily schedule.
type MaintenanceHandler struct {
	compaction *service.CompactionService
}

func NewMaintenanceHandler(cs *service.CompactionService) *MaintenanceHandler {
	return &MaintenanceHandler{compaction: cs}
}

type forgetRequest struct {
	UserID    string  `json:"user_id"`
	Query     string  `json:"query"`
	Threshold float64 `json:"threshold,omitempty"`
}

func (h *MaintenanceHandler) Forget(w http.ResponseWriter, r *http.Request) {
	var req forgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	report, err := h.compaction.Forget(r.Context(), req.UserID, req.Query, req.Threshold)
	if err != nil {
		h.maintenanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "report": report})
}

type maintenanceRequest struct {
	UserID string `json:"user_id"`
	DryRun bool   `json:"dry_run,omitempty"`
}

func (h *MaintenanceHandler) Compact(w http.ResponseWriter, r *http.Request) {
	var req maintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	report, err := h.compaction.Compact(r.Context(), req.UserID, req.DryRun)
	if err != nil {
		h.maintenanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "report": report})
}

type compactAllRequest struct {
	// Day selects the activity set, formatted YYYYMMDD. Defaults to
	// yesterday.
	Day    string `json:"day,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
}

func (h *MaintenanceHandler) CompactAll(w http.ResponseWriter, r *http.Request) {
	var req compactAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if req.Day == "" {
		req.Day = time.Now().UTC().AddDate(0, 0, -1).Format("20060102")
	}
	reports, err := h.compaction.CompactAll(r.Context(), req.Day, req.DryRun)
	if err != nil {
		h.maintenanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "reports": reports})
}

func (h *MaintenanceHandler) maintenanceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUserIDMissing),
		errors.Is(err, service.ErrQueryEmpty):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, service.ErrEmbeddingFail):
		writeError(w, http.StatusBadGateway, codeEmbedding, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, "maintenance failed")
	}
}
