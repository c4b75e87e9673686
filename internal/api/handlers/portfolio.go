package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/service"
)

// PortfolioHandler serves the holdings tables directly, bypassing the
// memory pipeline for quantitative state.
type PortfolioHandler struct {
	portfolio *service.PortfolioService
}

func NewPortfolioHandler(ps *service.PortfolioService) *PortfolioHandler {
	return &PortfolioHandler{portfolio: ps}
}

func (h *PortfolioHandler) Summary(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	summary, err := h.portfolio.Summary(r.Context(), userID)
	if err != nil {
		h.portfolioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "summary": summary})
}

func (h *PortfolioHandler) GetHolding(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	holding, err := h.portfolio.GetHolding(r.Context(), userID, chi.URLParam(r, "ticker"))
	if err != nil {
		h.portfolioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "holding": holding})
}

type putHoldingRequest struct {
	UserID    string  `json:"user_id"`
	Shares    float64 `json:"shares"`
	AvgPrice  float64 `json:"avg_price"`
	AssetName string  `json:"asset_name,omitempty"`
}

func (h *PortfolioHandler) PutHolding(w http.ResponseWriter, r *http.Request) {
	var req putHoldingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	holding, err := h.portfolio.PutHolding(r.Context(), &domain.PortfolioHolding{
		UserID:    req.UserID,
		Ticker:    chi.URLParam(r, "ticker"),
		Shares:    req.Shares,
		AvgPrice:  req.AvgPrice,
		AssetName: req.AssetName,
	})
	if err != nil {
		h.portfolioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "holding": holding})
}

func (h *PortfolioHandler) DeleteHolding(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	if err := h.portfolio.DeleteHolding(r.Context(), userID, chi.URLParam(r, "ticker")); err != nil {
		h.portfolioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "deleted": true})
}

type putPreferenceRequest struct {
	UserID    string `json:"user_id"`
	Value     string `json:"value"`
	ValueType string `json:"value_type,omitempty"`
}

func (h *PortfolioHandler) PutPreference(w http.ResponseWriter, r *http.Request) {
	var req putPreferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	pref, err := h.portfolio.SetPreference(r.Context(), &domain.PortfolioPreference{
		UserID:    req.UserID,
		Name:      chi.URLParam(r, "name"),
		Value:     req.Value,
		ValueType: req.ValueType,
	})
	if err != nil {
		h.portfolioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "preference": pref})
}

type snapshotRequest struct {
	UserID string `json:"user_id"`
}

// Snapshot freezes the current positions into the time-partitioned table.
func (h *PortfolioHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	snap, err := h.portfolio.Snapshot(r.Context(), req.UserID)
	if err != nil {
		h.portfolioError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "success", "snapshot": snap})
}

func (h *PortfolioHandler) portfolioError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUserIDMissing),
		errors.Is(err, service.ErrTickerMissing),
		errors.Is(err, service.ErrInvalidShares),
		errors.Is(err, service.ErrPreferenceNameMissing),
		errors.Is(err, service.ErrPreferenceValueMissing):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, service.ErrHoldingNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, "portfolio operation failed")
	}
}
