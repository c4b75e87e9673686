package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/service"
)

// MemoryHandler serves the direct-write and delete surface of the storage
// orchestrator, plus the synchronous transcript ingest endpoint.
type MemoryHandler struct {
	storage  *service.StorageService
	ingest   *service.IngestService
	embedder domain.EmbeddingClient
}

func NewMemoryHandler(storage *service.StorageService, ingest *service.IngestService, embedder domain.EmbeddingClient) *MemoryHandler {
	return &MemoryHandler{storage: storage, ingest: ingest, embedder: embedder}
}

// directMemoryRequest is the flat direct-write body. Presence of typed
// fields routes the memory to the matching backends.
type directMemoryRequest struct {
	UserID      string         `json:"user_id"`
	Content     string         `json:"content"`
	Layer       string         `json:"layer,omitempty"`
	Type        string         `json:"type,omitempty"`
	Importance  float64        `json:"importance,omitempty"`
	Confidence  float64        `json:"confidence,omitempty"`
	PersonaTags []string       `json:"persona_tags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// Episodic routing.
	EventTimestamp *time.Time `json:"event_timestamp,omitempty"`
	EventType      string     `json:"event_type,omitempty"`
	Location       string     `json:"location,omitempty"`
	Participants   []string   `json:"participants,omitempty"`

	// Emotional routing.
	EmotionalState string  `json:"emotional_state,omitempty"`
	Valence        float64 `json:"valence,omitempty"`
	Arousal        float64 `json:"arousal,omitempty"`
	Dominance      float64 `json:"dominance,omitempty"`
	Intensity      float64 `json:"intensity,omitempty"`
	TriggerEvent   string  `json:"trigger_event,omitempty"`

	// Procedural routing.
	SkillName        string   `json:"skill_name,omitempty"`
	ProficiencyLevel string   `json:"proficiency_level,omitempty"`
	Prerequisites    []string `json:"prerequisites,omitempty"`

	// Portfolio routing.
	Portfolio *directPortfolio `json:"portfolio,omitempty"`
}

type directPortfolio struct {
	Ticker    string  `json:"ticker"`
	Shares    float64 `json:"shares"`
	AvgPrice  float64 `json:"avg_price"`
	AssetName string  `json:"asset_name,omitempty"`
}

type directMemoryResponse struct {
	Status   string            `json:"status"`
	MemoryID string            `json:"memory_id"`
	Storage  map[string]bool   `json:"storage"`
	Errors   map[string]string `json:"errors,omitempty"`
}

func (h *MemoryHandler) Direct(w http.ResponseWriter, r *http.Request) {
	var req directMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrMemoryContentEmpty.Error())
		return
	}
	if req.ProficiencyLevel != "" && !domain.ValidProficiency(req.ProficiencyLevel) {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid proficiency_level")
		return
	}

	m := &domain.Memory{
		UserID:      req.UserID,
		Content:     req.Content,
		Layer:       domain.Layer(req.Layer),
		Type:        domain.MemoryType(req.Type),
		Importance:  req.Importance,
		Confidence:  req.Confidence,
		PersonaTags: req.PersonaTags,
		Metadata:    req.Metadata,
	}

	// Nothing is stored when the embedding fails.
	emb, err := h.embedder.Embed(r.Context(), m.Content)
	if err != nil {
		writeError(w, http.StatusBadGateway, codeEmbedding, "embedding failed")
		return
	}
	m.Embedding = emb

	result, err := h.storage.Store(r.Context(), m, typedFromDirect(&req))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMemoryContentTooBig),
			errors.Is(err, service.ErrInvalidLayer),
			errors.Is(err, service.ErrInvalidMemoryType),
			errors.Is(err, service.ErrTooManyPersonaTags):
			writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		case errors.Is(err, service.ErrVectorWriteFailed):
			writeError(w, http.StatusInternalServerError, codeStorage, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, codeInternal, "failed to store memory")
		}
		return
	}

	writeJSON(w, http.StatusCreated, directMemoryResponse{
		Status:   "success",
		MemoryID: m.ID,
		Storage:  fullStorageMap(result),
		Errors:   result.Errors,
	})
}

// typedFromDirect builds the side-records the flat request implies.
func typedFromDirect(req *directMemoryRequest) *domain.TypedRecords {
	typed := &domain.TypedRecords{}
	if req.EventTimestamp != nil {
		ep := &domain.EpisodicRecord{
			UserID:         req.UserID,
			EventTimestamp: req.EventTimestamp.UTC(),
			EventType:      req.EventType,
			Content:        req.Content,
			Participants:   req.Participants,
		}
		if req.Location != "" {
			ep.Location = map[string]any{"name": req.Location}
		}
		typed.Episodic = ep
	}
	if req.EmotionalState != "" {
		typed.Emotional = &domain.EmotionalRecord{
			UserID:         req.UserID,
			EmotionalState: req.EmotionalState,
			Valence:        req.Valence,
			Arousal:        req.Arousal,
			Dominance:      req.Dominance,
			Intensity:      req.Intensity,
			TriggerEvent:   req.TriggerEvent,
			Context:        req.Content,
		}
	}
	if req.SkillName != "" {
		level := domain.ProficiencyLevel(req.ProficiencyLevel)
		if level == "" {
			level = domain.ProficiencyBeginner
		}
		typed.Procedural = &domain.ProceduralRecord{
			UserID:           req.UserID,
			SkillName:        req.SkillName,
			ProficiencyLevel: level,
			Prerequisites:    req.Prerequisites,
			PracticeCount:    1,
		}
	}
	if req.Portfolio != nil && req.Portfolio.Ticker != "" {
		typed.Holding = &domain.PortfolioHolding{
			UserID:    req.UserID,
			Ticker:    strings.ToUpper(req.Portfolio.Ticker),
			Shares:    req.Portfolio.Shares,
			AvgPrice:  req.Portfolio.AvgPrice,
			AssetName: req.Portfolio.AssetName,
		}
	}
	if typed.Episodic == nil && typed.Emotional == nil && typed.Procedural == nil && typed.Holding == nil {
		return nil
	}
	return typed
}

// fullStorageMap overlays the outcome onto the always-reported backends,
// so untargeted typed stores read false rather than being absent.
func fullStorageMap(result *service.StorageResult) map[string]bool {
	out := map[string]bool{
		service.BackendVector:     false,
		service.BackendEpisodic:   false,
		service.BackendEmotional:  false,
		service.BackendProcedural: false,
	}
	for backend, ok := range result.Backends {
		out[backend] = ok
	}
	return out
}

type deleteMemoryResponse struct {
	Status  string            `json:"status"`
	Deleted bool              `json:"deleted"`
	Storage map[string]bool   `json:"storage"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := userIDParam(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, service.ErrUserIDMissing.Error())
		return
	}

	result, err := h.storage.Delete(r.Context(), id, userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMemoryNotFound):
			writeError(w, http.StatusNotFound, codeNotFound, err.Error())
		case errors.Is(err, service.ErrCrossUser):
			writeError(w, http.StatusForbidden, codeCrossUser, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, codeInternal, "failed to delete memory")
		}
		return
	}

	writeJSON(w, http.StatusOK, deleteMemoryResponse{
		Status:  "success",
		Deleted: true,
		Storage: result.Backends,
		Errors:  result.Errors,
	})
}

type storeRequest struct {
	UserID     string        `json:"user_id"`
	Transcript []domain.Turn `json:"transcript"`
}

// Store is the synchronous ingest surface: one transcript through the
// full extraction pipeline.
func (h *MemoryHandler) Store(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	result, err := h.ingest.Ingest(r.Context(), req.UserID, req.Transcript)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserIDMissing),
			errors.Is(err, service.ErrTranscriptEmpty):
			writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, codeInternal, "ingestion failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"result": result,
	})
}
