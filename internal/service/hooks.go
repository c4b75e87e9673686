package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/store"
)

var (
	ErrInvalidHook        = errors.New("invalid hook kind")
	ErrConsentDenied      = errors.New("hook consent not granted")
	ErrDuplicateHookEvent = errors.New("hook event already processed")
	ErrHookEventEmpty     = errors.New("hook event body is required")
)

// HookService is the consent-gated ingress for external connectors.
// Events are deduplicated by source message id, normalized into a
// transcript shape, and handed to the ingestion pipeline; nothing
// bypasses its extraction rules.
type HookService struct {
	consents domain.ConsentStore
	ingest   *IngestService
	logger   *zap.Logger
}

func NewHookService(cs domain.ConsentStore, ingest *IngestService, logger *zap.Logger) *HookService {
	return &HookService{consents: cs, ingest: ingest, logger: logger}
}

func (s *HookService) SetConsent(ctx context.Context, userID string, hook domain.HookKind, granted bool) (*domain.HookConsent, error) {
	if userID == "" {
		return nil, ErrUserIDMissing
	}
	if !domain.ValidHookKind(string(hook)) {
		return nil, ErrInvalidHook
	}
	c := &domain.HookConsent{
		UserID:    userID,
		Hook:      hook,
		Granted:   granted,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.consents.Upsert(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("hook consent updated",
		zap.String("user_id", userID),
		zap.String("hook", string(hook)),
		zap.Bool("granted", granted))
	return c, nil
}

func (s *HookService) GetConsent(ctx context.Context, userID string, hook domain.HookKind) (*domain.HookConsent, error) {
	if !domain.ValidHookKind(string(hook)) {
		return nil, ErrInvalidHook
	}
	c, err := s.consents.Get(ctx, userID, hook)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Absent consent row means not granted.
			return &domain.HookConsent{UserID: userID, Hook: hook, Granted: false}, nil
		}
		return nil, err
	}
	return c, nil
}

// HandleEvent validates consent, dedups by source message id, and feeds
// the normalized transcript to ingestion.
func (s *HookService) HandleEvent(ctx context.Context, ev *domain.HookEvent) (*IngestResult, error) {
	if ev.UserID == "" {
		return nil, ErrUserIDMissing
	}
	if !domain.ValidHookKind(string(ev.Hook)) {
		return nil, ErrInvalidHook
	}
	if ev.Body == "" {
		return nil, ErrHookEventEmpty
	}

	consent, err := s.GetConsent(ctx, ev.UserID, ev.Hook)
	if err != nil {
		return nil, err
	}
	if !consent.Granted {
		return nil, ErrConsentDenied
	}

	if ev.SourceMessageID != "" {
		fresh, err := s.consents.MarkEventSeen(ctx, ev.UserID, ev.Hook, ev.SourceMessageID)
		if err != nil {
			return nil, err
		}
		if !fresh {
			return nil, ErrDuplicateHookEvent
		}
	}

	return s.ingest.Ingest(ctx, ev.UserID, normalizeEvent(ev))
}

// normalizeEvent reshapes an external event into the transcript form the
// pipeline expects.
func normalizeEvent(ev *domain.HookEvent) []domain.Turn {
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	header := fmt.Sprintf("Incoming %s event at %s", ev.Hook, occurred.Format(time.RFC3339))
	if ev.Subject != "" {
		header += ": " + ev.Subject
	}
	return []domain.Turn{
		{Role: "system", Content: header, Timestamp: occurred},
		{Role: "user", Content: ev.Body, Timestamp: occurred},
	}
}
