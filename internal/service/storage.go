package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/store"
)

var (
	ErrMemoryNotFound      = errors.New("memory not found")
	ErrCrossUser           = errors.New("memory belongs to a different user")
	ErrMemoryContentEmpty  = errors.New("content is required")
	ErrMemoryContentTooBig = errors.New("content exceeds maximum length")
	ErrUserIDMissing       = errors.New("user_id is required")
	ErrInvalidLayer        = errors.New("invalid layer")
	ErrInvalidMemoryType   = errors.New("invalid memory type")
	ErrTooManyPersonaTags  = errors.New("too many persona tags")
	ErrVectorWriteFailed   = errors.New("vector write failed")
)

// Backend names used in per-backend result maps.
const (
	BackendVector     = "vector"
	BackendEpisodic   = "episodic"
	BackendEmotional  = "emotional"
	BackendProcedural = "procedural"
	BackendPortfolio  = "portfolio"
	BackendCache      = "cache"
)

const backendConcurrency = 16

// StorageResult is the per-backend outcome map returned by Store and
// Delete. It is part of the contract, not a log line.
type StorageResult struct {
	Backends map[string]bool   `json:"storage"`
	Errors   map[string]string `json:"errors,omitempty"`
}

func newStorageResult() *StorageResult {
	return &StorageResult{
		Backends: map[string]bool{},
		Errors:   map[string]string{},
	}
}

// StorageService routes one logical memory to its deterministic subset of
// backends, in parallel, and joins before returning. The vector store is
// the source of truth: vector failure fails the logical store, typed-store
// failures are partial.
type StorageService struct {
	vector     domain.VectorStore
	episodic   domain.EpisodicStore
	emotional  domain.EmotionalStore
	procedural domain.ProceduralStore
	portfolio  domain.PortfolioStore
	cache      domain.Cache
	logger     *zap.Logger

	shortTermTTL time.Duration
	sems         map[string]*semaphore.Weighted
}

func NewStorageService(vs domain.VectorStore, es domain.EpisodicStore, ms domain.EmotionalStore, ps domain.ProceduralStore, fs domain.PortfolioStore, cache domain.Cache, shortTermTTL time.Duration, logger *zap.Logger) *StorageService {
	sems := map[string]*semaphore.Weighted{}
	for _, b := range []string{BackendVector, BackendEpisodic, BackendEmotional, BackendProcedural, BackendPortfolio, BackendCache} {
		sems[b] = semaphore.NewWeighted(backendConcurrency)
	}
	return &StorageService{
		vector:       vs,
		episodic:     es,
		emotional:    ms,
		procedural:   ps,
		portfolio:    fs,
		cache:        cache,
		logger:       logger,
		shortTermTTL: shortTermTTL,
		sems:         sems,
	}
}

func (s *StorageService) validate(m *domain.Memory) error {
	if m.UserID == "" {
		return ErrUserIDMissing
	}
	if m.Content == "" {
		return ErrMemoryContentEmpty
	}
	if len(m.Content) > domain.MaxContentLength {
		return ErrMemoryContentTooBig
	}
	if m.Layer != "" && !domain.ValidLayer(string(m.Layer)) {
		return ErrInvalidLayer
	}
	if m.Type != "" && !domain.ValidMemoryType(string(m.Type)) {
		return ErrInvalidMemoryType
	}
	if len(m.PersonaTags) > domain.MaxPersonaTags {
		return ErrTooManyPersonaTags
	}
	return nil
}

// Store fans the memory out to every targeted backend and joins. A failure
// in one backend never aborts the others. The stored_in_* flags are
// persisted on the vector record before return so delete is exact.
func (s *StorageService) Store(ctx context.Context, m *domain.Memory, typed *domain.TypedRecords) (*StorageResult, error) {
	if err := s.validate(m); err != nil {
		return nil, err
	}
	if m.ID == "" {
		m.ID = domain.NewMemoryID()
	}
	m.ApplyDefaults(time.Now())
	if typed == nil {
		typed = &domain.TypedRecords{}
	}

	flags := map[string]bool{
		domain.MetaStoredEpisodic:   typed.Episodic != nil,
		domain.MetaStoredEmotional:  typed.Emotional != nil,
		domain.MetaStoredProcedural: typed.Procedural != nil,
		domain.MetaStoredPortfolio:  typed.Holding != nil,
	}
	for k, v := range flags {
		m.Metadata[k] = v
	}

	result := newStorageResult()
	var mu sync.Mutex
	var wg sync.WaitGroup

	run := func(backend string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.sems[backend].Acquire(ctx, 1); err != nil {
				mu.Lock()
				result.Backends[backend] = false
				result.Errors[backend] = err.Error()
				mu.Unlock()
				return
			}
			defer s.sems[backend].Release(1)

			err := fn(ctx)
			mu.Lock()
			result.Backends[backend] = err == nil
			if err != nil {
				result.Errors[backend] = err.Error()
			}
			mu.Unlock()
			if err != nil {
				s.logger.Warn("backend write failed",
					zap.String("backend", backend),
					zap.String("memory_id", m.ID),
					zap.Error(err))
			}
		}()
	}

	run(BackendVector, func(ctx context.Context) error {
		return s.vector.Create(ctx, m)
	})
	if typed.Episodic != nil {
		typed.Episodic.ID = m.ID
		typed.Episodic.UserID = m.UserID
		run(BackendEpisodic, func(ctx context.Context) error {
			return s.episodic.Create(ctx, typed.Episodic)
		})
	}
	if typed.Emotional != nil {
		typed.Emotional.ID = m.ID
		typed.Emotional.UserID = m.UserID
		run(BackendEmotional, func(ctx context.Context) error {
			return s.emotional.Create(ctx, typed.Emotional)
		})
	}
	if typed.Procedural != nil {
		typed.Procedural.ID = m.ID
		typed.Procedural.UserID = m.UserID
		run(BackendProcedural, func(ctx context.Context) error {
			return s.procedural.Upsert(ctx, typed.Procedural)
		})
	}
	if typed.Holding != nil {
		typed.Holding.UserID = m.UserID
		run(BackendPortfolio, func(ctx context.Context) error {
			return s.storeHolding(ctx, m, typed.Holding)
		})
	}
	if m.Layer == domain.LayerShortTerm {
		run(BackendCache, func(ctx context.Context) error {
			return s.cache.SetShortTerm(ctx, m, s.shortTermTTL)
		})
	}

	wg.Wait()

	if !result.Backends[BackendVector] {
		return result, ErrVectorWriteFailed
	}

	// Reconcile flags with what actually landed, then persist them. A
	// skill upsert that folded into a row owned by an earlier memory
	// rewrites the record id, so this memory does not own the skill row
	// and must not claim it for delete.
	actual := map[string]bool{
		domain.MetaStoredEpisodic:   typed.Episodic != nil && result.Backends[BackendEpisodic],
		domain.MetaStoredEmotional:  typed.Emotional != nil && result.Backends[BackendEmotional],
		domain.MetaStoredProcedural: typed.Procedural != nil && result.Backends[BackendProcedural] && typed.Procedural.ID == m.ID,
		domain.MetaStoredPortfolio:  typed.Holding != nil && result.Backends[BackendPortfolio],
	}
	for k, v := range actual {
		m.Metadata[k] = v
	}
	if err := s.vector.SetStoredFlags(ctx, m.ID, actual); err != nil {
		s.logger.Warn("failed to persist stored flags", zap.String("memory_id", m.ID), zap.Error(err))
	}

	if err := s.cache.TouchActivity(ctx, m.UserID, time.Now().UTC().Format("20060102")); err != nil {
		s.logger.Debug("failed to touch activity set", zap.Error(err))
	}

	return result, nil
}

// storeHolding records the position and one ledger entry keyed by the
// memory id, so deleting the memory unwinds the transaction too.
func (s *StorageService) storeHolding(ctx context.Context, m *domain.Memory, h *domain.PortfolioHolding) error {
	now := time.Now().UTC()
	h.UpdatedAt = now
	if err := s.portfolio.UpsertHolding(ctx, h); err != nil {
		return err
	}
	return s.portfolio.AppendTransaction(ctx, &domain.PortfolioTransaction{
		ID:        m.ID,
		UserID:    m.UserID,
		Ticker:    h.Ticker,
		Action:    "buy",
		Shares:    h.Shares,
		Price:     h.AvgPrice,
		Timestamp: now,
	})
}

// Delete removes the memory from the vector store and from every typed
// store whose stored_in_* flag is set. The flags are the authoritative
// map; no typed store is queried speculatively.
func (s *StorageService) Delete(ctx context.Context, id, userID string) (*StorageResult, error) {
	owner, err := s.vector.OwnerOf(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMemoryNotFound
		}
		return nil, err
	}
	if owner != userID {
		return nil, ErrCrossUser
	}

	m, err := s.vector.GetByID(ctx, id, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMemoryNotFound
		}
		return nil, err
	}

	result := newStorageResult()
	var mu sync.Mutex
	var wg sync.WaitGroup

	run := func(backend string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.sems[backend].Acquire(ctx, 1); err != nil {
				mu.Lock()
				result.Backends[backend] = false
				result.Errors[backend] = err.Error()
				mu.Unlock()
				return
			}
			defer s.sems[backend].Release(1)

			err := fn(ctx)
			// A row already gone still counts as deleted.
			ok := err == nil || errors.Is(err, store.ErrNotFound)
			mu.Lock()
			result.Backends[backend] = ok
			if !ok {
				result.Errors[backend] = err.Error()
			}
			mu.Unlock()
			if !ok {
				s.logger.Warn("backend delete failed",
					zap.String("backend", backend),
					zap.String("memory_id", id),
					zap.Error(err))
			}
		}()
	}

	run(BackendVector, func(ctx context.Context) error {
		return s.vector.Delete(ctx, id, userID)
	})
	if m.StoredIn(domain.MetaStoredEpisodic) {
		run(BackendEpisodic, func(ctx context.Context) error {
			return s.episodic.Delete(ctx, id, userID)
		})
	}
	if m.StoredIn(domain.MetaStoredEmotional) {
		run(BackendEmotional, func(ctx context.Context) error {
			return s.emotional.Delete(ctx, id, userID)
		})
	}
	if m.StoredIn(domain.MetaStoredProcedural) {
		run(BackendProcedural, func(ctx context.Context) error {
			return s.procedural.Delete(ctx, id, userID)
		})
	}
	if m.StoredIn(domain.MetaStoredPortfolio) {
		run(BackendPortfolio, func(ctx context.Context) error {
			return s.portfolio.DeleteTransaction(ctx, id, userID)
		})
	}
	if m.Layer == domain.LayerShortTerm {
		run(BackendCache, func(ctx context.Context) error {
			return s.cache.DeleteShortTerm(ctx, userID, id)
		})
	}

	wg.Wait()
	return result, nil
}
