package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

var (
	ErrConversationIDMissing = errors.New("conversation_id is required")
	ErrMessageEmpty          = errors.New("message is required")
	ErrOrchestratorStopped   = errors.New("orchestrator stopped")
)

const (
	historyWindow       = 20
	injectionCooldown   = 10 * time.Minute
	overlapThreshold    = 0.9
	ingestEveryNTurns   = 4
	conversationIdleGC  = 24 * time.Hour
	idleAfter           = 30 * time.Minute
	gcInterval          = time.Hour
	actorMailboxDepth   = 16
	profileSummaryChars = 2000 // ~500 tokens
)

// ConversationService is the per-conversation orchestrator. Each
// conversation is owned by one actor goroutine; HTTP handlers pass
// messages to it, so the transcript, cooldown map, and injection ledger
// need no locks.
type ConversationService struct {
	retrieval *RetrievalService
	ingest    *IngestService
	profiles  *ProfileService
	embedder  domain.EmbeddingClient
	logger    *zap.Logger

	maxInjections    int
	questionCooldown time.Duration

	mu           sync.Mutex
	actors       map[string]*conversationActor
	lastQuestion map[string]time.Time
	stopped      bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewConversationService(rs *RetrievalService, is *IngestService, ps *ProfileService, ec domain.EmbeddingClient, maxInjections int, questionCooldown time.Duration, logger *zap.Logger) *ConversationService {
	return &ConversationService{
		retrieval:        rs,
		ingest:           is,
		profiles:         ps,
		embedder:         ec,
		logger:           logger,
		maxInjections:    maxInjections,
		questionCooldown: questionCooldown,
		actors:           map[string]*conversationActor{},
		lastQuestion:     map[string]time.Time{},
		stopCh:           make(chan struct{}),
	}
}

// Start launches the idle-conversation garbage collector.
func (s *ConversationService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.collect()
			case <-s.stopCh:
				return
			}
		}
	}()
	s.logger.Info("conversation orchestrator started")
}

// Stop shuts the GC down and drains every actor.
func (s *ConversationService) Stop() {
	close(s.stopCh)

	s.mu.Lock()
	s.stopped = true
	actors := make([]*conversationActor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	s.actors = map[string]*conversationActor{}
	s.mu.Unlock()

	for _, a := range actors {
		close(a.mailbox)
	}
	s.wg.Wait()
	s.logger.Info("conversation orchestrator stopped")
}

func (s *ConversationService) collect() {
	cutoff := time.Now().Add(-conversationIdleGC)
	s.mu.Lock()
	var dead []*conversationActor
	for id, a := range s.actors {
		a.stateMu.Lock()
		idle := a.lastActive.Before(cutoff)
		a.stateMu.Unlock()
		if idle {
			dead = append(dead, a)
			delete(s.actors, id)
		}
	}
	s.mu.Unlock()

	for _, a := range dead {
		close(a.mailbox)
		s.logger.Info("collected idle conversation", zap.String("conversation_id", a.conversationID))
	}
}

func (s *ConversationService) actor(conversationID, userID string) (*conversationActor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrOrchestratorStopped
	}
	if a, ok := s.actors[conversationID]; ok {
		return a, nil
	}
	a := &conversationActor{
		svc:            s,
		conversationID: conversationID,
		userID:         userID,
		mailbox:        make(chan actorRequest, actorMailboxDepth),
		cooldowns:      map[string]time.Time{},
		phase:          domain.PhaseFresh,
		lastActive:     time.Now(),
	}
	s.actors[conversationID] = a
	s.wg.Add(1)
	go a.run()
	return a, nil
}

// TurnResponse is what one inbound message produces.
type TurnResponse struct {
	Injections     []domain.Injection      `json:"injections"`
	ProfileContext string                  `json:"profile_context,omitempty"`
	Question       string                  `json:"question,omitempty"`
	Phase          domain.ConversationPhase `json:"phase"`
}

// Message appends one user turn and returns its gated injections.
func (s *ConversationService) Message(ctx context.Context, conversationID, userID, message string) (*TurnResponse, error) {
	if conversationID == "" {
		return nil, ErrConversationIDMissing
	}
	if userID == "" {
		return nil, ErrUserIDMissing
	}
	if message == "" {
		return nil, ErrMessageEmpty
	}
	a, err := s.actor(conversationID, userID)
	if err != nil {
		return nil, err
	}
	return a.ask(ctx, actorRequest{kind: reqMessage, message: message})
}

// Retrieve runs the injection policy for a query without recording a turn.
func (s *ConversationService) Retrieve(ctx context.Context, conversationID, userID, query string) (*TurnResponse, error) {
	if conversationID == "" {
		return nil, ErrConversationIDMissing
	}
	if userID == "" {
		return nil, ErrUserIDMissing
	}
	if query == "" {
		return nil, ErrQueryEmpty
	}
	a, err := s.actor(conversationID, userID)
	if err != nil {
		return nil, err
	}
	return a.ask(ctx, actorRequest{kind: reqRetrieve, message: query})
}

// Transcript replays a batch of turns through the same policy path and
// triggers an ingest of the full window.
func (s *ConversationService) Transcript(ctx context.Context, conversationID, userID string, turns []domain.Turn) (*TurnResponse, error) {
	if conversationID == "" {
		return nil, ErrConversationIDMissing
	}
	if userID == "" {
		return nil, ErrUserIDMissing
	}
	if len(turns) == 0 {
		return nil, ErrTranscriptEmpty
	}
	a, err := s.actor(conversationID, userID)
	if err != nil {
		return nil, err
	}
	return a.ask(ctx, actorRequest{kind: reqTranscript, turns: turns})
}

type requestKind int

const (
	reqMessage requestKind = iota
	reqRetrieve
	reqTranscript
)

type actorRequest struct {
	kind    requestKind
	message string
	turns   []domain.Turn
	ctx     context.Context
	reply   chan actorReply
}

type actorReply struct {
	resp *TurnResponse
	err  error
}

type pastInjection struct {
	memoryID  string
	embedding []float32
}

// conversationActor owns all mutable state for one conversation. Only its
// run loop touches history, cooldowns, and the ledger; lastActive is the
// single exception, shared with the GC under stateMu.
type conversationActor struct {
	svc            *ConversationService
	conversationID string
	userID         string
	mailbox        chan actorRequest

	history          []domain.Turn
	cooldowns        map[string]time.Time
	ledger           []pastInjection
	turnsSinceIngest int
	profileInjected  bool
	phase            domain.ConversationPhase

	stateMu    sync.Mutex
	lastActive time.Time
}

func (a *conversationActor) ask(ctx context.Context, req actorRequest) (resp *TurnResponse, err error) {
	req.ctx = ctx
	req.reply = make(chan actorReply, 1)

	// The GC can close the mailbox between actor lookup and send; the
	// send then panics and the request is refused, not silently dropped.
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, ErrOrchestratorStopped
		}
	}()
	select {
	case a.mailbox <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep.resp, rep.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *conversationActor) run() {
	defer a.svc.wg.Done()
	for req := range a.mailbox {
		var rep actorReply
		switch req.kind {
		case reqMessage:
			rep.resp, rep.err = a.handleMessage(req.ctx, req.message, true)
		case reqRetrieve:
			rep.resp, rep.err = a.handleMessage(req.ctx, req.message, false)
		case reqTranscript:
			rep.resp, rep.err = a.handleTranscript(req.ctx, req.turns)
		}
		req.reply <- rep
	}
}

func (a *conversationActor) touch(now time.Time) {
	a.stateMu.Lock()
	if a.phase == domain.PhaseFresh && len(a.history) > 0 {
		a.phase = domain.PhaseWarm
	} else if a.phase == domain.PhaseWarm && now.Sub(a.lastActive) > idleAfter {
		a.phase = domain.PhaseIdle
	}
	if a.phase == domain.PhaseIdle {
		a.phase = domain.PhaseWarm
	}
	a.lastActive = now
	a.stateMu.Unlock()
}

func (a *conversationActor) handleMessage(ctx context.Context, message string, record bool) (*TurnResponse, error) {
	now := time.Now()
	a.touch(now)

	resp := &TurnResponse{}

	// Conversation start: inject the cached profile summary once.
	if !a.profileInjected {
		a.profileInjected = true
		summary, err := a.svc.profiles.Summary(ctx, a.userID, 10)
		if err != nil {
			if !errors.Is(err, ErrProfileNotFound) {
				a.svc.logger.Debug("profile summary unavailable", zap.Error(err))
			}
		} else {
			if len(summary) > profileSummaryChars {
				summary = summary[:profileSummaryChars]
			}
			resp.ProfileContext = summary
		}
		resp.Question = a.svc.maybeAskGap(ctx, a.userID, now)
	}

	if record {
		a.history = append(a.history, domain.Turn{Role: "user", Content: message, Timestamp: now})
		if len(a.history) > historyWindow {
			a.history = a.history[len(a.history)-historyWindow:]
		}
	}

	query := a.buildQuery(message)
	candidates, err := a.svc.retrieval.Simple(ctx, a.userID, query, domain.SearchOpts{Limit: a.svc.maxInjections * 4})
	if err != nil {
		a.svc.logger.Warn("retrieval failed, returning no injections",
			zap.String("conversation_id", a.conversationID), zap.Error(err))
		candidates = nil
	}
	resp.Injections = a.applyPolicy(ctx, candidates, now)

	if record {
		a.turnsSinceIngest++
		if a.turnsSinceIngest >= ingestEveryNTurns {
			a.turnsSinceIngest = 0
			a.enqueueIngest()
		}
	}

	a.stateMu.Lock()
	resp.Phase = a.phase
	a.stateMu.Unlock()
	return resp, nil
}

func (a *conversationActor) handleTranscript(ctx context.Context, turns []domain.Turn) (*TurnResponse, error) {
	now := time.Now()
	a.touch(now)

	a.history = append(a.history, turns...)
	if len(a.history) > historyWindow {
		a.history = a.history[len(a.history)-historyWindow:]
	}
	a.turnsSinceIngest = 0
	a.enqueueIngest()

	// Injections for the last user turn, if any.
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == "user" {
			return a.handleMessage(ctx, turns[i].Content, false)
		}
	}
	a.stateMu.Lock()
	phase := a.phase
	a.stateMu.Unlock()
	return &TurnResponse{Phase: phase}, nil
}

// buildQuery combines the latest message with a short window summary so
// retrieval sees recent context, not just one line.
func (a *conversationActor) buildQuery(message string) string {
	var b strings.Builder
	b.WriteString(message)
	n := len(a.history)
	for i := max(0, n-4); i < n; i++ {
		if a.history[i].Content == message {
			continue
		}
		b.WriteString("\n")
		b.WriteString(a.history[i].Content)
	}
	return b.String()
}

// applyPolicy gates candidates: id cooldown, semantic overlap with prior
// injections, then the per-turn cap.
func (a *conversationActor) applyPolicy(ctx context.Context, candidates []domain.MemoryWithScore, now time.Time) []domain.Injection {
	var injections []domain.Injection
	for _, c := range candidates {
		if len(injections) >= a.svc.maxInjections {
			break
		}
		if expiry, ok := a.cooldowns[c.ID]; ok && now.Before(expiry) {
			continue
		}

		emb, err := a.svc.embedder.Embed(ctx, c.Content)
		if err != nil {
			a.svc.logger.Debug("overlap check skipped", zap.String("memory_id", c.ID), zap.Error(err))
		} else if a.overlapsLedger(emb) {
			continue
		}

		a.cooldowns[c.ID] = now.Add(injectionCooldown)
		a.ledger = append(a.ledger, pastInjection{memoryID: c.ID, embedding: emb})
		injections = append(injections, domain.Injection{
			MemoryID: c.ID,
			Content:  c.Content,
			Source:   c.Source,
			Channel:  "conversation",
			Score:    c.Score,
			Metadata: c.Metadata,
		})
	}
	return injections
}

func (a *conversationActor) overlapsLedger(emb []float32) bool {
	for _, past := range a.ledger {
		if cosine(emb, past.embedding) >= overlapThreshold {
			return true
		}
	}
	return false
}

// enqueueIngest hands the current window to the pipeline off the actor
// goroutine so a slow LLM never blocks the conversation.
func (a *conversationActor) enqueueIngest() {
	window := append([]domain.Turn(nil), a.history...)
	a.svc.wg.Add(1)
	go func() {
		defer a.svc.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if _, err := a.svc.ingest.Ingest(ctx, a.userID, window); err != nil {
			a.svc.logger.Warn("background ingest failed",
				zap.String("conversation_id", a.conversationID), zap.Error(err))
		}
	}()
}

// maybeAskGap asks at most one profile gap question per user per cooldown
// window.
func (s *ConversationService) maybeAskGap(ctx context.Context, userID string, now time.Time) string {
	s.mu.Lock()
	last, asked := s.lastQuestion[userID]
	if asked && now.Sub(last) < s.questionCooldown {
		s.mu.Unlock()
		return ""
	}
	s.mu.Unlock()

	question := s.profiles.GapQuestion(ctx, userID)
	if question == "" {
		return ""
	}
	s.mu.Lock()
	s.lastQuestion[userID] = now
	s.mu.Unlock()
	return question
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
