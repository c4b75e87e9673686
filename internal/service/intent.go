package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/store"
)

var (
	ErrIntentNotFound     = errors.New("intent not found")
	ErrIntentClaimed      = errors.New("intent already claimed")
	ErrIntentDisabled     = errors.New("intent is disabled")
	ErrIntentNameMissing  = errors.New("intent_name is required")
	ErrInvalidTrigger     = errors.New("invalid trigger type")
	ErrInvalidCron        = errors.New("invalid cron expression")
	ErrCronTooFrequent    = errors.New("cron fires too frequently")
	ErrIntervalTooShort   = errors.New("interval below minimum")
	ErrOnceInPast         = errors.New("once trigger must be in the future")
	ErrIntentCapReached   = errors.New("active intent cap reached")
	ErrInvalidFireResult  = errors.New("invalid fire result")
	ErrScheduleIncomplete = errors.New("trigger schedule incomplete")
)

const (
	minIntervalMinutes  = 5
	maxCronFiresPerDay  = 96
	defaultCheckMinutes = 5

	retryConditionNotMet = 5 * time.Minute
	retryGateBlocked     = 5 * time.Minute
	retryFailed          = 15 * time.Minute
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// IntentService owns scheduled-intent state transitions: validation at
// create, the pending/claim/fire worker protocol, and next-check
// computation.
type IntentService struct {
	intents domain.IntentStore
	logger  *zap.Logger

	maxPerUser  int
	claimWindow time.Duration
}

func NewIntentService(is domain.IntentStore, maxPerUser int, claimWindow time.Duration, logger *zap.Logger) *IntentService {
	return &IntentService{
		intents:     is,
		logger:      logger,
		maxPerUser:  maxPerUser,
		claimWindow: claimWindow,
	}
}

func (s *IntentService) validate(i *domain.ScheduledIntent, now time.Time) error {
	if i.UserID == "" {
		return ErrUserIDMissing
	}
	if i.IntentName == "" {
		return ErrIntentNameMissing
	}
	if !domain.ValidTriggerType(string(i.TriggerType)) {
		return ErrInvalidTrigger
	}
	switch i.TriggerType {
	case domain.TriggerCron:
		sched, err := cronParser.Parse(i.TriggerSchedule.Cron)
		if err != nil {
			return ErrInvalidCron
		}
		if fires := countFires(sched, now, 24*time.Hour, maxCronFiresPerDay+1); fires > maxCronFiresPerDay {
			return ErrCronTooFrequent
		}
	case domain.TriggerInterval:
		if i.TriggerSchedule.IntervalMinutes < minIntervalMinutes {
			return ErrIntervalTooShort
		}
	case domain.TriggerOnce:
		if i.TriggerSchedule.At == nil {
			return ErrScheduleIncomplete
		}
		if !i.TriggerSchedule.At.After(now) {
			return ErrOnceInPast
		}
	}
	return nil
}

func countFires(sched cron.Schedule, from time.Time, window time.Duration, limit int) int {
	count := 0
	t := from
	end := from.Add(window)
	for count < limit {
		t = sched.Next(t)
		if t.After(end) {
			break
		}
		count++
	}
	return count
}

// nextCheckAfterCreate computes the initial next_check for an enabled
// intent.
func (s *IntentService) nextCheckAfterCreate(i *domain.ScheduledIntent, now time.Time) *time.Time {
	if !i.Enabled {
		return nil
	}
	switch i.TriggerType {
	case domain.TriggerCron:
		sched, err := cronParser.Parse(i.TriggerSchedule.Cron)
		if err != nil {
			return nil
		}
		t := sched.Next(now)
		return &t
	case domain.TriggerInterval:
		t := now.Add(time.Duration(i.TriggerSchedule.IntervalMinutes) * time.Minute)
		return &t
	case domain.TriggerOnce:
		return i.TriggerSchedule.At
	default:
		minutes := i.TriggerSchedule.CheckIntervalMinutes
		if minutes <= 0 {
			minutes = defaultCheckMinutes
		}
		t := now.Add(time.Duration(minutes) * time.Minute)
		return &t
	}
}

func (s *IntentService) Create(ctx context.Context, i *domain.ScheduledIntent) (*domain.ScheduledIntent, error) {
	now := time.Now().UTC()
	if err := s.validate(i, now); err != nil {
		return nil, err
	}

	active, err := s.intents.CountActive(ctx, i.UserID)
	if err != nil {
		return nil, err
	}
	if active >= s.maxPerUser {
		return nil, ErrIntentCapReached
	}

	if i.ID == "" {
		i.ID = "int_" + uuid.NewString()
	}
	i.ExecutionCount = 0
	i.CreatedAt = now
	i.UpdatedAt = now
	i.NextCheck = s.nextCheckAfterCreate(i, now)

	if err := s.intents.Create(ctx, i); err != nil {
		return nil, err
	}
	s.logger.Info("intent created",
		zap.String("intent_id", i.ID),
		zap.String("user_id", i.UserID),
		zap.String("trigger", string(i.TriggerType)))
	return i, nil
}

func (s *IntentService) Get(ctx context.Context, id string) (*domain.ScheduledIntent, error) {
	i, err := s.intents.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return i, nil
}

func (s *IntentService) List(ctx context.Context, userID string) ([]domain.ScheduledIntent, error) {
	if userID == "" {
		return nil, ErrUserIDMissing
	}
	return s.intents.ListByUser(ctx, userID)
}

func (s *IntentService) Update(ctx context.Context, i *domain.ScheduledIntent) (*domain.ScheduledIntent, error) {
	existing, err := s.Get(ctx, i.ID)
	if err != nil {
		return nil, err
	}
	if existing.UserID != i.UserID {
		return nil, ErrCrossUser
	}

	now := time.Now().UTC()
	if err := s.validate(i, now); err != nil {
		return nil, err
	}
	i.UpdatedAt = now
	i.NextCheck = s.nextCheckAfterCreate(i, now)
	if err := s.intents.Update(ctx, i); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return i, nil
}

func (s *IntentService) Delete(ctx context.Context, id, userID string) error {
	err := s.intents.Delete(ctx, id, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrIntentNotFound
		}
		return err
	}
	return nil
}

// Pending is read-only: due intents with stale or absent claims, carrying
// an in_cooldown flag for transparency. An empty userID scans all users,
// which is how the polling workers run.
func (s *IntentService) Pending(ctx context.Context, userID string, limit int) ([]domain.PendingIntent, error) {
	return s.intents.Pending(ctx, userID, limit, time.Now().UTC(), s.claimWindow)
}

// Claim locks one due intent for a worker. Exactly one of N concurrent
// claimers wins inside the claim window.
func (s *IntentService) Claim(ctx context.Context, id string) (*domain.ScheduledIntent, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.Enabled {
		return nil, ErrIntentDisabled
	}
	i, err := s.intents.Claim(ctx, id, time.Now().UTC(), s.claimWindow)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrIntentClaimed
		}
		return nil, err
	}
	return i, nil
}

// FireRequest is the worker's post-processing report.
type FireRequest struct {
	Result     domain.FireResult `json:"result"`
	MessageID  string            `json:"message_id,omitempty"`
	GateResult string            `json:"gate_result,omitempty"`
	DurationMS int64             `json:"duration_ms,omitempty"`
	Detail     map[string]any    `json:"detail,omitempty"`
}

// Fire records one fire attempt: advances next_check per the result,
// handles auto-disable, clears the claim, and always appends an
// execution row.
func (s *IntentService) Fire(ctx context.Context, id string, req FireRequest) (*domain.ScheduledIntent, error) {
	if !domain.ValidFireResult(string(req.Result)) {
		return nil, ErrInvalidFireResult
	}
	i, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	i.LastChecked = &now
	i.LastExecutionStatus = string(req.Result)
	i.UpdatedAt = now

	if req.Result == domain.FireSuccess {
		i.LastExecuted = &now
		i.ExecutionCount++
		if req.MessageID != "" {
			i.LastMessageID = req.MessageID
		}
	}

	i.NextCheck = s.nextCheckAfterFire(i, req.Result, now)

	// Auto-disable on exhaustion or expiry; next_check is null iff
	// disabled.
	if i.MaxExecutions > 0 && i.ExecutionCount >= i.MaxExecutions {
		i.Enabled = false
	}
	if i.ExpiresAt != nil && !now.Before(*i.ExpiresAt) {
		i.Enabled = false
	}
	if i.TriggerType == domain.TriggerOnce && req.Result == domain.FireSuccess {
		i.Enabled = false
	}
	if !i.Enabled {
		i.NextCheck = nil
	}

	if err := s.intents.Fire(ctx, i); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}

	exec := &domain.IntentExecution{
		ID:         "exec_" + uuid.NewString(),
		IntentID:   i.ID,
		UserID:     i.UserID,
		Status:     req.Result,
		GateResult: req.GateResult,
		MessageID:  req.MessageID,
		DurationMS: req.DurationMS,
		Detail:     req.Detail,
		ExecutedAt: now,
	}
	if err := s.intents.AppendExecution(ctx, exec); err != nil {
		s.logger.Warn("failed to append execution row",
			zap.String("intent_id", i.ID), zap.Error(err))
	}
	return i, nil
}

// nextCheckAfterFire implements the deterministic next-check table.
func (s *IntentService) nextCheckAfterFire(i *domain.ScheduledIntent, result domain.FireResult, now time.Time) *time.Time {
	switch result {
	case domain.FireConditionNotMet:
		t := now.Add(retryConditionNotMet)
		return &t
	case domain.FireGateBlocked:
		t := now.Add(retryGateBlocked)
		return &t
	case domain.FireFailed:
		t := now.Add(retryFailed)
		return &t
	}

	switch i.TriggerType {
	case domain.TriggerCron:
		sched, err := cronParser.Parse(i.TriggerSchedule.Cron)
		if err != nil {
			s.logger.Warn("stored cron no longer parses",
				zap.String("intent_id", i.ID),
				zap.String("cron", i.TriggerSchedule.Cron))
			return nil
		}
		t := sched.Next(now)
		return &t
	case domain.TriggerInterval:
		t := now.Add(time.Duration(i.TriggerSchedule.IntervalMinutes) * time.Minute)
		return &t
	case domain.TriggerOnce:
		return nil
	default:
		minutes := i.TriggerSchedule.CheckIntervalMinutes
		if minutes <= 0 {
			minutes = defaultCheckMinutes
		}
		t := now.Add(time.Duration(minutes) * time.Minute)
		return &t
	}
}

func (s *IntentService) History(ctx context.Context, id string, limit int) ([]domain.IntentExecution, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	execs, err := s.intents.History(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return execs, nil
}
