package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// IntentStore persists scheduled intents and their execution audit trail.
// Claiming uses row locks so concurrent pollers never double-fire.
type IntentStore struct {
	db *pgxpool.Pool
}

func NewIntentStore(db *pgxpool.Pool) *IntentStore {
	return &IntentStore{db: db}
}

const intentColumns = `id, user_id, intent_name, trigger_type, trigger_schedule,
	trigger_condition, action_context, action_priority, enabled, expires_at,
	max_executions, execution_count, next_check, last_checked, last_executed,
	last_execution_status, last_message_id, claimed_at, created_at, updated_at`

func scanIntent(row pgx.Row, i *domain.ScheduledIntent) error {
	return row.Scan(&i.ID, &i.UserID, &i.IntentName, &i.TriggerType,
		&i.TriggerSchedule, &i.TriggerCondition, &i.ActionContext,
		&i.ActionPriority, &i.Enabled, &i.ExpiresAt, &i.MaxExecutions,
		&i.ExecutionCount, &i.NextCheck, &i.LastChecked, &i.LastExecuted,
		&i.LastExecutionStatus, &i.LastMessageID, &i.ClaimedAt,
		&i.CreatedAt, &i.UpdatedAt)
}

func (s *IntentStore) Create(ctx context.Context, i *domain.ScheduledIntent) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO scheduled_intents (id, user_id, intent_name, trigger_type, trigger_schedule, trigger_condition, action_context, action_priority, enabled, expires_at, max_executions, execution_count, next_check, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
		i.ID, i.UserID, i.IntentName, i.TriggerType, i.TriggerSchedule,
		i.TriggerCondition, i.ActionContext, i.ActionPriority, i.Enabled,
		i.ExpiresAt, i.MaxExecutions, i.ExecutionCount, i.NextCheck, i.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

func (s *IntentStore) GetByID(ctx context.Context, id string) (*domain.ScheduledIntent, error) {
	i := &domain.ScheduledIntent{}
	err := scanIntent(s.db.QueryRow(ctx,
		`SELECT `+intentColumns+` FROM scheduled_intents WHERE id = $1`,
		id,
	), i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return i, nil
}

func (s *IntentStore) ListByUser(ctx context.Context, userID string) ([]domain.ScheduledIntent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+intentColumns+` FROM scheduled_intents
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list intents: %w", err)
	}
	defer rows.Close()
	return scanIntents(rows)
}

func scanIntents(rows pgx.Rows) ([]domain.ScheduledIntent, error) {
	var intents []domain.ScheduledIntent
	for rows.Next() {
		var i domain.ScheduledIntent
		if err := scanIntent(rows, &i); err != nil {
			return nil, err
		}
		intents = append(intents, i)
	}
	return intents, rows.Err()
}

func (s *IntentStore) CountActive(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM scheduled_intents WHERE user_id = $1 AND enabled`,
		userID,
	).Scan(&count)
	return count, err
}

func (s *IntentStore) Update(ctx context.Context, i *domain.ScheduledIntent) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE scheduled_intents SET
		     intent_name       = $2,
		     trigger_type      = $3,
		     trigger_schedule  = $4,
		     trigger_condition = $5,
		     action_context    = $6,
		     action_priority   = $7,
		     enabled           = $8,
		     expires_at        = $9,
		     max_executions    = $10,
		     next_check        = $11,
		     updated_at        = $12
		 WHERE id = $1`,
		i.ID, i.IntentName, i.TriggerType, i.TriggerSchedule, i.TriggerCondition,
		i.ActionContext, i.ActionPriority, i.Enabled, i.ExpiresAt,
		i.MaxExecutions, i.NextCheck, i.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *IntentStore) Delete(ctx context.Context, id, userID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM scheduled_intents WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Pending returns due, enabled, unexpired intents. Claims older than the
// claim window count as stale and do not block the row. The cooldown flag
// is computed in SQL so callers see it without a second query.
func (s *IntentStore) Pending(ctx context.Context, userID string, limit int, now time.Time, claimWindow time.Duration) ([]domain.PendingIntent, error) {
	if limit <= 0 {
		limit = 20
	}
	// An empty userID scans every user's due set, which is how the
	// polling workers run. Rows inside their condition cooldown are not
	// due; in_cooldown stays in the projection for transparency.
	rows, err := s.db.Query(ctx,
		`SELECT `+intentColumns+`,
		     (last_executed IS NOT NULL
		      AND COALESCE((trigger_condition->>'cooldown_hours')::float8, 0) > 0
		      AND last_executed > $2 - make_interval(secs => COALESCE((trigger_condition->>'cooldown_hours')::float8, 0) * 3600)) AS in_cooldown
		 FROM scheduled_intents
		 WHERE ($1 = '' OR user_id = $1)
		   AND enabled
		   AND next_check IS NOT NULL AND next_check <= $2
		   AND (expires_at IS NULL OR expires_at > $2)
		   AND (claimed_at IS NULL OR claimed_at < $3)
		   AND NOT (last_executed IS NOT NULL
		      AND COALESCE((trigger_condition->>'cooldown_hours')::float8, 0) > 0
		      AND last_executed > $2 - make_interval(secs => COALESCE((trigger_condition->>'cooldown_hours')::float8, 0) * 3600))
		 ORDER BY action_priority DESC, next_check ASC, id ASC
		 LIMIT $4`,
		userID, now, now.Add(-claimWindow), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pending intents: %w", err)
	}
	defer rows.Close()

	var pending []domain.PendingIntent
	for rows.Next() {
		var p domain.PendingIntent
		err := rows.Scan(&p.ID, &p.UserID, &p.IntentName, &p.TriggerType,
			&p.TriggerSchedule, &p.TriggerCondition, &p.ActionContext,
			&p.ActionPriority, &p.Enabled, &p.ExpiresAt, &p.MaxExecutions,
			&p.ExecutionCount, &p.NextCheck, &p.LastChecked, &p.LastExecuted,
			&p.LastExecutionStatus, &p.LastMessageID, &p.ClaimedAt,
			&p.CreatedAt, &p.UpdatedAt, &p.InCooldown)
		if err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// Claim takes the row lock with SKIP LOCKED and stamps claimed_at, so two
// workers polling the same schedule cannot both fire one intent. A row
// already claimed inside the window returns ErrConflict.
func (s *IntentStore) Claim(ctx context.Context, id string, now time.Time, claimWindow time.Duration) (*domain.ScheduledIntent, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	i := &domain.ScheduledIntent{}
	err = scanIntent(tx.QueryRow(ctx,
		`SELECT `+intentColumns+` FROM scheduled_intents
		 WHERE id = $1 AND enabled
		 FOR UPDATE SKIP LOCKED`,
		id,
	), i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConflict
		}
		return nil, err
	}
	if i.ClaimedAt != nil && i.ClaimedAt.After(now.Add(-claimWindow)) {
		return nil, ErrConflict
	}

	_, err = tx.Exec(ctx,
		`UPDATE scheduled_intents SET claimed_at = $2, last_checked = $2 WHERE id = $1`,
		id, now,
	)
	if err != nil {
		return nil, fmt.Errorf("stamp claim: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	i.ClaimedAt = &now
	i.LastChecked = &now
	return i, nil
}

// Fire persists the post-fire state and releases the claim.
func (s *IntentStore) Fire(ctx context.Context, i *domain.ScheduledIntent) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE scheduled_intents SET
		     enabled               = $2,
		     execution_count       = $3,
		     next_check            = $4,
		     last_checked          = $5,
		     last_executed         = $6,
		     last_execution_status = $7,
		     last_message_id       = $8,
		     claimed_at            = NULL,
		     updated_at            = $9
		 WHERE id = $1`,
		i.ID, i.Enabled, i.ExecutionCount, i.NextCheck, i.LastChecked,
		i.LastExecuted, i.LastExecutionStatus, i.LastMessageID, i.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("fire intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *IntentStore) AppendExecution(ctx context.Context, e *domain.IntentExecution) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO intent_executions (id, intent_id, user_id, status, gate_result, message_id, duration_ms, detail, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.IntentID, e.UserID, e.Status, e.GateResult, e.MessageID,
		e.DurationMS, e.Detail, e.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("append execution: %w", err)
	}
	return nil
}

func (s *IntentStore) History(ctx context.Context, intentID string, limit int) ([]domain.IntentExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, intent_id, user_id, status, gate_result, message_id, duration_ms, detail, executed_at
		 FROM intent_executions
		 WHERE intent_id = $1
		 ORDER BY executed_at DESC
		 LIMIT $2`,
		intentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("execution history: %w", err)
	}
	defer rows.Close()

	var execs []domain.IntentExecution
	for rows.Next() {
		var e domain.IntentExecution
		if err := rows.Scan(&e.ID, &e.IntentID, &e.UserID, &e.Status,
			&e.GateResult, &e.MessageID, &e.DurationMS, &e.Detail,
			&e.ExecutedAt); err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}
