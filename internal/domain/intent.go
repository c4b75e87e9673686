package domain

import "time"

type TriggerType string

const (
	TriggerCron     TriggerType = "cron"
	TriggerInterval TriggerType = "interval"
	TriggerOnce     TriggerType = "once"
	TriggerPrice    TriggerType = "price"
	TriggerSilence  TriggerType = "silence"
	TriggerEvent    TriggerType = "event"
	TriggerCalendar TriggerType = "calendar"
	TriggerNews     TriggerType = "news"
)

func ValidTriggerType(t string) bool {
	switch TriggerType(t) {
	case TriggerCron, TriggerInterval, TriggerOnce, TriggerPrice,
		TriggerSilence, TriggerEvent, TriggerCalendar, TriggerNews:
		return true
	}
	return false
}

// TriggerSchedule is the tagged schedule payload per trigger type.
type TriggerSchedule struct {
	// Cron expression for cron triggers.
	Cron string `json:"cron,omitempty"`
	// Interval minutes for interval triggers.
	IntervalMinutes int `json:"interval_minutes,omitempty"`
	// At is the single fire time for once triggers.
	At *time.Time `json:"at,omitempty"`
	// CheckIntervalMinutes is the polling cadence for condition triggers.
	CheckIntervalMinutes int `json:"check_interval_minutes,omitempty"`
}

// TriggerCondition is the tagged condition payload for price/event/silence
// style triggers; opaque to the engine beyond cooldown bookkeeping.
type TriggerCondition struct {
	Kind          string         `json:"kind,omitempty"`
	Params        map[string]any `json:"params,omitempty"`
	CooldownHours float64        `json:"cooldown_hours,omitempty"`
}

type ScheduledIntent struct {
	ID                  string           `json:"id"`
	UserID              string           `json:"user_id"`
	IntentName          string           `json:"intent_name"`
	TriggerType         TriggerType      `json:"trigger_type"`
	TriggerSchedule     TriggerSchedule  `json:"trigger_schedule"`
	TriggerCondition    TriggerCondition `json:"trigger_condition"`
	ActionContext       string           `json:"action_context,omitempty"`
	ActionPriority      int              `json:"action_priority"`
	Enabled             bool             `json:"enabled"`
	ExpiresAt           *time.Time       `json:"expires_at,omitempty"`
	MaxExecutions       int              `json:"max_executions,omitempty"`
	ExecutionCount      int              `json:"execution_count"`
	NextCheck           *time.Time       `json:"next_check,omitempty"`
	LastChecked         *time.Time       `json:"last_checked,omitempty"`
	LastExecuted        *time.Time       `json:"last_executed,omitempty"`
	LastExecutionStatus string           `json:"last_execution_status,omitempty"`
	LastMessageID       string           `json:"last_message_id,omitempty"`
	ClaimedAt           *time.Time       `json:"claimed_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// PendingIntent is a due intent plus the read-only cooldown flag.
type PendingIntent struct {
	ScheduledIntent
	InCooldown bool `json:"in_cooldown"`
}

type FireResult string

const (
	FireSuccess         FireResult = "success"
	FireConditionNotMet FireResult = "condition_not_met"
	FireGateBlocked     FireResult = "gate_blocked"
	FireFailed          FireResult = "failed"
)

func ValidFireResult(r string) bool {
	switch FireResult(r) {
	case FireSuccess, FireConditionNotMet, FireGateBlocked, FireFailed:
		return true
	}
	return false
}

// IntentExecution is one append-only audit row per fire attempt.
type IntentExecution struct {
	ID         string         `json:"id"`
	IntentID   string         `json:"intent_id"`
	UserID     string         `json:"user_id"`
	Status     FireResult     `json:"status"`
	GateResult string         `json:"gate_result,omitempty"`
	MessageID  string         `json:"message_id,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Detail     map[string]any `json:"detail,omitempty"`
	ExecutedAt time.Time      `json:"executed_at"`
}
