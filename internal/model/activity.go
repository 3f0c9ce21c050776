package model

import (
	"time"

	"github.com/google/uuid"
)

// ActivityEventType enumerates the append-only session lifecycle events.
type ActivityEventType string

const (
	EventSessionStarted   ActivityEventType = "SessionStarted"
	EventSessionCompleted ActivityEventType = "SessionCompleted"
	EventSessionAbandoned ActivityEventType = "SessionAbandoned"
	EventSessionTimedOut  ActivityEventType = "SessionTimedOut"
)

// ActivityEvent is an append-only record of something that happened to a
// session. Never mutated once written.
type ActivityEvent struct {
	ID         uuid.UUID         `json:"id"`
	Type       ActivityEventType `json:"type"`
	SessionID  uuid.UUID         `json:"session_id"`
	TemplateID uuid.UUID         `json:"template_id"`
	ClerkUserID *string          `json:"clerk_user_id,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// ScoringAuditLog is one row per scoring run, capturing enough of the
// configuration and inputs used to reproduce or audit the outcome.
type ScoringAuditLog struct {
	ID                  uuid.UUID         `json:"id"`
	SessionID           uuid.UUID         `json:"session_id"`
	ResultID            uuid.UUID         `json:"result_id"`
	TemplateID          uuid.UUID         `json:"template_id"`
	Goal                TemplateGoal      `json:"goal"`
	StrategyTag         string            `json:"strategy_tag"`
	WeightsSnapshot     map[string]float64 `json:"weights_snapshot,omitempty"`
	ConfigSnapshot      map[string]any    `json:"config_snapshot,omitempty"`
	CompetencyBreakdown []CompetencyScore `json:"competency_breakdown"`
	AnsweredCount       int               `json:"answered_count"`
	SkippedCount        int               `json:"skipped_count"`
	DurationMS          int64             `json:"duration_ms"`
	CreatedAt           time.Time         `json:"created_at"`
}
