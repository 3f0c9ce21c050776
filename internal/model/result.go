package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ResultStatus distinguishes a fully-computed result from one produced
// after an upstream dependency failure. See DESIGN.md Open Question 1.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "Completed"
	ResultDegraded  ResultStatus = "Degraded"
)

// CompetencyScore is one entry of a TestResult's per-competency breakdown.
type CompetencyScore struct {
	CompetencyID               uuid.UUID `json:"competency_id"`
	Score                      float64   `json:"score"`      // 0-5 scale
	Percentage                 float64   `json:"percentage"` // 0-100
	QuestionsAnswered          int       `json:"questions_answered"`
	QuestionsCorrectEquivalent float64   `json:"questions_correct_equivalent"`
	// ImportedFromPassport marks a competency whose score was carried over
	// via delta testing rather than freshly measured in this session.
	ImportedFromPassport bool `json:"imported_from_passport,omitempty"`
}

// TestResult is the single canonical scoring outcome of a TestSession.
type TestResult struct {
	ID                 uuid.UUID         `json:"id"`
	SessionID           uuid.UUID         `json:"session_id"`
	ClerkUserID          *string           `json:"clerk_user_id,omitempty"`
	TemplateID           uuid.UUID         `json:"template_id"`
	Goal                 TemplateGoal      `json:"goal"`
	OverallScore          float64           `json:"overall_score"`
	OverallPercentage     float64           `json:"overall_percentage"`
	Percentile            *float64          `json:"percentile,omitempty"`
	Passed                bool              `json:"passed"`
	CompetencyBreakdown   []CompetencyScore `json:"competency_breakdown"`
	BigFiveProfile        map[BigFiveTrait]float64 `json:"big_five_profile,omitempty"`
	GoalMetrics           json.RawMessage   `json:"goal_metrics,omitempty"`
	TotalTimeSeconds      int               `json:"total_time_seconds"`
	AnsweredCount         int               `json:"answered_count"`
	SkippedCount          int               `json:"skipped_count"`
	Status                ResultStatus      `json:"status"`
	CompletedAt           time.Time         `json:"completed_at"`
}

// JobFitMetrics is the goal-specific extended metrics payload for a JobFit
// result, marshaled into TestResult.GoalMetrics.
type JobFitMetrics struct {
	Similarity      float64            `json:"similarity"`
	StrictnessLevel float64            `json:"strictness_level"`
	Gaps            map[string]float64 `json:"gaps"` // competency id -> required - candidate
}

// TeamFitMetrics is the goal-specific extended metrics payload for a
// TeamFit result.
type TeamFitMetrics struct {
	DiversityRatio    float64            `json:"diversity_ratio"`
	SaturationRatio    float64            `json:"saturation_ratio"`
	TeamFitMultiplier  float64            `json:"team_fit_multiplier"`
	ConsistencyScore   float64            `json:"consistency_score"`
	Fit                map[string]float64 `json:"fit"` // competency id -> fit contribution
}
