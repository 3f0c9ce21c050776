package model

import (
	"time"

	"github.com/google/uuid"
)

// TemplateVisibility controls who can discover a template.
type TemplateVisibility string

const (
	VisibilityPublic  TemplateVisibility = "Public"
	VisibilityPrivate TemplateVisibility = "Private"
	VisibilityLink    TemplateVisibility = "Link"
)

// TemplateLifecycle tracks a template's publication state. Published
// templates are immutable; edits fork a new version.
type TemplateLifecycle string

const (
	LifecycleDraft     TemplateLifecycle = "Draft"
	LifecyclePublished TemplateLifecycle = "Published"
	LifecycleArchived  TemplateLifecycle = "Archived"
)

// TemplateGoal is the tagged variant dispatching to a Goal Strategy.
type TemplateGoal string

const (
	GoalOverview TemplateGoal = "Overview"
	GoalJobFit   TemplateGoal = "JobFit"
	GoalTeamFit  TemplateGoal = "TeamFit"
)

// Blueprint is the goal-tagged configuration a template carries. Only the
// fields relevant to Goal are meaningful; the blueprint resolver reads them
// by goal, never by a shared superset.
type Blueprint struct {
	// Overview
	IncludeBigFive bool `json:"include_big_five,omitempty"`

	// JobFit
	ONetOccupationCode string  `json:"onet_occupation_code,omitempty"`
	StrictnessLevel    float64 `json:"strictness_level,omitempty"` // 0-100
	DeltaTestingEnabled bool   `json:"delta_testing_enabled,omitempty"`
	DeltaSkipThreshold  float64 `json:"delta_skip_threshold,omitempty"` // 0-1, passport score at/above which a competency is skipped
	UpdatesPassport    bool    `json:"updates_passport,omitempty"`

	// TeamFit
	TeamID uuid.UUID `json:"team_id,omitempty"`
}

// TestTemplate is a versioned, goal-typed configuration for assembling and
// scoring a session. Published templates are immutable; Clone produces the
// next version in the lineage.
type TestTemplate struct {
	ID                  uuid.UUID          `json:"id"`
	Name                string             `json:"name"`
	Version             int                `json:"version"`
	ParentVersion       *uuid.UUID         `json:"parent_version,omitempty"`
	OwnerID             string             `json:"owner_id"`
	Visibility          TemplateVisibility `json:"visibility"`
	Lifecycle           TemplateLifecycle  `json:"lifecycle"`
	Goal                TemplateGoal       `json:"goal"`
	Blueprint           Blueprint          `json:"blueprint"`
	CompetencyIDs       []uuid.UUID        `json:"competency_ids"`
	QuestionsPerIndicator int              `json:"questions_per_indicator"`
	TimeLimitMinutes    int                `json:"time_limit_minutes"`
	PassingScore        float64            `json:"passing_score"`
	ShuffleQuestions    bool               `json:"shuffle_questions"`
	ShuffleOptions      bool               `json:"shuffle_options"`
	AllowSkip           bool               `json:"allow_skip"`
	AllowBackNavigation bool               `json:"allow_back_navigation"`
	PassportMaxAgeDays  int                `json:"passport_max_age_days"`
	ContextScope        ContextScope       `json:"context_scope,omitempty"`
	DeletedAt           *time.Time         `json:"deleted_at,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// EffectivePassportMaxAgeDays returns the template's configured passport
// expiry window, defaulting to 180 days when unset, per SPEC_FULL.md §5.I.
func (t TestTemplate) EffectivePassportMaxAgeDays() int {
	if t.PassportMaxAgeDays <= 0 {
		return 180
	}
	return t.PassportMaxAgeDays
}

// Immutable reports whether the template may still be edited in place.
func (t TestTemplate) Immutable() bool {
	return t.Lifecycle == LifecyclePublished
}

// CreateTemplateRequest is the request body for POST /templates.
type CreateTemplateRequest struct {
	Name                  string             `json:"name"`
	Visibility            TemplateVisibility `json:"visibility"`
	Goal                  TemplateGoal       `json:"goal"`
	Blueprint             Blueprint          `json:"blueprint"`
	CompetencyIDs         []uuid.UUID        `json:"competency_ids"`
	QuestionsPerIndicator int                `json:"questions_per_indicator"`
	TimeLimitMinutes      int                `json:"time_limit_minutes"`
	PassingScore          float64            `json:"passing_score"`
	ShuffleQuestions      bool               `json:"shuffle_questions"`
	ShuffleOptions        bool               `json:"shuffle_options"`
	AllowSkip             bool               `json:"allow_skip"`
	AllowBackNavigation   bool               `json:"allow_back_navigation"`
	PassportMaxAgeDays    int                `json:"passport_max_age_days,omitempty"`
	ContextScope          ContextScope       `json:"context_scope,omitempty"`
}
