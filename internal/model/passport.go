package model

import (
	"time"

	"github.com/google/uuid"
)

// CompetencyPassport is a per-user, goal-agnostic snapshot of competency
// scores carried forward between sessions to support delta testing.
type CompetencyPassport struct {
	ClerkUserID    string                   `json:"clerk_user_id"`
	Scores         map[uuid.UUID]float64    `json:"scores"`
	BigFiveProfile map[BigFiveTrait]float64 `json:"big_five_profile,omitempty"`
	LastAssessed   time.Time                `json:"last_assessed"`
	ExpiresAt      time.Time                `json:"expires_at"`
	SourceResultID uuid.UUID                `json:"source_result_id"`
}

// Expired reports whether the passport should be treated as absent by
// lookups, per SPEC_FULL.md §5.I — the row itself remains in storage.
func (p CompetencyPassport) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// TeamProfile is consumed by the TeamFit goal strategy. It is owned by the
// (out-of-scope) team management saga; assesscore only reads it.
type TeamProfile struct {
	TeamID                 uuid.UUID              `json:"team_id"`
	MemberClerkUserIDs      []string               `json:"member_clerk_user_ids"`
	Saturation              map[uuid.UUID]float64  `json:"saturation"` // competency id -> [0,1]
	UndersaturatedCompetencies []uuid.UUID          `json:"undersaturated_competencies"`
	MemberScores            map[string]map[uuid.UUID]float64 `json:"member_scores"`
	AveragePersonality      map[BigFiveTrait]float64 `json:"average_personality"`
}

// ONetProfile is consumed by the JobFit goal strategy. It is owned by the
// (out-of-scope) O*NET benchmark lookup collaborator.
type ONetProfile struct {
	OccupationCode string                `json:"occupation_code"`
	// RequiredLevels maps competency id to the benchmark's required level on
	// its own scale (e.g. 1-5); MaxScale normalises it to [0,1].
	RequiredLevels map[uuid.UUID]float64 `json:"required_levels"`
	Importance     map[uuid.UUID]float64 `json:"importance"` // need not sum to 1; normalised by the strategy
	MaxScale       float64               `json:"max_scale"`
}
