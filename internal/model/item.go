package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported item formats. Likert, MCQ,
// SituationalJudgment and Ranking contribute a numeric score; FreeText
// items are collected but excluded from scoring.
type QuestionType string

const (
	QuestionLikert             QuestionType = "Likert"
	QuestionMultipleChoice     QuestionType = "MultipleChoice"
	QuestionSituationalJudgment QuestionType = "SituationalJudgment"
	QuestionRanking            QuestionType = "Ranking"
	QuestionFreeText           QuestionType = "FreeText"
)

// Scored reports whether a question type contributes to a competency score.
func (q QuestionType) Scored() bool {
	return q != QuestionFreeText
}

// DifficultyBand is the five-tier difficulty taxonomy items are authored
// against and sessions are assembled across.
type DifficultyBand string

const (
	BandFoundational DifficultyBand = "Foundational"
	BandIntermediate  DifficultyBand = "Intermediate"
	BandAdvanced      DifficultyBand = "Advanced"
	BandExpert        DifficultyBand = "Expert"
	BandSpecialized   DifficultyBand = "Specialized"
)

// AnswerOption is one selectable choice for MultipleChoice, SituationalJudgment
// or Ranking items. Score is the rubric-assigned normalised contribution
// (0-1) if this option is chosen; nil for options that carry no score (e.g.
// distractors scored via a more elaborate rubric keyed by OptionID instead).
type AnswerOption struct {
	ID    string   `json:"id"`
	Label string   `json:"label"`
	Score *float64 `json:"score,omitempty"`
}

// AssessmentQuestion is a single scoreable item belonging to one indicator.
type AssessmentQuestion struct {
	ID            uuid.UUID       `json:"id"`
	IndicatorID   uuid.UUID       `json:"indicator_id"`
	Text          string          `json:"text"`
	Type          QuestionType    `json:"type"`
	Options       []AnswerOption  `json:"options,omitempty"`
	Rubric        json.RawMessage `json:"rubric,omitempty"`
	Difficulty    DifficultyBand  `json:"difficulty"`
	TimeLimitSecs int             `json:"time_limit_seconds,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Active        bool            `json:"active"`
	// ExposureCount is monotone: the only writer is the Assembly Engine's
	// exposure increment, and the only direction is up.
	ExposureCount int64     `json:"exposure_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ValidityStatus tracks an item's lifecycle as observed by the psychometric
// analyser.
type ValidityStatus string

const (
	ValidityProbation       ValidityStatus = "Probation"
	ValidityActive          ValidityStatus = "Active"
	ValidityFlaggedForReview ValidityStatus = "FlaggedForReview"
	ValidityRetired         ValidityStatus = "Retired"
)

// DifficultyFlag surfaces a p-value that has drifted out of the acceptable
// band.
type DifficultyFlag string

const (
	DifficultyFlagNone    DifficultyFlag = "None"
	DifficultyFlagTooEasy DifficultyFlag = "TooEasy"
	DifficultyFlagTooHard DifficultyFlag = "TooHard"
)

// DiscriminationFlag surfaces a discrimination index that has drifted out of
// the acceptable band.
type DiscriminationFlag string

const (
	DiscriminationFlagNone     DiscriminationFlag = "None"
	DiscriminationFlagWarning  DiscriminationFlag = "Warning"
	DiscriminationFlagCritical DiscriminationFlag = "Critical"
	DiscriminationFlagNegative DiscriminationFlag = "Negative"
)

// StatusChange is one entry in an ItemStatistics' append-only history.
type StatusChange struct {
	From   ValidityStatus `json:"from"`
	To     ValidityStatus `json:"to"`
	At     time.Time      `json:"at"`
	Reason string         `json:"reason"`
}

// IRTParams holds an optional 2PL/3PL item response theory fit. A nil
// pointer on ItemStatistics means the fit has not converged or was never
// attempted.
type IRTParams struct {
	A float64  `json:"a"`
	B float64  `json:"b"`
	C *float64 `json:"c,omitempty"`
}

// ItemStatistics is the 1:1 psychometric profile of an AssessmentQuestion,
// owned exclusively by the psychometric analyser.
type ItemStatistics struct {
	ItemID                uuid.UUID           `json:"item_id"`
	PValue                *float64            `json:"p_value,omitempty"`
	Discrimination        *float64            `json:"discrimination,omitempty"`
	PreviousDiscrimination *float64           `json:"previous_discrimination,omitempty"`
	IRT                   *IRTParams          `json:"irt,omitempty"`
	ResponseCount         int                 `json:"response_count"`
	ValidityStatus        ValidityStatus      `json:"validity_status"`
	DifficultyFlag        DifficultyFlag      `json:"difficulty_flag"`
	DiscriminationFlag    DiscriminationFlag  `json:"discrimination_flag"`
	ConsecutiveCriticalRuns int               `json:"consecutive_critical_runs"`
	StatusChangeHistory   []StatusChange      `json:"status_change_history"`
	UpdatedAt             time.Time           `json:"updated_at"`
}
