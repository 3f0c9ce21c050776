package model

import (
	"time"

	"github.com/google/uuid"
)

// BigFiveTrait is one of the five personality dimensions a Competency may
// map onto. Zero value means "no trait association".
type BigFiveTrait string

const (
	TraitOpenness           BigFiveTrait = "Openness"
	TraitConscientiousness  BigFiveTrait = "Conscientiousness"
	TraitExtraversion       BigFiveTrait = "Extraversion"
	TraitAgreeableness      BigFiveTrait = "Agreeableness"
	TraitEmotionalStability BigFiveTrait = "EmotionalStability"
)

// AllBigFiveTraits lists the five traits in a fixed order, used wherever a
// complete trait profile must be iterated deterministically.
var AllBigFiveTraits = []BigFiveTrait{
	TraitOpenness,
	TraitConscientiousness,
	TraitExtraversion,
	TraitAgreeableness,
	TraitEmotionalStability,
}

// Competency is a named, scoreable category of behavior. Archival excludes
// it from new assembly but does not invalidate existing sessions that
// already reference it.
type Competency struct {
	ID         uuid.UUID     `json:"id"`
	Name       string        `json:"name"`
	Active     bool          `json:"active"`
	Trait      *BigFiveTrait `json:"trait,omitempty"`
	ArchivedAt *time.Time    `json:"archived_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// ContextScope constrains which assessment contexts an indicator applies to.
type ContextScope string

const (
	ScopeUniversal   ContextScope = "Universal"
	ScopeProfessional ContextScope = "Professional"
	ScopeTechnical   ContextScope = "Technical"
	ScopeManagerial  ContextScope = "Managerial"
)

// BehavioralIndicator belongs to exactly one Competency and owns a set of
// AssessmentQuestions scoped to a particular assessment context.
type BehavioralIndicator struct {
	ID           uuid.UUID    `json:"id"`
	CompetencyID uuid.UUID    `json:"competency_id"`
	Name         string       `json:"name"`
	ContextScope ContextScope `json:"context_scope"`
	CreatedAt    time.Time    `json:"created_at"`
}

// ReliabilityStatus buckets a Cronbach-alpha reliability estimate.
type ReliabilityStatus string

const (
	ReliabilityReliable         ReliabilityStatus = "Reliable"
	ReliabilityAcceptable       ReliabilityStatus = "Acceptable"
	ReliabilityUnreliable       ReliabilityStatus = "Unreliable"
	ReliabilityInsufficientData ReliabilityStatus = "InsufficientData"
)

// CompetencyReliability is the 1:1 Cronbach-alpha record for a Competency.
type CompetencyReliability struct {
	CompetencyID   uuid.UUID          `json:"competency_id"`
	Alpha          float64            `json:"alpha"`
	SampleSize     int                `json:"sample_size"`
	ItemCount      int                `json:"item_count"`
	Status         ReliabilityStatus  `json:"status"`
	AlphaIfDeleted map[uuid.UUID]float64 `json:"alpha_if_deleted,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// BigFiveReliability is the 1:1 Cronbach-alpha record for a Big-Five trait,
// aggregated across the competencies that contribute to it.
type BigFiveReliability struct {
	Trait          BigFiveTrait          `json:"trait"`
	Alpha          float64               `json:"alpha"`
	SampleSize     int                   `json:"sample_size"`
	ItemCount      int                   `json:"item_count"`
	Status         ReliabilityStatus     `json:"status"`
	AlphaIfDeleted map[uuid.UUID]float64 `json:"alpha_if_deleted,omitempty"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// ReliabilityBand classifies a raw alpha value into bands:
// alpha>=0.70 Reliable, [0.60,0.70) Acceptable, else Unreliable.
// Callers are responsible for the InsufficientData short-circuit when the
// sample size is too small to trust the estimate at all.
func ReliabilityBand(alpha float64) ReliabilityStatus {
	switch {
	case alpha >= 0.70:
		return ReliabilityReliable
	case alpha >= 0.60:
		return ReliabilityAcceptable
	default:
		return ReliabilityUnreliable
	}
}
