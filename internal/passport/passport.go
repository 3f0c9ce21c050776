// Package passport implements the Competency Passport service
// (SPEC_FULL.md §5.I): a per-user, goal-agnostic snapshot of competency
// scores carried forward between sessions to support delta testing.
package passport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhr/assesscore/internal/model"
	"github.com/meridianhr/assesscore/internal/storage"
)

// DefaultMaxAgeDays is the fallback passport lifetime when a template
// doesn't override it via TestTemplate.EffectivePassportMaxAgeDays
// (SPEC_FULL.md §5.I).
const DefaultMaxAgeDays = 180

// Store is the storage surface the service needs.
type Store interface {
	GetPassport(ctx context.Context, clerkUserID string) (model.CompetencyPassport, error)
	UpsertPassport(ctx context.Context, p model.CompetencyPassport) error
}

// Service reads and maintains per-user competency passports.
type Service struct {
	store      Store
	maxAgeDays int
}

// New builds a Service. maxAgeDays <= 0 uses DefaultMaxAgeDays.
func New(store Store, maxAgeDays int) *Service {
	if maxAgeDays <= 0 {
		maxAgeDays = DefaultMaxAgeDays
	}
	return &Service{store: store, maxAgeDays: maxAgeDays}
}

// Get returns the user's current passport, or (nil, nil) if none exists or
// the stored one has expired — invariant 9's "expired passports are
// reported as absent yet remain stored" rule is applied here, not in
// storage. Satisfies internal/session.PassportReader.
func (s *Service) Get(ctx context.Context, clerkUserID string) (*model.CompetencyPassport, error) {
	p, err := s.store.GetPassport(ctx, clerkUserID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("passport: get: %w", err)
	}
	if p.Expired(time.Now()) {
		return nil, nil
	}
	return &p, nil
}

// Update merges newScores (competency id -> normalized [0,1] score) and an
// optional Big-Five profile into the user's passport after a scored
// session: new entries overwrite the same competencies and traits, prior
// entries for others are kept, and the merged snapshot replaces the stored
// row — this method computes the merge, storage just persists it. Called for every completed overview
// session, and for other goals only when explicitly opted in via
// Blueprint.UpdatesPassport.
func (s *Service) Update(ctx context.Context, clerkUserID string, newScores map[uuid.UUID]float64, bigFive map[model.BigFiveTrait]float64, maxAgeDaysOverride int, sourceResultID uuid.UUID) error {
	existing, err := s.store.GetPassport(ctx, clerkUserID)
	if err != nil && err != storage.ErrNotFound {
		return fmt.Errorf("passport: read existing: %w", err)
	}

	merged := existing.Scores
	if merged == nil {
		merged = make(map[uuid.UUID]float64, len(newScores))
	}
	for id, score := range newScores {
		merged[id] = score
	}

	mergedBigFive := existing.BigFiveProfile
	if len(bigFive) > 0 {
		if mergedBigFive == nil {
			mergedBigFive = make(map[model.BigFiveTrait]float64, len(bigFive))
		}
		for trait, v := range bigFive {
			mergedBigFive[trait] = v
		}
	}

	maxAgeDays := s.maxAgeDays
	if maxAgeDaysOverride > 0 {
		maxAgeDays = maxAgeDaysOverride
	}

	now := time.Now()
	p := model.CompetencyPassport{
		ClerkUserID:    clerkUserID,
		Scores:         merged,
		BigFiveProfile: mergedBigFive,
		LastAssessed:   now,
		ExpiresAt:      now.AddDate(0, 0, maxAgeDays),
		SourceResultID: sourceResultID,
	}
	if err := s.store.UpsertPassport(ctx, p); err != nil {
		return fmt.Errorf("passport: upsert: %w", err)
	}
	return nil
}
