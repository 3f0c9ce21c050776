// Package blueprint implements the Blueprint Resolver: turning a goal-typed
// TestTemplate plus runtime context into a concrete AssemblyPlan. See
// SPEC_FULL.md §5.C.
package blueprint

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/meridianhr/assesscore/internal/apperr"
	"github.com/meridianhr/assesscore/internal/model"
)

// IndicatorEntry is one (competency, indicator) pair in a resolved plan,
// ordered the way the Assembly Engine should drive the selector.
type IndicatorEntry struct {
	CompetencyID uuid.UUID
	IndicatorID  uuid.UUID
	ContextScope model.ContextScope
}

// ImportedScore marks a competency whose score comes from a passport rather
// than from fresh assembly, per JobFit's delta-testing rule.
type ImportedScore struct {
	CompetencyID uuid.UUID
	Score        float64
}

// AssemblyPlan is the Blueprint Resolver's output: what to assemble and
// which bands to cover.
type AssemblyPlan struct {
	Goal            model.TemplateGoal
	Bands           []model.DifficultyBand
	Indicators      []IndicatorEntry
	IncludeBigFive  bool
	ImportedScores  []ImportedScore
	ONetProfile     *model.ONetProfile
	TeamProfile     *model.TeamProfile
	StrictnessLevel float64
}

// RuntimeContext carries the caller and collaborator state needed to
// resolve a plan.
type RuntimeContext struct {
	UserClerkID string
	TeamProfile *model.TeamProfile
	ONetProfile *model.ONetProfile
	Passport    *model.CompetencyPassport
}

// IndicatorStore is the read surface the resolver needs from storage.
type IndicatorStore interface {
	ListIndicatorsByCompetencies(ctx context.Context, competencyIDs []uuid.UUID) ([]model.BehavioralIndicator, error)
}

var overviewBands = []model.DifficultyBand{model.BandFoundational, model.BandIntermediate, model.BandAdvanced}

// Resolve produces an AssemblyPlan for the given template and runtime
// context.
func Resolve(ctx context.Context, store IndicatorStore, t model.TestTemplate, rc RuntimeContext) (AssemblyPlan, error) {
	switch t.Goal {
	case model.GoalOverview:
		return resolveOverview(ctx, store, t)
	case model.GoalJobFit:
		return resolveJobFit(ctx, store, t, rc)
	case model.GoalTeamFit:
		return resolveTeamFit(ctx, store, t, rc)
	default:
		return AssemblyPlan{}, apperr.InvalidArgument("blueprint: unknown goal %q", t.Goal)
	}
}

func resolveOverview(ctx context.Context, store IndicatorStore, t model.TestTemplate) (AssemblyPlan, error) {
	entries, err := indicatorEntries(ctx, store, t.CompetencyIDs)
	if err != nil {
		return AssemblyPlan{}, err
	}
	return AssemblyPlan{
		Goal:           model.GoalOverview,
		Bands:          overviewBands,
		Indicators:     entries,
		IncludeBigFive: t.Blueprint.IncludeBigFive,
	}, nil
}

func resolveJobFit(ctx context.Context, store IndicatorStore, t model.TestTemplate, rc RuntimeContext) (AssemblyPlan, error) {
	if rc.ONetProfile == nil {
		return AssemblyPlan{}, apperr.PreconditionFailed("blueprint: job-fit requires an O*NET profile")
	}

	competencyIDs := t.CompetencyIDs
	if len(competencyIDs) > 0 {
		competencyIDs = intersect(competencyIDs, keysOf(rc.ONetProfile.RequiredLevels))
	} else {
		competencyIDs = keysOf(rc.ONetProfile.RequiredLevels)
	}

	var imported []ImportedScore
	if t.Blueprint.DeltaTestingEnabled && rc.Passport != nil {
		threshold := t.Blueprint.DeltaSkipThreshold
		if threshold <= 0 {
			threshold = 0.8
		}
		var remaining []uuid.UUID
		for _, cid := range competencyIDs {
			if score, ok := rc.Passport.Scores[cid]; ok && score >= threshold {
				imported = append(imported, ImportedScore{CompetencyID: cid, Score: score})
				continue
			}
			remaining = append(remaining, cid)
		}
		competencyIDs = remaining
	}

	entries, err := indicatorEntries(ctx, store, competencyIDs)
	if err != nil {
		return AssemblyPlan{}, err
	}

	strictness := t.Blueprint.StrictnessLevel
	if strictness == 0 {
		strictness = 50
	}

	return AssemblyPlan{
		Goal:            model.GoalJobFit,
		Bands:           overviewBands,
		Indicators:      entries,
		ImportedScores:  imported,
		ONetProfile:     rc.ONetProfile,
		StrictnessLevel: strictness,
	}, nil
}

func resolveTeamFit(ctx context.Context, store IndicatorStore, t model.TestTemplate, rc RuntimeContext) (AssemblyPlan, error) {
	if rc.TeamProfile == nil {
		return AssemblyPlan{}, apperr.PreconditionFailed("blueprint: team-fit requires a team profile")
	}

	competencyIDs := append([]uuid.UUID{}, rc.TeamProfile.UndersaturatedCompetencies...)
	competencyIDs = append(competencyIDs, t.CompetencyIDs...)
	competencyIDs = dedupe(competencyIDs)

	// Bias ordering toward the lowest-saturation competencies first, so the
	// assembled question order surfaces the team's biggest gaps early.
	sort.SliceStable(competencyIDs, func(i, j int) bool {
		return rc.TeamProfile.Saturation[competencyIDs[i]] < rc.TeamProfile.Saturation[competencyIDs[j]]
	})

	entries, err := indicatorEntries(ctx, store, competencyIDs)
	if err != nil {
		return AssemblyPlan{}, err
	}

	return AssemblyPlan{
		Goal:        model.GoalTeamFit,
		Bands:       overviewBands,
		Indicators:  entries,
		TeamProfile: rc.TeamProfile,
	}, nil
}

func indicatorEntries(ctx context.Context, store IndicatorStore, competencyIDs []uuid.UUID) ([]IndicatorEntry, error) {
	indicators, err := store.ListIndicatorsByCompetencies(ctx, competencyIDs)
	if err != nil {
		return nil, fmt.Errorf("blueprint: list indicators: %w", err)
	}
	entries := make([]IndicatorEntry, 0, len(indicators))
	for _, ind := range indicators {
		entries = append(entries, IndicatorEntry{
			CompetencyID: ind.CompetencyID,
			IndicatorID:  ind.ID,
			ContextScope: ind.ContextScope,
		})
	}
	return entries, nil
}

func keysOf(m map[uuid.UUID]float64) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func intersect(a, b []uuid.UUID) []uuid.UUID {
	set := make(map[uuid.UUID]bool, len(b))
	for _, id := range b {
		set[id] = true
	}
	var out []uuid.UUID
	for _, id := range a {
		if set[id] {
			out = append(out, id)
		}
	}
	return out
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
