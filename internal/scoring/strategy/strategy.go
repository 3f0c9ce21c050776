// Package strategy implements the Goal Strategies (SPEC_FULL.md §5.G):
// goal-tagged scoring logic dispatched by the Scoring Orchestrator.
// Overview aggregates raw competency percentages; JobFit projects them
// against an O*NET benchmark via weighted cosine similarity (the same
// technique the teacher's conflicts.Scorer uses for semantic proximity,
// generalized here to weighted vectors); TeamFit blends saturation gain
// with Big-Five diversity against a team's current composition.
package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"

	"github.com/meridianhr/assesscore/internal/apperr"
	"github.com/meridianhr/assesscore/internal/blueprint"
	"github.com/meridianhr/assesscore/internal/model"
)

// Input is everything a Strategy needs to turn a session's raw answers
// into a TestResult.
type Input struct {
	Template       model.TestTemplate
	Plan           blueprint.AssemblyPlan
	Answers        []model.TestAnswer
	Questions      map[uuid.UUID]model.AssessmentQuestion
	Indicators     map[uuid.UUID]model.BehavioralIndicator
	Competencies   map[uuid.UUID]model.Competency
	// ReliableTraits reports, for each Big-Five trait that currently has a
	// reliability record, whether its status is Reliable. A trait absent
	// from the map is treated as not-yet-reliable (insufficient data).
	ReliableTraits map[model.BigFiveTrait]bool
}

// Output is a Strategy's goal-specific scoring result. The orchestrator
// fills in session/template identity and persistence metadata around it.
type Output struct {
	OverallScore        float64
	OverallPercentage    float64
	Passed               bool
	CompetencyBreakdown  []model.CompetencyScore
	BigFiveProfile       map[model.BigFiveTrait]float64
	GoalMetrics          json.RawMessage
	AnsweredCount        int
	SkippedCount         int
	StrategyTag          string
	WeightsSnapshot      map[string]float64
	ConfigSnapshot       map[string]any
}

// Strategy scores one completed session for one goal.
type Strategy interface {
	Score(ctx context.Context, in Input) (Output, error)
}

// For resolves the Strategy for a goal.
func For(goal model.TemplateGoal) (Strategy, error) {
	switch goal {
	case model.GoalOverview:
		return OverviewStrategy{}, nil
	case model.GoalJobFit:
		return JobFitStrategy{}, nil
	case model.GoalTeamFit:
		return TeamFitStrategy{}, nil
	default:
		return nil, apperr.InvalidArgument("strategy: unknown goal %q", goal)
	}
}

// OverviewStrategy reports the candidate's raw competency breakdown with
// no goal-specific projection.
type OverviewStrategy struct{}

func (OverviewStrategy) Score(ctx context.Context, in Input) (Output, error) {
	breakdown := aggregateCompetencyScores(in)
	overallPct := meanPercentage(breakdown)
	answered, skipped := countAnswers(in.Answers)

	return Output{
		OverallScore:        overallPct / 100 * 5,
		OverallPercentage:    overallPct,
		Passed:               overallPct >= in.Template.PassingScore,
		CompetencyBreakdown:  breakdown,
		BigFiveProfile:       bigFiveProfile(in, breakdown),
		AnsweredCount:        answered,
		SkippedCount:         skipped,
		StrategyTag:          "overview.v1",
	}, nil
}

// JobFitStrategy projects the candidate's competency vector against an
// O*NET occupation benchmark via importance-weighted cosine similarity.
type JobFitStrategy struct{}

func (JobFitStrategy) Score(ctx context.Context, in Input) (Output, error) {
	onet := in.Plan.ONetProfile
	if onet == nil {
		return Output{}, apperr.PreconditionFailed("strategy: job-fit requires an O*NET profile")
	}
	breakdown := aggregateCompetencyScores(in)
	answered, skipped := countAnswers(in.Answers)

	maxScale := onet.MaxScale
	if maxScale <= 0 {
		maxScale = 5
	}

	candidate := make(map[uuid.UUID]float64, len(breakdown))
	for _, cs := range breakdown {
		candidate[cs.CompetencyID] = cs.Percentage / 100
	}

	ids := unionIDs(candidate, onet.RequiredLevels)
	gaps := make(map[string]float64, len(ids))
	var dot, normC, normR float64
	weights := make(map[string]float64, len(ids))
	for _, id := range ids {
		c := candidate[id]
		r := onet.RequiredLevels[id] / maxScale
		w := onet.Importance[id]
		if w <= 0 {
			w = 1
		}
		weights[id.String()] = w
		dot += w * c * r
		normC += w * c * c
		normR += w * r * r
		gaps[id.String()] = r - c
	}
	var similarity float64
	if normC > 0 && normR > 0 {
		similarity = dot / (math.Sqrt(normC) * math.Sqrt(normR))
	}

	strictness := in.Plan.StrictnessLevel
	if strictness <= 0 {
		strictness = 50
	}
	passThreshold := strictness / 100
	factor := strictnessFactor(strictness)
	overallPct := math.Max(0, math.Min(100, similarity*100*factor))

	metrics := model.JobFitMetrics{
		Similarity:      similarity,
		StrictnessLevel: strictness,
		Gaps:            gaps,
	}
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return Output{}, fmt.Errorf("strategy: marshal job-fit metrics: %w", err)
	}

	return Output{
		OverallScore:        overallPct / 100 * 5,
		OverallPercentage:   overallPct,
		Passed:              similarity >= passThreshold,
		CompetencyBreakdown: breakdown,
		GoalMetrics:         metricsJSON,
		AnsweredCount:       answered,
		SkippedCount:        skipped,
		StrategyTag:         "jobfit.v1",
		WeightsSnapshot:     weights,
	}, nil
}

// TeamFitStrategy scores how much the candidate would close a team's
// current competency saturation gaps, boosted by personality diversity
// against the team's average Big-Five profile.
type TeamFitStrategy struct{}

func (TeamFitStrategy) Score(ctx context.Context, in Input) (Output, error) {
	team := in.Plan.TeamProfile
	if team == nil {
		return Output{}, apperr.PreconditionFailed("strategy: team-fit requires a team profile")
	}
	breakdown := aggregateCompetencyScores(in)
	answered, skipped := countAnswers(in.Answers)

	fit := make(map[string]float64, len(breakdown))
	var fitSum, gapSum float64
	for _, cs := range breakdown {
		candidateScore := cs.Percentage / 100
		gap := 1 - team.Saturation[cs.CompetencyID]
		contribution := candidateScore * gap
		fit[cs.CompetencyID.String()] = contribution
		fitSum += contribution
		gapSum += gap
	}
	var saturationRatio float64
	if gapSum > 0 {
		saturationRatio = fitSum / gapSum
	}

	diversity := bigFiveDiversity(in, breakdown, team.AveragePersonality)
	consistency := competencyConsistency(breakdown)
	multiplier := 1 + 0.5*diversity*saturationRatio

	overallPct := math.Min(100, saturationRatio*100*multiplier)

	metrics := model.TeamFitMetrics{
		DiversityRatio:    diversity,
		SaturationRatio:   saturationRatio,
		TeamFitMultiplier: multiplier,
		ConsistencyScore:  consistency,
		Fit:               fit,
	}
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return Output{}, fmt.Errorf("strategy: marshal team-fit metrics: %w", err)
	}

	return Output{
		OverallScore:        overallPct / 100 * 5,
		OverallPercentage:   overallPct,
		Passed:              overallPct >= in.Template.PassingScore,
		CompetencyBreakdown: breakdown,
		BigFiveProfile:      bigFiveProfile(in, breakdown),
		GoalMetrics:         metricsJSON,
		AnsweredCount:       answered,
		SkippedCount:        skipped,
		StrategyTag:         "teamfit.v1",
	}, nil
}

// aggregateCompetencyScores groups scored, non-skipped answers by their
// question's indicator's competency, averaging normalized scores into a
// 0-5 Score and a 0-100 Percentage. Results from delta-testing imports
// (Plan.ImportedScores) are appended with ImportedFromPassport set.
// Output is sorted by competency id for deterministic ordering across
// otherwise-identical scoring runs.
func aggregateCompetencyScores(in Input) []model.CompetencyScore {
	type agg struct {
		sum   float64
		count int
	}
	aggs := make(map[uuid.UUID]*agg)
	for _, a := range in.Answers {
		if a.IsSkipped {
			continue
		}
		q, ok := in.Questions[a.QuestionID]
		if !ok || !q.Type.Scored() {
			continue
		}
		ind, ok := in.Indicators[q.IndicatorID]
		if !ok {
			continue
		}
		norm, ok := a.NormalizedScore()
		if !ok {
			continue
		}
		entry := aggs[ind.CompetencyID]
		if entry == nil {
			entry = &agg{}
			aggs[ind.CompetencyID] = entry
		}
		entry.sum += norm
		entry.count++
	}

	out := make([]model.CompetencyScore, 0, len(aggs)+len(in.Plan.ImportedScores))
	for cid, entry := range aggs {
		mean := entry.sum / float64(entry.count)
		out = append(out, model.CompetencyScore{
			CompetencyID:               cid,
			Score:                      mean * 5,
			Percentage:                 mean * 100,
			QuestionsAnswered:          entry.count,
			QuestionsCorrectEquivalent: entry.sum,
		})
	}
	for _, imp := range in.Plan.ImportedScores {
		out = append(out, model.CompetencyScore{
			CompetencyID:         imp.CompetencyID,
			Score:                imp.Score * 5,
			Percentage:           imp.Score * 100,
			ImportedFromPassport: true,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CompetencyID.String() < out[j].CompetencyID.String()
	})
	return out
}

func meanPercentage(breakdown []model.CompetencyScore) float64 {
	if len(breakdown) == 0 {
		return 0
	}
	var sum float64
	for _, cs := range breakdown {
		sum += cs.Percentage
	}
	return sum / float64(len(breakdown))
}

// bigFiveProfile projects the competency breakdown onto Big-Five traits via
// each competency's trait label, averaging the contributing competencies'
// percentages. Per invariant 8, the entire profile is omitted (nil) unless
// every contributing trait's reliability status is Reliable.
func bigFiveProfile(in Input, breakdown []model.CompetencyScore) map[model.BigFiveTrait]float64 {
	if !in.Plan.IncludeBigFive {
		return nil
	}
	sums, counts := rawBigFiveSums(in, breakdown)
	if len(sums) == 0 {
		return nil
	}
	for trait := range sums {
		if !in.ReliableTraits[trait] {
			return nil
		}
	}
	out := make(map[model.BigFiveTrait]float64, len(sums))
	for trait, sum := range sums {
		out[trait] = sum / float64(counts[trait])
	}
	return out
}

func rawBigFiveSums(in Input, breakdown []model.CompetencyScore) (map[model.BigFiveTrait]float64, map[model.BigFiveTrait]int) {
	sums := map[model.BigFiveTrait]float64{}
	counts := map[model.BigFiveTrait]int{}
	for _, cs := range breakdown {
		comp, ok := in.Competencies[cs.CompetencyID]
		if !ok || comp.Trait == nil {
			continue
		}
		sums[*comp.Trait] += cs.Percentage
		counts[*comp.Trait]++
	}
	return sums, counts
}

// bigFiveDiversity measures the candidate's personality distance from the
// team's average profile, normalized to [0,1]. Unlike the scored result's
// big_five_profile, this internal projection is never suppressed by
// invariant 8 — it only ever feeds the team-fit multiplier, never
// presented to the caller directly.
func bigFiveDiversity(in Input, breakdown []model.CompetencyScore, teamAvg map[model.BigFiveTrait]float64) float64 {
	sums, counts := rawBigFiveSums(in, breakdown)
	if len(sums) == 0 || len(teamAvg) == 0 {
		return 0
	}
	var sumSq float64
	var n int
	for trait, sum := range sums {
		candidate := sum / float64(counts[trait])
		diff := (candidate - teamAvg[trait]) / 100
		sumSq += diff * diff
		n++
	}
	if n == 0 {
		return 0
	}
	// Normalize by the maximum possible per-trait distance (1.0) so the
	// result lands in [0,1] regardless of how many traits contributed.
	return math.Min(1, math.Sqrt(sumSq/float64(n)))
}

// competencyConsistency scores how evenly the candidate performed across
// competencies: 1 minus the normalized standard deviation of percentages.
func competencyConsistency(breakdown []model.CompetencyScore) float64 {
	if len(breakdown) < 2 {
		return 1
	}
	values := make([]float64, len(breakdown))
	for i, cs := range breakdown {
		values[i] = cs.Percentage
	}
	sd, err := stats.StandardDeviation(values)
	if err != nil {
		return 1
	}
	return math.Max(0, 1-sd/100)
}

func countAnswers(answers []model.TestAnswer) (answered, skipped int) {
	for _, a := range answers {
		if a.IsSkipped {
			skipped++
		} else {
			answered++
		}
	}
	return answered, skipped
}

// strictnessFactor maps the [0,100] strictness knob onto a multiplier for
// the job-fit similarity score: lenient settings boost overall_percentage,
// strict settings penalize it, and level 50 is neutral (factor 1.0). The
// mapping is piecewise linear across [0,50] and [50,100], each leg a 20%
// swing, matching the teacher's convention of a gentle knob rather than a
// hard cutoff.
func strictnessFactor(level float64) float64 {
	level = math.Max(0, math.Min(100, level))
	if level <= 50 {
		return 1.2 - (level/50)*0.2
	}
	return 1.0 - ((level-50)/50)*0.2
}

func unionIDs(a, b map[uuid.UUID]float64) []uuid.UUID {
	set := make(map[uuid.UUID]struct{}, len(a)+len(b))
	for id := range a {
		set[id] = struct{}{}
	}
	for id := range b {
		set[id] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
