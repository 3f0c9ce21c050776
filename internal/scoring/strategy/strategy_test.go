package strategy

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhr/assesscore/internal/blueprint"
	"github.com/meridianhr/assesscore/internal/model"
)

// likertAnswer builds a 7-point Likert answer of 6, scored as the session
// engine stores it: (6-1)/6 out of a maximum of 1, i.e. 83.33%, matching
// spec.md §8's overview happy path.
func likertAnswer(sessionID, questionID uuid.UUID) model.TestAnswer {
	score := 5.0 / 6.0
	return model.TestAnswer{SessionID: sessionID, QuestionID: questionID, Score: &score, MaxScore: 1}
}

func buildOverviewInput(t *testing.T, competencyCount, indicatorsPer, questionsPer int) Input {
	t.Helper()
	sessionID := uuid.New()

	questions := map[uuid.UUID]model.AssessmentQuestion{}
	indicators := map[uuid.UUID]model.BehavioralIndicator{}
	competencies := map[uuid.UUID]model.Competency{}
	var answers []model.TestAnswer

	for c := 0; c < competencyCount; c++ {
		cid := uuid.New()
		competencies[cid] = model.Competency{ID: cid, Active: true}
		for i := 0; i < indicatorsPer; i++ {
			indID := uuid.New()
			indicators[indID] = model.BehavioralIndicator{ID: indID, CompetencyID: cid}
			for q := 0; q < questionsPer; q++ {
				qid := uuid.New()
				questions[qid] = model.AssessmentQuestion{ID: qid, IndicatorID: indID, Type: model.QuestionLikert, Active: true}
				answers = append(answers, likertAnswer(sessionID, qid))
			}
		}
	}

	return Input{
		Template:     model.TestTemplate{PassingScore: 70},
		Plan:         blueprint.AssemblyPlan{Goal: model.GoalOverview},
		Answers:      answers,
		Questions:    questions,
		Indicators:   indicators,
		Competencies: competencies,
	}
}

func TestOverviewHappyPath(t *testing.T) {
	in := buildOverviewInput(t, 2, 3, 2)
	out, err := OverviewStrategy{}.Score(context.Background(), in)
	require.NoError(t, err)

	assert.InDelta(t, 83.333, out.OverallPercentage, 0.01)
	assert.True(t, out.Passed)
	assert.Len(t, out.CompetencyBreakdown, 2)
	assert.Equal(t, 12, out.AnsweredCount)
	assert.Equal(t, 0, out.SkippedCount)
	assert.Nil(t, out.BigFiveProfile, "include_big_five not requested")
}

func TestOverviewBigFiveSuppressedWhenUnreliable(t *testing.T) {
	in := buildOverviewInput(t, 1, 1, 2)
	in.Plan.IncludeBigFive = true
	trait := model.TraitOpenness
	for cid, c := range in.Competencies {
		c.Trait = &trait
		in.Competencies[cid] = c
	}
	// No ReliableTraits entry at all -> treated as not reliable.
	out, err := OverviewStrategy{}.Score(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, out.BigFiveProfile)
}

func TestOverviewBigFivePresentWhenReliable(t *testing.T) {
	in := buildOverviewInput(t, 1, 1, 2)
	in.Plan.IncludeBigFive = true
	trait := model.TraitOpenness
	for cid, c := range in.Competencies {
		c.Trait = &trait
		in.Competencies[cid] = c
	}
	in.ReliableTraits = map[model.BigFiveTrait]bool{trait: true}

	out, err := OverviewStrategy{}.Score(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, out.BigFiveProfile)
	assert.InDelta(t, 83.33, out.BigFiveProfile[trait], 0.1)
}

func TestJobFitRequiresONetProfile(t *testing.T) {
	in := buildOverviewInput(t, 1, 1, 1)
	in.Plan.Goal = model.GoalJobFit
	_, err := JobFitStrategy{}.Score(context.Background(), in)
	require.Error(t, err)
}

func TestJobFitPerfectMatch(t *testing.T) {
	in := buildOverviewInput(t, 1, 1, 1)
	var cid uuid.UUID
	for id := range in.Competencies {
		cid = id
	}
	score := 5.0
	in.Answers = []model.TestAnswer{{SessionID: uuid.New(), QuestionID: firstKey(in.Questions), Score: &score, MaxScore: 5}}
	in.Plan.Goal = model.GoalJobFit
	in.Plan.ONetProfile = &model.ONetProfile{
		RequiredLevels: map[uuid.UUID]float64{cid: 5},
		Importance:     map[uuid.UUID]float64{cid: 1},
		MaxScale:       5,
	}
	in.Plan.StrictnessLevel = 50

	out, err := JobFitStrategy{}.Score(context.Background(), in)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.OverallPercentage/100, 0.001)
	assert.True(t, out.Passed)
}

func TestTeamFitRequiresTeamProfile(t *testing.T) {
	in := buildOverviewInput(t, 1, 1, 1)
	in.Plan.Goal = model.GoalTeamFit
	_, err := TeamFitStrategy{}.Score(context.Background(), in)
	require.Error(t, err)
}

func firstKey(m map[uuid.UUID]model.AssessmentQuestion) uuid.UUID {
	for k := range m {
		return k
	}
	return uuid.Nil
}
