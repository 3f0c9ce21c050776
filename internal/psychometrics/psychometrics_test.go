package psychometrics

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/meridianhr/assesscore/internal/model"
)

func TestDifficultyFlagThresholds(t *testing.T) {
	assert.Equal(t, model.DifficultyFlagTooEasy, difficultyFlag(0.95))
	assert.Equal(t, model.DifficultyFlagTooHard, difficultyFlag(0.1))
	assert.Equal(t, model.DifficultyFlagNone, difficultyFlag(0.5))
}

func TestDiscriminationFlagThresholds(t *testing.T) {
	assert.Equal(t, model.DiscriminationFlagNegative, discriminationFlag(-0.2))
	assert.Equal(t, model.DiscriminationFlagCritical, discriminationFlag(0.05))
	assert.Equal(t, model.DiscriminationFlagWarning, discriminationFlag(0.15))
	assert.Equal(t, model.DiscriminationFlagNone, discriminationFlag(0.4))
}

func TestNextValidityStatusProbationToActive(t *testing.T) {
	disc := 0.2
	existing := model.ItemStatistics{ValidityStatus: model.ValidityProbation}
	next := model.ItemStatistics{ResponseCount: 60, Discrimination: &disc}
	status, reason := nextValidityStatus(existing, next)
	assert.Equal(t, model.ValidityActive, status)
	assert.NotEmpty(t, reason)
}

func TestNextValidityStatusProbationStaysWithoutThreshold(t *testing.T) {
	disc := 0.2
	existing := model.ItemStatistics{ValidityStatus: model.ValidityProbation}
	next := model.ItemStatistics{ResponseCount: 10, Discrimination: &disc}
	status, _ := nextValidityStatus(existing, next)
	assert.Equal(t, model.ValidityProbation, status)
}

func TestNextValidityStatusActiveFlaggedAfterTwoConsecutiveCriticalRuns(t *testing.T) {
	existing := model.ItemStatistics{ValidityStatus: model.ValidityActive}
	next := model.ItemStatistics{DiscriminationFlag: model.DiscriminationFlagCritical, ConsecutiveCriticalRuns: 2}
	status, reason := nextValidityStatus(existing, next)
	assert.Equal(t, model.ValidityFlaggedForReview, status)
	assert.NotEmpty(t, reason)
}

func TestNextValidityStatusActiveToleratesSingleBadRun(t *testing.T) {
	existing := model.ItemStatistics{ValidityStatus: model.ValidityActive}
	next := model.ItemStatistics{DiscriminationFlag: model.DiscriminationFlagCritical, ConsecutiveCriticalRuns: 1}
	status, _ := nextValidityStatus(existing, next)
	assert.Equal(t, model.ValidityActive, status)
}

func TestNextValidityStatusFlaggedRecoversToActive(t *testing.T) {
	existing := model.ItemStatistics{ValidityStatus: model.ValidityFlaggedForReview}
	next := model.ItemStatistics{DiscriminationFlag: model.DiscriminationFlagNone, ConsecutiveCriticalRuns: 0}
	status, reason := nextValidityStatus(existing, next)
	assert.Equal(t, model.ValidityActive, status)
	assert.NotEmpty(t, reason)
}

func TestNextValidityStatusFlaggedRetiresAfterDwell(t *testing.T) {
	existing := model.ItemStatistics{ValidityStatus: model.ValidityFlaggedForReview}
	next := model.ItemStatistics{DiscriminationFlag: model.DiscriminationFlagCritical, ConsecutiveCriticalRuns: 5}
	status, _ := nextValidityStatus(existing, next)
	assert.Equal(t, model.ValidityRetired, status)
}

func TestNextValidityStatusRetiredIsIrreversible(t *testing.T) {
	existing := model.ItemStatistics{ValidityStatus: model.ValidityRetired}
	next := model.ItemStatistics{DiscriminationFlag: model.DiscriminationFlagNone}
	status, _ := nextValidityStatus(existing, next)
	assert.Equal(t, model.ValidityRetired, status)
}

func TestCronbachAlphaPerfectlyCorrelatedItemsApproachesOne(t *testing.T) {
	matrix := [][]float64{
		{1.0, 1.0, 1.0},
		{0.8, 0.8, 0.8},
		{0.6, 0.6, 0.6},
		{0.4, 0.4, 0.4},
		{0.2, 0.2, 0.2},
	}
	alpha := cronbachAlpha(matrix)
	assert.InDelta(t, 1.0, alpha, 0.01)
}

func TestCronbachAlphaRequiresAtLeastTwoItemsAndRespondents(t *testing.T) {
	assert.Equal(t, 0.0, cronbachAlpha([][]float64{{1.0}}))
	assert.Equal(t, 0.0, cronbachAlpha([][]float64{{1.0, 0.5}}))
}

func TestBuildResponseMatrixExcludesIncompleteRespondents(t *testing.T) {
	q1, q2 := uuid.New(), uuid.New()
	s1, s2 := uuid.New(), uuid.New()
	score := func(v float64) *float64 { return &v }

	answers := []model.TestAnswer{
		{SessionID: s1, QuestionID: q1, Score: score(4), MaxScore: 5},
		{SessionID: s1, QuestionID: q2, Score: score(5), MaxScore: 5},
		{SessionID: s2, QuestionID: q1, Score: score(3), MaxScore: 5},
		// s2 never answered q2 -> excluded listwise
	}

	matrix, n := buildResponseMatrix([]uuid.UUID{q1, q2}, answers)
	assert.Equal(t, 1, n)
	assert.Len(t, matrix, 1)
	assert.InDelta(t, 0.8, matrix[0][0], 0.001)
	assert.InDelta(t, 1.0, matrix[0][1], 0.001)
}
