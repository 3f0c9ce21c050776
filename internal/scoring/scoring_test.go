package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhr/assesscore/internal/blueprint"
	"github.com/meridianhr/assesscore/internal/model"
	"github.com/meridianhr/assesscore/internal/scoring/strategy"
)

func TestRetryLookupSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := retryLookup(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryLookupGivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	err := retryLookup(context.Background(), 2, time.Millisecond, func() error {
		attempts++
		return errors.New("still down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts, "initial attempt plus 2 retries")
}

func TestRetryLookupHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retryLookup(ctx, 5, time.Hour, func() error { return errors.New("down") })
	require.Error(t, err)
}

func TestResolveStrategyFallsBackToOverviewWhenDegraded(t *testing.T) {
	o := &Orchestrator{}
	strat, goal := o.resolveStrategy(model.GoalJobFit, true)
	assert.Equal(t, model.GoalOverview, goal)
	assert.IsType(t, strategy.OverviewStrategy{}, strat)
}

func TestResolveStrategyUsesRequestedGoalWhenHealthy(t *testing.T) {
	o := &Orchestrator{}
	_, goal := o.resolveStrategy(model.GoalTeamFit, false)
	assert.Equal(t, model.GoalTeamFit, goal)
}

func TestCompetencyIDsFromUnionsIndicatorsAndImportedScores(t *testing.T) {
	indCompetency := uuid.New()
	importedCompetency := uuid.New()
	indicators := map[uuid.UUID]model.BehavioralIndicator{
		uuid.New(): {CompetencyID: indCompetency},
	}
	imported := []blueprint.ImportedScore{{CompetencyID: importedCompetency, Score: 0.5}}

	ids := competencyIDsFrom(indicators, imported)
	assert.ElementsMatch(t, []uuid.UUID{indCompetency, importedCompetency}, ids)
}

func TestTotalTimeSecondsSumsAcrossAnswers(t *testing.T) {
	answers := []model.TestAnswer{
		{TimeSpentSeconds: 10},
		{TimeSpentSeconds: 25},
		{TimeSpentSeconds: 0},
	}
	assert.Equal(t, 35, totalTimeSeconds(answers))
}
