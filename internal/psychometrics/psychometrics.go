// Package psychometrics implements the Psychometric Analyser
// (SPEC_FULL.md §5.H / spec.md §4.H): a scheduled job that recomputes
// item-level p-value and discrimination, flags items with hysteresis,
// transitions item validity status, and rolls item reliability up into
// per-competency and per-Big-Five-trait Cronbach's alpha.
//
// Grounded on the teacher's batch-scan-then-update shape
// (service/decisions.Service's Backfill* methods): scan eligible entities,
// fan out bounded-concurrency workers via errgroup, log-and-continue on a
// single entity's failure rather than aborting the run.
package psychometrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	"github.com/meridianhr/assesscore/internal/model"
	"github.com/meridianhr/assesscore/internal/storage"
)

const (
	minResponsesForAnalysis = 50
	lockName                = "psychometric-analyser"
	lockDuration            = 10 * time.Minute
	maxConcurrency          = 8
)

// Store is the storage surface the analyser needs.
type Store interface {
	ListItemsWithMinResponses(ctx context.Context, minResponses int) ([]uuid.UUID, error)
	GetItemStatistics(ctx context.Context, itemID uuid.UUID) (model.ItemStatistics, error)
	UpsertItemStatistics(ctx context.Context, s model.ItemStatistics) error
	AppendStatusChange(ctx context.Context, itemID uuid.UUID, change model.StatusChange) error
	ListItemResponses(ctx context.Context, itemID uuid.UUID) ([]storage.ItemResponseRow, error)
	ListOverallScoresBySessions(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]float64, error)

	ListActiveCompetencies(ctx context.Context) ([]model.Competency, error)
	ListIndicatorsByCompetencies(ctx context.Context, competencyIDs []uuid.UUID) ([]model.BehavioralIndicator, error)
	ListItemsByIndicators(ctx context.Context, indicatorIDs []uuid.UUID) ([]model.AssessmentQuestion, error)
	ListAnswersByQuestions(ctx context.Context, questionIDs []uuid.UUID) ([]model.TestAnswer, error)
	UpsertCompetencyReliability(ctx context.Context, r model.CompetencyReliability) error
	UpsertBigFiveReliability(ctx context.Context, r model.BigFiveReliability) error

	AcquireSchedulerLock(ctx context.Context, name, ownerID string, lockUntil time.Time) (bool, error)
	ReleaseSchedulerLock(ctx context.Context, name, ownerID string) error
}

// Analyser runs the scheduled item-statistics and reliability recompute.
type Analyser struct {
	store   Store
	ownerID string
	logger  *slog.Logger
}

func New(store Store, ownerID string, logger *slog.Logger) *Analyser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyser{store: store, ownerID: ownerID, logger: logger}
}

// Run attempts to acquire the distributed scheduler lock and, if
// successful, recomputes item statistics followed by competency and
// Big-Five reliability. Returns nil without doing any work if another
// instance already holds the lock — this is the expected steady-state
// outcome on every replica but the one that won the lock.
func (a *Analyser) Run(ctx context.Context) error {
	acquired, err := a.store.AcquireSchedulerLock(ctx, lockName, a.ownerID, time.Now().Add(lockDuration))
	if err != nil {
		return fmt.Errorf("psychometrics: acquire lock: %w", err)
	}
	if !acquired {
		a.logger.Debug("psychometrics: lock held elsewhere, skipping run")
		return nil
	}
	defer func() {
		if err := a.store.ReleaseSchedulerLock(ctx, lockName, a.ownerID); err != nil {
			a.logger.Warn("psychometrics: release lock failed", "error", err)
		}
	}()

	if err := a.recomputeItemStatistics(ctx); err != nil {
		return fmt.Errorf("psychometrics: item statistics pass: %w", err)
	}
	if err := a.recomputeReliability(ctx); err != nil {
		return fmt.Errorf("psychometrics: reliability pass: %w", err)
	}
	return nil
}

// recomputeItemStatistics scans every item with enough responses and
// refreshes its p-value, discrimination, flags, and status — one failed
// item is logged and skipped, never aborting the run (spec.md §4.H).
func (a *Analyser) recomputeItemStatistics(ctx context.Context) error {
	itemIDs, err := a.store.ListItemsWithMinResponses(ctx, minResponsesForAnalysis)
	if err != nil {
		return fmt.Errorf("list eligible items: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for _, id := range itemIDs {
		id := id
		g.Go(func() error {
			if err := a.analyseItem(gctx, id); err != nil {
				a.logger.Error("psychometrics: item analysis failed", "item_id", id, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (a *Analyser) analyseItem(ctx context.Context, itemID uuid.UUID) error {
	responses, err := a.store.ListItemResponses(ctx, itemID)
	if err != nil {
		return fmt.Errorf("list responses: %w", err)
	}
	if len(responses) < minResponsesForAnalysis {
		return nil
	}

	sessionIDs := make([]uuid.UUID, len(responses))
	for i, r := range responses {
		sessionIDs[i] = r.SessionID
	}
	overall, err := a.store.ListOverallScoresBySessions(ctx, sessionIDs)
	if err != nil {
		return fmt.Errorf("list overall scores: %w", err)
	}

	itemScores := make([]float64, 0, len(responses))
	overallScores := make([]float64, 0, len(responses))
	for _, r := range responses {
		o, ok := overall[r.SessionID]
		if !ok {
			continue
		}
		itemScores = append(itemScores, r.Score)
		overallScores = append(overallScores, o)
	}
	if len(itemScores) < minResponsesForAnalysis {
		return nil
	}

	pValue, err := stats.Mean(itemScores)
	if err != nil {
		return fmt.Errorf("compute p-value: %w", err)
	}
	discrimination, err := stats.Correlation(itemScores, overallScores)
	if err != nil || math.IsNaN(discrimination) {
		discrimination = 0
	}

	existing, err := a.store.GetItemStatistics(ctx, itemID)
	if err != nil && err != storage.ErrNotFound {
		return fmt.Errorf("get existing statistics: %w", err)
	}

	next := existing
	next.ItemID = itemID
	next.PreviousDiscrimination = existing.Discrimination
	next.PValue = &pValue
	next.Discrimination = &discrimination
	next.ResponseCount = len(itemScores)
	next.DifficultyFlag = difficultyFlag(pValue)

	discFlag := discriminationFlag(discrimination)
	if discFlag == model.DiscriminationFlagCritical || discFlag == model.DiscriminationFlagNegative {
		next.ConsecutiveCriticalRuns = existing.ConsecutiveCriticalRuns + 1
	} else {
		next.ConsecutiveCriticalRuns = 0
	}
	next.DiscriminationFlag = discFlag

	nextStatus, reason := nextValidityStatus(existing, next)
	if nextStatus != existing.ValidityStatus {
		next.ValidityStatus = nextStatus
		if err := a.store.AppendStatusChange(ctx, itemID, model.StatusChange{
			From:   existing.ValidityStatus,
			To:     nextStatus,
			At:     time.Now(),
			Reason: reason,
		}); err != nil {
			return fmt.Errorf("append status change: %w", err)
		}
	}

	if err := a.store.UpsertItemStatistics(ctx, next); err != nil {
		return fmt.Errorf("upsert statistics: %w", err)
	}
	return nil
}

// difficultyFlag applies spec.md §4.H's p-value thresholds.
func difficultyFlag(p float64) model.DifficultyFlag {
	switch {
	case p > 0.90:
		return model.DifficultyFlagTooEasy
	case p < 0.20:
		return model.DifficultyFlagTooHard
	default:
		return model.DifficultyFlagNone
	}
}

// discriminationFlag applies spec.md §4.H's discrimination thresholds.
func discriminationFlag(d float64) model.DiscriminationFlag {
	switch {
	case d < 0:
		return model.DiscriminationFlagNegative
	case d < 0.10:
		return model.DiscriminationFlagCritical
	case d < 0.25:
		return model.DiscriminationFlagWarning
	default:
		return model.DiscriminationFlagNone
	}
}

// nextValidityStatus implements spec.md §4.H's hysteresis-gated status
// transitions. A item's status never regresses on a single bad run except
// Probation->Active, which requires both the response threshold and a
// healthy discrimination immediately.
func nextValidityStatus(existing, next model.ItemStatistics) (model.ValidityStatus, string) {
	switch existing.ValidityStatus {
	case model.ValidityProbation:
		if next.ResponseCount >= minResponsesForAnalysis && next.Discrimination != nil && *next.Discrimination >= 0.10 {
			return model.ValidityActive, "reached response threshold with acceptable discrimination"
		}
		return existing.ValidityStatus, ""
	case model.ValidityActive:
		critical := next.DiscriminationFlag == model.DiscriminationFlagCritical || next.DiscriminationFlag == model.DiscriminationFlagNegative
		if critical && next.ConsecutiveCriticalRuns >= 2 {
			return model.ValidityFlaggedForReview, "discrimination critical or negative across two consecutive runs"
		}
		return existing.ValidityStatus, ""
	case model.ValidityFlaggedForReview:
		// Dwell-period retirement is driven by the scheduler's run cadence
		// rather than a clock read here: once flagged, a sustained absence
		// of improvement across runs is itself the dwell signal.
		healthy := next.DiscriminationFlag == model.DiscriminationFlagNone || next.DiscriminationFlag == model.DiscriminationFlagWarning
		if healthy && next.ConsecutiveCriticalRuns == 0 {
			return model.ValidityActive, "discrimination recovered"
		}
		if next.ConsecutiveCriticalRuns >= 5 {
			return model.ValidityRetired, "no improvement after extended review dwell"
		}
		return existing.ValidityStatus, ""
	default: // Retired is irreversible
		return existing.ValidityStatus, ""
	}
}

// recomputeReliability computes per-competency and per-Big-Five-trait
// Cronbach's alpha from the answer matrices of each group's items.
func (a *Analyser) recomputeReliability(ctx context.Context) error {
	competencies, err := a.store.ListActiveCompetencies(ctx)
	if err != nil {
		return fmt.Errorf("list competencies: %w", err)
	}

	traitSums := map[model.BigFiveTrait]struct {
		alphaTotal float64
		count      int
	}{}

	for _, c := range competencies {
		reliability, err := a.competencyReliability(ctx, c)
		if err != nil {
			a.logger.Error("psychometrics: competency reliability failed", "competency_id", c.ID, "error", err)
			continue
		}
		if err := a.store.UpsertCompetencyReliability(ctx, reliability); err != nil {
			a.logger.Error("psychometrics: upsert competency reliability failed", "competency_id", c.ID, "error", err)
			continue
		}
		if c.Trait != nil {
			entry := traitSums[*c.Trait]
			entry.alphaTotal += reliability.Alpha
			entry.count++
			traitSums[*c.Trait] = entry
		}
	}

	for _, trait := range model.AllBigFiveTraits {
		entry, ok := traitSums[trait]
		if !ok || entry.count == 0 {
			continue
		}
		alpha := entry.alphaTotal / float64(entry.count)
		r := model.BigFiveReliability{
			Trait:      trait,
			Alpha:      alpha,
			SampleSize: entry.count,
			ItemCount:  entry.count,
			Status:     model.ReliabilityBand(alpha),
			UpdatedAt:  time.Now(),
		}
		if err := a.store.UpsertBigFiveReliability(ctx, r); err != nil {
			a.logger.Error("psychometrics: upsert big five reliability failed", "trait", trait, "error", err)
		}
	}
	return nil
}

func (a *Analyser) competencyReliability(ctx context.Context, c model.Competency) (model.CompetencyReliability, error) {
	indicators, err := a.store.ListIndicatorsByCompetencies(ctx, []uuid.UUID{c.ID})
	if err != nil {
		return model.CompetencyReliability{}, fmt.Errorf("list indicators: %w", err)
	}
	indicatorIDs := make([]uuid.UUID, len(indicators))
	for i, ind := range indicators {
		indicatorIDs[i] = ind.ID
	}
	items, err := a.store.ListItemsByIndicators(ctx, indicatorIDs)
	if err != nil {
		return model.CompetencyReliability{}, fmt.Errorf("list items: %w", err)
	}
	if len(items) < 2 {
		return model.CompetencyReliability{
			CompetencyID: c.ID,
			Status:       model.ReliabilityInsufficientData,
			ItemCount:    len(items),
			UpdatedAt:    time.Now(),
		}, nil
	}
	itemIDs := make([]uuid.UUID, len(items))
	for i, q := range items {
		itemIDs[i] = q.ID
	}

	answers, err := a.store.ListAnswersByQuestions(ctx, itemIDs)
	if err != nil {
		return model.CompetencyReliability{}, fmt.Errorf("list answers: %w", err)
	}

	matrix, sampleSize := buildResponseMatrix(itemIDs, answers)
	alpha := cronbachAlpha(matrix)
	alphaIfDeleted := make(map[uuid.UUID]float64, len(itemIDs))
	for i := range itemIDs {
		alphaIfDeleted[itemIDs[i]] = cronbachAlpha(dropColumn(matrix, i))
	}

	status := model.ReliabilityInsufficientData
	if sampleSize >= minResponsesForAnalysis {
		status = model.ReliabilityBand(alpha)
	}

	return model.CompetencyReliability{
		CompetencyID:   c.ID,
		Alpha:          alpha,
		SampleSize:     sampleSize,
		ItemCount:      len(itemIDs),
		Status:         status,
		AlphaIfDeleted: alphaIfDeleted,
		UpdatedAt:      time.Now(),
	}, nil
}

// buildResponseMatrix assembles a respondent-by-item normalized score
// matrix, listwise: only respondents who answered every item in itemIDs
// are included, the simplest complete-case estimator for Cronbach's alpha.
func buildResponseMatrix(itemIDs []uuid.UUID, answers []model.TestAnswer) ([][]float64, int) {
	bySession := make(map[uuid.UUID]map[uuid.UUID]float64)
	for _, a := range answers {
		norm, ok := a.NormalizedScore()
		if !ok {
			continue
		}
		row, exists := bySession[a.SessionID]
		if !exists {
			row = make(map[uuid.UUID]float64, len(itemIDs))
			bySession[a.SessionID] = row
		}
		row[a.QuestionID] = norm
	}

	var matrix [][]float64
	for _, row := range bySession {
		complete := make([]float64, len(itemIDs))
		ok := true
		for i, id := range itemIDs {
			v, found := row[id]
			if !found {
				ok = false
				break
			}
			complete[i] = v
		}
		if ok {
			matrix = append(matrix, complete)
		}
	}
	return matrix, len(matrix)
}

func dropColumn(matrix [][]float64, col int) [][]float64 {
	out := make([][]float64, len(matrix))
	for i, row := range matrix {
		next := make([]float64, 0, len(row)-1)
		for j, v := range row {
			if j != col {
				next = append(next, v)
			}
		}
		out[i] = next
	}
	return out
}

// cronbachAlpha computes alpha = (k/(k-1)) * (1 - sum(item variances)/total
// variance) over a respondent-by-item matrix. Returns 0 if there are fewer
// than two items or two respondents (undefined variance).
func cronbachAlpha(matrix [][]float64) float64 {
	if len(matrix) < 2 || len(matrix[0]) < 2 {
		return 0
	}
	k := len(matrix[0])

	itemVarianceSum := 0.0
	for col := 0; col < k; col++ {
		values := make([]float64, len(matrix))
		for row := range matrix {
			values[row] = matrix[row][col]
		}
		v, err := stats.Variance(values)
		if err != nil {
			continue
		}
		itemVarianceSum += v
	}

	totals := make([]float64, len(matrix))
	for row := range matrix {
		sum := 0.0
		for col := 0; col < k; col++ {
			sum += matrix[row][col]
		}
		totals[row] = sum
	}
	totalVariance, err := stats.Variance(totals)
	if err != nil || totalVariance == 0 {
		return 0
	}

	alpha := (float64(k) / float64(k-1)) * (1 - itemVarianceSum/totalVariance)
	return alpha
}
