// Package scoring implements the Scoring Orchestrator (SPEC_FULL.md §5.F):
// the single entry point that turns a terminal TestSession into its
// canonical TestResult. Grounded on the teacher's Trace()
// compute-then-persist-then-emit-events shape in
// service/decisions.Service, generalized from a single decision write to
// a goal-strategy dispatch plus a passport update and an activity emission.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridianhr/assesscore/internal/activity"
	"github.com/meridianhr/assesscore/internal/apperr"
	"github.com/meridianhr/assesscore/internal/blueprint"
	"github.com/meridianhr/assesscore/internal/collab"
	"github.com/meridianhr/assesscore/internal/model"
	"github.com/meridianhr/assesscore/internal/passport"
	"github.com/meridianhr/assesscore/internal/scoring/strategy"
)

// Store is the storage surface the orchestrator needs.
type Store interface {
	GetSession(ctx context.Context, id uuid.UUID) (model.TestSession, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (model.TestTemplate, error)
	ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.TestAnswer, error)
	GetQuestionsByIDs(ctx context.Context, ids []uuid.UUID) ([]model.AssessmentQuestion, error)
	GetIndicator(ctx context.Context, id uuid.UUID) (model.BehavioralIndicator, error)
	ListCompetencies(ctx context.Context, ids []uuid.UUID) ([]model.Competency, error)
	ListBigFiveReliability(ctx context.Context) ([]model.BigFiveReliability, error)
	ListIndicatorsByCompetencies(ctx context.Context, competencyIDs []uuid.UUID) ([]model.BehavioralIndicator, error)
	ListPriorOverallPercentages(ctx context.Context, goal model.TemplateGoal) ([]float64, error)

	BeginTx(ctx context.Context) (pgx.Tx, error)
	GetResultBySession(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID) (model.TestResult, error)
	InsertResult(ctx context.Context, tx pgx.Tx, r model.TestResult) (model.TestResult, bool, error)
	InsertScoringAuditLog(ctx context.Context, tx pgx.Tx, a model.ScoringAuditLog) error
}

// Orchestrator implements session.Completer.
type Orchestrator struct {
	store     Store
	onet      collab.ONetProfileProvider
	teams     collab.TeamProfileProvider
	passports *passport.Service
	emitter   *activity.Sink
	logger    *slog.Logger
}

// New builds an Orchestrator. onet, teams, passports and emitter may be
// nil; each absence simply disables the capability it backs (no job-fit
// scoring, no team-fit scoring, no passport updates, no activity emission).
func New(store Store, onet collab.ONetProfileProvider, teams collab.TeamProfileProvider, passports *passport.Service, emitter *activity.Sink, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: store, onet: onet, teams: teams, passports: passports, emitter: emitter, logger: logger}
}

// Complete scores sessionID, enforced at-most-once by storage.InsertResult's
// unique constraint. Called once a session reaches a terminal status that
// requires scoring (Completed or TimedOut with partial answers).
func (o *Orchestrator) Complete(ctx context.Context, sessionID uuid.UUID) error {
	start := time.Now()

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("scoring: get session: %w", err)
	}
	tpl, err := o.store.GetTemplate(ctx, sess.TemplateID)
	if err != nil {
		return fmt.Errorf("scoring: get template: %w", err)
	}

	answers, err := o.store.ListAnswers(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("scoring: list answers: %w", err)
	}
	questionMap, indicatorMap, err := o.loadQuestionContext(ctx, answers)
	if err != nil {
		return fmt.Errorf("scoring: load question context: %w", err)
	}

	rc, degraded := o.resolveRuntimeContext(ctx, tpl, sess.ClerkUserID)

	var plan blueprint.AssemblyPlan
	if !degraded {
		plan, err = blueprint.Resolve(ctx, o.store, tpl, rc)
		if err != nil {
			if apperr.Is(err, apperr.CodePreconditionFailed) {
				degraded = true
			} else {
				return fmt.Errorf("scoring: resolve plan: %w", err)
			}
		}
	}

	competencyIDs := competencyIDsFrom(indicatorMap, plan.ImportedScores)
	competencies, err := o.loadCompetencies(ctx, competencyIDs)
	if err != nil {
		return fmt.Errorf("scoring: load competencies: %w", err)
	}

	reliableTraits, err := o.loadReliableTraits(ctx, plan.IncludeBigFive || degraded)
	if err != nil {
		return fmt.Errorf("scoring: load trait reliability: %w", err)
	}

	strat, goal := o.resolveStrategy(tpl.Goal, degraded)

	in := strategy.Input{
		Template:       tpl,
		Plan:           plan,
		Answers:        answers,
		Questions:      questionMap,
		Indicators:     indicatorMap,
		Competencies:   competencies,
		ReliableTraits: reliableTraits,
	}
	out, err := strat.Score(ctx, in)
	if err != nil {
		return fmt.Errorf("scoring: strategy %s: %w", goal, err)
	}

	percentile, err := o.percentile(ctx, tpl.Goal, out.OverallPercentage)
	if err != nil {
		o.logger.Warn("scoring: percentile computation failed, omitting", "error", err, "session_id", sessionID)
	}

	status := model.ResultCompleted
	if degraded {
		status = model.ResultDegraded
	}

	result := model.TestResult{
		ID:                  uuid.New(),
		SessionID:           sess.ID,
		ClerkUserID:         sess.ClerkUserID,
		TemplateID:          tpl.ID,
		Goal:                tpl.Goal,
		OverallScore:        out.OverallScore,
		OverallPercentage:   out.OverallPercentage,
		Percentile:          percentile,
		Passed:              out.Passed,
		CompetencyBreakdown: out.CompetencyBreakdown,
		BigFiveProfile:      out.BigFiveProfile,
		GoalMetrics:         out.GoalMetrics,
		TotalTimeSeconds:    totalTimeSeconds(answers),
		AnsweredCount:       out.AnsweredCount,
		SkippedCount:        out.SkippedCount,
		Status:              status,
		CompletedAt:         time.Now(),
	}

	written, inserted, err := o.persist(ctx, result, out, start)
	if err != nil {
		return err
	}

	if inserted {
		if (tpl.Goal == model.GoalOverview || tpl.Blueprint.UpdatesPassport) && sess.ClerkUserID != nil && o.passports != nil {
			o.updatePassport(ctx, *sess.ClerkUserID, written, tpl)
		}
		if o.emitter != nil {
			o.emitter.Emit(model.ActivityEvent{
				ID:          uuid.New(),
				Type:        model.EventSessionCompleted,
				SessionID:   sess.ID,
				TemplateID:  tpl.ID,
				ClerkUserID: sess.ClerkUserID,
				Metadata:    map[string]any{"result_id": written.ID, "status": string(written.Status)},
			})
		}
	}
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, result model.TestResult, out strategy.Output, start time.Time) (model.TestResult, bool, error) {
	tx, err := o.store.BeginTx(ctx)
	if err != nil {
		return model.TestResult{}, false, fmt.Errorf("scoring: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after a successful Commit

	written, inserted, err := o.store.InsertResult(ctx, tx, result)
	if err != nil {
		return model.TestResult{}, false, fmt.Errorf("scoring: insert result: %w", err)
	}

	if inserted {
		audit := model.ScoringAuditLog{
			ID:                  uuid.New(),
			SessionID:           result.SessionID,
			ResultID:            written.ID,
			TemplateID:          result.TemplateID,
			Goal:                result.Goal,
			StrategyTag:         out.StrategyTag,
			WeightsSnapshot:     out.WeightsSnapshot,
			ConfigSnapshot:      map[string]any{"passing_score_source": "template"},
			CompetencyBreakdown: out.CompetencyBreakdown,
			AnsweredCount:       out.AnsweredCount,
			SkippedCount:        out.SkippedCount,
			DurationMS:          time.Since(start).Milliseconds(),
		}
		if err := o.store.InsertScoringAuditLog(ctx, tx, audit); err != nil {
			return model.TestResult{}, false, fmt.Errorf("scoring: insert audit log: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.TestResult{}, false, fmt.Errorf("scoring: commit: %w", err)
	}
	return written, inserted, nil
}

func (o *Orchestrator) updatePassport(ctx context.Context, clerkUserID string, result model.TestResult, tpl model.TestTemplate) {
	scores := make(map[uuid.UUID]float64, len(result.CompetencyBreakdown))
	for _, cs := range result.CompetencyBreakdown {
		scores[cs.CompetencyID] = cs.Percentage / 100
	}
	err := o.passports.Update(ctx, clerkUserID, scores, result.BigFiveProfile, tpl.PassportMaxAgeDays, result.ID)
	if err != nil {
		o.logger.Error("scoring: passport update failed", "error", err, "clerk_user_id", clerkUserID)
	}
}

// resolveStrategy picks the Strategy for the goal, falling back to
// OverviewStrategy when a collaborator lookup degraded — Overview is the
// only goal that needs no collaborator profile, so it's always safe to run.
func (o *Orchestrator) resolveStrategy(goal model.TemplateGoal, degraded bool) (strategy.Strategy, model.TemplateGoal) {
	if degraded {
		return strategy.OverviewStrategy{}, model.GoalOverview
	}
	strat, err := strategy.For(goal)
	if err != nil {
		return strategy.OverviewStrategy{}, model.GoalOverview
	}
	return strat, goal
}

// resolveRuntimeContext mirrors internal/session's collaborator resolution,
// but with bounded retries for transient lookup failures (rather than
// treating any error as a hard failure) since scoring runs well after
// session start already validated the collaborator existed. An exhausted
// retry degrades the result instead of failing scoring outright, per
// SPEC_FULL.md §5.F / DESIGN.md Open Question 1.
func (o *Orchestrator) resolveRuntimeContext(ctx context.Context, tpl model.TestTemplate, clerkUserID *string) (blueprint.RuntimeContext, bool) {
	rc := blueprint.RuntimeContext{}
	if clerkUserID != nil {
		rc.UserClerkID = *clerkUserID
	}
	degraded := false

	switch tpl.Goal {
	case model.GoalJobFit:
		if o.onet != nil && tpl.Blueprint.ONetOccupationCode != "" {
			var prof model.ONetProfile
			err := retryLookup(ctx, 3, 50*time.Millisecond, func() error {
				var lookupErr error
				prof, lookupErr = o.onet.Lookup(ctx, tpl.Blueprint.ONetOccupationCode)
				return lookupErr
			})
			if err != nil {
				o.logger.Warn("scoring: onet lookup exhausted retries, degrading", "error", err)
				degraded = true
			} else {
				rc.ONetProfile = &prof
			}
		}
	case model.GoalTeamFit:
		if o.teams != nil && tpl.Blueprint.TeamID != uuid.Nil {
			var prof model.TeamProfile
			err := retryLookup(ctx, 3, 50*time.Millisecond, func() error {
				var lookupErr error
				prof, lookupErr = o.teams.Lookup(ctx, tpl.Blueprint.TeamID)
				return lookupErr
			})
			if err != nil {
				o.logger.Warn("scoring: team lookup exhausted retries, degrading", "error", err)
				degraded = true
			} else {
				rc.TeamProfile = &prof
			}
		}
	}

	if o.passports != nil && clerkUserID != nil {
		p, err := o.passports.Get(ctx, *clerkUserID)
		if err != nil {
			o.logger.Warn("scoring: passport read failed, proceeding without delta import", "error", err)
		} else {
			rc.Passport = p
		}
	}
	return rc, degraded
}

// retryLookup retries fn with jittered exponential backoff, the same shape
// as storage.WithRetry generalized to non-Postgres collaborator calls (any
// error is retriable here, since the caller controls the attempt budget).
func retryLookup(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
	return err
}

func (o *Orchestrator) loadQuestionContext(ctx context.Context, answers []model.TestAnswer) (map[uuid.UUID]model.AssessmentQuestion, map[uuid.UUID]model.BehavioralIndicator, error) {
	ids := make([]uuid.UUID, 0, len(answers))
	for _, a := range answers {
		ids = append(ids, a.QuestionID)
	}
	questions, err := o.store.GetQuestionsByIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("get questions: %w", err)
	}
	questionMap := make(map[uuid.UUID]model.AssessmentQuestion, len(questions))
	indicatorIDs := make(map[uuid.UUID]struct{})
	for _, q := range questions {
		questionMap[q.ID] = q
		indicatorIDs[q.IndicatorID] = struct{}{}
	}

	indicatorMap := make(map[uuid.UUID]model.BehavioralIndicator, len(indicatorIDs))
	for id := range indicatorIDs {
		ind, err := o.store.GetIndicator(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("get indicator %s: %w", id, err)
		}
		indicatorMap[id] = ind
	}
	return questionMap, indicatorMap, nil
}

func (o *Orchestrator) loadCompetencies(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Competency, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]model.Competency{}, nil
	}
	comps, err := o.store.ListCompetencies(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]model.Competency, len(comps))
	for _, c := range comps {
		out[c.ID] = c
	}
	return out, nil
}

func (o *Orchestrator) loadReliableTraits(ctx context.Context, needed bool) (map[model.BigFiveTrait]bool, error) {
	if !needed {
		return nil, nil
	}
	records, err := o.store.ListBigFiveReliability(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[model.BigFiveTrait]bool, len(records))
	for _, r := range records {
		out[r.Trait] = r.Status == model.ReliabilityReliable
	}
	return out, nil
}

func (o *Orchestrator) percentile(ctx context.Context, goal model.TemplateGoal, candidate float64) (*float64, error) {
	priors, err := o.store.ListPriorOverallPercentages(ctx, goal)
	if err != nil {
		return nil, err
	}
	if len(priors) == 0 {
		return nil, nil
	}
	below := 0
	for _, p := range priors {
		if p < candidate {
			below++
		}
	}
	pct := float64(below) / float64(len(priors)) * 100
	return &pct, nil
}

func competencyIDsFrom(indicators map[uuid.UUID]model.BehavioralIndicator, imported []blueprint.ImportedScore) []uuid.UUID {
	set := make(map[uuid.UUID]struct{}, len(indicators)+len(imported))
	for _, ind := range indicators {
		set[ind.CompetencyID] = struct{}{}
	}
	for _, imp := range imported {
		set[imp.CompetencyID] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func totalTimeSeconds(answers []model.TestAnswer) int {
	total := 0
	for _, a := range answers {
		total += a.TimeSpentSeconds
	}
	return total
}
