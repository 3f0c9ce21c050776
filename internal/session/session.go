// Package session implements the Session Engine: the test-taking state
// machine (start, getCurrent, submitAnswer, skip, navigateBack,
// navigateForward, complete, abandon, tick). See SPEC_FULL.md §5.E.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhr/assesscore/internal/apperr"
	"github.com/meridianhr/assesscore/internal/assembly"
	"github.com/meridianhr/assesscore/internal/blueprint"
	"github.com/meridianhr/assesscore/internal/collab"
	"github.com/meridianhr/assesscore/internal/model"
)

// Store is the storage surface the engine needs outside of assembly's own
// transaction boundary.
type Store interface {
	GetSession(ctx context.Context, id uuid.UUID) (model.TestSession, error)
	UpdateSessionProgress(ctx context.Context, id uuid.UUID, expectedVersion int64, newIndex, timeRemaining int) (model.TestSession, error)
	TransitionSession(ctx context.Context, id uuid.UUID, expectedVersion int64, status model.SessionStatus) (model.TestSession, error)
	AttachAnonymousTakerInfo(ctx context.Context, id uuid.UUID, info model.AnonymousTakerInfo) error
	ListStaleInProgressSessions(ctx context.Context) ([]model.TestSession, error)
	FindSessionByAccessTokenHash(ctx context.Context, hash string) (model.TestSession, error)

	GetTemplate(ctx context.Context, id uuid.UUID) (model.TestTemplate, error)

	GetQuestion(ctx context.Context, id uuid.UUID) (model.AssessmentQuestion, error)
	GetQuestionsByIDs(ctx context.Context, ids []uuid.UUID) ([]model.AssessmentQuestion, error)

	GetAnswer(ctx context.Context, sessionID, questionID uuid.UUID) (model.TestAnswer, error)
	ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.TestAnswer, error)
	UpsertAnswer(ctx context.Context, a model.TestAnswer) (model.TestAnswer, bool, error)
}

// Completer is invoked once a session reaches a terminal status that
// requires scoring. Implemented by internal/scoring.Orchestrator; kept as a
// narrow interface so this package never imports scoring directly (scoring
// already imports session's sibling packages and a cycle would result).
type Completer interface {
	Complete(ctx context.Context, sessionID uuid.UUID) error
}

// IndicatorStore resolves a template's blueprint into an assembly plan; the
// same interface blueprint.Resolve's callers already satisfy.
type IndicatorStore = blueprint.IndicatorStore

// PassportReader is the narrow passport lookup the engine needs to support
// JobFit delta testing. Implemented by internal/passport.Service, which
// already applies the expiry-means-absent rule (invariant 9) — a non-nil
// result here is always eligible to skip competencies.
type PassportReader interface {
	Get(ctx context.Context, clerkUserID string) (*model.CompetencyPassport, error)
}

// Engine drives the session state machine.
type Engine struct {
	store      Store
	assembler  *assembly.Engine
	indicators IndicatorStore
	onet       collab.ONetProfileProvider
	teams      collab.TeamProfileProvider
	passports  PassportReader
	completer  Completer
	logger     *slog.Logger

	staleAfter time.Duration
}

// New builds a session Engine. staleAfter governs tick's Abandoned sweep
// (24h per spec.md §4.E); pass 0 to use the default. passports may be nil,
// in which case delta testing is simply never applied.
func New(store Store, assembler *assembly.Engine, indicators IndicatorStore, onet collab.ONetProfileProvider, teams collab.TeamProfileProvider, passports PassportReader, completer Completer, logger *slog.Logger, staleAfter time.Duration) *Engine {
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	return &Engine{
		store: store, assembler: assembler, indicators: indicators,
		onet: onet, teams: teams, passports: passports, completer: completer, logger: logger,
		staleAfter: staleAfter,
	}
}

// Start assembles and persists a new session for templateID. clerkUserID is
// nil for an anonymous, share-link-initiated attempt, in which case the
// returned AccessToken must be returned to the caller and never logged or
// stored in cleartext — only its SHA-256 hash is persisted.
func (e *Engine) Start(ctx context.Context, templateID uuid.UUID, clerkUserID *string, shareLinkID *uuid.UUID, clientIP, userAgent *string) (model.StartSessionResponse, error) {
	t, err := e.store.GetTemplate(ctx, templateID)
	if err != nil {
		return model.StartSessionResponse{}, fmt.Errorf("session: load template: %w", err)
	}
	if t.DeletedAt != nil {
		return model.StartSessionResponse{}, apperr.NotFound("template %s", templateID)
	}

	rc, err := e.runtimeContext(ctx, t, clerkUserID)
	if err != nil {
		return model.StartSessionResponse{}, err
	}
	plan, err := blueprint.Resolve(ctx, e.indicators, t, rc)
	if err != nil {
		return model.StartSessionResponse{}, err
	}

	seed, err := randomSeed()
	if err != nil {
		return model.StartSessionResponse{}, apperr.Internal(err, "generate session seed")
	}

	var accessToken string
	var accessTokenHash *string
	if clerkUserID == nil {
		accessToken, accessTokenHash, err = newAnonymousToken()
		if err != nil {
			return model.StartSessionResponse{}, apperr.Internal(err, "generate anonymous access token")
		}
	}

	created, warnings, err := e.assembler.Assemble(ctx, uuid.New(), t, plan, seed, clerkUserID, shareLinkID, accessTokenHash, clientIP, userAgent)
	if err != nil {
		return model.StartSessionResponse{}, fmt.Errorf("session: assemble: %w", err)
	}
	for _, w := range warnings {
		e.logger.Warn("session started with item-inventory warning",
			slog.String("session_id", created.ID.String()),
			slog.String("indicator_id", w.IndicatorID.String()),
			slog.String("kind", string(w.Kind)))
	}

	return model.StartSessionResponse{Session: created, AccessToken: accessToken}, nil
}

// runtimeContext gathers the collaborator state blueprint.Resolve needs for
// t's goal: an O*NET benchmark for JobFit, a TeamProfile for TeamFit, and
// (when a clerk user is known) their passport for delta testing. Missing
// collaborators are left nil here; blueprint.Resolve is what turns a nil
// ONetProfile/TeamProfile into apperr.PreconditionFailed for the goals that
// require one, per SPEC_FULL.md §5.C.
func (e *Engine) runtimeContext(ctx context.Context, t model.TestTemplate, clerkUserID *string) (blueprint.RuntimeContext, error) {
	rc := blueprint.RuntimeContext{}
	if clerkUserID != nil {
		rc.UserClerkID = *clerkUserID
	}

	switch t.Goal {
	case model.GoalJobFit:
		if e.onet != nil && t.Blueprint.ONetOccupationCode != "" {
			prof, err := e.onet.Lookup(ctx, t.Blueprint.ONetOccupationCode)
			if err != nil {
				if err == collab.ErrProfileNotFound {
					return rc, apperr.PreconditionFailed("session: no O*NET profile for occupation %q", t.Blueprint.ONetOccupationCode)
				}
				return rc, fmt.Errorf("session: lookup O*NET profile: %w", err)
			}
			rc.ONetProfile = &prof
		}
	case model.GoalTeamFit:
		if e.teams != nil && t.Blueprint.TeamID != uuid.Nil {
			prof, err := e.teams.Lookup(ctx, t.Blueprint.TeamID)
			if err != nil {
				if err == collab.ErrProfileNotFound {
					return rc, apperr.PreconditionFailed("session: no team profile for team %s", t.Blueprint.TeamID)
				}
				return rc, fmt.Errorf("session: lookup team profile: %w", err)
			}
			rc.TeamProfile = &prof
		}
	}

	if e.passports != nil && clerkUserID != nil {
		p, err := e.passports.Get(ctx, *clerkUserID)
		if err != nil {
			return rc, fmt.Errorf("session: lookup passport: %w", err)
		}
		rc.Passport = p
	}
	return rc, nil
}

// GetCurrent returns the session plus the question at its current index,
// shuffling option order deterministically if the template requests it.
func (e *Engine) GetCurrent(ctx context.Context, sessionID uuid.UUID) (model.CurrentQuestionResponse, error) {
	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.CurrentQuestionResponse{}, translateNotFound(err, sessionID)
	}

	resp := model.CurrentQuestionResponse{Session: s, Index: s.CurrentQuestionIndex, Total: len(s.QuestionOrder)}
	if s.CurrentQuestionIndex >= len(s.QuestionOrder) {
		return resp, nil
	}

	qID := s.QuestionOrder[s.CurrentQuestionIndex]
	q, err := e.store.GetQuestion(ctx, qID)
	if err != nil {
		return model.CurrentQuestionResponse{}, fmt.Errorf("session: load current question: %w", err)
	}
	if len(q.Options) > 1 {
		t, err := e.store.GetTemplate(ctx, s.TemplateID)
		if err == nil && t.ShuffleOptions {
			q.Options = assembly.ShuffleOptionOrder(q.Options, s.Seed, q.ID)
		}
	}
	resp.Question = &q
	return resp, nil
}

// SubmitAnswer records (or idempotently replays) an answer for the
// session's current or a navigated-to question, then advances the index
// when allowed. expectedVersion guards against a lost update; a version
// mismatch returns apperr.Conflict.
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID uuid.UUID, req model.SubmitAnswerRequest) (model.TestSession, error) {
	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.TestSession{}, translateNotFound(err, sessionID)
	}
	if s.Status.Terminal() {
		return model.TestSession{}, apperr.InvalidState("session %s is %s", sessionID, s.Status)
	}
	if s.Version != req.Version {
		return model.TestSession{}, apperr.Conflict("session %s: expected version %d, have %d", sessionID, req.Version, s.Version)
	}
	if s.CurrentQuestionIndex >= len(s.QuestionOrder) {
		return model.TestSession{}, apperr.InvalidState("session %s has no current question", sessionID)
	}
	if req.QuestionID != s.QuestionOrder[s.CurrentQuestionIndex] {
		return model.TestSession{}, apperr.InvalidArgument("question %s is not the session's current question", req.QuestionID)
	}

	t, err := e.store.GetTemplate(ctx, s.TemplateID)
	if err != nil {
		return model.TestSession{}, fmt.Errorf("session: load template: %w", err)
	}
	if req.Skip && !t.AllowSkip {
		return model.TestSession{}, apperr.InvalidState("template %s does not allow skipping", t.ID)
	}

	q, err := e.store.GetQuestion(ctx, req.QuestionID)
	if err != nil {
		return model.TestSession{}, fmt.Errorf("session: load question: %w", err)
	}

	answer := model.TestAnswer{
		SessionID: sessionID, QuestionID: req.QuestionID,
		SelectedOptions: req.SelectedOptions, LikertValue: req.LikertValue,
		RankingSequence: req.RankingSequence, FreeText: req.FreeText,
		TimeSpentSeconds: req.TimeSpentSeconds, IsSkipped: req.Skip,
	}
	answer.Score, answer.MaxScore = scoreAnswer(q, answer)

	written, replayed, err := upsertAnswer(ctx, e.store, answer)
	if err != nil {
		return model.TestSession{}, fmt.Errorf("session: submit answer: %w", err)
	}

	newIndex := s.CurrentQuestionIndex
	if !replayed || s.CurrentQuestionIndex == indexOfQuestion(s.QuestionOrder, written.QuestionID) {
		newIndex = s.CurrentQuestionIndex + 1
	}
	timeRemaining := remainingSeconds(s, t)

	updated, err := e.store.UpdateSessionProgress(ctx, sessionID, s.Version, newIndex, timeRemaining)
	if err != nil {
		return model.TestSession{}, translateConflict(err, sessionID)
	}
	return e.maybeComplete(ctx, updated, t)
}

// Skip is submitAnswer with Skip set, provided as a distinct operation name
// to match the exposed surface in SPEC_FULL.md §5.E.
func (e *Engine) Skip(ctx context.Context, sessionID uuid.UUID, questionID uuid.UUID, version int64) (model.TestSession, error) {
	return e.SubmitAnswer(ctx, sessionID, model.SubmitAnswerRequest{QuestionID: questionID, Version: version, Skip: true})
}

// NavigateBack moves the current index one question earlier. Forbidden
// when the template disallows back-navigation.
func (e *Engine) NavigateBack(ctx context.Context, sessionID uuid.UUID, expectedVersion int64) (model.TestSession, error) {
	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.TestSession{}, translateNotFound(err, sessionID)
	}
	if s.Status.Terminal() {
		return model.TestSession{}, apperr.InvalidState("session %s is %s", sessionID, s.Status)
	}
	t, err := e.store.GetTemplate(ctx, s.TemplateID)
	if err != nil {
		return model.TestSession{}, fmt.Errorf("session: load template: %w", err)
	}
	if !t.AllowBackNavigation {
		return model.TestSession{}, apperr.InvalidState("template %s does not allow back navigation", t.ID)
	}
	if s.CurrentQuestionIndex == 0 {
		return model.TestSession{}, apperr.InvalidState("session %s is already at the first question", sessionID)
	}
	updated, err := e.store.UpdateSessionProgress(ctx, sessionID, expectedVersion, s.CurrentQuestionIndex-1, remainingSeconds(s, t))
	if err != nil {
		return model.TestSession{}, translateConflict(err, sessionID)
	}
	return updated, nil
}

// NavigateForward moves the current index one question later without
// requiring an answer, used to revisit a question already answered via
// NavigateBack. It never advances past an unanswered question: the caller
// must use SubmitAnswer (or Skip) to cross one.
func (e *Engine) NavigateForward(ctx context.Context, sessionID uuid.UUID, expectedVersion int64) (model.TestSession, error) {
	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.TestSession{}, translateNotFound(err, sessionID)
	}
	if s.Status.Terminal() {
		return model.TestSession{}, apperr.InvalidState("session %s is %s", sessionID, s.Status)
	}
	if s.CurrentQuestionIndex >= len(s.QuestionOrder)-1 {
		return model.TestSession{}, apperr.InvalidState("session %s is already at its last question", sessionID)
	}
	nextID := s.QuestionOrder[s.CurrentQuestionIndex+1]
	if _, err := e.store.GetAnswer(ctx, sessionID, nextID); err != nil {
		return model.TestSession{}, apperr.InvalidState("question %s has not been answered yet", nextID)
	}
	t, err := e.store.GetTemplate(ctx, s.TemplateID)
	if err != nil {
		return model.TestSession{}, fmt.Errorf("session: load template: %w", err)
	}
	updated, err := e.store.UpdateSessionProgress(ctx, sessionID, expectedVersion, s.CurrentQuestionIndex+1, remainingSeconds(s, t))
	if err != nil {
		return model.TestSession{}, translateConflict(err, sessionID)
	}
	return updated, nil
}

// Complete transitions an InProgress session to Completed and triggers
// scoring. Idempotent: completing an already-Completed session returns it
// unchanged rather than erroring, since the scoring orchestrator itself
// enforces at-most-one-result.
func (e *Engine) Complete(ctx context.Context, sessionID uuid.UUID, expectedVersion int64) (model.TestSession, error) {
	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.TestSession{}, translateNotFound(err, sessionID)
	}
	if s.Status == model.SessionCompleted {
		return s, nil
	}
	if s.Status.Terminal() {
		return model.TestSession{}, apperr.InvalidState("session %s is %s", sessionID, s.Status)
	}
	updated, err := e.store.TransitionSession(ctx, sessionID, expectedVersion, model.SessionCompleted)
	if err != nil {
		return model.TestSession{}, translateConflict(err, sessionID)
	}
	if err := e.completer.Complete(ctx, sessionID); err != nil {
		e.logger.Error("scoring failed after session completion", slog.String("session_id", sessionID.String()), slog.Any("error", err))
	}
	return updated, nil
}

// Abandon transitions an InProgress session to Abandoned. No scoring is
// triggered.
func (e *Engine) Abandon(ctx context.Context, sessionID uuid.UUID, expectedVersion int64) (model.TestSession, error) {
	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.TestSession{}, translateNotFound(err, sessionID)
	}
	if s.Status.Terminal() {
		return model.TestSession{}, apperr.InvalidState("session %s is %s", sessionID, s.Status)
	}
	updated, err := e.store.TransitionSession(ctx, sessionID, expectedVersion, model.SessionAbandoned)
	if err != nil {
		return model.TestSession{}, translateConflict(err, sessionID)
	}
	return updated, nil
}

// AttachTakerInfo records post-completion taker metadata on an anonymous
// session.
func (e *Engine) AttachTakerInfo(ctx context.Context, sessionID uuid.UUID, info model.AnonymousTakerInfo) error {
	return e.store.AttachAnonymousTakerInfo(ctx, sessionID, info)
}

// Tick is the timer sweep: cmd/assessd calls it every SessionSweepInterval,
// and each call transitions every stale InProgress session to
// either TimedOut (its time limit elapsed) or Abandoned (simply inactive
// for longer than staleAfter).
func (e *Engine) Tick(ctx context.Context) error {
	sessions, err := e.store.ListStaleInProgressSessions(ctx)
	if err != nil {
		return fmt.Errorf("session: tick: list stale sessions: %w", err)
	}
	now := time.Now()
	for _, s := range sessions {
		t, err := e.store.GetTemplate(ctx, s.TemplateID)
		if err != nil {
			e.logger.Error("tick: load template", slog.String("session_id", s.ID.String()), slog.Any("error", err))
			continue
		}
		switch {
		case remainingSeconds(s, t) <= 0:
			if _, err := e.store.TransitionSession(ctx, s.ID, s.Version, model.SessionTimedOut); err != nil {
				if !apperr.Is(translateConflict(err, s.ID), apperr.CodeConflict) {
					e.logger.Error("tick: transition to TimedOut", slog.String("session_id", s.ID.String()), slog.Any("error", err))
				}
				continue
			}
			if err := e.completer.Complete(ctx, s.ID); err != nil {
				e.logger.Error("tick: scoring after timeout", slog.String("session_id", s.ID.String()), slog.Any("error", err))
			}
		case now.Sub(s.LastActivityAt) > e.staleAfter:
			if _, err := e.store.TransitionSession(ctx, s.ID, s.Version, model.SessionAbandoned); err != nil {
				if !apperr.Is(translateConflict(err, s.ID), apperr.CodeConflict) {
					e.logger.Error("tick: transition to Abandoned", slog.String("session_id", s.ID.String()), slog.Any("error", err))
				}
			}
		}
	}
	return nil
}

// maybeComplete transitions a session to Completed (and triggers scoring)
// once its question order is exhausted.
func (e *Engine) maybeComplete(ctx context.Context, s model.TestSession, t model.TestTemplate) (model.TestSession, error) {
	if s.CurrentQuestionIndex < len(s.QuestionOrder) {
		return s, nil
	}
	return e.Complete(ctx, s.ID, s.Version)
}

func remainingSeconds(s model.TestSession, t model.TestTemplate) int {
	limit := t.TimeLimitMinutes * 60
	if limit <= 0 {
		return s.TimeRemainingSeconds
	}
	elapsed := int(time.Since(s.StartedAt).Seconds())
	remaining := limit - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func indexOfQuestion(order []uuid.UUID, id uuid.UUID) int {
	for i, q := range order {
		if q == id {
			return i
		}
	}
	return -1
}

func upsertAnswer(ctx context.Context, store Store, a model.TestAnswer) (model.TestAnswer, bool, error) {
	return store.UpsertAnswer(ctx, withPayloadHash(a))
}

func translateNotFound(err error, sessionID uuid.UUID) error {
	if apperr.Is(err, apperr.CodeResourceNotFound) {
		return err
	}
	return apperr.NotFound("session %s", sessionID)
}

func translateConflict(err error, sessionID uuid.UUID) error {
	if apperr.Is(err, apperr.CodeConflict) {
		return err
	}
	return apperr.Conflict("session %s: concurrent modification", sessionID)
}

func randomSeed() (int64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	var v int64
	for _, x := range b {
		v = v<<8 | int64(x)
	}
	return v, nil
}

// newAnonymousToken generates a 32-byte bearer token for an anonymous
// session and returns it alongside the SHA-256 hex digest that is the only
// form ever persisted.
func newAnonymousToken() (token string, hash *string, err error) {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", nil, err
	}
	token = hex.EncodeToString(secret[:])
	h, err := HashAccessToken(token)
	if err != nil {
		return "", nil, err
	}
	return token, &h, nil
}

// HashAccessToken reduces a cleartext anonymous session bearer token to the
// SHA-256 hex digest stored as access_token_hash, so HTTP handlers can look
// up the session a presented token belongs to without ever persisting the
// cleartext value.
func HashAccessToken(token string) (string, error) {
	secret, err := hex.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("session: malformed access token: %w", err)
	}
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:]), nil
}

// scoreAnswer normalises a submission into (score, maxScore) for the scoring
// pipeline. Likert items map their 1-7 scale linearly onto [0,1]; MCQ and
// SituationalJudgment items average the rubric scores of the options the
// respondent selected; Ranking items average rubric scores of the chosen
// sequence the same way a full rank-correlation model would degrade to when
// only option-level scores (not a full ideal ordering) are authored; a
// FreeText item, a skip, or a submission missing the relevant field is
// unscored.
func scoreAnswer(q model.AssessmentQuestion, a model.TestAnswer) (*float64, float64) {
	if a.IsSkipped || !q.Type.Scored() {
		return nil, 0
	}
	switch q.Type {
	case model.QuestionLikert:
		if a.LikertValue == nil {
			return nil, 0
		}
		v := *a.LikertValue
		if v < 1 {
			v = 1
		}
		if v > 7 {
			v = 7
		}
		score := float64(v-1) / 6.0
		return &score, 1
	case model.QuestionMultipleChoice, model.QuestionSituationalJudgment:
		return optionScore(q.Options, a.SelectedOptions)
	case model.QuestionRanking:
		return optionScore(q.Options, a.RankingSequence)
	default:
		return nil, 0
	}
}

func optionScore(options []model.AnswerOption, selected []string) (*float64, float64) {
	if len(selected) == 0 {
		return nil, 0
	}
	byID := make(map[string]*model.AnswerOption, len(options))
	for i := range options {
		byID[options[i].ID] = &options[i]
	}
	var sum float64
	var matched int
	for _, id := range selected {
		opt, ok := byID[id]
		if !ok || opt.Score == nil {
			continue
		}
		sum += *opt.Score
		matched++
	}
	if matched == 0 {
		return nil, 0
	}
	score := sum / float64(matched)
	return &score, 1
}

// withPayloadHash stamps a content hash onto a, computed over its scored
// fields, so storage.UpsertAnswer can detect a no-op resubmission.
func withPayloadHash(a model.TestAnswer) model.TestAnswer {
	a.PayloadHash = payloadHash(a)
	return a
}

func payloadHash(a model.TestAnswer) string {
	return hashOf(a.SelectedOptions, a.LikertValue, a.RankingSequence, a.FreeText, a.IsSkipped)
}

func hashOf(selected []string, likert *int, ranking []string, freeText *string, skipped bool) string {
	h := sha256.New()
	for _, s := range selected {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	if likert != nil {
		h.Write([]byte{byte(*likert)})
	}
	for _, s := range ranking {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	if freeText != nil {
		h.Write([]byte(*freeText))
	}
	if skipped {
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}
