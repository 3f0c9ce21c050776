package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridianhr/assesscore/internal/model"
)

// ItemResponseRow is one respondent's normalized score on a single item,
// feeding the psychometric analyser's p-value and discrimination passes.
type ItemResponseRow struct {
	SessionID uuid.UUID
	Score     float64 // answer score / max_score, in [0,1]
}

// ListItemResponses returns every scored, non-skipped response to an item
// across all sessions.
func (db *DB) ListItemResponses(ctx context.Context, itemID uuid.UUID) ([]ItemResponseRow, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT session_id, score, max_score
		 FROM test_answers
		 WHERE question_id = $1 AND is_skipped = false AND score IS NOT NULL AND max_score > 0`,
		itemID)
	if err != nil {
		return nil, fmt.Errorf("storage: list item responses: %w", err)
	}
	defer rows.Close()

	var out []ItemResponseRow
	for rows.Next() {
		var r ItemResponseRow
		var score, maxScore float64
		if err := rows.Scan(&r.SessionID, &score, &maxScore); err != nil {
			return nil, fmt.Errorf("storage: scan item response: %w", err)
		}
		r.Score = score / maxScore
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListOverallScoresBySessions returns each session's TestResult overall
// percentage, normalized to [0,1], for sessions that have a canonical
// result. Sessions with no result yet (still in progress) are simply
// absent from the returned map.
func (db *DB) ListOverallScoresBySessions(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]float64, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT session_id, overall_percentage FROM test_results WHERE session_id = ANY($1)`,
		sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("storage: list overall scores: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]float64, len(sessionIDs))
	for rows.Next() {
		var sessionID uuid.UUID
		var pct float64
		if err := rows.Scan(&sessionID, &pct); err != nil {
			return nil, fmt.Errorf("storage: scan overall score: %w", err)
		}
		out[sessionID] = pct / 100
	}
	return out, rows.Err()
}

// ListAnswersByQuestions returns every scored, non-skipped answer across a
// set of items, used by the analyser to assemble the respondent-by-item
// score matrix for Cronbach's alpha.
func (db *DB) ListAnswersByQuestions(ctx context.Context, questionIDs []uuid.UUID) ([]model.TestAnswer, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT session_id, question_id, selected_options, likert_value, ranking_sequence,
		        free_text, answered_at, time_spent_seconds, is_skipped, score, max_score, payload_hash
		 FROM test_answers
		 WHERE question_id = ANY($1) AND is_skipped = false AND score IS NOT NULL AND max_score > 0`,
		questionIDs)
	if err != nil {
		return nil, fmt.Errorf("storage: list answers by questions: %w", err)
	}
	defer rows.Close()

	var out []model.TestAnswer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan answer: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListActiveCompetencies returns every non-archived competency, the
// analyser's iteration root for per-competency and per-trait reliability.
func (db *DB) ListActiveCompetencies(ctx context.Context) ([]model.Competency, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, active, trait, archived_at, created_at, updated_at
		 FROM competencies WHERE active = true`)
	if err != nil {
		return nil, fmt.Errorf("storage: list active competencies: %w", err)
	}
	defer rows.Close()

	var out []model.Competency
	for rows.Next() {
		c, err := scanCompetency(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan competency: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
