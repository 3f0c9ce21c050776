package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridianhr/assesscore/internal/model"
)

// AnswerPayloadHash returns a stable content hash of the scored fields of a
// submission. Two submissions with an identical hash are the same answer.
// Nothing in this repository calls it: submitAnswer's replay detection uses
// internal/session's own payload hash.
func AnswerPayloadHash(a model.TestAnswer) string {
	type canon struct {
		Selected []string `json:"selected_options,omitempty"`
		Likert   *int     `json:"likert_value,omitempty"`
		Ranking  []string `json:"ranking_sequence,omitempty"`
		Text     *string  `json:"free_text,omitempty"`
		Skipped  bool     `json:"is_skipped"`
	}
	b, _ := json.Marshal(canon{a.SelectedOptions, a.LikertValue, a.RankingSequence, a.FreeText, a.IsSkipped})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// GetAnswer returns the existing answer for (sessionID, questionID), or
// ErrNotFound if none has been submitted yet.
func (db *DB) GetAnswer(ctx context.Context, sessionID, questionID uuid.UUID) (model.TestAnswer, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT session_id, question_id, selected_options, likert_value, ranking_sequence, free_text,
		        answered_at, time_spent_seconds, is_skipped, score, max_score, payload_hash
		 FROM test_answers WHERE session_id = $1 AND question_id = $2`, sessionID, questionID)
	return scanAnswer(row)
}

// ListAnswers returns every answer recorded for a session.
func (db *DB) ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.TestAnswer, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT session_id, question_id, selected_options, likert_value, ranking_sequence, free_text,
		        answered_at, time_spent_seconds, is_skipped, score, max_score, payload_hash
		 FROM test_answers WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list answers: %w", err)
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

// UpsertAnswer writes an answer for (session_id, question_id). Per
// invariant 2, replaying the same payload hash is a no-op write that
// returns the existing row's score unchanged; a new payload hash always
// recomputes score/max_score from the caller-supplied values.
func (db *DB) UpsertAnswer(ctx context.Context, a model.TestAnswer) (model.TestAnswer, bool, error) {
	existing, err := db.GetAnswer(ctx, a.SessionID, a.QuestionID)
	if err == nil && existing.PayloadHash == a.PayloadHash {
		return existing, true, nil
	}
	if err != nil && err != ErrNotFound {
		return model.TestAnswer{}, false, fmt.Errorf("storage: check existing answer: %w", err)
	}

	row := db.pool.QueryRow(ctx,
		`INSERT INTO test_answers
		   (session_id, question_id, selected_options, likert_value, ranking_sequence, free_text,
		    answered_at, time_spent_seconds, is_skipped, score, max_score, payload_hash)
		 VALUES ($1,$2,$3,$4,$5,$6, now(), $7,$8,$9,$10,$11)
		 ON CONFLICT (session_id, question_id) DO UPDATE SET
		   selected_options = EXCLUDED.selected_options,
		   likert_value = EXCLUDED.likert_value,
		   ranking_sequence = EXCLUDED.ranking_sequence,
		   free_text = EXCLUDED.free_text,
		   answered_at = now(),
		   time_spent_seconds = EXCLUDED.time_spent_seconds,
		   is_skipped = EXCLUDED.is_skipped,
		   score = EXCLUDED.score,
		   max_score = EXCLUDED.max_score,
		   payload_hash = EXCLUDED.payload_hash
		 RETURNING session_id, question_id, selected_options, likert_value, ranking_sequence, free_text,
		           answered_at, time_spent_seconds, is_skipped, score, max_score, payload_hash`,
		a.SessionID, a.QuestionID, a.SelectedOptions, a.LikertValue, a.RankingSequence, a.FreeText,
		a.TimeSpentSeconds, a.IsSkipped, a.Score, a.MaxScore, a.PayloadHash,
	)
	written, err := scanAnswer(row)
	if err != nil {
		return model.TestAnswer{}, false, fmt.Errorf("storage: upsert answer: %w", err)
	}
	return written, false, nil
}

func scanAnswer(row pgxScanner) (model.TestAnswer, error) {
	var a model.TestAnswer
	if err := row.Scan(
		&a.SessionID, &a.QuestionID, &a.SelectedOptions, &a.LikertValue, &a.RankingSequence, &a.FreeText,
		&a.AnsweredAt, &a.TimeSpentSeconds, &a.IsSkipped, &a.Score, &a.MaxScore, &a.PayloadHash,
	); err != nil {
		if err == pgx.ErrNoRows {
			return model.TestAnswer{}, ErrNotFound
		}
		return model.TestAnswer{}, err
	}
	return a, nil
}
