package model

import (
	"time"

	"github.com/google/uuid"
)

// TestAnswer is a respondent's submission for one question within one
// session. Unique on (SessionID, QuestionID); rewritable until the session
// reaches a terminal status.
type TestAnswer struct {
	SessionID        uuid.UUID   `json:"session_id"`
	QuestionID       uuid.UUID   `json:"question_id"`
	SelectedOptions  []string    `json:"selected_options,omitempty"`
	LikertValue      *int        `json:"likert_value,omitempty"`
	RankingSequence  []string    `json:"ranking_sequence,omitempty"`
	FreeText         *string     `json:"free_text,omitempty"`
	AnsweredAt       time.Time   `json:"answered_at"`
	TimeSpentSeconds int         `json:"time_spent_seconds"`
	IsSkipped        bool        `json:"is_skipped"`
	Score            *float64    `json:"score,omitempty"`
	MaxScore         float64     `json:"max_score"`
	// PayloadHash is a content hash of the scored fields, used to detect a
	// no-op resubmission so submitAnswer stays idempotent without
	// recomputing the score on every replay.
	PayloadHash string `json:"-"`
}

// NormalizedScore returns Score/MaxScore in [0,1], or (0, false) when the
// answer carries no score (skipped, free text, or max score of zero).
func (a TestAnswer) NormalizedScore() (float64, bool) {
	if a.Score == nil || a.MaxScore <= 0 {
		return 0, false
	}
	return *a.Score / a.MaxScore, true
}
