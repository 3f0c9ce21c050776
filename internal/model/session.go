package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the state-machine position of a TestSession.
type SessionStatus string

const (
	SessionNotStarted SessionStatus = "NotStarted"
	SessionInProgress SessionStatus = "InProgress"
	SessionCompleted  SessionStatus = "Completed"
	SessionAbandoned  SessionStatus = "Abandoned"
	SessionTimedOut   SessionStatus = "TimedOut"
)

// Terminal reports whether a status accepts no further mutations.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionAbandoned, SessionTimedOut:
		return true
	default:
		return false
	}
}

// AnonymousTakerInfo is attached to an anonymous session after completion.
type AnonymousTakerInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// TestSession is a single attempt at a TestTemplate by a user (identified or
// anonymous).
type TestSession struct {
	ID                    uuid.UUID            `json:"id"`
	TemplateID            uuid.UUID            `json:"template_id"`
	ClerkUserID           *string              `json:"clerk_user_id,omitempty"`
	Status                SessionStatus        `json:"status"`
	CurrentQuestionIndex  int                  `json:"current_question_index"`
	TimeRemainingSeconds  int                  `json:"time_remaining_seconds"`
	QuestionOrder         []uuid.UUID          `json:"question_order"`
	Seed                  int64                `json:"-"` // deterministic shuffle/tiebreak seed, never exposed
	LastActivityAt        time.Time            `json:"last_activity_at"`
	Version               int64                `json:"version"`
	ShareLinkID           *uuid.UUID           `json:"share_link_id,omitempty"`
	AccessTokenHash       *string              `json:"-"`
	ClientIP              *string              `json:"client_ip,omitempty"`
	UserAgent             *string              `json:"user_agent,omitempty"`
	AnonymousTakerInfo    *AnonymousTakerInfo  `json:"anonymous_taker_info,omitempty"`
	StartedAt             time.Time            `json:"started_at"`
	CompletedAt           *time.Time           `json:"completed_at,omitempty"`
	CreatedAt             time.Time            `json:"created_at"`
}

// IsAnonymous reports whether the session was started via a share link
// rather than an authenticated clerk user.
func (s TestSession) IsAnonymous() bool {
	return s.ClerkUserID == nil
}

// StartSessionRequest is the request body for POST /tests/sessions.
type StartSessionRequest struct {
	TemplateID uuid.UUID `json:"template_id"`
}

// StartSessionResponse returns the created session plus, for anonymous
// sessions, the cleartext bearer token the client must present thereafter.
type StartSessionResponse struct {
	Session     TestSession `json:"session"`
	AccessToken string      `json:"access_token,omitempty"`
}

// SubmitAnswerRequest is the request body for POST
// /tests/sessions/{id}/answer.
type SubmitAnswerRequest struct {
	QuestionID      uuid.UUID    `json:"question_id"`
	Version         int64        `json:"version"`
	SelectedOptions []string     `json:"selected_options,omitempty"`
	LikertValue     *int         `json:"likert_value,omitempty"`
	RankingSequence []string     `json:"ranking_sequence,omitempty"`
	FreeText        *string      `json:"free_text,omitempty"`
	TimeSpentSeconds int         `json:"time_spent_seconds"`
	Skip            bool         `json:"skip,omitempty"`
}

// CurrentQuestionResponse is the response for GET
// /tests/sessions/{id}/current.
type CurrentQuestionResponse struct {
	Session  TestSession         `json:"session"`
	Question *AssessmentQuestion `json:"question,omitempty"`
	Index    int                 `json:"index"`
	Total    int                 `json:"total"`
}
