package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridianhr/assesscore/internal/model"
)

// GetSession returns a session by id.
func (db *DB) GetSession(ctx context.Context, id uuid.UUID) (model.TestSession, error) {
	row := db.pool.QueryRow(ctx, sessionSelectSQL+` WHERE id = $1`, id)
	return scanSession(row)
}

// CreateSession persists a new session produced by the Assembly Engine. The
// caller is expected to run this inside the same transaction as the
// exposure-count increments, per the "either all of it commits or none of
// it does" contract in SPEC_FULL.md §5.D.
func (db *DB) CreateSession(ctx context.Context, tx pgx.Tx, s model.TestSession) (model.TestSession, error) {
	var taker []byte
	var err error
	if s.AnonymousTakerInfo != nil {
		taker, err = json.Marshal(s.AnonymousTakerInfo)
		if err != nil {
			return model.TestSession{}, fmt.Errorf("storage: marshal taker info: %w", err)
		}
	}
	row := tx.QueryRow(ctx,
		`INSERT INTO test_sessions
		   (id, template_id, clerk_user_id, status, current_question_index, time_remaining_seconds,
		    question_order, seed, last_activity_at, version, share_link_id, access_token_hash,
		    client_ip, user_agent, anonymous_taker_info, started_at, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now(), 1, $9,$10,$11,$12,$13::jsonb, now(), now())
		 RETURNING `+sessionColumns,
		s.ID, s.TemplateID, s.ClerkUserID, model.SessionInProgress, s.CurrentQuestionIndex,
		s.TimeRemainingSeconds, s.QuestionOrder, s.Seed, s.ShareLinkID, s.AccessTokenHash,
		s.ClientIP, s.UserAgent, nullableJSON(taker),
	)
	return scanSession(row)
}

// UpdateSessionProgress persists an answer-driven advance of the session
// (current index + time remaining) guarded by the optimistic version. Zero
// rows affected means another writer won the race; the caller returns
// apperr.Conflict.
func (db *DB) UpdateSessionProgress(ctx context.Context, id uuid.UUID, expectedVersion int64, newIndex, timeRemaining int) (model.TestSession, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE test_sessions
		 SET current_question_index = $3, time_remaining_seconds = $4,
		     last_activity_at = now(), version = version + 1
		 WHERE id = $1 AND version = $2
		 RETURNING `+sessionColumns,
		id, expectedVersion, newIndex, timeRemaining,
	)
	s, err := scanSession(row)
	if err != nil {
		return model.TestSession{}, err
	}
	return s, nil
}

// TransitionSession moves a session to a terminal (or TimedOut) status,
// guarded by the optimistic version.
func (db *DB) TransitionSession(ctx context.Context, id uuid.UUID, expectedVersion int64, status model.SessionStatus) (model.TestSession, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE test_sessions
		 SET status = $3, completed_at = CASE WHEN $3 IN ('Completed','Abandoned','TimedOut') THEN now() ELSE completed_at END,
		     last_activity_at = now(), version = version + 1
		 WHERE id = $1 AND version = $2
		 RETURNING `+sessionColumns,
		id, expectedVersion, status,
	)
	return scanSession(row)
}

// AttachAnonymousTakerInfo records post-completion taker metadata on an
// anonymous session. Not version-guarded and not status-checked: it writes
// the taker info whatever the session's current status.
func (db *DB) AttachAnonymousTakerInfo(ctx context.Context, id uuid.UUID, info model.AnonymousTakerInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("storage: marshal taker info: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`UPDATE test_sessions SET anonymous_taker_info = $2::jsonb WHERE id = $1`, id, payload)
	if err != nil {
		return fmt.Errorf("storage: attach taker info: %w", err)
	}
	return nil
}

// ListStaleInProgressSessions returns every InProgress session; the sweep
// (session.Engine.Tick) decides which of them take a TimedOut transition
// (time limit exceeded) or an Abandoned transition (simply stale).
func (db *DB) ListStaleInProgressSessions(ctx context.Context) ([]model.TestSession, error) {
	rows, err := db.pool.Query(ctx, sessionSelectSQL+` WHERE status = 'InProgress'`)
	if err != nil {
		return nil, fmt.Errorf("storage: list stale sessions: %w", err)
	}
	defer rows.Close()

	var out []model.TestSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FindSessionByAccessTokenHash looks up an anonymous session by the SHA-256
// hash of its bearer token.
func (db *DB) FindSessionByAccessTokenHash(ctx context.Context, hash string) (model.TestSession, error) {
	row := db.pool.QueryRow(ctx, sessionSelectSQL+` WHERE access_token_hash = $1`, hash)
	return scanSession(row)
}

const sessionColumns = `id, template_id, clerk_user_id, status, current_question_index, time_remaining_seconds,
		           question_order, seed, last_activity_at, version, share_link_id, access_token_hash,
		           client_ip, user_agent, anonymous_taker_info, started_at, completed_at, created_at`

const sessionSelectSQL = `SELECT ` + sessionColumns + ` FROM test_sessions`

func scanSession(row pgxScanner) (model.TestSession, error) {
	var (
		s         model.TestSession
		takerJSON []byte
	)
	if err := row.Scan(
		&s.ID, &s.TemplateID, &s.ClerkUserID, &s.Status, &s.CurrentQuestionIndex, &s.TimeRemainingSeconds,
		&s.QuestionOrder, &s.Seed, &s.LastActivityAt, &s.Version, &s.ShareLinkID, &s.AccessTokenHash,
		&s.ClientIP, &s.UserAgent, &takerJSON, &s.StartedAt, &s.CompletedAt, &s.CreatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return model.TestSession{}, ErrNotFound
		}
		return model.TestSession{}, err
	}
	if len(takerJSON) > 0 {
		if err := json.Unmarshal(takerJSON, &s.AnonymousTakerInfo); err != nil {
			return model.TestSession{}, fmt.Errorf("unmarshal taker info: %w", err)
		}
	}
	return s, nil
}

func nullableJSON(b []byte) []byte {
	if len(b) == 0 {
		return []byte(`null`)
	}
	return b
}
