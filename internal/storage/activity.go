package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridianhr/assesscore/internal/model"
)

// InsertActivityEvent appends one event. Append-only: there is no update or
// delete path for this table.
func (db *DB) InsertActivityEvent(ctx context.Context, e model.ActivityEvent) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("storage: marshal activity metadata: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO activity_events (id, type, session_id, template_id, clerk_user_id, metadata, occurred_at)
		 VALUES ($1,$2,$3,$4,$5,$6::jsonb, now())`,
		e.ID, e.Type, e.SessionID, e.TemplateID, e.ClerkUserID, meta,
	)
	if err != nil {
		return fmt.Errorf("storage: insert activity event: %w", err)
	}
	return nil
}

// InsertScoringAuditLog appends one scoring audit row inside tx, alongside
// the TestResult write, per SPEC_FULL.md §5.F.
func (db *DB) InsertScoringAuditLog(ctx context.Context, tx pgx.Tx, a model.ScoringAuditLog) error {
	weights, err := json.Marshal(a.WeightsSnapshot)
	if err != nil {
		return fmt.Errorf("storage: marshal weights snapshot: %w", err)
	}
	config, err := json.Marshal(a.ConfigSnapshot)
	if err != nil {
		return fmt.Errorf("storage: marshal config snapshot: %w", err)
	}
	breakdown, err := json.Marshal(a.CompetencyBreakdown)
	if err != nil {
		return fmt.Errorf("storage: marshal audit breakdown: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO scoring_audit_logs
		   (id, session_id, result_id, template_id, goal, strategy_tag, weights_snapshot,
		    config_snapshot, competency_breakdown, answered_count, skipped_count, duration_ms, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7::jsonb,$8::jsonb,$9::jsonb,$10,$11,$12, now())`,
		a.ID, a.SessionID, a.ResultID, a.TemplateID, a.Goal, a.StrategyTag, weights,
		config, breakdown, a.AnsweredCount, a.SkippedCount, a.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("storage: insert scoring audit log: %w", err)
	}
	return nil
}

// ListActivityEventsBySession returns every event recorded for a session,
// oldest first.
func (db *DB) ListActivityEventsBySession(ctx context.Context, sessionID uuid.UUID) ([]model.ActivityEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, type, session_id, template_id, clerk_user_id, metadata, occurred_at
		 FROM activity_events WHERE session_id = $1 ORDER BY occurred_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list activity events: %w", err)
	}
	defer rows.Close()

	var out []model.ActivityEvent
	for rows.Next() {
		var (
			e        model.ActivityEvent
			metaJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.SessionID, &e.TemplateID, &e.ClerkUserID, &metaJSON, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("storage: scan activity event: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal activity metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
