package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridianhr/assesscore/internal/model"
)

// GetItemStatistics returns the 1:1 psychometric profile of an item.
func (db *DB) GetItemStatistics(ctx context.Context, itemID uuid.UUID) (model.ItemStatistics, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT item_id, p_value, discrimination, previous_discrimination, irt_a, irt_b, irt_c,
		        response_count, validity_status, difficulty_flag, discrimination_flag,
		        consecutive_critical_runs, status_change_history, updated_at
		 FROM item_statistics WHERE item_id = $1`, itemID)
	s, err := scanItemStatistics(row)
	if err != nil {
		return model.ItemStatistics{}, fmt.Errorf("storage: get item statistics: %w", err)
	}
	return s, nil
}

// ListActiveItemStatisticsByIndicators returns statistics for every
// non-retired item in the given indicators.
func (db *DB) ListActiveItemStatisticsByIndicators(ctx context.Context, indicatorIDs []uuid.UUID) ([]model.ItemStatistics, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT s.item_id, s.p_value, s.discrimination, s.previous_discrimination, s.irt_a, s.irt_b, s.irt_c,
		        s.response_count, s.validity_status, s.difficulty_flag, s.discrimination_flag,
		        s.consecutive_critical_runs, s.status_change_history, s.updated_at
		 FROM item_statistics s
		 JOIN assessment_questions q ON q.id = s.item_id
		 WHERE q.indicator_id = ANY($1) AND s.validity_status <> 'Retired'`, indicatorIDs)
	if err != nil {
		return nil, fmt.Errorf("storage: list item statistics: %w", err)
	}
	defer rows.Close()

	var out []model.ItemStatistics
	for rows.Next() {
		s, err := scanItemStatistics(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan item statistics: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListItemsWithMinResponses returns the ids of items that have accumulated
// at least minResponses answers, the analyser's eligibility threshold.
func (db *DB) ListItemsWithMinResponses(ctx context.Context, minResponses int) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT item_id FROM item_statistics WHERE response_count >= $1 AND validity_status <> 'Retired'`,
		minResponses)
	if err != nil {
		return nil, fmt.Errorf("storage: list items with min responses: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan item id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertItemStatistics writes the analyser's recomputed p-value,
// discrimination, and IRT fit for one item. It does not touch
// status_change_history — callers append to that separately via
// AppendStatusChange so the history stays a strict append-only log even
// under retried writes.
func (db *DB) UpsertItemStatistics(ctx context.Context, s model.ItemStatistics) error {
	var a, b, c *float64
	if s.IRT != nil {
		a, b = &s.IRT.A, &s.IRT.B
		c = s.IRT.C
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO item_statistics
		   (item_id, p_value, discrimination, previous_discrimination, irt_a, irt_b, irt_c,
		    response_count, validity_status, difficulty_flag, discrimination_flag,
		    consecutive_critical_runs, status_change_history, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13::jsonb, now())
		 ON CONFLICT (item_id) DO UPDATE SET
		   p_value = EXCLUDED.p_value,
		   discrimination = EXCLUDED.discrimination,
		   previous_discrimination = EXCLUDED.previous_discrimination,
		   irt_a = EXCLUDED.irt_a, irt_b = EXCLUDED.irt_b, irt_c = EXCLUDED.irt_c,
		   response_count = EXCLUDED.response_count,
		   validity_status = EXCLUDED.validity_status,
		   difficulty_flag = EXCLUDED.difficulty_flag,
		   discrimination_flag = EXCLUDED.discrimination_flag,
		   consecutive_critical_runs = EXCLUDED.consecutive_critical_runs,
		   updated_at = now()`,
		s.ItemID, s.PValue, s.Discrimination, s.PreviousDiscrimination, a, b, c,
		s.ResponseCount, s.ValidityStatus, s.DifficultyFlag, s.DiscriminationFlag,
		s.ConsecutiveCriticalRuns, mustMarshal(s.StatusChangeHistory),
	)
	if err != nil {
		return fmt.Errorf("storage: upsert item statistics: %w", err)
	}
	return nil
}

// AppendStatusChange appends one entry to an item's status history. The
// history is append-only: this always grows the JSONB array, never
// truncates or rewrites prior entries, satisfying invariant 6.
func (db *DB) AppendStatusChange(ctx context.Context, itemID uuid.UUID, change model.StatusChange) error {
	entry, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("storage: marshal status change: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`UPDATE item_statistics
		 SET status_change_history = status_change_history || $2::jsonb,
		     validity_status = $3,
		     updated_at = now()
		 WHERE item_id = $1`,
		itemID, entry, change.To)
	if err != nil {
		return fmt.Errorf("storage: append status change: %w", err)
	}
	return nil
}

func scanItemStatistics(row pgxScanner) (model.ItemStatistics, error) {
	var (
		s          model.ItemStatistics
		a, b, c    *float64
		historyRaw []byte
	)
	if err := row.Scan(
		&s.ItemID, &s.PValue, &s.Discrimination, &s.PreviousDiscrimination, &a, &b, &c,
		&s.ResponseCount, &s.ValidityStatus, &s.DifficultyFlag, &s.DiscriminationFlag,
		&s.ConsecutiveCriticalRuns, &historyRaw, &s.UpdatedAt,
	); err != nil {
		return model.ItemStatistics{}, err
	}
	if a != nil {
		s.IRT = &model.IRTParams{A: *a, B: derefOr(b, 0), C: c}
	}
	if len(historyRaw) > 0 {
		if err := json.Unmarshal(historyRaw, &s.StatusChangeHistory); err != nil {
			return model.ItemStatistics{}, fmt.Errorf("unmarshal status history: %w", err)
		}
	}
	return s, nil
}

func derefOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// StatusChange/[]StatusChange always marshal; this would indicate a
		// programming error (e.g. a NaN float), not a runtime condition.
		panic(fmt.Sprintf("storage: marshal: %v", err))
	}
	return b
}
