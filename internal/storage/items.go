package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridianhr/assesscore/internal/model"
)

// GetQuestion returns a single item by id.
func (db *DB) GetQuestion(ctx context.Context, id uuid.UUID) (model.AssessmentQuestion, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, indicator_id, text, type, options, rubric, difficulty,
		        time_limit_seconds, metadata, active, exposure_count, created_at, updated_at
		 FROM assessment_questions WHERE id = $1`, id)
	q, err := scanQuestion(row)
	if err != nil {
		return model.AssessmentQuestion{}, fmt.Errorf("storage: get question: %w", err)
	}
	return q, nil
}

// ListSelectableItems returns active, non-retired, non-flagged items for an
// indicator/band pair, ordered ascending by exposure_count with a
// deterministic hash tiebreak on (id, seed) so retakes of the same template
// see a stable but session-varied ordering, per SPEC_FULL.md §5.A.
func (db *DB) ListSelectableItems(ctx context.Context, indicatorID uuid.UUID, band model.DifficultyBand, seed int64) ([]model.AssessmentQuestion, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT q.id, q.indicator_id, q.text, q.type, q.options, q.rubric, q.difficulty,
		        q.time_limit_seconds, q.metadata, q.active, q.exposure_count, q.created_at, q.updated_at
		 FROM assessment_questions q
		 JOIN item_statistics s ON s.item_id = q.id
		 WHERE q.indicator_id = $1 AND q.difficulty = $2 AND q.active
		   AND s.validity_status IN ('Active', 'Probation')
		 ORDER BY q.exposure_count ASC, md5(q.id::text || $3::text) ASC`,
		indicatorID, band, seed,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list selectable items: %w", err)
	}
	defer rows.Close()

	var out []model.AssessmentQuestion
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan selectable item: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ListItemsByIndicators returns every active item (any validity status other
// than Retired) for a set of indicators, used by the psychometric analyser.
func (db *DB) ListItemsByIndicators(ctx context.Context, indicatorIDs []uuid.UUID) ([]model.AssessmentQuestion, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT q.id, q.indicator_id, q.text, q.type, q.options, q.rubric, q.difficulty,
		        q.time_limit_seconds, q.metadata, q.active, q.exposure_count, q.created_at, q.updated_at
		 FROM assessment_questions q
		 JOIN item_statistics s ON s.item_id = q.id
		 WHERE q.indicator_id = ANY($1) AND q.active AND s.validity_status <> 'Retired'`,
		indicatorIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list items by indicators: %w", err)
	}
	defer rows.Close()

	var out []model.AssessmentQuestion
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan item: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// GetQuestionsByIDs returns items for a fixed set of ids, preserving no
// particular order — callers that need question_order apply it themselves.
func (db *DB) GetQuestionsByIDs(ctx context.Context, ids []uuid.UUID) ([]model.AssessmentQuestion, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, indicator_id, text, type, options, rubric, difficulty,
		        time_limit_seconds, metadata, active, exposure_count, created_at, updated_at
		 FROM assessment_questions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: get questions by ids: %w", err)
	}
	defer rows.Close()

	var out []model.AssessmentQuestion
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// IncrementExposure atomically bumps exposure_count for the given items. It
// is the only writer of this column outside the psychometric job, and it
// only ever increments — per invariant 5, exposure_count never decreases.
func (db *DB) IncrementExposure(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx,
		`UPDATE assessment_questions SET exposure_count = exposure_count + 1, updated_at = now()
		 WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("storage: increment exposure: %w", err)
	}
	return nil
}

func scanQuestion(row pgxScanner) (model.AssessmentQuestion, error) {
	var (
		q           model.AssessmentQuestion
		optionsJSON []byte
		metaJSON    []byte
	)
	if err := row.Scan(
		&q.ID, &q.IndicatorID, &q.Text, &q.Type, &optionsJSON, &q.Rubric, &q.Difficulty,
		&q.TimeLimitSecs, &metaJSON, &q.Active, &q.ExposureCount, &q.CreatedAt, &q.UpdatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return model.AssessmentQuestion{}, ErrNotFound
		}
		return model.AssessmentQuestion{}, err
	}
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &q.Options); err != nil {
			return model.AssessmentQuestion{}, fmt.Errorf("unmarshal options: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &q.Metadata); err != nil {
			return model.AssessmentQuestion{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return q, nil
}
