package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridianhr/assesscore/internal/model"
)

// GetCompetency returns a competency by id.
func (db *DB) GetCompetency(ctx context.Context, id uuid.UUID) (model.Competency, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, name, active, trait, archived_at, created_at, updated_at
		 FROM competencies WHERE id = $1`, id)
	return scanCompetency(row)
}

// ListCompetencies returns competencies for a set of ids.
func (db *DB) ListCompetencies(ctx context.Context, ids []uuid.UUID) ([]model.Competency, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, active, trait, archived_at, created_at, updated_at
		 FROM competencies WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: list competencies: %w", err)
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

// ListIndicatorsByCompetencies returns every indicator owned by the given
// competencies.
func (db *DB) ListIndicatorsByCompetencies(ctx context.Context, competencyIDs []uuid.UUID) ([]model.BehavioralIndicator, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, competency_id, name, context_scope, created_at
		 FROM behavioral_indicators WHERE competency_id = ANY($1)`, competencyIDs)
	if err != nil {
		return nil, fmt.Errorf("storage: list indicators: %w", err)
	}
	defer rows.Close()

	var out []model.BehavioralIndicator
	for rows.Next() {
		var ind model.BehavioralIndicator
		if err := rows.Scan(&ind.ID, &ind.CompetencyID, &ind.Name, &ind.ContextScope, &ind.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan indicator: %w", err)
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

// GetIndicator returns one indicator, used to find its sibling indicators
// (same competency) for the selector's borrowing fallback.
func (db *DB) GetIndicator(ctx context.Context, id uuid.UUID) (model.BehavioralIndicator, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, competency_id, name, context_scope, created_at FROM behavioral_indicators WHERE id = $1`, id)
	var ind model.BehavioralIndicator
	if err := row.Scan(&ind.ID, &ind.CompetencyID, &ind.Name, &ind.ContextScope, &ind.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return model.BehavioralIndicator{}, ErrNotFound
		}
		return model.BehavioralIndicator{}, err
	}
	return ind, nil
}

func scanCompetency(row pgxScanner) (model.Competency, error) {
	var c model.Competency
	if err := row.Scan(&c.ID, &c.Name, &c.Active, &c.Trait, &c.ArchivedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return model.Competency{}, ErrNotFound
		}
		return model.Competency{}, err
	}
	return c, nil
}
