package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridianhr/assesscore/internal/model"
)

// GetCompetencyReliability returns the 1:1 Cronbach-alpha record for a
// competency, or ErrNotFound if the analyser hasn't computed one yet.
func (db *DB) GetCompetencyReliability(ctx context.Context, competencyID uuid.UUID) (model.CompetencyReliability, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT competency_id, alpha, sample_size, item_count, status, alpha_if_deleted, updated_at
		 FROM competency_reliability WHERE competency_id = $1`, competencyID)
	return scanCompetencyReliability(row)
}

// ListCompetencyReliability returns reliability records for a set of
// competencies, used by the scoring pipeline's Big-Five suppression check
// and by the analyser's own re-derivation pass.
func (db *DB) ListCompetencyReliability(ctx context.Context, competencyIDs []uuid.UUID) ([]model.CompetencyReliability, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT competency_id, alpha, sample_size, item_count, status, alpha_if_deleted, updated_at
		 FROM competency_reliability WHERE competency_id = ANY($1)`, competencyIDs)
	if err != nil {
		return nil, fmt.Errorf("storage: list competency reliability: %w", err)
	}
	defer rows.Close()

	var out []model.CompetencyReliability
	for rows.Next() {
		r, err := scanCompetencyReliability(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan competency reliability: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertCompetencyReliability writes the analyser's recomputed alpha for a
// competency.
func (db *DB) UpsertCompetencyReliability(ctx context.Context, r model.CompetencyReliability) error {
	aid, err := json.Marshal(r.AlphaIfDeleted)
	if err != nil {
		return fmt.Errorf("storage: marshal alpha_if_deleted: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO competency_reliability (competency_id, alpha, sample_size, item_count, status, alpha_if_deleted, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6::jsonb, now())
		 ON CONFLICT (competency_id) DO UPDATE SET
		   alpha = EXCLUDED.alpha, sample_size = EXCLUDED.sample_size, item_count = EXCLUDED.item_count,
		   status = EXCLUDED.status, alpha_if_deleted = EXCLUDED.alpha_if_deleted, updated_at = now()`,
		r.CompetencyID, r.Alpha, r.SampleSize, r.ItemCount, r.Status, aid,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert competency reliability: %w", err)
	}
	return nil
}

// GetBigFiveReliability returns the 1:1 Cronbach-alpha record for a trait.
func (db *DB) GetBigFiveReliability(ctx context.Context, trait model.BigFiveTrait) (model.BigFiveReliability, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT trait, alpha, sample_size, item_count, status, alpha_if_deleted, updated_at
		 FROM big_five_reliability WHERE trait = $1`, trait)
	return scanBigFiveReliability(row)
}

// ListBigFiveReliability returns every trait's reliability record (at most
// five rows).
func (db *DB) ListBigFiveReliability(ctx context.Context) ([]model.BigFiveReliability, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT trait, alpha, sample_size, item_count, status, alpha_if_deleted, updated_at FROM big_five_reliability`)
	if err != nil {
		return nil, fmt.Errorf("storage: list big five reliability: %w", err)
	}
	defer rows.Close()

	var out []model.BigFiveReliability
	for rows.Next() {
		r, err := scanBigFiveReliability(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan big five reliability: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertBigFiveReliability writes the analyser's recomputed alpha for a
// trait.
func (db *DB) UpsertBigFiveReliability(ctx context.Context, r model.BigFiveReliability) error {
	aid, err := json.Marshal(r.AlphaIfDeleted)
	if err != nil {
		return fmt.Errorf("storage: marshal alpha_if_deleted: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO big_five_reliability (trait, alpha, sample_size, item_count, status, alpha_if_deleted, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6::jsonb, now())
		 ON CONFLICT (trait) DO UPDATE SET
		   alpha = EXCLUDED.alpha, sample_size = EXCLUDED.sample_size, item_count = EXCLUDED.item_count,
		   status = EXCLUDED.status, alpha_if_deleted = EXCLUDED.alpha_if_deleted, updated_at = now()`,
		r.Trait, r.Alpha, r.SampleSize, r.ItemCount, r.Status, aid,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert big five reliability: %w", err)
	}
	return nil
}

func scanCompetencyReliability(row pgxScanner) (model.CompetencyReliability, error) {
	var (
		r       model.CompetencyReliability
		aidJSON []byte
	)
	if err := row.Scan(&r.CompetencyID, &r.Alpha, &r.SampleSize, &r.ItemCount, &r.Status, &aidJSON, &r.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return model.CompetencyReliability{}, ErrNotFound
		}
		return model.CompetencyReliability{}, err
	}
	if len(aidJSON) > 0 {
		if err := json.Unmarshal(aidJSON, &r.AlphaIfDeleted); err != nil {
			return model.CompetencyReliability{}, fmt.Errorf("unmarshal alpha_if_deleted: %w", err)
		}
	}
	return r, nil
}

func scanBigFiveReliability(row pgxScanner) (model.BigFiveReliability, error) {
	var (
		r       model.BigFiveReliability
		aidJSON []byte
	)
	if err := row.Scan(&r.Trait, &r.Alpha, &r.SampleSize, &r.ItemCount, &r.Status, &aidJSON, &r.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return model.BigFiveReliability{}, ErrNotFound
		}
		return model.BigFiveReliability{}, err
	}
	if len(aidJSON) > 0 {
		if err := json.Unmarshal(aidJSON, &r.AlphaIfDeleted); err != nil {
			return model.BigFiveReliability{}, fmt.Errorf("unmarshal alpha_if_deleted: %w", err)
		}
	}
	return r, nil
}
