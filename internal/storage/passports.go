package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meridianhr/assesscore/internal/model"
)

// GetPassport returns the stored passport row regardless of expiry — the
// "expired passports are reported as absent yet remain stored" rule
// (invariant 9) is applied by the passport service, one layer up, not here.
func (db *DB) GetPassport(ctx context.Context, clerkUserID string) (model.CompetencyPassport, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT clerk_user_id, scores, big_five_profile, last_assessed, expires_at, source_result_id
		 FROM competency_passports WHERE clerk_user_id = $1`, clerkUserID)
	return scanPassport(row)
}

// UpsertPassport writes the user's already-merged passport over the stored
// row (passport.Service computes the merge; storage just persists the
// merged result), per SPEC_FULL.md §5.I.
func (db *DB) UpsertPassport(ctx context.Context, p model.CompetencyPassport) error {
	scores, err := json.Marshal(p.Scores)
	if err != nil {
		return fmt.Errorf("storage: marshal passport scores: %w", err)
	}
	var bigFive []byte
	if p.BigFiveProfile != nil {
		bigFive, err = json.Marshal(p.BigFiveProfile)
		if err != nil {
			return fmt.Errorf("storage: marshal passport big five: %w", err)
		}
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO competency_passports (clerk_user_id, scores, big_five_profile, last_assessed, expires_at, source_result_id)
		 VALUES ($1,$2::jsonb,$3::jsonb,$4,$5,$6)
		 ON CONFLICT (clerk_user_id) DO UPDATE SET
		   scores = EXCLUDED.scores,
		   big_five_profile = COALESCE(EXCLUDED.big_five_profile, competency_passports.big_five_profile),
		   last_assessed = EXCLUDED.last_assessed,
		   expires_at = EXCLUDED.expires_at,
		   source_result_id = EXCLUDED.source_result_id`,
		p.ClerkUserID, scores, nullableJSON(bigFive), p.LastAssessed, p.ExpiresAt, p.SourceResultID,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert passport: %w", err)
	}
	return nil
}

func scanPassport(row pgxScanner) (model.CompetencyPassport, error) {
	var (
		p           model.CompetencyPassport
		scoresJSON  []byte
		bigFiveJSON []byte
	)
	if err := row.Scan(&p.ClerkUserID, &scoresJSON, &bigFiveJSON, &p.LastAssessed, &p.ExpiresAt, &p.SourceResultID); err != nil {
		if err == pgx.ErrNoRows {
			return model.CompetencyPassport{}, ErrNotFound
		}
		return model.CompetencyPassport{}, err
	}
	if len(scoresJSON) > 0 {
		if err := json.Unmarshal(scoresJSON, &p.Scores); err != nil {
			return model.CompetencyPassport{}, fmt.Errorf("unmarshal passport scores: %w", err)
		}
	}
	if len(bigFiveJSON) > 0 {
		if err := json.Unmarshal(bigFiveJSON, &p.BigFiveProfile); err != nil {
			return model.CompetencyPassport{}, fmt.Errorf("unmarshal passport big five: %w", err)
		}
	}
	return p, nil
}
