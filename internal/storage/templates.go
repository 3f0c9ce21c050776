package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridianhr/assesscore/internal/model"
)

// GetTemplate returns a template by id.
func (db *DB) GetTemplate(ctx context.Context, id uuid.UUID) (model.TestTemplate, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, name, version, parent_version, owner_id, visibility, lifecycle, goal, blueprint,
		        competency_ids, questions_per_indicator, time_limit_minutes, passing_score,
		        shuffle_questions, shuffle_options, allow_skip, allow_back_navigation,
		        passport_max_age_days, context_scope, deleted_at, created_at, updated_at
		 FROM test_templates WHERE id = $1`, id)
	t, err := scanTemplate(row)
	if err != nil {
		return model.TestTemplate{}, fmt.Errorf("storage: get template: %w", err)
	}
	return t, nil
}

// CreateTemplate inserts a new Draft-lifecycle template.
func (db *DB) CreateTemplate(ctx context.Context, t model.TestTemplate) (model.TestTemplate, error) {
	blueprint, err := json.Marshal(t.Blueprint)
	if err != nil {
		return model.TestTemplate{}, fmt.Errorf("storage: marshal blueprint: %w", err)
	}
	row := db.pool.QueryRow(ctx,
		`INSERT INTO test_templates
		   (id, name, version, parent_version, owner_id, visibility, lifecycle, goal, blueprint,
		    competency_ids, questions_per_indicator, time_limit_minutes, passing_score,
		    shuffle_questions, shuffle_options, allow_skip, allow_back_navigation,
		    passport_max_age_days, context_scope, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::jsonb,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19, now(), now())
		 RETURNING id, name, version, parent_version, owner_id, visibility, lifecycle, goal, blueprint,
		           competency_ids, questions_per_indicator, time_limit_minutes, passing_score,
		           shuffle_questions, shuffle_options, allow_skip, allow_back_navigation,
		           passport_max_age_days, context_scope, deleted_at, created_at, updated_at`,
		t.ID, t.Name, 1, t.ParentVersion, t.OwnerID, t.Visibility, model.LifecycleDraft, t.Goal, blueprint,
		t.CompetencyIDs, t.QuestionsPerIndicator, t.TimeLimitMinutes, t.PassingScore,
		t.ShuffleQuestions, t.ShuffleOptions, t.AllowSkip, t.AllowBackNavigation,
		t.PassportMaxAgeDays, t.ContextScope,
	)
	created, err := scanTemplate(row)
	if err != nil {
		return model.TestTemplate{}, fmt.Errorf("storage: create template: %w", err)
	}
	return created, nil
}

// PublishTemplate transitions a Draft template to Published. Published
// templates are immutable; subsequent edits must go through ForkTemplate.
func (db *DB) PublishTemplate(ctx context.Context, id uuid.UUID) (model.TestTemplate, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE test_templates SET lifecycle = 'Published', updated_at = now()
		 WHERE id = $1 AND lifecycle = 'Draft'
		 RETURNING id, name, version, parent_version, owner_id, visibility, lifecycle, goal, blueprint,
		           competency_ids, questions_per_indicator, time_limit_minutes, passing_score,
		           shuffle_questions, shuffle_options, allow_skip, allow_back_navigation,
		           passport_max_age_days, context_scope, deleted_at, created_at, updated_at`, id)
	t, err := scanTemplate(row)
	if err != nil {
		return model.TestTemplate{}, fmt.Errorf("storage: publish template: %w", err)
	}
	return t, nil
}

// ForkTemplate creates a new Draft version whose ParentVersion points at
// the published predecessor, since published templates may never be edited
// in place.
func (db *DB) ForkTemplate(ctx context.Context, parent model.TestTemplate) (model.TestTemplate, error) {
	next := parent
	next.ID = uuid.New()
	next.Version = parent.Version + 1
	next.ParentVersion = &parent.ID
	next.Lifecycle = model.LifecycleDraft
	return db.CreateTemplate(ctx, next)
}

func scanTemplate(row pgxScanner) (model.TestTemplate, error) {
	var (
		t             model.TestTemplate
		blueprintJSON []byte
	)
	if err := row.Scan(
		&t.ID, &t.Name, &t.Version, &t.ParentVersion, &t.OwnerID, &t.Visibility, &t.Lifecycle, &t.Goal,
		&blueprintJSON, &t.CompetencyIDs, &t.QuestionsPerIndicator, &t.TimeLimitMinutes, &t.PassingScore,
		&t.ShuffleQuestions, &t.ShuffleOptions, &t.AllowSkip, &t.AllowBackNavigation,
		&t.PassportMaxAgeDays, &t.ContextScope, &t.DeletedAt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return model.TestTemplate{}, ErrNotFound
		}
		return model.TestTemplate{}, err
	}
	if len(blueprintJSON) > 0 {
		if err := json.Unmarshal(blueprintJSON, &t.Blueprint); err != nil {
			return model.TestTemplate{}, fmt.Errorf("unmarshal blueprint: %w", err)
		}
	}
	return t, nil
}
