package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertDatasetItem records an immutable source input.
func (s *Store) InsertDatasetItem(ctx context.Context, item DatasetItem) error {
	now := time.Now().UTC()
	_, err := s.execWithRetry(ctx,
		`INSERT INTO dataset_items (item_id, subject_id, source_video_uri, audio_uri, ref_image_uri, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		item.ItemID, item.SubjectID, item.SourceVideoURI, item.AudioURI,
		nullableStringPtr(item.RefImageURI), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("dataset item %s: %w", item.ItemID, err)
		}
		return fmt.Errorf("insert dataset item: %w", err)
	}
	return nil
}

// GetDatasetItem fetches a dataset item by identifier.
func (s *Store) GetDatasetItem(ctx context.Context, itemID string) (*DatasetItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT item_id, subject_id, source_video_uri, audio_uri, ref_image_uri, created_at
         FROM dataset_items WHERE item_id = ?`, itemID)

	var (
		item     DatasetItem
		refImage sql.NullString
		created  string
	)
	err := row.Scan(&item.ItemID, &item.SubjectID, &item.SourceVideoURI, &item.AudioURI, &refImage, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset item: %w", err)
	}
	if refImage.Valid {
		value := refImage.String
		item.RefImageURI = &value
	}
	if item.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &item, nil
}

// InsertGenerationSpec records an immutable generation configuration.
func (s *Store) InsertGenerationSpec(ctx context.Context, spec GenerationSpec) error {
	now := time.Now().UTC()
	_, err := s.execWithRetry(ctx,
		`INSERT INTO generation_specs (spec_id, provider, model, model_version, prompt_template, params_json, seed_policy, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		spec.SpecID, spec.Provider, spec.Model, nullableStringPtr(spec.ModelVersion),
		spec.PromptTemplate, nullableString(spec.ParamsJSON), nullableString(spec.SeedPolicy),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert generation spec: %w", err)
	}
	return nil
}

// GetGenerationSpec fetches a generation spec by identifier.
func (s *Store) GetGenerationSpec(ctx context.Context, specID string) (*GenerationSpec, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT spec_id, provider, model, model_version, prompt_template, params_json, seed_policy, created_at
         FROM generation_specs WHERE spec_id = ?`, specID)

	var (
		spec       GenerationSpec
		version    sql.NullString
		params     sql.NullString
		seedPolicy sql.NullString
		created    string
	)
	err := row.Scan(&spec.SpecID, &spec.Provider, &spec.Model, &version,
		&spec.PromptTemplate, &params, &seedPolicy, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get generation spec: %w", err)
	}
	if version.Valid {
		value := version.String
		spec.ModelVersion = &value
	}
	spec.ParamsJSON = params.String
	spec.SeedPolicy = seedPolicy.String
	if spec.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &spec, nil
}

// InsertExperiment records a new experiment in draft status.
func (s *Store) InsertExperiment(ctx context.Context, exp Experiment) error {
	status := exp.Status
	if status == "" {
		status = ExperimentDraft
	}
	now := time.Now().UTC()
	_, err := s.execWithRetry(ctx,
		`INSERT INTO experiments (experiment_id, spec_id, status, created_at) VALUES (?, ?, ?, ?)`,
		exp.ExperimentID, exp.SpecID, status, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}
	return nil
}

// GetExperiment fetches an experiment by identifier.
func (s *Store) GetExperiment(ctx context.Context, experimentID string) (*Experiment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT experiment_id, spec_id, status, created_at FROM experiments WHERE experiment_id = ?`,
		experimentID)

	var (
		exp     Experiment
		created string
	)
	err := row.Scan(&exp.ExperimentID, &exp.SpecID, &exp.Status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get experiment: %w", err)
	}
	if exp.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &exp, nil
}

// AdvanceExperiment moves an experiment one step forward. The status order is
// draft -> running -> complete; the conditional update rejects any other edge
// under concurrency.
func (s *Store) AdvanceExperiment(ctx context.Context, experimentID string, from, to ExperimentStatus) error {
	permitted := (from == ExperimentDraft && to == ExperimentRunning) ||
		(from == ExperimentRunning && to == ExperimentComplete)
	if !permitted {
		return fmt.Errorf("%w: experiment %s -> %s", ErrInvalidTransition, from, to)
	}

	res, err := s.execWithRetry(ctx,
		`UPDATE experiments SET status = ? WHERE experiment_id = ? AND status = ?`,
		to, experimentID, from,
	)
	if err != nil {
		return fmt.Errorf("advance experiment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		current, getErr := s.GetExperiment(ctx, experimentID)
		if getErr != nil {
			return getErr
		}
		if current == nil {
			return fmt.Errorf("experiment %s: %w", experimentID, ErrNotFound)
		}
		return fmt.Errorf("%w: experiment %s is %s, not %s", ErrInvalidTransition, experimentID, current.Status, from)
	}
	return nil
}
