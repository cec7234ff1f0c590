package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const runColumns = `run_id, experiment_id, item_id, variant_key, spec_hash, status,
    output_canon_uri, output_hash, error_code, error_detail,
    created_at, updated_at, started_at, ended_at, last_heartbeat`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		canonURI   sql.NullString
		outputHash sql.NullString
		errCode    sql.NullString
		errDetail  sql.NullString
		created    string
		updated    string
		started    sql.NullString
		ended      sql.NullString
		heartbeat  sql.NullString
	)
	if err := row.Scan(
		&run.RunID, &run.ExperimentID, &run.ItemID, &run.VariantKey, &run.SpecHash, &run.Status,
		&canonURI, &outputHash, &errCode, &errDetail,
		&created, &updated, &started, &ended, &heartbeat,
	); err != nil {
		return nil, err
	}
	run.OutputCanonURI = canonURI.String
	run.OutputHash = outputHash.String
	run.ErrorCode = errCode.String
	run.ErrorDetail = errDetail.String

	var err error
	if run.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if run.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if run.StartedAt, err = parseNullableTime(started); err != nil {
		return nil, err
	}
	if run.EndedAt, err = parseNullableTime(ended); err != nil {
		return nil, err
	}
	if run.LastHeartbeat, err = parseNullableTime(heartbeat); err != nil {
		return nil, err
	}
	return &run, nil
}

// InsertRun enqueues a new run. A second insert for the same
// (experiment_id, item_id, variant_key) fails with ErrDuplicateRun; the
// storage constraint makes the rejection hold across concurrent writers.
func (s *Store) InsertRun(ctx context.Context, run Run) error {
	status := run.Status
	if status == "" {
		status = RunQueued
	}
	now := formatTime(time.Now().UTC())
	_, err := s.execWithRetry(ctx,
		`INSERT INTO runs (run_id, experiment_id, item_id, variant_key, spec_hash, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.ExperimentID, run.ItemID, run.VariantKey, run.SpecHash, status, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("run (%s, %s, %s): %w", run.ExperimentID, run.ItemID, run.VariantKey, ErrDuplicateRun)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun fetches a run by identifier.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// RunsForExperiment returns all runs of an experiment, optionally filtered
// by status, ordered by creation time.
func (s *Store) RunsForExperiment(ctx context.Context, experimentID string, statuses ...RunStatus) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE experiment_id = ?`
	args := []any{experimentID}
	if len(statuses) > 0 {
		query += ` AND status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at, run_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ClaimNextQueued atomically selects the oldest queued run and flips it to
// running. The flip is a compare-and-swap on status, so when two workers race
// for the same row exactly one update lands; the loser skips to the next
// candidate instead of blocking. Returns nil when no queued run exists. The
// claim holds no lock beyond the single-statement update: the expensive
// pipeline runs entirely outside it.
func (s *Store) ClaimNextQueued(ctx context.Context) (*Run, error) {
	ctx = ensureContext(ctx)
	for {
		row := s.db.QueryRowContext(ctx,
			`SELECT run_id FROM runs WHERE status = ? ORDER BY created_at, run_id LIMIT 1`,
			RunQueued,
		)
		var candidate string
		err := row.Scan(&candidate)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select claim candidate: %w", err)
		}

		now := time.Now().UTC()
		res, err := s.execWithRetry(ctx,
			`UPDATE runs SET status = ?, started_at = ?, last_heartbeat = ?, updated_at = ?
             WHERE run_id = ? AND status = ?`,
			RunRunning, formatTime(now), formatTime(now), formatTime(now),
			candidate, RunQueued,
		)
		if err != nil {
			return nil, fmt.Errorf("claim run: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// Lost the race for this candidate; move on to the next one.
			continue
		}
		return s.GetRun(ctx, candidate)
	}
}

// ClaimRun flips one specific queued run to running through the same
// compare-and-swap ClaimNextQueued uses. It never touches any other row.
// Returns nil when the run exists but is no longer queued; a missing run is
// ErrNotFound.
func (s *Store) ClaimRun(ctx context.Context, runID string) (*Run, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, started_at = ?, last_heartbeat = ?, updated_at = ?
         WHERE run_id = ? AND status = ?`,
		RunRunning, formatTime(now), formatTime(now), formatTime(now),
		runID, RunQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("claim run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		current, err := s.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, nil
	}
	return s.GetRun(ctx, runID)
}

// MarkRunSucceeded commits the terminal succeeded state with the output
// reference in one statement, guarded so only a running run may finish.
func (s *Store) MarkRunSucceeded(ctx context.Context, runID, canonURI, outputHash string) error {
	now := time.Now().UTC()
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, output_canon_uri = ?, output_hash = ?,
             error_code = NULL, error_detail = NULL,
             ended_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE run_id = ? AND status = ?`,
		RunSucceeded, canonURI, outputHash,
		formatTime(now), formatTime(now),
		runID, RunRunning,
	)
	if err != nil {
		return fmt.Errorf("mark run succeeded: %w", err)
	}
	return s.explainTransitionFailure(ctx, res, runID, RunSucceeded)
}

// MarkRunFailed commits the terminal failed state with the error code and
// detail in one statement, guarded so only a running run may fail.
func (s *Store) MarkRunFailed(ctx context.Context, runID, errorCode, errorDetail string) error {
	now := time.Now().UTC()
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, error_code = ?, error_detail = ?,
             ended_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE run_id = ? AND status = ?`,
		RunFailed, errorCode, errorDetail,
		formatTime(now), formatTime(now),
		runID, RunRunning,
	)
	if err != nil {
		return fmt.Errorf("mark run failed: %w", err)
	}
	return s.explainTransitionFailure(ctx, res, runID, RunFailed)
}

func (s *Store) explainTransitionFailure(ctx context.Context, res sql.Result, runID string, to RunStatus) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	current, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return fmt.Errorf("%w: run %s is %s, cannot become %s", ErrInvalidTransition, runID, current.Status, to)
}

// UpdateRunHeartbeat refreshes the heartbeat of a running run. Terminal runs
// are left untouched.
func (s *Store) UpdateRunHeartbeat(ctx context.Context, runID string) error {
	now := formatTime(time.Now().UTC())
	if _, err := s.execWithRetry(ctx,
		`UPDATE runs SET last_heartbeat = ?, updated_at = ? WHERE run_id = ? AND status = ?`,
		now, now, runID, RunRunning,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleRunning returns running runs whose heartbeat expired before
// cutoff back to queued. This is the documented crash-recovery policy: a
// worker that died mid-pipeline leaves a running row behind, and the next
// reclaim pass requeues it; idempotency keys make the re-run safe.
func (s *Store) ReclaimStaleRunning(ctx context.Context, cutoff time.Time) (int64, error) {
	now := formatTime(time.Now().UTC())
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, started_at = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		RunQueued, now,
		RunRunning, cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale runs: %w", err)
	}
	return res.RowsAffected()
}

// CountRunsByStatus returns run counts keyed by status for an experiment.
func (s *Store) CountRunsByStatus(ctx context.Context, experimentID string) (map[RunStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(1) FROM runs WHERE experiment_id = ? GROUP BY status`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[RunStatus]int)
	for rows.Next() {
		var (
			status RunStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
