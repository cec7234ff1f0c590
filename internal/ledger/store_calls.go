package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const callColumns = `provider_call_id, run_id, provider, idempotency_key, attempt, status,
    provider_job_id, raw_artifact_uri, raw_artifact_hash, cost_usd, latency_ms, created_at`

func scanProviderCall(row rowScanner) (*ProviderCall, error) {
	var (
		call    ProviderCall
		jobID   sql.NullString
		rawURI  sql.NullString
		rawHash sql.NullString
		cost    sql.NullFloat64
		latency sql.NullInt64
		created string
	)
	if err := row.Scan(
		&call.ProviderCallID, &call.RunID, &call.Provider, &call.IdempotencyKey, &call.Attempt, &call.Status,
		&jobID, &rawURI, &rawHash, &cost, &latency, &created,
	); err != nil {
		return nil, err
	}
	call.ProviderJobID = jobID.String
	call.RawArtifactURI = rawURI.String
	call.RawArtifactHash = rawHash.String
	if cost.Valid {
		value := cost.Float64
		call.CostUSD = &value
	}
	if latency.Valid {
		value := latency.Int64
		call.LatencyMs = &value
	}
	var err error
	if call.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &call, nil
}

// CreateProviderCall records the intent to spend provider budget, before the
// call goes out. A second insert for the same (provider, idempotency_key)
// fails with ErrDuplicateProviderCall; the caller must then read the existing
// row and reuse its result instead of calling the provider again.
func (s *Store) CreateProviderCall(ctx context.Context, call ProviderCall) error {
	attempt := call.Attempt
	if attempt == 0 {
		attempt = 1
	}
	status := call.Status
	if status == "" {
		status = CallCreated
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO provider_calls (provider_call_id, run_id, provider, idempotency_key, attempt, status, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		call.ProviderCallID, call.RunID, call.Provider, call.IdempotencyKey, attempt, status,
		formatTime(time.Now().UTC()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("provider call (%s, %s): %w", call.Provider, call.IdempotencyKey, ErrDuplicateProviderCall)
		}
		return fmt.Errorf("insert provider call: %w", err)
	}
	return nil
}

// GetProviderCallByKey fetches the call row for an idempotency key, or nil
// when none exists.
func (s *Store) GetProviderCallByKey(ctx context.Context, provider, idempotencyKey string) (*ProviderCall, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM provider_calls WHERE provider = ? AND idempotency_key = ?`,
		provider, idempotencyKey,
	)
	call, err := scanProviderCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get provider call: %w", err)
	}
	return call, nil
}

// CompleteProviderCall records the provider's result on a created call. The
// guard on status makes completed rows immutable; re-completing is rejected
// with ErrInvalidTransition.
func (s *Store) CompleteProviderCall(ctx context.Context, providerCallID, providerJobID, rawURI, rawHash string, costUSD *float64, latencyMs *int64) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE provider_calls SET status = ?, provider_job_id = ?, raw_artifact_uri = ?, raw_artifact_hash = ?,
             cost_usd = ?, latency_ms = ?
         WHERE provider_call_id = ? AND status = ?`,
		CallCompleted, nullableString(providerJobID), rawURI, rawHash,
		nullableFloat(costUSD), nullableInt64(latencyMs),
		providerCallID, CallCreated,
	)
	if err != nil {
		return fmt.Errorf("complete provider call: %w", err)
	}
	return s.explainCallGuardFailure(ctx, res, providerCallID, CallCompleted)
}

// FailProviderCall marks a created call as failed. Terminal either way.
func (s *Store) FailProviderCall(ctx context.Context, providerCallID string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE provider_calls SET status = ? WHERE provider_call_id = ? AND status = ?`,
		CallFailed, providerCallID, CallCreated,
	)
	if err != nil {
		return fmt.Errorf("fail provider call: %w", err)
	}
	return s.explainCallGuardFailure(ctx, res, providerCallID, CallFailed)
}

func (s *Store) explainCallGuardFailure(ctx context.Context, res sql.Result, providerCallID string, to CallStatus) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT status FROM provider_calls WHERE provider_call_id = ?`, providerCallID)
	var current CallStatus
	scanErr := row.Scan(&current)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return fmt.Errorf("provider call %s: %w", providerCallID, ErrNotFound)
	}
	if scanErr != nil {
		return fmt.Errorf("read provider call status: %w", scanErr)
	}
	return fmt.Errorf("%w: provider call %s is %s, cannot become %s", ErrInvalidTransition, providerCallID, current, to)
}

// RetryProviderCall reopens a failed call for another attempt, bumping the
// attempt counter. Completed calls stay immutable; only failed rows reopen.
// The single row per (provider, idempotency_key) is what keeps retries from
// ever paying twice.
func (s *Store) RetryProviderCall(ctx context.Context, providerCallID string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE provider_calls SET status = ?, attempt = attempt + 1 WHERE provider_call_id = ? AND status = ?`,
		CallCreated, providerCallID, CallFailed,
	)
	if err != nil {
		return fmt.Errorf("retry provider call: %w", err)
	}
	return s.explainCallGuardFailure(ctx, res, providerCallID, CallCreated)
}

// CallsForRun returns every provider call recorded for a run, oldest first.
func (s *Store) CallsForRun(ctx context.Context, runID string) ([]*ProviderCall, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+callColumns+` FROM provider_calls WHERE run_id = ? ORDER BY created_at, provider_call_id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query provider calls: %w", err)
	}
	defer rows.Close()

	var calls []*ProviderCall
	for rows.Next() {
		call, err := scanProviderCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}
