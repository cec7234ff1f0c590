package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const metricColumns = `metric_result_id, run_id, metric_name, metric_version, value_json, status, error_detail, created_at`

func scanMetricResult(row rowScanner) (*MetricResult, error) {
	var (
		result  MetricResult
		detail  sql.NullString
		created string
	)
	if err := row.Scan(
		&result.MetricResultID, &result.RunID, &result.MetricName, &result.MetricVersion,
		&result.ValueJSON, &result.Status, &detail, &created,
	); err != nil {
		return nil, err
	}
	result.ErrorDetail = detail.String
	var err error
	if result.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &result, nil
}

// InsertMetricResult writes one versioned metric bundle. Insert-only: a second
// insert for the same (run_id, metric_name, metric_version) fails with
// ErrDuplicateMetricResult. Recomputing a metric means bumping its version.
func (s *Store) InsertMetricResult(ctx context.Context, result MetricResult) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO metric_results (metric_result_id, run_id, metric_name, metric_version, value_json, status, error_detail, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.MetricResultID, result.RunID, result.MetricName, result.MetricVersion,
		result.ValueJSON, result.Status, nullableString(result.ErrorDetail),
		formatTime(time.Now().UTC()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("metric result (%s, %s, %s): %w",
				result.RunID, result.MetricName, result.MetricVersion, ErrDuplicateMetricResult)
		}
		return fmt.Errorf("insert metric result: %w", err)
	}
	return nil
}

// GetMetricResult fetches the bundle for a run at a specific metric version,
// or nil when none was recorded.
func (s *Store) GetMetricResult(ctx context.Context, runID, metricName, metricVersion string) (*MetricResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+metricColumns+` FROM metric_results
         WHERE run_id = ? AND metric_name = ? AND metric_version = ?`,
		runID, metricName, metricVersion,
	)
	result, err := scanMetricResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get metric result: %w", err)
	}
	return result, nil
}

// MetricResultsForRun returns every bundle recorded for a run.
func (s *Store) MetricResultsForRun(ctx context.Context, runID string) ([]*MetricResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+metricColumns+` FROM metric_results WHERE run_id = ? ORDER BY metric_name, metric_version`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query metric results: %w", err)
	}
	defer rows.Close()

	var results []*MetricResult
	for rows.Next() {
		result, err := scanMetricResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}
