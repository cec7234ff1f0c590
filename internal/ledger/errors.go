package ledger

import (
	"errors"
	"strings"
)

var (
	// ErrDuplicateRun reports a second insert for an existing
	// (experiment_id, item_id, variant_key).
	ErrDuplicateRun = errors.New("run already exists for experiment/item/variant")

	// ErrDuplicateProviderCall reports a second insert for an existing
	// (provider, idempotency_key); callers must read the existing row.
	ErrDuplicateProviderCall = errors.New("provider call already exists for idempotency key")

	// ErrDuplicateMetricResult reports a second insert for an existing
	// (run_id, metric_name, metric_version).
	ErrDuplicateMetricResult = errors.New("metric result already exists for run/name/version")

	// ErrDuplicateTask reports a second task insert for an existing
	// canonical pair within an experiment.
	ErrDuplicateTask = errors.New("task already exists for run pair")

	// ErrInvalidTransition reports a status change the transition graph
	// forbids, including any edge leaving a terminal state.
	ErrInvalidTransition = errors.New("status transition not permitted")

	// ErrNotFound reports a missing row.
	ErrNotFound = errors.New("not found")
)

// isUniqueViolation detects SQLite unique/primary-key constraint failures.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		// SQLITE_CONSTRAINT_UNIQUE and SQLITE_CONSTRAINT_PRIMARYKEY.
		switch coder.Code() {
		case 2067, 1555:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
