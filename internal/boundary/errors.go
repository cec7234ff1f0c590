package boundary

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrGenerationRetriable marks provider failures worth retrying:
	// timeouts, rate limits, transient backend errors.
	ErrGenerationRetriable = errors.New("generation retriable")

	// ErrGenerationFatal marks provider failures retrying cannot fix:
	// content rejection, invalid parameters, permanent backend refusal.
	ErrGenerationFatal = errors.New("generation fatal")

	// ErrNormalization marks canonical-artifact conversion failures.
	ErrNormalization = errors.New("normalization error")

	// ErrMetrics marks metric-bundle computation failures. Degenerate media
	// is not a metrics error; it produces a bundle with decode_ok false.
	ErrMetrics = errors.New("metrics error")

	// ErrIdentityCollision marks a stored spec hash that no longer matches a
	// recomputation from the same inputs. Processing halts; this is data
	// corruption, not a pipeline failure.
	ErrIdentityCollision = errors.New("identity collision")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrGenerationRetriable
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retriable reports whether a pipeline error is worth re-queueing for.
func Retriable(err error) bool {
	return errors.Is(err, ErrGenerationRetriable)
}

// ErrorCode maps a pipeline error to the stable code persisted on a failed
// run. Codes are part of the ledger's vocabulary; do not rename them.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrGenerationRetriable):
		return "generation_retriable"
	case errors.Is(err, ErrGenerationFatal):
		return "generation_fatal"
	case errors.Is(err, ErrNormalization):
		return "normalization_error"
	case errors.Is(err, ErrMetrics):
		return "metrics_error"
	case errors.Is(err, ErrIdentityCollision):
		return "identity_collision"
	default:
		return "internal_error"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
