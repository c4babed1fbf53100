package service

import (
	"context"

	"familynest/internal/metrics"

	"github.com/rs/zerolog"
)

// BestEffort runs a secondary side effect whose failure must not block the
// primary transition. Failures are logged and counted, never returned.
// It reports whether fn succeeded.
func BestEffort(ctx context.Context, logger zerolog.Logger, m *metrics.Metrics, operation string, fn func(context.Context) error) bool {
	if err := fn(ctx); err != nil {
		logger.Warn().Err(err).Str("operation", operation).Msg("Best-effort operation failed; continuing")
		m.BestEffortFailure(operation)
		return false
	}
	return true
}
