// Package besteffort provides a helper for the "never fail the primary
// operation" error-swallowing pattern (spec §7, §9 Open Question 3). No other
// package calls it; services log their own event-publication failures.
package besteffort

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kandev/maestro/internal/common/logger"
)

// failures counts every swallowed error, process-wide. Exposed for tests; not
// served as a metrics endpoint (metrics/observability surfaces beyond tracing
// are out of scope per spec §1).
var failures int64

// Run executes fn; on error it logs a warning tagged with op and increments
// the failure counter instead of propagating the error to the caller.
func Run(log *logger.Logger, op string, fn func() error) {
	if err := fn(); err != nil {
		atomic.AddInt64(&failures, 1)
		log.Warn("best-effort operation failed", zap.String("op", op), zap.Error(err))
	}
}

// FailureCount returns the number of swallowed failures recorded so far.
func FailureCount() int64 {
	return atomic.LoadInt64(&failures)
}

// ResetFailureCount zeroes the counter; used by tests to isolate assertions.
func ResetFailureCount() {
	atomic.StoreInt64(&failures, 0)
}
