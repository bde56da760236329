package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/coderunner/controlplane/internal/domain"
)

// stage names the pipeline phase an error occurred in, used to select the
// recovery policy.
type stage string

const (
	stageProvisioning stage = "provisioning"
	stageOther        stage = "other"
)

// recovery is one row of the error classification and recovery table.
type recovery int

const (
	recoveryRetry recovery = iota
	recoveryFallback
	recoveryAbort
)

// classify maps a raw error to its category. Collaborators that already
// return a *domain.CategorizedError are trusted; everything else defaults
// to timeout (on context deadline) or unknown.
func classify(err error) domain.ErrorCategory {
	var ce *domain.CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.CategoryTimeout
	}
	return domain.CategoryUnknown
}

// recoveryFor picks the recovery action for a failure at a given stage.
func recoveryFor(category domain.ErrorCategory, st stage) recovery {
	switch category {
	case domain.CategoryTimeout, domain.CategoryNetwork, domain.CategoryUnknown:
		return recoveryRetry
	case domain.CategoryResource:
		if st == stageProvisioning {
			return recoveryFallback
		}
		return recoveryAbort
	case domain.CategorySandbox:
		return recoveryAbort
	default:
		return recoveryAbort
	}
}

// backoffDelay computes min(1s*2^attempt, 30s), doubled again for network
// failures.
func backoffDelay(category domain.ErrorCategory, attempt int) time.Duration {
	d := time.Second
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= 30*time.Second {
			d = 30 * time.Second
			break
		}
	}
	if category == domain.CategoryNetwork {
		d *= 2
	}
	return d
}

// withRetry runs fn, retrying or falling back per the recovery table
// until it succeeds, the stage aborts, or maxRetries is exhausted.
// onFallback is invoked once if a resource failure during provisioning
// calls for a lesser-resource template retry.
func withRetry(ctx context.Context, maxRetries int, st stage, onFallback func(), fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		category := classify(err)

		switch recoveryFor(category, st) {
		case recoveryAbort:
			return err
		case recoveryFallback:
			if onFallback != nil {
				onFallback()
				onFallback = nil // fall back once, then retry normally
			}
			fallthrough
		case recoveryRetry:
			if attempt == maxRetries {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay(category, attempt)):
			}
		}
	}
	return lastErr
}
