package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure; no infrastructure dependency.

var (
	ErrDeploymentNotFound = errors.New("deployment not found")
	ErrProjectNotFound    = errors.New("project not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrPolicyNotFound     = errors.New("scaling policy not found")

	ErrInvalidTransition = errors.New("illegal deployment state transition")
	ErrTerminalState     = errors.New("deployment is in a terminal state")

	ErrInvalidPolicy = errors.New("scaling policy failed validation")

	ErrAccessDenied    = errors.New("access denied")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrConnectionLimit = errors.New("connection limit exceeded")

	ErrSandboxTimeout  = errors.New("sandbox operation timed out")
	ErrPipelineAborted = errors.New("deployment pipeline aborted")

	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// ErrorCategory is the closed set of failure categories surfaced across the
// core. Every error returned across a component boundary is classified
// into exactly one of these.
type ErrorCategory string

const (
	CategoryValidation   ErrorCategory = "validation"
	CategoryNotFound     ErrorCategory = "not_found"
	CategoryAccessDenied ErrorCategory = "access_denied"
	CategoryQuota        ErrorCategory = "quota_exceeded"
	CategoryTimeout      ErrorCategory = "timeout"
	CategoryResource     ErrorCategory = "resource"
	CategoryDependency   ErrorCategory = "dependency"
	CategoryInvariant    ErrorCategory = "invariant"
	CategoryNetwork      ErrorCategory = "network"
	CategorySandbox      ErrorCategory = "sandbox"
	CategoryUnknown      ErrorCategory = "unknown"
)

// CategorizedError pairs an error with its closed category so callers can
// branch on category without string-matching messages.
type CategorizedError struct {
	Category ErrorCategory
	Err      error
}

func (e *CategorizedError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return string(e.Category) + ": " + e.Err.Error()
}

func (e *CategorizedError) Unwrap() error { return e.Err }

// Classify wraps err under the given category.
func Classify(category ErrorCategory, err error) error {
	if err == nil {
		return nil
	}
	return &CategorizedError{Category: category, Err: err}
}

// CategoryOf extracts the category a Classify call attached to err, or
// CategoryUnknown if err is nil or was never classified.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryUnknown
}
