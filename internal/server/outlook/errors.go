package outlook

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an upstream failure; the retry policy and the verifier both
// branch on it.
type Kind int

const (
	// KindTransient covers network errors, timeouts and 5xx responses.
	// Retried with exponential backoff.
	KindTransient Kind = iota

	// KindRateLimited means the server asked us to slow down (429).
	// Retried, honoring the server's Retry-After hint when present.
	KindRateLimited

	// KindInvalidGrant means the refresh token itself was permanently
	// rejected. Never retried; the account is invalid.
	KindInvalidGrant

	// KindAuthRejected means an access token was rejected mid-call (401).
	// Handled by a single refresh-and-retry; a repeat escalates to
	// KindInvalidGrant.
	KindAuthRejected

	// KindNotFound maps upstream 404s (unknown message or folder).
	KindNotFound

	// KindPermanent is any other non-retryable upstream rejection.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidGrant:
		return "invalid_grant"
	case KindAuthRejected:
		return "auth_rejected"
	case KindNotFound:
		return "not_found"
	default:
		return "permanent"
	}
}

// APIError is the typed failure for every upstream call. Code carries the
// machine-readable error code from the response body when one was present.
type APIError struct {
	Kind       Kind
	StatusCode int
	Code       string
	Message    string

	// RetryAfter is the server-provided wait hint for rate-limited
	// responses; zero when the server gave none.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream %s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("upstream %s: %s", e.Kind, e.Message)
}

// Temporary reports whether the retry wrapper may try again.
func (e *APIError) Temporary() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

func errorKind(err error) (Kind, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return 0, false
}

// IsInvalidGrant reports whether err is a terminal refresh-credential
// rejection.
func IsInvalidGrant(err error) bool {
	k, ok := errorKind(err)
	return ok && k == KindInvalidGrant
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	k, ok := errorKind(err)
	return ok && k == KindNotFound
}

// IsRateLimited reports whether err is an upstream throttle response.
func IsRateLimited(err error) bool {
	k, ok := errorKind(err)
	return ok && k == KindRateLimited
}

func isAuthRejected(err error) bool {
	k, ok := errorKind(err)
	return ok && k == KindAuthRejected
}
