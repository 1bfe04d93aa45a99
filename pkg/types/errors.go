package types

import "errors"

// Sentinel errors. Callers classify failures with errors.Is; the
// concrete message carries the human-readable reason.
var (
	// ErrCacheInvalid marks every non-usable cache verification outcome:
	// missing schema, source-identity drift, stale-by-age, unreadable
	// metadata, or a storage failure during verification.
	ErrCacheInvalid = errors.New("cache invalid")

	// ErrHeadersInvalid marks a column-set mismatch between the
	// configured logical columns and the data being read or written.
	ErrHeadersInvalid = errors.New("headers invalid")

	// ErrMappingInvalid marks a role mapping that references columns not
	// present in the data, or a role backed by a column of the wrong type.
	ErrMappingInvalid = errors.New("header mapping invalid")

	// ErrServiceUnavailable marks a remote service rejection or
	// transport failure (timeout, connection, HTTP 5xx).
	ErrServiceUnavailable = errors.New("remote service unavailable")

	// ErrNotFound marks a missing remote container or sub-table.
	ErrNotFound = errors.New("remote source not found")

	// ErrAccessDenied marks a remote permission rejection.
	ErrAccessDenied = errors.New("remote access denied")

	// ErrAuthentication marks a credential failure. Never retried.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotConfigured marks a missing source identity or role mapping
	// in the configuration. Never retried.
	ErrNotConfigured = errors.New("source not configured")

	// ErrRowNotFound marks a point read or write against a local
	// identity that does not exist in the cache.
	ErrRowNotFound = errors.New("row not found")

	// ErrAmbiguousColumn marks an edit against a logical role backed by
	// more than one physical column.
	ErrAmbiguousColumn = errors.New("column maps to multiple source columns")

	// ErrCommitInFlight is returned when a second commit is started
	// before the first resolves.
	ErrCommitInFlight = errors.New("commit already in flight")
)

// nonRetryable lists the error classes that must propagate immediately
// instead of being retried: authentication and configuration failures.
var nonRetryable = []error{
	ErrAuthentication,
	ErrAccessDenied,
	ErrNotConfigured,
	ErrHeadersInvalid,
	ErrMappingInvalid,
}

// IsRetryable reports whether err is worth another attempt. Transient
// remote failures are retryable; credential and configuration errors
// are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, class := range nonRetryable {
		if errors.Is(err, class) {
			return false
		}
	}
	return true
}
