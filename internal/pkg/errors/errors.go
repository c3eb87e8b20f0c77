package errors

import "errors"

var (
	// ErrNotFound means the conversation or user does not exist (or is not visible to the caller).
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoActiveOrganization means the user has no usable active organization linked.
	ErrNoActiveOrganization = errors.New("no active organization")
	// ErrCacheUnavailable means the key-value backend could not be reached in time.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrClaimConflict means another worker holds the in-flight ticket for a fingerprint.
	ErrClaimConflict = errors.New("claim conflict")
	// ErrComputationFailed wraps failures of the external completion provider.
	ErrComputationFailed = errors.New("computation failed")
	// ErrTimeout means the request budget elapsed before an answer was available.
	ErrTimeout = errors.New("timeout")
)

// UserVisible reports whether err belongs to the part of the taxonomy callers see.
// Cache outages and claim conflicts are recovered internally.
func UserVisible(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrNoActiveOrganization),
		errors.Is(err, ErrComputationFailed),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrInvalidArgument):
		return true
	default:
		return false
	}
}
