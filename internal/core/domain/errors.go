package domain

import "errors"

// Sentinel errors for profile-sync operations.
var (
	// ErrProfileNotFound indicates the requested profile does not exist.
	// HTTP Status: 404 Not Found
	ErrProfileNotFound = errors.New("profile not found")

	// ErrValidation indicates a client-side precondition failed before any
	// network call was issued. Never retried automatically.
	// HTTP Status: 400 Bad Request
	ErrValidation = errors.New("validation failed")

	// ErrTransientService indicates a store or service call failed in a way
	// the user may retry. The edit buffer is never rolled back on this error.
	// HTTP Status: 502 Bad Gateway
	ErrTransientService = errors.New("transient service error")

	// ErrChallengeRejected indicates the verification service refused a
	// request-code or confirm-code call; the challenge stays open for
	// correction.
	// HTTP Status: 422 Unprocessable Entity
	ErrChallengeRejected = errors.New("challenge rejected")

	// ErrChallengeState indicates an operation arrived in a state that does
	// not accept it (e.g. confirm before a code was requested).
	// HTTP Status: 409 Conflict
	ErrChallengeState = errors.New("challenge not in expected state")

	// ErrRoleProtected indicates an attempt to change the primary admin
	// account's role, which no path may do.
	// HTTP Status: 403 Forbidden
	ErrRoleProtected = errors.New("role of primary admin cannot be changed")

	// ErrUnauthorized indicates the actor may not perform the operation.
	// HTTP Status: 403 Forbidden
	ErrUnauthorized = errors.New("unauthorized access")
)
