package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness or state conflict.
	ErrConflict = errors.New("conflict")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPermissionDenied indicates the caller lacks the required
	// permission. The API maps it to a uniform 403 with no detail about
	// which permission was missing.
	ErrPermissionDenied = errors.New("not authorized")
	// ErrStaleVersion indicates an optimistic concurrency conflict.
	ErrStaleVersion = errors.New("stale version")
	// ErrLimitExceeded indicates a company provisioning limit was hit.
	ErrLimitExceeded = errors.New("company limit exceeded")
	// ErrValidation indicates a request that passed decoding but failed a
	// business rule.
	ErrValidation = errors.New("validation failed")

	// Token errors. All three map to the same 401 at the API edge so a
	// caller cannot probe token state.
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenRevoked = errors.New("token revoked")
)
