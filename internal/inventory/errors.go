package inventory

import "errors"

// Error taxonomy of the engine. All errors returned to callers wrap one of
// these sentinels; ErrTimeout and ErrConflictRetry are safe to retry with
// backoff, everything else is terminal for the call.
var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrAlreadyAssigned  = errors.New("license already assigned to device")
	ErrAlreadyRevoked   = errors.New("assignment already revoked")
	ErrCapacityExceeded = errors.New("license capacity exceeded")
	ErrExpiredLicense   = errors.New("license expired")
	ErrValidation       = errors.New("validation failed")
	ErrTimeout          = errors.New("datastore operation timed out")
	ErrConflictRetry    = errors.New("concurrent mutation lost the race, retry")
	ErrConflict         = errors.New("resource conflict")
)
