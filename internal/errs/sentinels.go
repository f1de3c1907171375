// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., concurrent set creation).
	ErrAlreadyExists = errors.New("already exists")

	// ErrWatermarkConflict indicates an attempt to move a source watermark backwards
	// (or to update a source that no longer exists).
	ErrWatermarkConflict = errors.New("watermark conflict")

	// ErrNoRecordsMatch is reported by the remote listing when a window holds no records.
	ErrNoRecordsMatch = errors.New("no records match")

	// ErrBadResumptionToken is reported by the remote listing for an expired or unknown token.
	ErrBadResumptionToken = errors.New("bad resumption token")

	// ErrFingerprintUnavailable indicates title, authors or year could not be determined.
	ErrFingerprintUnavailable = errors.New("fingerprint unavailable")

	// ErrMalformedRecord indicates a harvested record cannot be ingested (missing identifier, bad document).
	ErrMalformedRecord = errors.New("malformed record")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTransient marks remote failures worth retrying (timeouts, 5xx, unparseable pages).
	ErrTransient = errors.New("transient remote error")

	// ErrRateLimited indicates the source is temporarily blocked after repeated failures.
	ErrRateLimited = errors.New("rate limited")
)
