// Package errs defines the closed set of error kinds shared by every layer
// of gitcore, so callers can use errors.Is regardless of which component
// produced the failure.
package errs

import "errors"

// Sentinel errors, one per kind in the error taxonomy. Each layer wraps
// these with fmt.Errorf("...: %w", ...) to add context; never define a
// new sentinel outside this file.
var (
	// ErrNotFound indicates an absent key/id/ref. Reads surface this as
	// absence (a nil/zero return), not a returned error, unless the
	// caller's contract requires presence.
	ErrNotFound = errors.New("not found")

	// ErrCorruptObject indicates a malformed header, a decompression
	// failure, or a declared/observed size mismatch.
	ErrCorruptObject = errors.New("corrupt object")

	// ErrCorruptPack indicates a pack header/trailer/size mismatch, a
	// missing delta base, or an exceeded delta chain depth.
	ErrCorruptPack = errors.New("corrupt pack")

	// ErrInvalidInput indicates a bad id format, an illegal ref name, or
	// an impossible tree entry.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIntegrityMismatch indicates a declared hash differs from the
	// observed one, or a ref CAS check failed.
	ErrIntegrityMismatch = errors.New("integrity mismatch")

	// ErrConflict indicates a parallel writer holds a lock. Retried a
	// bounded number of times internally before being surfaced.
	ErrConflict = errors.New("conflict")

	// ErrIO indicates an underlying storage failure not covered above.
	ErrIO = errors.New("io error")
)
