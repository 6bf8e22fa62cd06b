// Package apperrors defines the sentinel error kinds surfaced by the
// ingest and retrieval paths, per the grounding invariant: query-path
// backend errors must never be swallowed into a fabricated answer.
package apperrors

import "errors"

var (
	// ErrValidationRejected marks a document that failed metadata normalization.
	ErrValidationRejected = errors.New("validation rejected")

	// ErrEmptyDocument marks a document whose extracted (and OCR'd) text is empty.
	ErrEmptyDocument = errors.New("empty document")

	// ErrNoChunks marks a document for which the chunker produced zero segments.
	ErrNoChunks = errors.New("no chunks produced")

	// ErrBackendUnavailable marks a fatal retrieval-path failure: the vector
	// or lexical backend could not be reached. Never recovered into a
	// partial answer.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrRefinerInvalid marks a refiner response citing ids absent from its
	// evidence set. Caught internally by the composer; never surfaced to callers.
	ErrRefinerInvalid = errors.New("refiner returned invalid citations")
)
