// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package memory

import "errors"

// Error taxonomy. Components attach these with %w so callers classify via
// errors.Is without inspecting strings.
var (
	// ErrValidation marks bad input. Fails fast, never retried.
	ErrValidation = errors.New("validation error")

	// ErrStorage marks an embedded-store failure. Surfaced to the caller.
	ErrStorage = errors.New("storage error")

	// ErrExtraction marks an LLM/content-extraction failure. Retried with
	// backoff, then degraded to the deterministic fallback.
	ErrExtraction = errors.New("extraction error")

	// ErrProvider marks a transport/timeout failure. Treated like
	// ErrExtraction.
	ErrProvider = errors.New("provider error")
)
