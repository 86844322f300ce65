// Package sieveerrors defines the sentinel errors shared across the scoring
// core so that transport-layer code (internal/httpapi) can switch on them
// with errors.Is instead of parsing error strings.
package sieveerrors

import "errors"

// Request and auth errors — map directly to HTTP status codes at the edge.
var (
	// ErrSchemaViolation is returned for a malformed or incomplete InvoiceIn
	// payload (missing field, empty line_items, bad date/currency format).
	ErrSchemaViolation = errors.New("schema violation")

	// ErrUnauthorized is returned when the bearer token fails validation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTenantMismatch is returned when the authenticated tenant does not
	// match the tenant implied by the request.
	ErrTenantMismatch = errors.New("tenant mismatch")

	// ErrInvoiceNotFound is returned when a referenced invoice snapshot does
	// not exist for the tenant.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrDecisionNotFound is returned when no decision row exists yet for an
	// invoice.
	ErrDecisionNotFound = errors.New("decision not found")

	// ErrCaseAlreadyDisposed is returned when attempting to overwrite a
	// case's disposition fields once set.
	ErrCaseAlreadyDisposed = errors.New("case already disposed")
)

// Degradation and storage errors — internal, never surfaced verbatim to
// callers, but classified at the orchestrator boundary.
var (
	// ErrStoreUnavailable wraps a required-store failure (relational store
	// unreachable mid-transaction). Callers should return 5xx and guarantee
	// no partial persistence occurred.
	ErrStoreUnavailable = errors.New("snapshot store unavailable")

	// ErrIndexDegraded marks a best-effort text-index write or query that
	// was skipped due to the index being unavailable. Never fatal.
	ErrIndexDegraded = errors.New("text index degraded")

	// ErrModelUnavailable marks a duplicate-scorer model load failure; the
	// heuristic fallback is used instead and the decision records model_id
	// "heuristic" with the heuristic's own version.
	ErrModelUnavailable = errors.New("duplicate model unavailable")
)
