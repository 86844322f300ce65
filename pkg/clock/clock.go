// Package clock provides a deterministic clock abstraction for the sieve.
//
// GUARDRAIL: core scoring logic MUST NOT call time.Now() directly. Inject a
// Clock instead so decisions, sightings, and SLA deadlines are reproducible
// in tests and byte-identical across runs for fixed inputs.
package clock

import "time"

// Clock provides the current time. Core packages depend on this interface,
// never on time.Now() directly.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual system time. Wire this only at the process
// entrypoint (cmd/sieve-server).
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Use in tests for determinism.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed time.
func (c FixedClock) Now() time.Time { return c.T }
