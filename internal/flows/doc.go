// Package flows contains pure-function orchestrators for the challenge-based
// Engine operations: OTP login and password reset.
//
// Each flow function accepts a typed dependency struct and returns results
// without side-effects beyond those dependencies. Store and directory errors
// arrive pre-mapped to the sentinel errors carried in the deps, so flow logic
// stays a direct transcription of the state machines.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to challenge stores, the OTP engine, the
// request limiters, notification dispatch, audit, and metrics. They do NOT
// own any of these resources — ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import healauth (to avoid import cycles).
//   - Perform I/O directly — all I/O is mediated through dependency closures.
package flows
