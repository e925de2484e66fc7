// Package stores provides Redis-backed, short-lived record stores for the
// security-sensitive authentication flows: login-OTP challenges,
// password-reset challenges, and the token revocation list.
//
// # Design
//
// Each store persists a versioned, binary-encoded record in Redis with a TTL,
// so expiry housekeeping is storage-native and no background sweeper exists.
// Challenge writes are wholesale SET operations keyed by the natural
// (role, identity) pair, which makes a re-request an atomic replacement that
// resets the attempt counter. Attempt increments (RecordFailure) use
// WATCH/MULTI optimistic transactions with automatic retry on contention so
// concurrent wrong-code submissions cannot race past the attempt limit.
// Expired records that have not yet been pruned are still treated as expired
// when read.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// records. It does NOT generate or hash codes, enforce rate limits, or make
// authentication decisions — those responsibilities belong to the flow
// functions in internal/flows.
//
// # What this package must NOT do
//
//   - Import healauth or any sibling internal package.
//   - Log or expose plaintext codes or reset tokens.
//   - Use non-constant-time comparisons for secret matching.
package stores
