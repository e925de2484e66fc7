// Package healauth provides the authentication and session-token engine for a
// multi-role healthcare marketplace: OTP-based passwordless login, OTP-gated
// password reset, JWT access/refresh token issuance with rotation, and a
// Redis-backed token revocation list.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// healauth is the public surface. It exposes [Engine], [Builder], [Config],
// the [Directory] and [Notifier] collaborator interfaces, and value types
// (TokenPair, Principal, MetricsSnapshot, etc.). All internal coordination —
// flow orchestration, challenge and revocation storage, rate limiting, audit
// dispatch — lives under internal/ and is never exported.
//
// # What this package must NOT do
//
//   - Own user-record persistence. Account lookup and password storage belong
//     to the [Directory] adapters supplied by the embedding application.
//   - Deliver SMS or email. Dispatch goes through the injected [Notifier] and
//     is best-effort relative to the stored challenge.
//   - Expose Redis clients, internal stores, or record encodings in its
//     public API.
package healauth
