// Package middleware exposes HTTP middleware adapters built on top of
// healauth.Engine token validation.
//
// # Guards
//
//   - [Guard] — reads the Authorization bearer token, calls
//     Engine.Authenticate, and injects the principal into the request
//     context.
//   - [RequireRole] — layered after Guard, rejects principals outside an
//     allowed role set with 403.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself — all decisions are delegated to
// Engine.Authenticate.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Make authorization decisions beyond pass/reject on role membership.
package middleware
