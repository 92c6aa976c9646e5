// Package middleware exposes HTTP middleware adapters for JWT-only and strict
// token enforcement plus request throttling, built on trueface.Engine validation.
//
// # Guards
//
//   - [Guard] — validates with an explicit mode.
//   - [RequireJWTOnly] — stateless JWT verification, no Redis call.
//   - [RequireStrict] — JWT + session store verification; revocations observed immediately.
//   - [Throttle] — in-process per-IP token bucket for burst protection.
//
// Each guard reads the Authorization header, calls Engine.ValidateTokenMode, and
// injects the validated identity into the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT implement
// authentication logic itself — all decisions are delegated to the Engine.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Make authorization decisions beyond pass/reject from validation.
package middleware
