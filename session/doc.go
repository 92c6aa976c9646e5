// Package session provides Redis-backed session persistence for the
// authentication hot path.
//
// # Lifecycle
//
// A session is Active from issuance until it either expires (a pure
// function of time, no store write involved) or is revoked (an explicit,
// idempotent flip of the Active flag). Revocation keeps the record in
// Redis for the rest of its TTL so validation can tell a revoked session
// apart from one that never existed.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session]
// model. It does NOT interpret JWT tokens or decide authentication
// outcomes; those responsibilities belong to the Engine.
package session
