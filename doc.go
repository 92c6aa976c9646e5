// Package trueface provides a biometric matching engine with 1:1 face
// verification, 1:N recognition over an approximate similarity index, and
// Redis-backed session lifecycle with JWT access tokens.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// trueface is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (VerifyResult, MatchCandidate, MetricsSnapshot, SessionInfo,
// etc.). Internal coordination — audit dispatch, rate limiting, metrics
// storage — lives under internal/ and is never exported. The similarity index,
// token codec, session store, and extractor contract live in their own
// subpackages so they can be tested and reused in isolation.
//
// # What this package must NOT do
//
//   - Expose Redis clients, index internals, or encoding details in its
//     public API.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
//   - Rescale similarity scores: thresholds and results always speak raw
//     cosine similarity in [-1, 1].
//
// # Performance contract
//
// ValidateToken is the hot path. It completes without Redis round-trips in
// ModeJWTOnly and with exactly one in ModeStrict. Verify scans only the target
// user's embeddings. Recognize consults the approximate index and falls back
// to the exact scan transparently when the graph is unavailable or stale.
package trueface
