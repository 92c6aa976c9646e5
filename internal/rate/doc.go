// Package rate provides internal primitives used to build Redis-backed rate limit keys,
// errors, and limiter behavior for biometric matching workflows.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - rm:  — match attempts per-user
//   - rmi: — match attempts per-IP
//   - rr:  — gallery searches per-IP
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (thresholds and budgets come from engine config).
//   - Be imported outside the trueface module.
package rate
