// Package audit implements async event dispatching for authentication
// and enrollment operations.
//
// # Components
//
//   - [Sink] — interface for event consumers (channel, JSON writer, ring
//     buffer, no-op).
//   - [Dispatcher] — buffered async relay with drop-if-full or
//     block-if-full semantics.
//   - [Event] — structured record with timestamp, type, user, session,
//     IP, and match confidence.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT
// decide which events to emit; that responsibility belongs to the
// Engine.
package audit
