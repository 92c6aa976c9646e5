// Package vector implements the in-memory similarity index over enrolled
// face embeddings.
//
// The index keeps every embedding in a flat, append-only slice of entries
// addressed by stable integer slots. Two search backends operate over the
// same entries:
//
//   - Exact: a full linear scan under a read lock. Always correct, always
//     available, and the tie-break order is deterministic.
//   - Approximate: an HNSW graph holding slot numbers (never pointers).
//     Used as a performance optimization only; any staleness, capacity, or
//     availability problem falls back to Exact transparently.
//
// Entries are tombstoned rather than removed because the graph backend has
// no deletion. Tombstoned entries are invisible to both backends.
//
// Similarity is the plain dot product of two unit-normalized vectors
// (cosine similarity, range [-1, 1]). Callers must normalize vectors before
// insertion; Normalize is provided for that.
package vector
