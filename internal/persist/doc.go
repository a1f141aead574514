// Package persist provides durable client-side storage for a sync
// session: a journal of pending writes that survives process restarts,
// and a cache of last-known server values for offline reads.
//
// Storage is SQLite with WAL mode. Values are serialized as canonical
// JSON (RFC 8785) so a round trip through the store never changes a
// value's version token.
package persist
