// Package tree defines the value model for the synchronized tree.
//
// Values are a sealed set of JSON-shaped types (Null, Bool, Int, Float,
// String, Array, Object). Objects double as interior tree nodes: GetAt
// and SetAt treat nested Objects as subtrees addressed by Path.
//
// Canonical serialization (RFC 8785 key ordering, NFC normalization, no
// HTML escaping) is the only encoding used for version-token hashing
// and for persistence. Non-canonical MarshalValue exists for display.
package tree
