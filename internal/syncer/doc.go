// Package syncer defines the bridge between the transaction engine and
// the surrounding sync engine: snapshot reads, change subscriptions,
// and conditional writes keyed on version tokens.
//
// The engine consumes the Bridge interface and nothing else. MemServer
// is the in-process reference implementation used by the harness, the
// CLI, and tests; a production transport implements the same interface
// against a network protocol, which is out of scope here.
package syncer
