// Package rowan is a client-side optimistic transaction engine for a
// synchronized tree of JSON-like values.
//
// A Database wraps a server bridge (by default an in-process server)
// and exposes Refs: handles on tree paths supporting raw writes, local
// reads, and atomic read-modify-write transactions. Transactions are
// speculative: the update function runs against the locally visible
// value, the result is submitted as a conditional write, and a server
// rejection seeds a retry from the authoritative value. Retries are
// unbounded; the caller observes exactly one terminal outcome.
//
//	db, _ := rowan.Open()
//	defer db.Close()
//
//	counter := db.Ref("/counter")
//	res, err := counter.Transaction(ctx, func(current any) (any, bool) {
//		n, _ := current.(int64)
//		return n + 1, true
//	})
package rowan
