// Package txn implements the optimistic transaction engine: per-path
// transaction queues, the retry state machine, and exactly-once result
// delivery.
//
// A transaction entry moves RUN -> SENT -> COMPLETED. On a precondition
// conflict the server's rejection seeds a fresh attempt (SENT -> RUN)
// with the authoritative value it carried; retries are unbounded until
// commit, explicit abort, or a hard error. At most one entry per path
// is ever SENT - queued entries behind it stay RUN until the verdict
// lands. An external overwrite on an overlapping path aborts every
// queued entry deterministically, without waiting for the round trip
// (SENT entries park in SENT_NEEDS_ABORT so the late verdict is
// discarded instead of retried).
//
// All queue and registry mutation is serialized by one mutex per
// Manager (one sync session). Nothing is assumed atomic across a
// network round trip: state is re-validated when a verdict or a
// snapshot read resumes.
package txn
