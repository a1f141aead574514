package syncer

import (
	"context"
	"errors"

	"github.com/roach88/rowan/internal/tree"
)

// ErrPermissionDenied reports a write rejected by server-side rules.
// The transaction engine treats it as a hard error: no retry.
var ErrPermissionDenied = errors.New("permission denied")

// ErrDisconnected reports that the connection to the server is gone.
// The transaction engine treats it as a hard error for the in-flight
// write; surrounding policy decides whether to re-run transactions.
var ErrDisconnected = errors.New("disconnected from server")

// Verdict is the server's answer to a conditional write.
//
// Accepted=true: the write is committed; ServerValue/ServerToken are
// the accepted value and its new version token.
//
// Accepted=false: the precondition no longer matched; ServerValue and
// ServerToken carry the authoritative current state that caused the
// rejection, to seed the next attempt without a re-read.
type Verdict struct {
	Accepted    bool
	ServerValue tree.Value
	ServerToken tree.VersionToken
}

// Bridge is the sync-engine surface the transaction engine consumes.
//
// Hard failures (permission denial, type incompatibility, transport
// loss) are returned as errors from SubmitConditionalWrite; a plain
// precondition mismatch is a non-error Verdict with Accepted=false.
type Bridge interface {
	// Read returns the current server value at path and its version
	// token. Served from local cache when possible; the token is the
	// only valid precondition for a conditional write derived from
	// this value.
	Read(ctx context.Context, path tree.Path) (tree.Value, tree.VersionToken, error)

	// Subscribe registers fn to be called after any server-side change
	// overlapping path, with the new value at path and its token.
	// The returned func cancels the subscription; cancellation is
	// idempotent.
	Subscribe(path tree.Path, fn func(tree.Value, tree.VersionToken)) (cancel func())

	// SubmitConditionalWrite submits value at path, conditional on the
	// server's current token at path equaling precondition.
	SubmitConditionalWrite(ctx context.Context, path tree.Path, value tree.Value, precondition tree.VersionToken) (Verdict, error)
}
