package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/rowan/internal/tree"
)

// MemServer is an in-process authoritative tree implementing Bridge.
//
// It holds one tree, computes version tokens from canonical value
// hashes, and applies conditional writes with compare-and-set
// semantics. Deny rules simulate server-side permission failures;
// the before-write hook lets tests hold a write in flight while other
// state changes land.
//
// Thread-safety: all methods are safe for concurrent use. Subscriber
// callbacks run synchronously under no lock, in subscription order.
type MemServer struct {
	mu     sync.Mutex
	root   tree.Value
	denied []tree.Path
	subs   map[int]*subscription
	nextID int

	// beforeWrite runs outside the lock before a conditional write is
	// evaluated. Test seam for racing writes against in-flight ones.
	beforeWrite func(tree.Path)

	logger *slog.Logger
}

type subscription struct {
	path tree.Path
	fn   func(tree.Value, tree.VersionToken)
}

// NewMemServer creates a server with an empty tree.
func NewMemServer() *MemServer {
	return &MemServer{
		root:   tree.Null{},
		subs:   make(map[int]*subscription),
		logger: slog.Default(),
	}
}

// NewMemServerWithValue creates a server seeded with an initial tree.
func NewMemServerWithValue(root tree.Value) *MemServer {
	s := NewMemServer()
	if !tree.IsNull(root) {
		s.root = root
	}
	return s
}

// SetBeforeWrite installs a hook invoked before each conditional write
// is evaluated. Pass nil to remove.
func (s *MemServer) SetBeforeWrite(fn func(tree.Path)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeWrite = fn
}

// Deny installs a rule rejecting all writes at or below path.
func (s *MemServer) Deny(path tree.Path) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied = append(s.denied, path)
}

// Read implements Bridge.
func (s *MemServer) Read(_ context.Context, path tree.Path) (tree.Value, tree.VersionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value := tree.GetAt(s.root, path)
	token, err := tree.HashValue(value)
	if err != nil {
		return nil, tree.TokenNone, fmt.Errorf("read %s: %w", path, err)
	}
	return value, token, nil
}

// Subscribe implements Bridge.
func (s *MemServer) Subscribe(path tree.Path, fn func(tree.Value, tree.VersionToken)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = &subscription{path: path, fn: fn}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// SubmitConditionalWrite implements Bridge. The precondition is
// compared against the hash of the current value at path; mismatch
// returns a non-error rejection carrying the authoritative state.
func (s *MemServer) SubmitConditionalWrite(ctx context.Context, path tree.Path, value tree.Value, precondition tree.VersionToken) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}

	s.mu.Lock()
	hook := s.beforeWrite
	s.mu.Unlock()
	if hook != nil {
		hook(path)
	}

	s.mu.Lock()

	if s.isDeniedLocked(path) {
		s.mu.Unlock()
		return Verdict{}, fmt.Errorf("write %s: %w", path, ErrPermissionDenied)
	}

	current := tree.GetAt(s.root, path)
	currentToken, err := tree.HashValue(current)
	if err != nil {
		s.mu.Unlock()
		return Verdict{}, fmt.Errorf("write %s: %w", path, err)
	}

	if currentToken != precondition {
		s.mu.Unlock()
		s.logger.Debug("conditional write rejected",
			"path", path.String(),
			"expected", string(precondition),
			"actual", string(currentToken),
		)
		return Verdict{Accepted: false, ServerValue: current, ServerToken: currentToken}, nil
	}

	s.root = tree.SetAt(s.root, path, value)
	newToken, err := tree.HashValue(tree.GetAt(s.root, path))
	if err != nil {
		s.mu.Unlock()
		return Verdict{}, fmt.Errorf("write %s: %w", path, err)
	}
	s.mu.Unlock()

	s.logger.Debug("conditional write accepted", "path", path.String(), "token", string(newToken))
	s.notify(path)

	return Verdict{Accepted: true, ServerValue: value, ServerToken: newToken}, nil
}

// Put applies an unconditional overwrite at path. This is the
// non-transactional write that invalidates overlapping optimistic
// transactions; callers are responsible for routing the overwrite
// notification into the transaction engine.
func (s *MemServer) Put(ctx context.Context, path tree.Path, value tree.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.isDeniedLocked(path) {
		s.mu.Unlock()
		return fmt.Errorf("put %s: %w", path, ErrPermissionDenied)
	}
	s.root = tree.SetAt(s.root, path, value)
	s.mu.Unlock()

	s.notify(path)
	return nil
}

// Value returns the current value at path. Test/inspection helper.
func (s *MemServer) Value(path tree.Path) tree.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tree.GetAt(s.root, path)
}

func (s *MemServer) isDeniedLocked(path tree.Path) bool {
	for _, d := range s.denied {
		if d.Contains(path) {
			return true
		}
	}
	return false
}

// notify delivers the new value at each overlapping subscription's
// path. Called outside the lock so callbacks may re-enter the server.
func (s *MemServer) notify(changed tree.Path) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	// Deterministic delivery order
	slices.Sort(ids)
	targets := make([]*subscription, 0, len(ids))
	for _, id := range ids {
		sub := s.subs[id]
		if sub.path.Overlaps(changed) {
			targets = append(targets, sub)
		}
	}
	root := s.root
	s.mu.Unlock()

	for _, sub := range targets {
		value := tree.GetAt(root, sub.path)
		token, err := tree.HashValue(value)
		if err != nil {
			s.logger.Error("subscription notify failed", "path", sub.path.String(), "error", err)
			continue
		}
		sub.fn(value, token)
	}
}
