package tree

import (
	"fmt"
	"strings"
)

// Path identifies a node in the synchronized tree as an ordered
// sequence of string segments. The zero value is the root path.
//
// Paths are immutable: Child and RelativeTo return new Paths and never
// alias the receiver's backing array in a way that permits mutation.
type Path struct {
	segments []string
}

// RootPath is the path of the tree root.
var RootPath = Path{}

// ParsePath parses a "/"-separated path string. Leading and trailing
// slashes are ignored; empty segments are rejected ("a//b" is invalid).
// "/" and "" both denote the root.
func ParsePath(s string) (Path, error) {
	trimmed := strings.Trim(s, "/")
	if trimmed == "" {
		return RootPath, nil
	}

	segments := strings.Split(trimmed, "/")
	for i, seg := range segments {
		if seg == "" {
			return Path{}, fmt.Errorf("path %q: empty segment at position %d", s, i)
		}
	}
	return Path{segments: segments}, nil
}

// MustParsePath is like ParsePath but panics on error.
// Use only in tests or for compile-time-constant paths.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// NewPath builds a path from segments. Empty segments are not checked;
// callers constructing paths programmatically own that invariant.
func NewPath(segments ...string) Path {
	if len(segments) == 0 {
		return RootPath
	}
	copied := make([]string, len(segments))
	copy(copied, segments)
	return Path{segments: copied}
}

// String renders the path as "/a/b/c". The root renders as "/".
func (p Path) String() string {
	if len(p.segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(p.segments, "/")
}

// Segments returns a copy of the path's segments.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// Len returns the number of segments. The root has length 0.
func (p Path) Len() int {
	return len(p.segments)
}

// IsRoot reports whether p is the root path.
func (p Path) IsRoot() bool {
	return len(p.segments) == 0
}

// Equal reports whether two paths have identical segments.
func (p Path) Equal(other Path) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i, seg := range p.segments {
		if other.segments[i] != seg {
			return false
		}
	}
	return true
}

// Contains reports whether p is other or an ancestor of other.
// The root contains every path.
func (p Path) Contains(other Path) bool {
	if len(p.segments) > len(other.segments) {
		return false
	}
	for i, seg := range p.segments {
		if other.segments[i] != seg {
			return false
		}
	}
	return true
}

// Overlaps reports whether one of the two paths contains the other.
// Overlapping paths share a subtree, so a write to one is visible
// under the other.
func (p Path) Overlaps(other Path) bool {
	return p.Contains(other) || other.Contains(p)
}

// RelativeTo returns the suffix of p below ancestor.
// Returns false if ancestor does not contain p.
func (p Path) RelativeTo(ancestor Path) (Path, bool) {
	if !ancestor.Contains(p) {
		return Path{}, false
	}
	return NewPath(p.segments[len(ancestor.segments):]...), true
}

// Child returns the path extended by one segment.
func (p Path) Child(segment string) Path {
	segments := make([]string, 0, len(p.segments)+1)
	segments = append(segments, p.segments...)
	segments = append(segments, segment)
	return Path{segments: segments}
}

// Parent returns the path with the last segment removed.
// The parent of the root is the root.
func (p Path) Parent() Path {
	if len(p.segments) == 0 {
		return RootPath
	}
	return NewPath(p.segments[:len(p.segments)-1]...)
}

// IsReserved reports whether any segment is a reserved meta-key
// (a segment beginning with "."). Reserved paths carry client metadata
// such as connection state and are not writable by transactions.
func (p Path) IsReserved() bool {
	for _, seg := range p.segments {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
