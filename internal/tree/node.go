package tree

// GetAt returns the subtree of v at path. Descending through a leaf or
// a missing child yields Null: every path has a value, absent ones are
// Null.
func GetAt(v Value, path Path) Value {
	current := v
	for _, seg := range path.segments {
		obj, ok := current.(Object)
		if !ok {
			return Null{}
		}
		child, present := obj[seg]
		if !present {
			return Null{}
		}
		current = child
	}
	if IsNull(current) {
		return Null{}
	}
	return current
}

// SetAt returns a copy of v with the subtree at path replaced by sub.
// Intermediate Objects are created as needed; a leaf on the way down is
// replaced by an Object. Setting Null prunes the child and collapses
// Objects emptied by the prune, so "no children" and "null" stay
// indistinguishable, matching GetAt.
//
// v is never mutated - only the spine from the root to path is copied,
// untouched siblings are shared.
func SetAt(v Value, path Path, sub Value) Value {
	return setAt(v, path.segments, sub)
}

func setAt(v Value, segments []string, sub Value) Value {
	if len(segments) == 0 {
		if IsNull(sub) {
			return Null{}
		}
		return sub
	}

	obj, ok := v.(Object)
	if !ok {
		obj = Object{}
	}

	head := segments[0]
	child := obj[head] // missing child is nil, setAt treats it as Null
	newChild := setAt(child, segments[1:], sub)

	copied := make(Object, len(obj)+1)
	for k, elem := range obj {
		copied[k] = elem
	}

	if IsNull(newChild) {
		delete(copied, head)
	} else {
		copied[head] = newChild
	}

	if len(copied) == 0 {
		return Null{}
	}
	return copied
}
