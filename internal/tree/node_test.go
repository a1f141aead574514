package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAt(t *testing.T) {
	v := Object{
		"users": Object{
			"alice": Object{"score": Int(5)},
		},
	}

	assert.Equal(t, Int(5), GetAt(v, MustParsePath("/users/alice/score")))
	assert.True(t, Equal(Object{"score": Int(5)}, GetAt(v, MustParsePath("/users/alice"))))
	assert.True(t, IsNull(GetAt(v, MustParsePath("/users/bob"))), "missing child is Null")
	assert.True(t, IsNull(GetAt(v, MustParsePath("/users/alice/score/deeper"))), "descending through a leaf is Null")
	assert.True(t, Equal(v, GetAt(v, RootPath)))
}

func TestSetAt_CreatesIntermediates(t *testing.T) {
	v := SetAt(Null{}, MustParsePath("/users/alice/score"), Int(5))
	assert.Equal(t, Int(5), GetAt(v, MustParsePath("/users/alice/score")))
}

func TestSetAt_DoesNotMutateOriginal(t *testing.T) {
	orig := Object{"a": Object{"b": Int(1)}, "c": Int(3)}
	updated := SetAt(orig, MustParsePath("/a/b"), Int(2))

	assert.Equal(t, Int(1), GetAt(orig, MustParsePath("/a/b")), "original untouched")
	assert.Equal(t, Int(2), GetAt(updated, MustParsePath("/a/b")))
	assert.Equal(t, Int(3), GetAt(updated, MustParsePath("/c")), "siblings preserved")
}

func TestSetAt_ReplacesLeafWithObject(t *testing.T) {
	orig := Object{"a": Int(1)}
	updated := SetAt(orig, MustParsePath("/a/b"), Int(2))
	assert.Equal(t, Int(2), GetAt(updated, MustParsePath("/a/b")))
}

func TestSetAt_NullPrunes(t *testing.T) {
	orig := Object{"a": Object{"b": Int(1)}}

	updated := SetAt(orig, MustParsePath("/a/b"), Null{})
	assert.True(t, IsNull(updated), "pruning the only leaf collapses the tree")

	orig = Object{"a": Object{"b": Int(1), "c": Int(2)}}
	updated = SetAt(orig, MustParsePath("/a/b"), Null{})
	require.False(t, IsNull(updated))
	assert.True(t, IsNull(GetAt(updated, MustParsePath("/a/b"))))
	assert.Equal(t, Int(2), GetAt(updated, MustParsePath("/a/c")))
}

func TestSetAt_RootReplacesEverything(t *testing.T) {
	orig := Object{"a": Int(1)}
	updated := SetAt(orig, RootPath, String("flat"))
	assert.Equal(t, String("flat"), updated)
}
