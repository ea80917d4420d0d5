package refs

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencore-vcs/gitcore/errs"
	"github.com/opencore-vcs/gitcore/object"
)

func someID(t *testing.T, s string) object.ID {
	t.Helper()
	return object.Identity(object.CommitType, []byte(s))
}

func newTestStore() *FileRefStore {
	s := NewFileRefStore(memfs.New())
	s.Actor = object.Signature{Name: "Test", Email: "test@example.com", When: 1700000000, TZ: "+0000"}
	return s
}

func TestSetAndGetDirectRef(t *testing.T) {
	s := newTestStore()
	id := someID(t, "commit-1")

	require.NoError(t, s.Set("refs/heads/main", id))

	ref, ok, err := s.Get("refs/heads/main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Direct, ref.Kind)
	assert.Equal(t, id, ref.ID)
}

func TestSymbolicRefResolve(t *testing.T) {
	s := newTestStore()
	id := someID(t, "commit-2")
	require.NoError(t, s.Set("refs/heads/main", id))
	require.NoError(t, s.SetSymbolic("HEAD", "refs/heads/main"))

	resolved, err := s.Resolve("HEAD")
	require.NoError(t, err)
	assert.Equal(t, id, resolved)

	head, ok, err := s.Get("HEAD")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Symbolic, head.Kind)
	assert.Equal(t, "refs/heads/main", head.Target)
}

func TestResolveDetectsCycle(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.SetSymbolic("refs/heads/a", "refs/heads/b"))
	require.NoError(t, s.SetSymbolic("refs/heads/b", "refs/heads/a"))

	_, err := s.Resolve("refs/heads/a")
	require.Error(t, err)
}

func TestDeleteRemovesLooseRef(t *testing.T) {
	s := newTestStore()
	id := someID(t, "commit-3")
	require.NoError(t, s.Set("refs/heads/topic", id))
	require.NoError(t, s.Delete("refs/heads/topic"))

	ok, err := s.Has("refs/heads/topic")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetWritesReflog(t *testing.T) {
	s := newTestStore()
	id1 := someID(t, "commit-4")
	id2 := someID(t, "commit-5")
	require.NoError(t, s.Set("refs/heads/main", id1))
	require.NoError(t, s.Set("refs/heads/main", id2))

	f, err := s.fs.Open("logs/refs/heads/main")
	require.NoError(t, err)
	defer f.Close()
}

func TestListReturnsAllMatchingRefs(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Set("refs/heads/main", someID(t, "c1")))
	require.NoError(t, s.Set("refs/heads/topic", someID(t, "c2")))
	require.NoError(t, s.Set("refs/tags/v1", someID(t, "c3")))

	heads, err := s.List("refs/heads/")
	require.NoError(t, err)
	require.Len(t, heads, 2)
	assert.Equal(t, "refs/heads/main", heads[0].Name)
	assert.Equal(t, "refs/heads/topic", heads[1].Name)
}

func TestPackedRefsFallbackAndInvalidation(t *testing.T) {
	s := newTestStore()
	id := someID(t, "packed-commit")

	require.NoError(t, s.writePackedRefsAtomic([]packedRef{{name: "refs/heads/old", id: id}}))

	ref, ok, err := s.Get("refs/heads/old")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, ref.ID)

	newID := someID(t, "new-commit")
	require.NoError(t, s.Set("refs/heads/old", newID))

	packed, err := s.readPackedRefs()
	require.NoError(t, err)
	for _, pr := range packed {
		assert.NotEqual(t, "refs/heads/old", pr.name)
	}

	ref, ok, err = s.Get("refs/heads/old")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newID, ref.ID)
}

func TestValidateNameRejectsIllegalNames(t *testing.T) {
	cases := []string{"", "/refs/heads/main", "refs/heads/main/", "refs/../heads", "refs/heads/foo.lock", "refs heads"}
	for _, name := range cases {
		err := ValidateName(name)
		assert.ErrorIs(t, err, errs.ErrInvalidInput, "name=%q", name)
	}
}

func TestValidateNameAcceptsNormalNames(t *testing.T) {
	for _, name := range []string{"HEAD", "refs/heads/main", "refs/tags/v1.2.3", "refs/heads/feature/x"} {
		assert.NoError(t, ValidateName(name), "name=%q", name)
	}
}
