package gc

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencore-vcs/gitcore/object"
	"github.com/opencore-vcs/gitcore/objectstore"
	"github.com/opencore-vcs/gitcore/refs"
	"github.com/opencore-vcs/gitcore/storage"
)

func newTestHarness(t *testing.T) (*objectstore.ObjectStore, *refs.FileRefStore) {
	t.Helper()
	fs := memfs.New()
	raw := storage.NewShardedStorage(fs)
	store := objectstore.New(raw, fs, 0)
	objects := objectstore.NewObjectStore(store)
	refStore := refs.NewFileRefStore(fs)
	return objects, refStore
}

func mustBlob(t *testing.T, objects *objectstore.ObjectStore, content string) object.ID {
	t.Helper()
	id, err := objects.Blobs.Store(bytes.NewReader([]byte(content)))
	require.NoError(t, err)
	return id
}

func mustTree(t *testing.T, objects *objectstore.ObjectStore, entries ...object.TreeEntry) object.ID {
	t.Helper()
	id, err := objects.Trees.Store(&object.Tree{Entries: entries})
	require.NoError(t, err)
	return id
}

func mustCommit(t *testing.T, objects *objectstore.ObjectStore, tree object.ID, parents ...object.ID) object.ID {
	t.Helper()
	sig := object.Signature{Name: "Test", Email: "t@example.com", When: 1700000000, TZ: "+0000"}
	id, err := objects.Commits.Store(&object.Commit{
		TreeID:    tree,
		ParentIDs: parents,
		Author:    sig,
		Committer: sig,
		Message:   "msg",
	})
	require.NoError(t, err)
	return id
}

func TestCollectReachableObjectsWalksCommitTreeBlob(t *testing.T) {
	objects, refStore := newTestHarness(t)

	blobID := mustBlob(t, objects, "hello")
	treeID := mustTree(t, objects, object.TreeEntry{Mode: object.Regular, Name: "a.txt", ID: blobID})
	commitID := mustCommit(t, objects, treeID)

	require.NoError(t, refStore.Set("refs/heads/main", commitID))

	g := New(objects, refStore, nil, Options{}, nil)
	reachable, err := g.CollectReachableObjects(context.Background(), []object.ID{commitID}, nil)
	require.NoError(t, err)

	assert.True(t, reachable.Contains(commitID))
	assert.True(t, reachable.Contains(treeID))
	assert.True(t, reachable.Contains(blobID))
}

func TestCollectReachableObjectsExcludesAncestors(t *testing.T) {
	objects, _ := newTestHarness(t)

	blobID := mustBlob(t, objects, "v1")
	treeID := mustTree(t, objects, object.TreeEntry{Mode: object.Regular, Name: "a.txt", ID: blobID})
	base := mustCommit(t, objects, treeID)

	blob2 := mustBlob(t, objects, "v2")
	tree2 := mustTree(t, objects, object.TreeEntry{Mode: object.Regular, Name: "a.txt", ID: blob2})
	head := mustCommit(t, objects, tree2, base)

	g := New(objects, refs.NewFileRefStore(memfs.New()), nil, Options{}, nil)
	reachable, err := g.CollectReachableObjects(context.Background(), []object.ID{head}, []object.ID{base})
	require.NoError(t, err)

	assert.True(t, reachable.Contains(head))
	assert.True(t, reachable.Contains(tree2))
	assert.True(t, reachable.Contains(blob2))
	assert.False(t, reachable.Contains(base))
	assert.False(t, reachable.Contains(treeID))
	assert.False(t, reachable.Contains(blobID))
}

func TestCollectGarbageRemovesUnreachableAndKeepsReachable(t *testing.T) {
	objects, refStore := newTestHarness(t)

	keptBlob := mustBlob(t, objects, "kept")
	keptTree := mustTree(t, objects, object.TreeEntry{Mode: object.Regular, Name: "a.txt", ID: keptBlob})
	keptCommit := mustCommit(t, objects, keptTree)
	require.NoError(t, refStore.Set("refs/heads/main", keptCommit))

	danglingBlob := mustBlob(t, objects, "dangling")

	g := New(objects, refStore, nil, Options{}, nil)
	report, err := g.RunGC(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Removed)

	has, err := objects.Has(danglingBlob)
	require.NoError(t, err)
	assert.False(t, has)

	has, err = objects.Has(keptBlob)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestCollectGarbageDryRunRemovesNothing(t *testing.T) {
	objects, refStore := newTestHarness(t)
	danglingBlob := mustBlob(t, objects, "dangling")
	_ = danglingBlob

	g := New(objects, refStore, nil, Options{DryRun: true}, nil)
	report, err := g.RunGC(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)

	has, err := objects.Has(danglingBlob)
	require.NoError(t, err)
	assert.True(t, has, "dry run must not actually remove objects")
}

func TestShouldRunGCRespectsMinInterval(t *testing.T) {
	objects, refStore := newTestHarness(t)
	for i := 0; i < 10; i++ {
		mustBlob(t, objects, string(rune('a'+i)))
	}

	g := New(objects, refStore, nil, Options{LooseObjectThreshold: 1}, nil)
	should, err := g.ShouldRunGC()
	require.NoError(t, err)
	assert.True(t, should)

	_, err = g.RunGC(context.Background(), nil)
	require.NoError(t, err)

	should, err = g.ShouldRunGC()
	require.NoError(t, err)
	assert.False(t, should, "a just-completed run should not immediately re-trigger")
}

func TestCollectReachableObjectsTreatsGitlinkAsLeaf(t *testing.T) {
	objects, refStore := newTestHarness(t)

	foreignCommit := object.Identity(object.CommitType, []byte("not actually stored"))
	treeID := mustTree(t, objects, object.TreeEntry{Mode: object.Submodule, Name: "lib", ID: foreignCommit})
	commitID := mustCommit(t, objects, treeID)
	require.NoError(t, refStore.Set("refs/heads/main", commitID))

	g := New(objects, refStore, nil, Options{}, nil)
	reachable, err := g.CollectReachableObjects(context.Background(), []object.ID{commitID}, nil)
	require.NoError(t, err)

	assert.True(t, reachable.Contains(foreignCommit))
}
