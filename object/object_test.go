package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobIdentity(t *testing.T) {
	id := Identity(BlobType, []byte("Hello, World!\n"))
	assert.Equal(t, "8ab686eafeb1f44702738c8b0f24f2567c36da6d", id.String())

	id2 := Identity(BlobType, []byte("Hello, World!\n"))
	assert.Equal(t, id, id2)
}

func TestEmptyTreeID(t *testing.T) {
	id := Identity(TreeType, nil)
	assert.Equal(t, EmptyTreeID, id)
}

func TestTreeRoundTrip(t *testing.T) {
	idA := Identity(BlobType, []byte("readme"))
	idB := Identity(BlobType, []byte("#!/bin/sh\n"))

	tree := &Tree{Entries: []TreeEntry{
		{Mode: Executable, Name: "run.sh", ID: idB},
		{Mode: Regular, Name: "README.md", ID: idA},
	}}

	encoded, err := EncodeTree(tree)
	require.NoError(t, err)

	decoded, err := DecodeTree(encoded)
	require.NoError(t, err)

	// decode preserves the stored (sorted-on-encode) order.
	require.Len(t, decoded.Entries, 2)
	assert.Equal(t, "README.md", decoded.Entries[0].Name)
	assert.Equal(t, "run.sh", decoded.Entries[1].Name)

	entry, ok := decoded.Entry("README.md")
	require.True(t, ok)
	assert.Equal(t, idA, entry.ID)

	reEncoded, err := EncodeTree(decoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, reEncoded)
}

func TestTreeDirectorySortsAfterFileWithSamePrefix(t *testing.T) {
	blob := Identity(BlobType, []byte("x"))
	tree := &Tree{Entries: []TreeEntry{
		{Mode: Dir, Name: "foo", ID: blob},
		{Mode: Regular, Name: "foo.txt", ID: blob},
	}}
	sorted := tree.Sorted()
	assert.Equal(t, "foo.txt", sorted[0].Name)
	assert.Equal(t, "foo", sorted[1].Name)
}

func TestCommitRoundTrip(t *testing.T) {
	treeID := Identity(TreeType, nil)
	parentID := Identity(CommitType, []byte("parent"))

	commit := &Commit{
		TreeID:    treeID,
		ParentIDs: []ID{parentID},
		Author:    Signature{Name: "Jane Doe", Email: "jane@example.com", When: 1700000000, TZ: "+0000"},
		Committer: Signature{Name: "Jane Doe", Email: "jane@example.com", When: 1700000000, TZ: "+0000"},
		Message:   "Initial commit\n",
	}

	encoded := EncodeCommit(commit)
	decoded, err := DecodeCommit(encoded)
	require.NoError(t, err)

	assert.Equal(t, commit.TreeID, decoded.TreeID)
	assert.Equal(t, commit.ParentIDs, decoded.ParentIDs)
	assert.Equal(t, commit.Author, decoded.Author)
	assert.Equal(t, commit.Message, decoded.Message)
	assert.Equal(t, encoded, EncodeCommit(decoded))
}

func TestCommitWithGPGSig(t *testing.T) {
	commit := &Commit{
		TreeID:    EmptyTreeID,
		Author:    Signature{Name: "A", Email: "a@b.c", When: 1, TZ: "+0000"},
		Committer: Signature{Name: "A", Email: "a@b.c", When: 1, TZ: "+0000"},
		GPGSig:    "-----BEGIN PGP SIGNATURE-----\n\nabc\n-----END PGP SIGNATURE-----",
		Message:   "msg\n",
	}

	encoded := EncodeCommit(commit)
	decoded, err := DecodeCommit(encoded)
	require.NoError(t, err)
	assert.Equal(t, commit.GPGSig, decoded.GPGSig)
}

func TestTagRoundTrip(t *testing.T) {
	tag := &Tag{
		ObjectID:  Identity(CommitType, []byte("c")),
		Type:      CommitType,
		Name:      "v1.0.0",
		Tagger:    Signature{Name: "Jane", Email: "jane@example.com", When: 100, TZ: "+0200"},
		HasTagger: true,
		Message:   "release\n",
	}

	encoded := EncodeTag(tag)
	decoded, err := DecodeTag(encoded)
	require.NoError(t, err)

	assert.Equal(t, tag.ObjectID, decoded.ObjectID)
	assert.Equal(t, tag.Type, decoded.Type)
	assert.Equal(t, tag.Name, decoded.Name)
	assert.Equal(t, tag.Tagger, decoded.Tagger)
	assert.Equal(t, tag.Message, decoded.Message)
	assert.Equal(t, encoded, EncodeTag(decoded))
}

func TestParseFileMode(t *testing.T) {
	cases := map[string]FileMode{
		"40000":  Dir,
		"100644": Regular,
		"100755": Executable,
		"120000": Symlink,
		"160000": Submodule,
	}
	for in, want := range cases {
		got, err := ParseFileMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
