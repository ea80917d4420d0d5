package lockfile

import (
	"io"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockCommitPublishesContent(t *testing.T) {
	fs := memfs.New()
	l, err := Acquire(fs, "refs/heads/main")
	require.NoError(t, err)
	require.NoError(t, l.Write([]byte("abc123\n")))
	require.NoError(t, l.Commit())

	f, err := fs.Open("refs/heads/main")
	require.NoError(t, err)
	defer f.Close()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "abc123\n", string(got))

	_, err = fs.Stat("refs/heads/main.lock")
	assert.Error(t, err)
}

func TestAcquireFailsWhileHeld(t *testing.T) {
	fs := memfs.New()
	l, err := Acquire(fs, "refs/heads/main")
	require.NoError(t, err)

	_, err = Acquire(fs, "refs/heads/main")
	assert.Error(t, err)

	require.NoError(t, l.Rollback())

	l2, err := Acquire(fs, "refs/heads/main")
	require.NoError(t, err)
	require.NoError(t, l2.Rollback())
}

func TestRollbackLeavesNoLockFile(t *testing.T) {
	fs := memfs.New()
	l, err := Acquire(fs, "refs/heads/topic")
	require.NoError(t, err)
	require.NoError(t, l.Rollback())

	_, err = fs.Stat("refs/heads/topic.lock")
	assert.Error(t, err)
	_, err = fs.Stat("refs/heads/topic")
	assert.Error(t, err)
}
