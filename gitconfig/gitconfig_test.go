package gitconfig

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyYieldsDefaults(t *testing.T) {
	cfg, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultCoreSection, cfg.Core)
}

func TestLoadParsesRecognizedKeys(t *testing.T) {
	text := "[core]\n\trepositoryformatversion = 0\n\tfilemode = false\n\tbare = true\n"
	cfg, err := Load(strings.NewReader(text))
	require.NoError(t, err)
	assert.Equal(t, CoreSection{RepositoryFormatVersion: 0, FileMode: false, Bare: true}, cfg.Core)
}

func TestEncodeUnchangedReturnsOriginalBytes(t *testing.T) {
	text := "[core]\n\trepositoryformatversion = 0\n\tfilemode = true\n\tbare = false\n# a trailing comment\n"
	cfg, err := Load(strings.NewReader(text))
	require.NoError(t, err)
	assert.Equal(t, text, string(cfg.Encode()))
}

func TestEncodePreservesUnknownSectionsAndKeys(t *testing.T) {
	text := "[core]\n\trepositoryformatversion = 0\n\tfilemode = true\n\tbare = false\n\tignorecase = true\n" +
		"[remote \"origin\"]\n\turl = https://example.com/repo.git\n\tfetch = +refs/heads/*:refs/remotes/origin/*\n"
	cfg, err := Load(strings.NewReader(text))
	require.NoError(t, err)

	cfg.Core.Bare = true
	out := string(cfg.Encode())

	assert.Contains(t, out, "ignorecase = true")
	assert.Contains(t, out, "[remote \"origin\"]")
	assert.Contains(t, out, "url = https://example.com/repo.git")
	assert.Contains(t, out, "bare = true")
	assert.NotContains(t, out, "bare = false")
}

func TestEncodeInsertsCoreSectionWhenAbsent(t *testing.T) {
	text := "[remote \"origin\"]\n\turl = https://example.com/repo.git\n"
	cfg, err := Load(strings.NewReader(text))
	require.NoError(t, err)

	cfg.Core.Bare = true
	out := string(cfg.Encode())

	assert.True(t, strings.Index(out, "[core]") < strings.Index(out, "[remote"))
	assert.Contains(t, out, "bare = true")
	assert.Contains(t, out, "[remote \"origin\"]")
}

func TestEncodeAppendsMissingRecognizedKey(t *testing.T) {
	text := "[core]\n\trepositoryformatversion = 0\n"
	cfg, err := Load(strings.NewReader(text))
	require.NoError(t, err)

	cfg.Core.FileMode = false
	out := string(cfg.Encode())
	assert.Contains(t, out, "filemode = false")
	assert.Contains(t, out, "bare = false")
}
