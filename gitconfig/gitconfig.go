// Package gitconfig reads and writes the recognized subset of a git
// config file this core acts on directly — the [core] section's
// repositoryformatversion, filemode and bare keys — while preserving
// every other section, and every unrecognized key inside [core]
// itself, byte-for-byte.
package gitconfig

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-git/gcfg"

	"github.com/opencore-vcs/gitcore/errs"
)

// CoreSection holds the [core] keys this core understands.
type CoreSection struct {
	RepositoryFormatVersion int
	FileMode                bool
	Bare                    bool
}

// DefaultCoreSection mirrors `git init`'s own defaults.
var DefaultCoreSection = CoreSection{RepositoryFormatVersion: 0, FileMode: true, Bare: false}

type rawConfig struct {
	Core CoreSection
}

// Config is a recognized-key-only view over one git config file.
type Config struct {
	Core CoreSection

	originalCore CoreSection
	raw          []byte
}

// Load parses a git config file. An empty reader yields
// DefaultCoreSection with no error, matching a freshly initialized
// repository that has no config file yet.
func Load(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}

	rc := rawConfig{Core: DefaultCoreSection}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := gcfg.FatalOnly(gcfg.ReadInto(&rc, bytes.NewReader(raw))); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrCorruptObject, err)
		}
	}

	return &Config{Core: rc.Core, originalCore: rc.Core, raw: raw}, nil
}

// Encode serializes c back to git config text. When Core hasn't
// changed since Load, the original bytes are returned verbatim; when
// it has, only the recognized keys inside [core] are added or rewritten
// in place — every other line, including unrecognized [core] keys and
// every other section, survives untouched.
func (c *Config) Encode() []byte {
	if c.Core == c.originalCore {
		return append([]byte(nil), c.raw...)
	}
	return rewriteCoreSection(c.raw, c.Core)
}

var sectionHeaderRe = regexp.MustCompile(`^\s*\[([A-Za-z0-9-]+)(?:\s+"([^"]*)")?\]\s*$`)
var keyValueRe = regexp.MustCompile(`^(\s*)([A-Za-z][A-Za-z0-9-]*)\s*=`)

var recognizedKeys = []string{"repositoryformatversion", "filemode", "bare"}

func renderValue(core CoreSection, key string) string {
	switch key {
	case "repositoryformatversion":
		return strconv.Itoa(core.RepositoryFormatVersion)
	case "filemode":
		return strconv.FormatBool(core.FileMode)
	case "bare":
		return strconv.FormatBool(core.Bare)
	default:
		return ""
	}
}

func rewriteCoreSection(raw []byte, core CoreSection) []byte {
	if len(bytes.TrimSpace(raw)) == 0 {
		var buf bytes.Buffer
		buf.WriteString("[core]\n")
		for _, key := range recognizedKeys {
			fmt.Fprintf(&buf, "\t%s = %s\n", key, renderValue(core, key))
		}
		return buf.Bytes()
	}

	lines := strings.Split(string(raw), "\n")

	sectionStart := -1
	sectionEnd := len(lines)
	for i, line := range lines {
		m := sectionHeaderRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if sectionStart == -1 {
			if strings.EqualFold(m[1], "core") && m[2] == "" {
				sectionStart = i
			}
			continue
		}
		sectionEnd = i
		break
	}

	if sectionStart == -1 {
		body := make([]string, 0, len(recognizedKeys)+2)
		body = append(body, "[core]")
		for _, key := range recognizedKeys {
			body = append(body, fmt.Sprintf("\t%s = %s", key, renderValue(core, key)))
		}
		body = append(body, "")
		out := append(body, lines...)
		return []byte(strings.Join(out, "\n"))
	}

	found := make(map[string]bool, len(recognizedKeys))
	body := lines[sectionStart+1 : sectionEnd]
	rewritten := make([]string, 0, len(body))
	for _, line := range body {
		m := keyValueRe.FindStringSubmatch(line)
		if m == nil {
			rewritten = append(rewritten, line)
			continue
		}
		key := strings.ToLower(m[2])
		if !isRecognized(key) {
			rewritten = append(rewritten, line)
			continue
		}
		found[key] = true
		rewritten = append(rewritten, fmt.Sprintf("%s%s = %s", m[1], key, renderValue(core, key)))
	}
	for _, key := range recognizedKeys {
		if !found[key] {
			rewritten = append(rewritten, fmt.Sprintf("\t%s = %s", key, renderValue(core, key)))
		}
	}

	out := make([]string, 0, len(lines)+len(rewritten))
	out = append(out, lines[:sectionStart+1]...)
	out = append(out, rewritten...)
	out = append(out, lines[sectionEnd:]...)
	return []byte(strings.Join(out, "\n"))
}

func isRecognized(key string) bool {
	for _, k := range recognizedKeys {
		if k == key {
			return true
		}
	}
	return false
}
