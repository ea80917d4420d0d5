package object

import (
	"strconv"

	"github.com/opencore-vcs/gitcore/errs"
)

// FileMode is the integer mode stored against a tree entry. Git encodes
// these as ASCII octal digits with no leading zeros in the tree's binary
// form; FileMode keeps the decoded integer value.
type FileMode uint32

// The file modes git actually writes into tree entries.
const (
	Empty      FileMode = 0
	Dir        FileMode = 0o40000
	Regular    FileMode = 0o100644
	Deprecated FileMode = 0o100664
	Executable FileMode = 0o100755
	Symlink    FileMode = 0o120000
	Submodule  FileMode = 0o160000
)

// IsDir reports whether m addresses a subtree.
func (m FileMode) IsDir() bool { return m == Dir }

// String renders m the way git writes it into a tree entry: octal, no
// leading zeros, "0" for the zero mode.
func (m FileMode) String() string {
	return strconv.FormatUint(uint64(m), 8)
}

// ParseFileMode parses the octal textual form git uses for tree entry
// modes. Unlike os.FileMode parsing, this never rejects unusual-but-valid
// octal values (e.g. "0") — it mirrors git's own permissiveness here,
// since trees produced by other tools are sometimes found with odd modes.
func ParseFileMode(s string) (FileMode, error) {
	if s == "" {
		return 0, errs.ErrInvalidInput
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, errs.ErrInvalidInput
	}
	return FileMode(v), nil
}
