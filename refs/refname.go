package refs

import (
	"fmt"
	"strings"

	"github.com/opencore-vcs/gitcore/errs"
)

// ValidateName checks name against the character-class rules
// `git check-ref-format` enforces: no ASCII control characters, no ".."
// anywhere in the path, no component ending in ".lock", and no leading
// or trailing slash.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: ref name is empty", errs.ErrInvalidInput)
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return fmt.Errorf("%w: ref name %q has a leading or trailing slash", errs.ErrInvalidInput, name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: ref name %q contains \"..\"", errs.ErrInvalidInput, name)
	}
	if strings.Contains(name, "//") {
		return fmt.Errorf("%w: ref name %q contains an empty path component", errs.ErrInvalidInput, name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: ref name %q contains a control character", errs.ErrInvalidInput, name)
		}
	}
	for _, bad := range []string{" ", "~", "^", ":", "?", "*", "[", "\\"} {
		if strings.Contains(name, bad) {
			return fmt.Errorf("%w: ref name %q contains an illegal character %q", errs.ErrInvalidInput, name, bad)
		}
	}
	for _, component := range strings.Split(name, "/") {
		if component == "" {
			return fmt.Errorf("%w: ref name %q contains an empty path component", errs.ErrInvalidInput, name)
		}
		if strings.HasSuffix(component, ".lock") {
			return fmt.Errorf("%w: ref name %q has a component ending in \".lock\"", errs.ErrInvalidInput, name)
		}
		if strings.HasPrefix(component, ".") || strings.HasSuffix(component, ".") {
			return fmt.Errorf("%w: ref name %q has a component starting or ending with \".\"", errs.ErrInvalidInput, name)
		}
	}
	return nil
}
