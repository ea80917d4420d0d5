package refs

import (
	"fmt"
	"os"
	"path"

	billy "github.com/go-git/go-billy/v5"

	"github.com/opencore-vcs/gitcore/errs"
	"github.com/opencore-vcs/gitcore/object"
)

const reflogDir = "logs"

// appendReflog appends one entry to logs/<name>, creating parent
// directories as needed, in the format
// "<old> <new> <name> <email> <epoch> <tz>\t<reason>\n".
func appendReflog(fs billy.Filesystem, name string, oldID, newID object.ID, who object.Signature, reason string) error {
	logPath := path.Join(reflogDir, name)
	if err := fs.MkdirAll(path.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}

	f, err := fs.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s %s %s <%s> %d %s\t%s\n", oldID, newID, who.Name, who.Email, who.When, who.TZ, reason)
	if _, err := f.Write([]byte(line)); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return nil
}
