package refs

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/opencore-vcs/gitcore/errs"
	"github.com/opencore-vcs/gitcore/object"
)

const packedRefsPath = "packed-refs"

type packedRef struct {
	name      string
	id        object.ID
	peeled    object.ID
	hasPeeled bool
}

// readPackedRefs parses packed-refs if present, tolerating its absence
// (a freshly initialized repository has none).
func (s *FileRefStore) readPackedRefs() ([]packedRef, error) {
	f, err := s.fs.Open(packedRefsPath)
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return parsePackedRefs(data)
}

// parsePackedRefs parses the packed-refs wire format: comment lines
// starting with '#', "<sha> <name>" entries, and an optional "^<sha>"
// peeled line immediately following an annotated tag's entry.
func parsePackedRefs(data []byte) ([]packedRef, error) {
	var refs []packedRef
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "^") {
			if len(refs) == 0 {
				return nil, fmt.Errorf("%w: packed-refs peeled line with no preceding entry", errs.ErrCorruptObject)
			}
			id, err := object.ParseID(line[1:])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errs.ErrCorruptObject, err)
			}
			refs[len(refs)-1].peeled = id
			refs[len(refs)-1].hasPeeled = true
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: malformed packed-refs line %q", errs.ErrCorruptObject, line)
		}
		id, err := object.ParseID(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrCorruptObject, err)
		}
		refs = append(refs, packedRef{name: fields[1], id: id})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return refs, nil
}

func writePackedRefs(refs []packedRef) []byte {
	sort.Slice(refs, func(i, j int) bool { return refs[i].name < refs[j].name })

	var buf bytes.Buffer
	buf.WriteString("# pack-refs with: peeled fully-peeled sorted\n")
	for _, r := range refs {
		fmt.Fprintf(&buf, "%s %s\n", r.id, r.name)
		if r.hasPeeled {
			fmt.Fprintf(&buf, "^%s\n", r.peeled)
		}
	}
	return buf.Bytes()
}

// removeFromPackedRefs drops name's entry from packed-refs, if present,
// rewriting the file via a packed-refs.tmp file and a rename; no lock file
// is taken. A write to a loose ref always
// invalidates any stale packed-refs entry of the same name.
func (s *FileRefStore) removeFromPackedRefs(name string) error {
	existing, err := s.readPackedRefs()
	if err != nil {
		return err
	}

	found := false
	kept := existing[:0:0]
	for _, r := range existing {
		if r.name == name {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	if !found {
		return nil
	}
	return s.writePackedRefsAtomic(kept)
}

func (s *FileRefStore) writePackedRefsAtomic(refs []packedRef) error {
	tmp := packedRefsPath + ".tmp"
	f, err := s.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if _, err := f.Write(writePackedRefs(refs)); err != nil {
		f.Close()
		s.fs.Remove(tmp)
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if err := s.fs.Rename(tmp, packedRefsPath); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return nil
}
