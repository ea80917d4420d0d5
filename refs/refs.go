// Package refs implements Git's reference namespace: direct and
// symbolic refs, loose ref files layered over a packed-refs fallback,
// and reflog append, as the minimal external contract the core object
// graph and pack subsystem rely on (spec §4.10).
package refs

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	billy "github.com/go-git/go-billy/v5"

	"github.com/opencore-vcs/gitcore/errs"
	"github.com/opencore-vcs/gitcore/internal/lockfile"
	"github.com/opencore-vcs/gitcore/object"
)

// Kind distinguishes a direct ref (points straight at an object) from a
// symbolic one (points at another ref name).
type Kind int

const (
	Direct Kind = iota
	Symbolic
)

// Ref is one resolved reference: exactly one of ID (Direct) or Target
// (Symbolic) is meaningful, per Kind.
type Ref struct {
	Name   string
	Kind   Kind
	ID     object.ID
	Target string
}

// MaxSymbolicDepth bounds how many symbolic hops Resolve will follow
// before declaring a cycle.
const MaxSymbolicDepth = 10

// RefStore is the external contract the core minimally prescribes for
// reference storage.
type RefStore interface {
	Get(name string) (Ref, bool, error)
	Resolve(name string) (object.ID, error)
	Set(name string, id object.ID) error
	SetSymbolic(name string, target string) error
	Delete(name string) error
	List(prefix string) ([]Ref, error)
	Has(name string) (bool, error)
}

// FileRefStore is a file-backed RefStore over a billy.Filesystem: loose
// refs as individual files, a packed-refs fallback, and an optional
// reflog. Actor and a clock are used only for reflog entries; when Actor
// is the zero value no reflog is written, matching spec §4.10's "optional
// for non-ref-heavy backends."
type FileRefStore struct {
	fs    billy.Filesystem
	Actor object.Signature // used only as the reflog committer identity
	Now   func() object.Signature
}

// NewFileRefStore roots ref storage at fs (typically the repository's
// top-level directory, the same root refs/, packed-refs and logs/ live
// under in a real Git checkout).
func NewFileRefStore(fs billy.Filesystem) *FileRefStore {
	return &FileRefStore{fs: fs}
}

func looseRefPath(name string) string {
	return path.Clean(name)
}

func (s *FileRefStore) readLoose(name string) (Ref, bool, error) {
	f, err := s.fs.Open(looseRefPath(name))
	if err != nil {
		return Ref{}, false, nil
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Ref{}, false, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return parseLooseRef(name, data)
}

func parseLooseRef(name string, data []byte) (Ref, bool, error) {
	line := strings.TrimRight(string(data), "\n")
	if target, ok := strings.CutPrefix(line, "ref: "); ok {
		return Ref{Name: name, Kind: Symbolic, Target: strings.TrimSpace(target)}, true, nil
	}
	id, err := object.ParseID(strings.TrimSpace(line))
	if err != nil {
		return Ref{}, false, fmt.Errorf("%w: loose ref %s: %v", errs.ErrCorruptObject, name, err)
	}
	return Ref{Name: name, Kind: Direct, ID: id}, true, nil
}

// Get returns name's ref, trying the loose file first and falling back
// to packed-refs.
func (s *FileRefStore) Get(name string) (Ref, bool, error) {
	if err := ValidateName(name); err != nil {
		return Ref{}, false, err
	}
	if ref, ok, err := s.readLoose(name); err != nil || ok {
		return ref, ok, err
	}

	packed, err := s.readPackedRefs()
	if err != nil {
		return Ref{}, false, err
	}
	for _, pr := range packed {
		if pr.name == name {
			return Ref{Name: name, Kind: Direct, ID: pr.id}, true, nil
		}
	}
	return Ref{}, false, nil
}

// Has reports whether name resolves to anything, loose or packed.
func (s *FileRefStore) Has(name string) (bool, error) {
	_, ok, err := s.Get(name)
	return ok, err
}

// Resolve follows name's symbolic chain (if any) up to MaxSymbolicDepth
// hops and returns the terminal object identity.
func (s *FileRefStore) Resolve(name string) (object.ID, error) {
	cur := name
	for depth := 0; depth < MaxSymbolicDepth; depth++ {
		ref, ok, err := s.Get(cur)
		if err != nil {
			return object.ID{}, err
		}
		if !ok {
			return object.ID{}, fmt.Errorf("%w: ref %s does not exist", errs.ErrNotFound, cur)
		}
		if ref.Kind == Direct {
			return ref.ID, nil
		}
		cur = ref.Target
	}
	return object.ID{}, fmt.Errorf("%w: ref %s exceeds max symbolic depth %d", errs.ErrInvalidInput, name, MaxSymbolicDepth)
}

// Set writes name as a direct ref to id, removing any packed-refs entry
// of the same name and appending a reflog entry if an Actor is set.
func (s *FileRefStore) Set(name string, id object.ID) error {
	return s.update(name, []byte(id.String()+"\n"), Direct, id)
}

// SetSymbolic writes name as a symbolic ref pointing at target.
func (s *FileRefStore) SetSymbolic(name string, target string) error {
	return s.update(name, []byte("ref: "+target+"\n"), Symbolic, object.ID{})
}

func (s *FileRefStore) update(name string, content []byte, kind Kind, newID object.ID) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	old, hadOld, err := s.Get(name)
	if err != nil {
		return err
	}

	lock, err := lockfile.Acquire(s.fs, looseRefPath(name))
	if err != nil {
		return err
	}
	if err := lock.Write(content); err != nil {
		lock.Rollback()
		return err
	}
	if err := lock.Commit(); err != nil {
		return err
	}

	if err := s.removeFromPackedRefs(name); err != nil {
		return err
	}

	if s.Actor.Name != "" {
		var oldID object.ID
		if hadOld && old.Kind == Direct {
			oldID = old.ID
		}
		reason := "update"
		if kind == Symbolic {
			reason = "symbolic-ref update"
		}
		if err := appendReflog(s.fs, name, oldID, newID, s.actorNow(), reason); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileRefStore) actorNow() object.Signature {
	if s.Now != nil {
		return s.Now()
	}
	return s.Actor
}

// Delete removes name's loose file (if any) and any packed-refs entry.
func (s *FileRefStore) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	p := looseRefPath(name)
	if err := s.fs.Remove(p); err != nil && !isNotExist(err) {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return s.removeFromPackedRefs(name)
}

// List returns every ref (loose and packed, deduplicated, loose wins)
// whose name has the given prefix, in ascending name order.
func (s *FileRefStore) List(prefix string) ([]Ref, error) {
	seen := map[string]Ref{}

	packed, err := s.readPackedRefs()
	if err != nil {
		return nil, err
	}
	for _, pr := range packed {
		if strings.HasPrefix(pr.name, prefix) {
			seen[pr.name] = Ref{Name: pr.name, Kind: Direct, ID: pr.id}
		}
	}

	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := s.fs.ReadDir(dir)
		if err != nil {
			if isNotExist(err) {
				return nil
			}
			return fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
		for _, e := range entries {
			full := path.Join(dir, e.Name())
			if e.IsDir() {
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			if !strings.HasPrefix(full, prefix) {
				continue
			}
			ref, ok, err := s.readLoose(full)
			if err != nil {
				return err
			}
			if ok {
				seen[full] = ref
			}
		}
		return nil
	}

	if err := walk("refs"); err != nil {
		return nil, err
	}
	if strings.HasPrefix("HEAD", prefix) {
		if ref, ok, err := s.readLoose("HEAD"); err != nil {
			return nil, err
		} else if ok {
			seen["HEAD"] = ref
		}
	}

	out := make([]Ref, 0, len(seen))
	for _, r := range seen {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func isNotExist(err error) bool {
	return os.IsNotExist(err)
}
