package gitcore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	billy "github.com/go-git/go-billy/v5"

	"github.com/opencore-vcs/gitcore/errs"
	"github.com/opencore-vcs/gitcore/object"
	"github.com/opencore-vcs/gitcore/pack"
)

// FilePackDirectory is the on-disk pack.PackDirectory: finished packs
// land at "<root>/pack-<checksum>.{pack,idx}", matching git's own
// objects/pack/ naming, and stay open (file handle + parsed index) for
// random-access reads until the process exits.
type FilePackDirectory struct {
	fs   billy.Filesystem
	root string

	mu    sync.RWMutex
	packs map[string]*pack.Packfile
}

// NewFilePackDirectory roots pack storage at root under fs (typically
// "objects/pack", mirroring git's own layout).
func NewFilePackDirectory(fs billy.Filesystem, root string) *FilePackDirectory {
	return &FilePackDirectory{fs: fs, root: root, packs: make(map[string]*pack.Packfile)}
}

func (d *FilePackDirectory) packPath(name string) string { return path.Join(d.root, name+".pack") }
func (d *FilePackDirectory) idxPath(name string) string  { return path.Join(d.root, name+".idx") }

// Publish persists result's pack and index bytes under a checksum-
// derived name and opens it for subsequent Get/Open calls.
func (d *FilePackDirectory) Publish(ctx context.Context, result *pack.FlushResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := "pack-" + result.Checksum.String()
	if err := d.fs.MkdirAll(d.root, 0o755); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if err := writeFileAtomic(d.fs, d.packPath(name), result.PackBytes); err != nil {
		return err
	}
	if err := writeFileAtomic(d.fs, d.idxPath(name), result.IndexBytes); err != nil {
		return err
	}

	pf, err := d.openPackfile(name)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.packs[name] = pf
	d.mu.Unlock()
	return nil
}

// Open returns the named pack, opening it from disk on first use.
func (d *FilePackDirectory) Open(packName string) (*pack.Packfile, error) {
	d.mu.RLock()
	pf, ok := d.packs[packName]
	d.mu.RUnlock()
	if ok {
		return pf, nil
	}

	pf, err := d.openPackfile(packName)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.packs[packName] = pf
	d.mu.Unlock()
	return pf, nil
}

// Names lists every currently published pack's name, for GC's repack
// driver to enumerate during delta chain consolidation.
func (d *FilePackDirectory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.packs))
	for name := range d.packs {
		names = append(names, name)
	}
	return names
}

// IndexIDs returns every identity indexed by the named pack.
func (d *FilePackDirectory) IndexIDs(name string) ([]object.ID, error) {
	pf, err := d.Open(name)
	if err != nil {
		return nil, err
	}
	return pf.Index().IDs(), nil
}

func (d *FilePackDirectory) openPackfile(name string) (*pack.Packfile, error) {
	idxData, err := readFileAll(d.fs, d.idxPath(name))
	if err != nil {
		return nil, err
	}
	idx, err := pack.ReadIndex(idxData)
	if err != nil {
		return nil, err
	}

	f, err := d.fs.Open(d.packPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: pack %s", errs.ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}

	return pack.NewPackfile(f, idx, 0), nil
}

// writeFileAtomic writes b to p via a temp file in p's directory,
// renamed into place, matching storage.ShardedStorage.Store's
// discipline against partial reads by a concurrent lister.
func writeFileAtomic(fs billy.Filesystem, p string, b []byte) error {
	dir := path.Dir(p)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}

	tmp, err := fs.TempFile(dir, "tmp_pack_")
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if err := fs.Rename(tmpName, p); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return nil
}

func readFileAll(fs billy.Filesystem, p string) ([]byte, error) {
	f, err := fs.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, p)
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return data, nil
}
