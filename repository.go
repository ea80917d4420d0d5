// Package gitcore composes the object graph, pack subsystem, ref store
// and garbage collector into one repository handle, the root-level
// entry point for every other package in this module.
package gitcore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	billy "github.com/go-git/go-billy/v5"

	"github.com/opencore-vcs/gitcore/errs"
	"github.com/opencore-vcs/gitcore/gc"
	"github.com/opencore-vcs/gitcore/gitconfig"
	"github.com/opencore-vcs/gitcore/object"
	"github.com/opencore-vcs/gitcore/objectstore"
	"github.com/opencore-vcs/gitcore/pack"
	"github.com/opencore-vcs/gitcore/refs"
	"github.com/opencore-vcs/gitcore/storage"
)

const (
	objectsDir     = "objects"
	packSubdir     = "pack"
	configFilename = "config"
	deltaSidecar   = "deltas.jsonl"
)

// Repository is the composed public surface: an object store layered
// over loose-then-packed storage, a ref store, a pack writer/delta
// store pair, and a GC controller wired over the same object store and
// refs. fs is rooted at the repository's top-level directory — for a
// non-bare repository that's the ".git" directory, matching every
// on-disk path named in spec.md §6.
type Repository struct {
	fs billy.Filesystem

	Objects *objectstore.ObjectStore
	Refs    *refs.FileRefStore
	GC      *gc.GCController
	Config  *gitconfig.Config

	packDir *FilePackDirectory
	deltas  *pack.PackDeltaStore

	mu          sync.Mutex
	batch       *pack.DeltaBatch
	pendingSize int
	maxObjects  int
	maxBytes    int64
}

// Options tunes the composed subsystems; the zero value uses every
// package's own defaults.
type Options struct {
	PendingMaxObjects int
	PendingMaxBytes   int64
	GC                gc.Options
	Metrics           *gc.Metrics // nil disables Prometheus instrumentation
	Staging           gc.StagingProtector
}

// Open composes a Repository over fs, reading (or defaulting) its
// config and opening any previously published packs.
func Open(fs billy.Filesystem, opts Options) (*Repository, error) {
	objectsFs, err := fs.Chroot(objectsDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	packFs, err := fs.Chroot(path.Join(objectsDir, packSubdir))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}

	loose := storage.NewCompressedStorage(storage.NewShardedStorage(objectsFs), 0)
	packDir := NewFilePackDirectory(packFs, "")
	if err := reopenExistingPacks(packFs, packDir); err != nil {
		return nil, err
	}
	packed := NewPackedStorage(packDir)
	raw := storage.NewFallbackStorage(loose, packed)

	store := objectstore.New(raw, objectsFs, 0)
	objects := objectstore.NewObjectStore(store)

	refStore := refs.NewFileRefStore(fs)

	cfg, err := loadConfig(fs)
	if err != nil {
		return nil, err
	}

	deltas, err := pack.NewPackDeltaStore(packDir, objectsFs, deltaSidecar, pack.DeltaOptions{})
	if err != nil {
		return nil, err
	}
	deltas.SetBaseResolver(func(id object.ID) ([]byte, bool, error) {
		_, r, err := objects.LoadRaw(id)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return nil, false, nil
			}
			return nil, false, err
		}
		defer r.Close()
		content, err := io.ReadAll(r)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
		return content, true, nil
	})

	gcController := gc.New(objects, refStore, opts.Staging, opts.GC, opts.Metrics)

	return &Repository{
		fs:         fs,
		Objects:    objects,
		Refs:       refStore,
		GC:         gcController,
		Config:     cfg,
		packDir:    packDir,
		deltas:     deltas,
		batch:      deltas.StartUpdate(),
		maxObjects: opts.PendingMaxObjects,
		maxBytes:   opts.PendingMaxBytes,
	}, nil
}

// Init composes a fresh Repository over fs and writes its initial
// config, matching `git init --bare`'s config defaults (bare is true
// only when bare is true; a non-bare caller is responsible for its own
// worktree, which is out of this core's scope).
func Init(fs billy.Filesystem, bare bool, opts Options) (*Repository, error) {
	repo, err := Open(fs, opts)
	if err != nil {
		return nil, err
	}
	repo.Config.Core = gitconfig.DefaultCoreSection
	repo.Config.Core.Bare = bare
	if err := repo.SaveConfig(); err != nil {
		return nil, err
	}
	return repo, nil
}

func loadConfig(fs billy.Filesystem) (*gitconfig.Config, error) {
	f, err := fs.Open(configFilename)
	if err != nil {
		if os.IsNotExist(err) {
			return gitconfig.Load(bytes.NewReader(nil))
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	defer f.Close()
	return gitconfig.Load(f)
}

// SaveConfig writes Config back to fs's config file.
func (r *Repository) SaveConfig() error {
	return writeFileAtomic(r.fs, configFilename, r.Config.Encode())
}

// PackDirectory exposes the pack.PackDirectory this repository
// publishes finished packs to, for a caller driving a repack.
func (r *Repository) PackDirectory() *FilePackDirectory { return r.packDir }

// StagePending buffers an object for the next pack flush rather than
// writing it loose, per spec §5's batching guidance for bulk imports.
// A zero deltaBase stores content whole; a non-zero one asks the
// writer to try encoding it as a delta against that base.
func (r *Repository) StagePending(id object.ID, t object.Type, content []byte, deltaBase object.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if deltaBase.IsZero() {
		r.batch.StoreObject(id, t, content)
	} else {
		r.batch.StoreDelta(deltaBase, id, t, content)
	}
	r.pendingSize += len(content)
	r.GC.NotePendingBlob()
}

// shouldFlush reports whether the staged batch has crossed either
// configured threshold; the caller must hold r.mu.
func (r *Repository) shouldFlush() bool {
	if r.maxObjects > 0 && r.batch.Len() >= r.maxObjects {
		return true
	}
	if r.maxBytes > 0 && int64(r.pendingSize) >= r.maxBytes {
		return true
	}
	return false
}

// FlushPending packs every staged object, publishing the result and
// recording delta metadata, if the staged batch has crossed either
// configured threshold or force is true.
func (r *Repository) FlushPending(ctx context.Context, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.batch.Len() == 0 {
		return nil
	}
	if !force && !r.shouldFlush() {
		return nil
	}

	batch := r.batch
	r.batch = r.deltas.StartUpdate()
	r.pendingSize = 0

	return batch.Close(ctx)
}

// reopenExistingPacks discovers any "pack-*.idx" files already on disk
// (a previous process's published packs) so a reopened Repository can
// serve them without a repack.
func reopenExistingPacks(packFs billy.Filesystem, dir *FilePackDirectory) error {
	entries, err := packFs.ReadDir(".")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || path.Ext(name) != ".idx" {
			continue
		}
		packName := name[:len(name)-len(".idx")]
		if _, err := dir.Open(packName); err != nil {
			return err
		}
	}
	return nil
}
