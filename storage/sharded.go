package storage

import (
	"fmt"
	"io"
	"os"
	"path"
	"regexp"

	billy "github.com/go-git/go-billy/v5"

	"github.com/opencore-vcs/gitcore/errs"
)

var shardDirPattern = regexp.MustCompile(`^[0-9a-f]{2}$`)

// ShardedStorage is the loose-object layout: a 40-hex key is split into
// a 2-hex shard directory and a 38-hex filename, as git's own
// ".git/objects/<2>/<38>" layout does, over any billy.Filesystem.
type ShardedStorage struct {
	fs billy.Filesystem
}

// NewShardedStorage roots the sharded layout at fs.
func NewShardedStorage(fs billy.Filesystem) *ShardedStorage {
	return &ShardedStorage{fs: fs}
}

func (s *ShardedStorage) shardPath(key string) (string, error) {
	if len(key) < 3 {
		return "", fmt.Errorf("%w: key %q too short to shard", errs.ErrInvalidInput, key)
	}
	return path.Join(key[:2], key[2:]), nil
}

// Store writes r's full content to key's sharded path via a temp file in
// the shard directory, then renames into place, so a concurrent reader
// never observes a partially written object.
func (s *ShardedStorage) Store(key string, r io.Reader) error {
	p, err := s.shardPath(key)
	if err != nil {
		return err
	}
	dir := path.Dir(p)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}

	tmp, err := s.fs.TempFile(dir, "tmp_obj_")
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if err := syncFile(tmp); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}

	if err := s.fs.Rename(tmpName, p); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return nil
}

func (s *ShardedStorage) Load(key string, rng Range) (io.ReadCloser, error) {
	p, err := s.shardPath(key)
	if err != nil {
		return nil, err
	}

	f, err := s.fs.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}

	info, err := s.fs.Stat(p)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if err := validateRange(rng, info.Size()); err != nil {
		f.Close()
		return nil, err
	}

	if rng.Start > 0 {
		if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
	}

	end := rng.End
	if end == -1 {
		end = info.Size()
	}
	return &limitedReadCloser{r: io.LimitReader(f, end-rng.Start), c: f}, nil
}

func (s *ShardedStorage) Has(key string) (bool, error) {
	p, err := s.shardPath(key)
	if err != nil {
		return false, err
	}
	if _, err := s.fs.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return true, nil
}

func (s *ShardedStorage) Remove(key string) (bool, error) {
	ok, err := s.Has(key)
	if err != nil || !ok {
		return false, err
	}
	p, _ := s.shardPath(key)
	if err := s.fs.Remove(p); err != nil {
		return false, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return true, nil
}

func (s *ShardedStorage) Size(key string) (int64, error) {
	p, err := s.shardPath(key)
	if err != nil {
		return 0, err
	}
	info, err := s.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errs.ErrNotFound
		}
		return 0, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return info.Size(), nil
}

// Keys enumerates every two-hex shard directory and every regular file
// within, yielding "<2hex><38hex>". A missing root or shard directory
// yields nothing rather than an error, since a freshly initialized
// repository has no objects/ entries yet.
func (s *ShardedStorage) Keys() (KeyIterator, error) {
	entries, err := s.fs.ReadDir(".")
	if err != nil {
		if os.IsNotExist(err) {
			return &sliceKeyIterator{}, nil
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}

	var keys []string
	for _, e := range entries {
		if !e.IsDir() || !shardDirPattern.MatchString(e.Name()) {
			continue
		}
		files, err := s.fs.ReadDir(e.Name())
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			keys = append(keys, e.Name()+f.Name())
		}
	}
	return &sliceKeyIterator{keys: keys}, nil
}

type sliceKeyIterator struct {
	keys []string
	pos  int
}

func (it *sliceKeyIterator) Next() (string, error) {
	if it.pos >= len(it.keys) {
		return "", io.EOF
	}
	k := it.keys[it.pos]
	it.pos++
	return k, nil
}

func (it *sliceKeyIterator) Close() error { return nil }

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error                { return l.c.Close() }

// syncFile best-effort fsyncs f if the underlying billy.File exposes a
// Sync method (osfs does); filesystems that don't (memfs) have nothing
// to flush.
func syncFile(f billy.File) error {
	type syncer interface{ Sync() error }
	if s, ok := f.(syncer); ok {
		return s.Sync()
	}
	return nil
}
