package diskcache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// ErrEmptyEntry rejects a write that produced no bytes.  Such an entry could
// never be decoded and would shadow the key until evicted.
var ErrEmptyEntry = errors.New("nothing written")

// Local stores entries in a plain directory with no eviction.
type Local struct {
	rootDir     string
	permissions os.FileMode
}

// NewLocal creates a Local cache rooted at dir.
func NewLocal(dir string, perm os.FileMode) (*Local, error) {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "local.new", fmt.Errorf("mkdir %s: %w", dir, err))
	}
	return &Local{rootDir: dir, permissions: perm}, nil
}

// Dir returns the root directory.
func (l *Local) Dir() string { return l.rootDir }

func (l *Local) absPath(key core.Key) string {
	h := key.Hash()
	name := hex.EncodeToString(h[:])
	return filepath.Join(l.rootDir, name[:2], name)
}

// Put writes the entry unless it already exists.
func (l *Local) Put(key core.Key, write func(io.Writer) error) error {
	path := l.absPath(key)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "local.put.mkdir", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "local.put.open", err)
	}
	tmp := f.Name()
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return apperrors.Wrap(apperrors.CategoryCache, "local.put.write", err)
	}
	if info, err := f.Stat(); err != nil || info.Size() == 0 {
		_ = f.Close()
		_ = os.Remove(tmp)
		if err == nil {
			err = ErrEmptyEntry
		}
		return apperrors.Wrap(apperrors.CategoryCache, "local.put.stat", err)
	}
	if err := f.Chmod(l.permissions); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return apperrors.Wrap(apperrors.CategoryCache, "local.put.chmod", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return apperrors.Wrap(apperrors.CategoryCache, "local.put.close", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return apperrors.Wrap(apperrors.CategoryCache, "local.put.rename", err)
	}
	return nil
}

func (l *Local) Get(key core.Key) (io.ReadCloser, error) {
	f, err := os.Open(l.absPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.New(apperrors.CategoryCache, "local.get", apperrors.ErrCacheMiss)
		}
		return nil, apperrors.Wrap(apperrors.CategoryCache, "local.get.open", err)
	}
	return f, nil
}

func (l *Local) Has(key core.Key) bool {
	_, err := os.Stat(l.absPath(key))
	return err == nil
}

func (l *Local) Delete(key core.Key) error {
	if err := os.Remove(l.absPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperrors.Wrap(apperrors.CategoryCache, "local.delete", err)
	}
	return nil
}

var _ core.DiskCache = (*Local)(nil)
