// Package diskcache stores encoded resources on disk, keyed by core.Key.
package diskcache

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/petar/GoLLRB/llrb"
	"github.com/tunabay/go-infounit"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

const defaultGCInterval = time.Minute

// Config configures an LRU cache.  Zero limits mean unlimited.
type Config struct {
	// Dir is created if missing.  A relative path is resolved against
	// os.UserCacheDir().
	Dir string

	// MaxFiles and MaxSize bound the cache.  They may be exceeded until the
	// next GC pass.
	MaxFiles uint64
	MaxSize  infounit.ByteCount

	// MaxAge is measured from the last access.
	MaxAge time.Duration

	GCInterval time.Duration
	Logger     core.Logger
}

// LRU is a directory-backed cache evicting the least recently accessed
// files once a limit is exceeded.  Eviction runs in Serve.
type LRU struct {
	dir        string
	maxFiles   uint64
	maxSize    infounit.ByteCount
	maxAge     time.Duration
	gcInterval time.Duration
	log        core.Logger

	numFiles     uint64
	totalSize    infounit.ByteCount
	numRequested uint64
	numHit       uint64
	numCreated   uint64
	numFailed    uint64
	numRemoved   uint64

	ops  map[core.Hash]*op
	refs map[core.Hash]int
	cond *sync.Cond
	mu   sync.Mutex
}

// op is an in-flight create or remove.  Others touching the same entry wait
// on done.
type op struct {
	removing bool
	done     chan struct{}
	err      error
}

// NewLRU opens the cache directory, dropping expired files and counting the
// rest.
func NewLRU(cfg Config) (*LRU, error) {
	switch {
	case cfg.Dir == "":
		return nil, apperrors.New(apperrors.CategoryConfig, "lru.new", errors.New("empty Dir"))
	case cfg.MaxAge < 0:
		return nil, apperrors.New(apperrors.CategoryConfig, "lru.new", errors.New("negative MaxAge"))
	case cfg.GCInterval < 0:
		return nil, apperrors.New(apperrors.CategoryConfig, "lru.new", errors.New("negative GCInterval"))
	}

	c := &LRU{
		dir:        cfg.Dir,
		maxFiles:   cfg.MaxFiles,
		maxSize:    cfg.MaxSize,
		maxAge:     cfg.MaxAge,
		gcInterval: cfg.GCInterval,
		log:        cfg.Logger,
		ops:        make(map[core.Hash]*op),
		refs:       make(map[core.Hash]int),
	}
	c.cond = sync.NewCond(&c.mu)
	if c.gcInterval == 0 {
		c.gcInterval = defaultGCInterval
	}
	if c.log == nil {
		c.log = core.NopLogger{}
	}

	if !filepath.IsAbs(c.dir) {
		ucd, err := os.UserCacheDir()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryCache, "lru.new", fmt.Errorf("%s: can not resolve relative cache dir: %w", c.dir, err))
		}
		c.dir = filepath.Join(ucd, c.dir)
	}
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "lru.new.mkdir", err)
	}

	var (
		numExpired  uint64
		sizeExpired infounit.ByteCount
	)
	err := c.walk(func(_ core.Hash, path string, info fs.FileInfo) {
		sz := infounit.ByteCount(info.Size())
		if c.expired(info.ModTime()) {
			if err := os.Remove(path); err != nil {
				c.log.Warn("lru.expire.failed", "path", path, "error", err.Error())
				return
			}
			numExpired++
			sizeExpired += sz
			return
		}
		c.numFiles++
		c.totalSize += sz
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "lru.new.scan", err)
	}
	if numExpired != 0 {
		c.log.Info("lru.expired", "files", numExpired, "size", fmt.Sprintf("%.1S", sizeExpired))
	}
	c.log.Info("lru.opened", "dir", c.dir, "files", c.numFiles, "size", fmt.Sprintf("%.1S", c.totalSize))
	return c, nil
}

// Dir returns the resolved cache directory.
func (c *LRU) Dir() string { return c.dir }

// Get opens the file stored for key and marks it as recently used.  It
// returns ErrCacheMiss when nothing is stored.  The file is protected from
// eviction until it is closed.
func (c *LRU) Get(key core.Key) (io.ReadCloser, error) {
	hash := key.Hash()
	_, path := c.filePath(hash)

	c.mu.Lock()
	c.numRequested++
	for {
		o, busy := c.ops[hash]
		if !busy {
			break
		}
		c.mu.Unlock()
		<-o.done
		c.mu.Lock()
	}
	if _, err := os.Stat(path); err != nil {
		c.mu.Unlock()
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.New(apperrors.CategoryCache, "lru.get", apperrors.ErrCacheMiss)
		}
		return nil, apperrors.Wrap(apperrors.CategoryCache, "lru.get.stat", err)
	}
	now := time.Now()
	_ = os.Chtimes(path, now, now)
	c.numHit++
	c.refs[hash]++
	c.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		c.unref(hash)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.New(apperrors.CategoryCache, "lru.get", apperrors.ErrCacheMiss)
		}
		return nil, apperrors.Wrap(apperrors.CategoryCache, "lru.get.open", err)
	}
	c.log.Debug("lru.hit", "key", key.String())
	return &cachedFile{File: f, parent: c, hash: hash}, nil
}

// Has reports whether key is stored, without touching its access time.
func (c *LRU) Has(key core.Key) bool {
	_, path := c.filePath(key.Hash())
	_, err := os.Stat(path)
	return err == nil
}

// Put stores what write produces under key.  An entry that already exists is
// kept, and concurrent Puts of the same key run write only once.  A failed
// write leaves nothing behind.
func (c *LRU) Put(key core.Key, write func(io.Writer) error) error {
	hash := key.Hash()
	dir, path := c.filePath(hash)

	c.mu.Lock()
	for {
		o, busy := c.ops[hash]
		if !busy {
			break
		}
		c.mu.Unlock()
		<-o.done
		if !o.removing {
			return o.err
		}
		c.mu.Lock()
	}
	if _, err := os.Stat(path); err == nil {
		c.mu.Unlock()
		return nil
	}
	o := &op{done: make(chan struct{})}
	c.ops[hash] = o
	c.mu.Unlock()

	sz, err := create(dir, path, write)

	c.mu.Lock()
	delete(c.ops, hash)
	if err != nil {
		c.numFailed++
		o.err = apperrors.Wrap(apperrors.CategoryCache, "lru.put", err)
	} else {
		c.numFiles++
		c.totalSize += sz
		c.numCreated++
		c.cond.Broadcast()
	}
	c.mu.Unlock()
	close(o.done)

	if err == nil {
		c.log.Debug("lru.stored", "key", key.String(), "size", fmt.Sprintf("%.1S", sz))
	}
	return o.err
}

// create writes into a temporary file next to path and renames it into
// place.
func create(dir, path string, write func(io.Writer) error) (infounit.ByteCount, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return 0, fmt.Errorf("%s: failed to create: %w", dir, err)
	}
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open file: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}
	info, err := f.Stat()
	_ = f.Close()
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(tmpPath)
		return 0, ErrEmptyEntry
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}
	return infounit.ByteCount(info.Size()), nil
}

// Delete removes the entry for key.  An entry still open for reading is
// left in place and reported as an error.
func (c *LRU) Delete(key core.Key) error {
	hash := key.Hash()
	_, path := c.filePath(hash)

	c.mu.Lock()
	for {
		o, busy := c.ops[hash]
		if !busy {
			break
		}
		c.mu.Unlock()
		<-o.done
		c.mu.Lock()
	}
	if c.refs[hash] > 0 {
		c.mu.Unlock()
		return apperrors.New(apperrors.CategoryCache, "lru.delete", fmt.Errorf("%s: in use", key))
	}
	info, err := os.Stat(path)
	if err != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.remove(hash, path, info.ModTime())
}

// Serve evicts files while the cache is over its limits, and expired files
// every GC interval when MaxAge is set.  It returns when ctx is done.
func (c *LRU) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	for {
		c.mu.Lock()
		for c.maxAge == 0 && !c.overLimit() && ctx.Err() == nil {
			c.cond.Wait()
		}
		c.mu.Unlock()
		if ctx.Err() != nil {
			return nil
		}

		c.gc()

		timer := time.NewTimer(c.gcInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *LRU) gc() {
	c.log.Debug("lru.gc.start")

	c.mu.Lock()
	maxCands := uint64(64)
	for excess := c.numFiles - min(c.numFiles, c.maxFiles); maxCands < excess; {
		maxCands <<= 1
	}
	c.mu.Unlock()

	tree := llrb.New()
	err := c.walk(func(hash core.Hash, path string, info fs.FileInfo) {
		if c.expired(info.ModTime()) {
			if err := c.remove(hash, path, info.ModTime()); err != nil {
				c.log.Warn("lru.expire.failed", "path", path, "error", err.Error())
			}
			return
		}
		tree.InsertNoReplace(&candidate{hash: hash, path: path, lastMod: info.ModTime()})
		if uint64(tree.Len()) > maxCands {
			tree.DeleteMax()
		}
	})
	if err != nil {
		c.log.Warn("lru.gc.scan_failed", "dir", c.dir, "error", err.Error())
		return
	}

	var oldest []*candidate
	tree.AscendGreaterOrEqual(tree.Min(), func(i llrb.Item) bool {
		oldest = append(oldest, i.(*candidate)) //nolint:forcetypeassert
		return true
	})
	for _, cand := range oldest {
		c.mu.Lock()
		over := c.overLimit()
		c.mu.Unlock()
		if !over {
			break
		}
		if err := c.remove(cand.hash, cand.path, cand.lastMod); err != nil {
			c.log.Warn("lru.evict.failed", "path", cand.path, "error", err.Error())
		}
	}
	c.log.Debug("lru.gc.done", "status", c.Status().String())
}

// remove deletes path unless it is open, or was accessed after lastMod.
func (c *LRU) remove(hash core.Hash, path string, lastMod time.Time) error {
	c.mu.Lock()
	if c.refs[hash] > 0 {
		c.mu.Unlock()
		return nil
	}
	if _, busy := c.ops[hash]; busy {
		c.mu.Unlock()
		return nil
	}
	info, err := os.Stat(path)
	if err != nil || !lastMod.Equal(info.ModTime()) {
		c.mu.Unlock()
		return nil
	}
	o := &op{removing: true, done: make(chan struct{})}
	c.ops[hash] = o
	c.mu.Unlock()

	err = os.Remove(path)

	c.mu.Lock()
	delete(c.ops, hash)
	if err == nil {
		c.numRemoved++
		c.numFiles--
		c.totalSize -= infounit.ByteCount(info.Size())
	}
	c.mu.Unlock()
	close(o.done)

	if err != nil {
		return fmt.Errorf("%x: %w", hash[:], err)
	}
	c.log.Debug("lru.removed", "hash", hex.EncodeToString(hash[:]))
	return nil
}

// overLimit must be called with mu held.
func (c *LRU) overLimit() bool {
	return (c.maxFiles > 0 && c.numFiles > c.maxFiles) || (c.maxSize > 0 && c.totalSize > c.maxSize)
}

func (c *LRU) expired(lastMod time.Time) bool {
	return c.maxAge > 0 && time.Since(lastMod) > c.maxAge
}

func (c *LRU) unref(hash core.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs[hash] <= 1 {
		delete(c.refs, hash)
		return
	}
	c.refs[hash]--
}

// walk calls fn for every cache file under the directory.  Temporary and
// foreign files are skipped.
func (c *LRU) walk(fn func(hash core.Hash, path string, info fs.FileInfo)) error {
	return filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return fs.SkipDir
		case d.IsDir():
			return nil
		}
		hash, ok := parseHash(d.Name())
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		fn(hash, path, info)
		return nil
	})
}

// filePath spreads files over two directory levels named after the last two
// bytes of the hash.
func (c *LRU) filePath(hash core.Hash) (dir, path string) {
	dir = filepath.Join(c.dir, hex.EncodeToString(hash[core.HashSize-1:]), hex.EncodeToString(hash[core.HashSize-2:core.HashSize-1]))
	return dir, filepath.Join(dir, hex.EncodeToString(hash[:]))
}

func parseHash(name string) (core.Hash, bool) {
	var h core.Hash
	if len(name) != core.HashSize*2 {
		return h, false
	}
	b, err := hex.DecodeString(name)
	if err != nil {
		return h, false
	}
	copy(h[:], b)
	return h, true
}

// candidate is an eviction candidate, oldest access first.
type candidate struct {
	hash    core.Hash
	path    string
	lastMod time.Time
}

func (c *candidate) Less(xif llrb.Item) bool {
	x := xif.(*candidate) //nolint:forcetypeassert
	if c.lastMod.Equal(x.lastMod) {
		return c.path < x.path
	}
	return c.lastMod.Before(x.lastMod)
}

// cachedFile releases its reference when closed.
type cachedFile struct {
	*os.File
	parent *LRU
	hash   core.Hash
	once   sync.Once
}

func (f *cachedFile) Close() error {
	f.once.Do(func() { f.parent.unref(f.hash) })
	return f.File.Close() //nolint:wrapcheck
}

// Status is a snapshot of cache statistics.
type Status struct {
	NumFiles     uint64
	TotalSize    infounit.ByteCount
	NumRequested uint64
	NumHit       uint64
	NumCreated   uint64
	NumFailed    uint64
	NumRemoved   uint64
	NumOps       int
	NumRefs      int
}

func (s Status) String() string {
	return fmt.Sprintf(
		"files=%d, size=%.1S, req=%d, hit=%d, new=%d, fail=%d, del=%d, op=%d, ref=%d",
		s.NumFiles, s.TotalSize, s.NumRequested, s.NumHit, s.NumCreated,
		s.NumFailed, s.NumRemoved, s.NumOps, s.NumRefs,
	)
}

// Status returns current statistics.
func (c *LRU) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		NumFiles:     c.numFiles,
		TotalSize:    c.totalSize,
		NumRequested: c.numRequested,
		NumHit:       c.numHit,
		NumCreated:   c.numCreated,
		NumFailed:    c.numFailed,
		NumRemoved:   c.numRemoved,
		NumOps:       len(c.ops),
		NumRefs:      len(c.refs),
	}
}

var _ core.DiskCache = (*LRU)(nil)
