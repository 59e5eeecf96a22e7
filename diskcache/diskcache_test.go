package diskcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

func writeString(s string) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	}
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func newTestLRU(t *testing.T, cfg Config) *LRU {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	c, err := NewLRU(cfg)
	require.NoError(t, err)
	return c
}

func TestLRU_PutGet(t *testing.T) {
	c := newTestLRU(t, Config{})
	key := core.StringKey("https://example.com/a.jpg")

	_, err := c.Get(key)
	require.ErrorIs(t, err, apperrors.ErrCacheMiss)
	assert.False(t, c.Has(key))

	require.NoError(t, c.Put(key, writeString("hello")))
	assert.True(t, c.Has(key))

	rc, err := c.Get(key)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Status().NumRefs)
	assert.Equal(t, "hello", readAll(t, rc))
	assert.Zero(t, c.Status().NumRefs, "closing releases the reference")

	st := c.Status()
	assert.Equal(t, uint64(1), st.NumFiles)
	assert.Equal(t, uint64(2), st.NumRequested)
	assert.Equal(t, uint64(1), st.NumHit)
	assert.Equal(t, uint64(1), st.NumCreated)
}

func TestLRU_PutKeepsExisting(t *testing.T) {
	c := newTestLRU(t, Config{})
	key := core.StringKey("k")
	require.NoError(t, c.Put(key, writeString("first")))

	called := false
	require.NoError(t, c.Put(key, func(w io.Writer) error {
		called = true
		return nil
	}))
	assert.False(t, called)

	rc, err := c.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "first", readAll(t, rc))
}

func TestLRU_FailedWriteLeavesNothing(t *testing.T) {
	c := newTestLRU(t, Config{})
	key := core.StringKey("k")

	err := c.Put(key, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return errors.New("encoder exploded")
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryCache))
	assert.False(t, c.Has(key))

	require.ErrorIs(t, c.Put(key, writeString("")), ErrEmptyEntry, "empty entries are rejected")
	assert.False(t, c.Has(key))

	st := c.Status()
	assert.Equal(t, uint64(2), st.NumFailed)
	assert.Zero(t, st.NumFiles)

	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		sub, err := os.ReadDir(c.Dir() + "/" + e.Name())
		require.NoError(t, err)
		for _, s := range sub {
			files, _ := os.ReadDir(c.Dir() + "/" + e.Name() + "/" + s.Name())
			assert.Empty(t, files, "no temporary files are left behind")
		}
	}
}

func TestLRU_ConcurrentPutsCoalesce(t *testing.T) {
	c := newTestLRU(t, Config{})
	key := core.StringKey("shared")

	var (
		writes  atomic.Int32
		release = make(chan struct{})
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Put(key, func(w io.Writer) error {
				writes.Add(1)
				<-release
				_, err := io.WriteString(w, "data")
				return err
			}))
		}()
	}
	require.Eventually(t, func() bool { return writes.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), writes.Load())
	assert.Equal(t, uint64(1), c.Status().NumFiles)
}

func TestLRU_Delete(t *testing.T) {
	c := newTestLRU(t, Config{})
	key := core.StringKey("k")
	require.NoError(t, c.Put(key, writeString("v")))

	rc, err := c.Get(key)
	require.NoError(t, err)
	assert.Error(t, c.Delete(key), "open entries stay")
	require.NoError(t, rc.Close())

	require.NoError(t, c.Delete(key))
	assert.False(t, c.Has(key))
	assert.Zero(t, c.Status().NumFiles)
	assert.NoError(t, c.Delete(key), "deleting a missing entry is fine")
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newTestLRU(t, Config{MaxFiles: 2, GCInterval: 10 * time.Millisecond})

	base := time.Now().Add(-time.Hour)
	keys := []core.StringKey{"a", "b", "c"}
	for i, k := range keys {
		require.NoError(t, c.Put(k, writeString(string(k))))
		_, path := c.filePath(k.Hash())
		mt := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, mt, mt))
	}
	// Reading "a" makes it the most recently used.
	rc, err := c.Get(keys[0])
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Serve(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return c.Status().NumFiles == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.True(t, c.Has(keys[0]))
	assert.False(t, c.Has(keys[1]), "the oldest entry is evicted")
	assert.True(t, c.Has(keys[2]))
	assert.Equal(t, uint64(1), c.Status().NumRemoved)
}

func TestLRU_EvictsBySize(t *testing.T) {
	c := newTestLRU(t, Config{MaxSize: 10, GCInterval: 10 * time.Millisecond})
	for i := 0; i < 4; i++ {
		require.NoError(t, c.Put(core.StringKey(fmt.Sprint(i)), writeString("abcd")))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Serve(ctx) }()

	require.Eventually(t, func() bool { return c.Status().TotalSize <= 10 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(2), c.Status().NumFiles)
}

func TestLRU_ReopenDropsExpired(t *testing.T) {
	dir := t.TempDir()
	c := newTestLRU(t, Config{Dir: dir})
	require.NoError(t, c.Put(core.StringKey("old"), writeString("x")))
	require.NoError(t, c.Put(core.StringKey("new"), writeString("yy")))
	_, path := c.filePath(core.StringKey("old").Hash())
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
	require.NoError(t, os.WriteFile(dir+"/README", []byte("not a cache file"), 0o600))

	reopened := newTestLRU(t, Config{Dir: dir, MaxAge: 24 * time.Hour})
	st := reopened.Status()
	assert.Equal(t, uint64(1), st.NumFiles)
	assert.EqualValues(t, 2, st.TotalSize)
	assert.False(t, reopened.Has(core.StringKey("old")))
	assert.True(t, reopened.Has(core.StringKey("new")))
}

func TestNewLRU_Validates(t *testing.T) {
	_, err := NewLRU(Config{})
	assert.Error(t, err)
	_, err = NewLRU(Config{Dir: t.TempDir(), MaxAge: -1})
	assert.Error(t, err)
}

func TestStatus_String(t *testing.T) {
	c := newTestLRU(t, Config{})
	assert.True(t, strings.HasPrefix(c.Status().String(), "files=0,"))
}

func TestLocal(t *testing.T) {
	l, err := NewLocal(t.TempDir(), 0)
	require.NoError(t, err)
	key := core.StringKey("k")

	_, err = l.Get(key)
	require.ErrorIs(t, err, apperrors.ErrCacheMiss)

	require.Error(t, l.Put(key, func(io.Writer) error { return errors.New("boom") }))
	assert.False(t, l.Has(key))

	err = l.Put(key, func(io.Writer) error { return nil })
	require.ErrorIs(t, err, ErrEmptyEntry)
	assert.False(t, l.Has(key), "an empty write must not shadow the key")

	require.NoError(t, l.Put(key, writeString("value")))
	require.NoError(t, l.Put(key, writeString("ignored")))
	rc, err := l.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "value", readAll(t, rc))

	require.NoError(t, l.Delete(key))
	assert.False(t, l.Has(key))
	require.NoError(t, l.Delete(key))
}
