package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Skryldev/image-loader/errors"
)

type job struct {
	name      string
	prio      int
	log       *[]string
	mu        *sync.Mutex
	cancelled atomic.Bool
	block     chan struct{}
}

func (j *job) Run(ctx context.Context) {
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
		}
	}
	j.mu.Lock()
	*j.log = append(*j.log, j.name)
	j.mu.Unlock()
}

func (j *job) Cancel()       { j.cancelled.Store(true) }
func (j *job) Priority() int { return j.prio }

func TestExecutor_PriorityThenFIFO(t *testing.T) {
	var (
		mu  sync.Mutex
		log []string
	)
	e := NewExecutor(ExecutorConfig{Name: "test", Workers: 1})
	for _, j := range []struct {
		name string
		prio int
	}{
		{"low-1", 3}, {"normal-1", 2}, {"low-2", 3}, {"immediate", 0}, {"normal-2", 2}, {"high", 1},
	} {
		require.NoError(t, e.Submit(&job{name: j.name, prio: j.prio, log: &log, mu: &mu}))
	}
	assert.Equal(t, 6, e.Len())

	e.Start()
	require.Eventually(t, func() bool { return e.Completed() == 6 }, time.Second, time.Millisecond)
	e.Stop()

	want := []string{"immediate", "high", "normal-1", "normal-2", "low-1", "low-2"}
	if diff := cmp.Diff(want, log); diff != "" {
		t.Errorf("run order mismatch (-want +got):\n%s", diff)
	}
}

func TestExecutor_QueueFull(t *testing.T) {
	var (
		mu  sync.Mutex
		log []string
	)
	e := NewExecutor(ExecutorConfig{Workers: 1, QueueSize: 2})
	require.NoError(t, e.Submit(&job{name: "a", log: &log, mu: &mu}))
	require.NoError(t, e.Submit(&job{name: "b", log: &log, mu: &mu}))

	err := e.Submit(&job{name: "c", log: &log, mu: &mu})
	require.ErrorIs(t, err, apperrors.ErrQueueFull)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, int64(1), e.Dropped())
	e.Stop()
}

func TestExecutor_StopCancelsQueued(t *testing.T) {
	var (
		mu  sync.Mutex
		log []string
	)
	e := NewExecutor(ExecutorConfig{Workers: 1})
	running := &job{name: "running", log: &log, mu: &mu, block: make(chan struct{})}
	queued := &job{name: "queued", log: &log, mu: &mu}
	e.Start()
	require.NoError(t, e.Submit(running))
	require.Eventually(t, func() bool { return e.Len() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, e.Submit(queued))

	// Stop aborts the context of the blocked job, so it returns.
	e.Stop()

	assert.True(t, queued.cancelled.Load())
	assert.False(t, running.cancelled.Load())
	assert.Equal(t, []string{"running"}, log)

	err := e.Submit(&job{name: "late", log: &log, mu: &mu})
	assert.ErrorIs(t, err, apperrors.ErrExecutorStopped)
	e.Stop() // idempotent
}

func TestExecutor_RunsSourceRunners(t *testing.T) {
	e := NewExecutor(ExecutorConfig{Workers: 4})
	e.Start()
	defer e.Stop()

	var recs []*recorder
	for i := 0; i < 20; i++ {
		r, cb := newRunner(t, runnerOpts{})
		recs = append(recs, cb)
		require.NoError(t, e.Submit(r))
	}
	for _, cb := range recs {
		select {
		case <-cb.done:
		case <-time.After(time.Second):
			t.Fatal("runner did not complete")
		}
		assert.Len(t, cb.ready, 1)
	}
}
