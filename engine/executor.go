package engine

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// Runnable is a unit of work the Executor can schedule.  SourceRunner and
// ResourceRunner both satisfy it.
type Runnable interface {
	Run(ctx context.Context)
	Cancel()
	// Priority orders queued work; lower values run first.
	Priority() int
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Name      string
	Workers   int // default: runtime.NumCPU()
	QueueSize int // 0 = unbounded
	Logger    core.Logger
}

// Executor runs Runnables on a fixed pool of goroutines, most urgent
// priority first and FIFO within a priority.  It is safe for concurrent use.
type Executor struct {
	name      string
	workers   int
	queueSize int
	logger    core.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   taskQueue
	seq     uint64
	stopped bool

	ctx    context.Context //nolint:containedctx // cancelled by Stop
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	completed int64
	dropped   int64
}

// NewExecutor creates an Executor.  Call Start before work is picked up and
// Stop when done.
func NewExecutor(cfg ExecutorConfig) *Executor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = core.NopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		name:      cfg.Name,
		workers:   workers,
		queueSize: cfg.QueueSize,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Start launches the worker pool.  It is idempotent.
func (e *Executor) Start() {
	e.once.Do(func() {
		for i := 0; i < e.workers; i++ {
			e.wg.Add(1)
			go e.worker()
		}
		e.logger.Debug("executor.start", "name", e.name, "workers", e.workers)
	})
}

// Submit queues r.  It fails once the executor is stopped or when a bounded
// queue is full.
func (e *Executor) Submit(r Runnable) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return apperrors.New(apperrors.CategoryPipeline, "executor.submit", apperrors.ErrExecutorStopped)
	}
	if e.queueSize > 0 && e.queue.Len() >= e.queueSize {
		atomic.AddInt64(&e.dropped, 1)
		return apperrors.Transient("executor.submit", apperrors.ErrQueueFull)
	}
	e.seq++
	heap.Push(&e.queue, &task{run: r, priority: r.Priority(), seq: e.seq})
	e.cond.Signal()
	return nil
}

// Stop cancels everything still queued, aborts the context handed to
// running work and waits for the workers to exit.
func (e *Executor) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	pending := make([]*task, len(e.queue))
	copy(pending, e.queue)
	e.queue = nil
	e.cond.Broadcast()
	e.mu.Unlock()

	for _, t := range pending {
		t.run.Cancel()
	}
	e.cancel()
	e.wg.Wait()
	e.logger.Debug("executor.stop", "name", e.name, "cancelled", len(pending))
}

// Len returns the number of queued, not yet started, Runnables.
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}

// Completed returns the number of Runnables that finished running.
func (e *Executor) Completed() int64 { return atomic.LoadInt64(&e.completed) }

// Dropped returns the number of submissions rejected by a full queue.
func (e *Executor) Dropped() int64 { return atomic.LoadInt64(&e.dropped) }

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		for e.queue.Len() == 0 && !e.stopped {
			e.cond.Wait()
		}
		if e.stopped {
			e.mu.Unlock()
			return
		}
		t := heap.Pop(&e.queue).(*task) //nolint:forcetypeassert
		e.mu.Unlock()

		t.run.Run(e.ctx)
		atomic.AddInt64(&e.completed, 1)
	}
}

// ── priority queue ───────────────────────────────────────────────────────────

type task struct {
	run      Runnable
	priority int
	seq      uint64
}

// taskQueue implements heap.Interface.
type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) { *q = append(*q, x.(*task)) } //nolint:forcetypeassert

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}
