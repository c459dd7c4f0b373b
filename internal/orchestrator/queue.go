package orchestrator

import (
	"context"
	"sync"

	"github.com/kanblam/kanblam/internal/core"
	"golang.org/x/sync/errgroup"
)

// taskQueue serializes command execution for a single task: a
// dedicated worker goroutine drains jobs one at a time, so an Apply
// and a concurrent Merge issued for the same task can never interleave
// (spec.md §4.7). Independent tasks get independent queues and run
// fully concurrently.
type taskQueue struct {
	jobs chan func()
	done chan struct{}
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{jobs: make(chan func(), 32), done: make(chan struct{})}
	go q.run()
	return q
}

func (q *taskQueue) run() {
	defer close(q.done)
	for job := range q.jobs {
		job()
	}
}

func (q *taskQueue) submit(job func()) { q.jobs <- job }

func (q *taskQueue) close() { close(q.jobs) }

// awaitDrain blocks until every job submitted before close() has run,
// or ctx is done first.
func (q *taskQueue) awaitDrain(ctx context.Context) error {
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// queueRegistry hands out one taskQueue per task id, created lazily
// and kept for the task's lifetime.
type queueRegistry struct {
	mu     sync.Mutex
	queues map[core.TaskID]*taskQueue
}

func newQueueRegistry() *queueRegistry {
	return &queueRegistry{queues: make(map[core.TaskID]*taskQueue)}
}

func (r *queueRegistry) get(id core.TaskID) *taskQueue {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[id]
	if !ok {
		q = newTaskQueue()
		r.queues[id] = q
	}
	return q
}

// drop closes and discards a task's queue, called once a task reaches
// a terminal state or is reset, so long-lived tasks don't accumulate
// idle goroutines forever.
func (r *queueRegistry) drop(id core.TaskID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[id]; ok {
		q.close()
		delete(r.queues, id)
	}
}

// CloseAll closes every task queue and waits for each to drain its
// already-submitted jobs concurrently, bounded by ctx, grounded on the
// teacher's errgroup.WithContext fan-out-then-Wait shutdown idiom. A
// queue that doesn't drain in time stops the whole wait rather than
// leaking a goroutine silently.
func (r *queueRegistry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	queues := make([]*taskQueue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.queues = make(map[core.TaskID]*taskQueue)
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queues {
		q := q
		q.close()
		g.Go(func() error {
			return q.awaitDrain(gctx)
		})
	}
	return g.Wait()
}

