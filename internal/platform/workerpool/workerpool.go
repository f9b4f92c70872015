// Package workerpool runs a bounded number of Executions concurrently.
// Grounded on internal/engine/worker.go's WorkerPool/Worker/Task shape
// (channel-backed task queue, per-worker status tracking, atomic
// metrics counters), repurposed from "submit a WorkflowDefinition for
// the pool to run through Engine.Execute" to "submit a closure that
// drives one GraphExecutor.Run to completion" — the pool itself never
// knows about workflows, graphs, or node types, only that each Task is
// one independent unit of work. This also drops the teacher's
// per-node-task type and in-task automatic retry-resubmission, both of
// which belong to the graph executor's own retry/loop semantics now
// (spec §5's "no global Execution timeout" and single-threaded-per-
// Execution constraint), not to the pool.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Task is one independent unit of work; Run should respect ctx
// cancellation.
type Task struct {
	ID  string
	Run func(ctx context.Context) error
}

// Metrics are atomic counters describing pool activity.
type Metrics struct {
	TotalTasks     int64
	CompletedTasks int64
	FailedTasks    int64
	ActiveTasks    int64
	QueuedTasks    int64
}

// Pool runs Tasks across a fixed number of worker goroutines.
type Pool struct {
	taskQueue chan *Task
	workers   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// New builds a Pool with workers goroutines and a queue of the given
// capacity. Submit blocks once the queue is full.
func New(workers, queueSize int) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		taskQueue: make(chan *Task, queueSize),
		workers:   workers,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
}

// Stop cancels in-flight tasks' contexts and waits up to timeout for
// workers to drain.
func (p *Pool) Stop(timeout time.Duration) {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// Submit enqueues a task, assigning an ID if unset. Blocks only while
// the task queue is full, until there is room or ctx is cancelled.
func (p *Pool) Submit(ctx context.Context, task *Task) error {
	if p.ctx.Err() != nil {
		return fmt.Errorf("workerpool: pool stopped")
	}

	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	atomic.AddInt64(&p.metrics.TotalTasks, 1)
	atomic.AddInt64(&p.metrics.QueuedTasks, 1)

	select {
	case p.taskQueue <- task:
		return nil
	case <-ctx.Done():
		atomic.AddInt64(&p.metrics.QueuedTasks, -1)
		return ctx.Err()
	case <-p.ctx.Done():
		atomic.AddInt64(&p.metrics.QueuedTasks, -1)
		return fmt.Errorf("workerpool: pool stopped")
	}
}

func (p *Pool) runWorker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			atomic.AddInt64(&p.metrics.QueuedTasks, -1)
			atomic.AddInt64(&p.metrics.ActiveTasks, 1)

			if err := task.Run(p.ctx); err != nil {
				atomic.AddInt64(&p.metrics.FailedTasks, 1)
			} else {
				atomic.AddInt64(&p.metrics.CompletedTasks, 1)
			}

			atomic.AddInt64(&p.metrics.ActiveTasks, -1)
		}
	}
}

// Snapshot returns a point-in-time copy of the pool's metrics.
func (p *Pool) Snapshot() Metrics {
	return Metrics{
		TotalTasks:     atomic.LoadInt64(&p.metrics.TotalTasks),
		CompletedTasks: atomic.LoadInt64(&p.metrics.CompletedTasks),
		FailedTasks:    atomic.LoadInt64(&p.metrics.FailedTasks),
		ActiveTasks:    atomic.LoadInt64(&p.metrics.ActiveTasks),
		QueuedTasks:    atomic.LoadInt64(&p.metrics.QueuedTasks),
	}
}
