package engine

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cahq/orchestrator/internal/queue"
	"github.com/cahq/orchestrator/internal/taskstore"
	"github.com/cahq/orchestrator/internal/workflow"
)

// WorkerPoolMetrics is a point-in-time snapshot of pool activity: active
// count, totals, peak, kept at the granularity of cross-task node jobs
// rather than per-run graph steps.
type WorkerPoolMetrics struct {
	ActiveWorkers int32
	TotalClaimed  int64
	TotalFailed   int64
	TotalRetried  int64
}

// PoolMetricsSink receives point-in-time pool activity, implemented by
// internal/metrics.Registry; nil disables reporting.
type PoolMetricsSink interface {
	SetActiveWorkers(int32)
	SetQueueDepth(int)
}

// WorkerPool is the node worker pool: N goroutines each loop Dequeue ->
// load task -> ExecuteNode -> save task, polling the shared queue when
// nothing is ready.
//
// A pool is bound to a single instanceID (the executor starts one per
// running task), so concurrent tasks under one runner process never
// contend over each other's worker slots.
type WorkerPool struct {
	engine       *Engine
	store        *taskstore.Store
	q            *queue.Queue
	instanceID   string
	concurrency  int
	pollInterval time.Duration
	metrics      PoolMetricsSink

	active  atomic.Int32
	claimed atomic.Int64
	failed  atomic.Int64
	retried atomic.Int64
}

// NewWorkerPool builds a pool with the given concurrency (number of
// goroutines polling the queue concurrently) and poll interval (how long
// a worker sleeps after finding the queue empty), scoped to instanceID.
// An empty instanceID claims jobs for every instance in the queue; the
// executor always passes the running task's instance id, binding one pool
// per task.
func NewWorkerPool(eng *Engine, store *taskstore.Store, q *queue.Queue, instanceID string, concurrency int, pollInterval time.Duration) *WorkerPool {
	if concurrency < 1 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &WorkerPool{engine: eng, store: store, q: q, instanceID: instanceID, concurrency: concurrency, pollInterval: pollInterval}
}

// SetMetrics attaches a metrics sink the pool reports active-worker and
// queue-depth gauges to on every poll tick. Optional; a nil sink (the
// default) disables reporting.
func (p *WorkerPool) SetMetrics(m PoolMetricsSink) { p.metrics = m }

// Run blocks until ctx is cancelled, running concurrency worker goroutines.
func (p *WorkerPool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.workerLoop(ctx)
		}()
	}
	wg.Wait()
}

func (p *WorkerPool) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, ok, err := p.q.DequeueFor(p.instanceID, time.Now())
		if err != nil || !ok {
			p.reportMetrics()
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}

		p.active.Add(1)
		p.claimed.Add(1)
		p.reportMetrics()
		p.runOne(ctx, job)
		p.active.Add(-1)
	}
}

func (p *WorkerPool) reportMetrics() {
	if p.metrics == nil {
		return
	}
	p.metrics.SetActiveWorkers(p.active.Load())
	p.metrics.SetQueueDepth(len(p.q.JobsForInstance(p.instanceID)))
}

func (p *WorkerPool) runOne(ctx context.Context, job workflow.Job) {
	now := time.Now()
	task, err := p.store.Get(job.Data.TaskID)
	if err != nil {
		p.failed.Add(1)
		_ = p.q.Fail(job.ID, err.Error())
		return
	}
	wf, err := p.store.LoadWorkflow(task.ID)
	if err != nil {
		p.failed.Add(1)
		_ = p.q.Fail(job.ID, err.Error())
		return
	}
	inst, err := p.store.LoadInstance(task.ID)
	if err != nil {
		p.failed.Add(1)
		_ = p.q.Fail(job.ID, err.Error())
		return
	}

	// A paused instance (`cah pause`) must stop dispatching new node work
	// without losing the job: put it back in the queue a poll interval
	// out rather than executing or failing it, so `cah resume` finds it
	// still there.
	if inst.Status == workflow.InstancePaused {
		_ = p.q.Requeue(job.ID, now.Add(p.pollInterval), job.Data.Attempt)
		return
	}

	execErr := p.engine.ExecuteNode(ctx, task.ID, &wf, &inst, job, now)

	if saveErr := p.store.SaveInstance(task.ID, inst); saveErr != nil {
		p.failed.Add(1)
		_ = p.q.Fail(job.ID, saveErr.Error())
		return
	}

	if execErr != nil {
		ns := inst.NodeStates[job.Data.NodeID]
		if ns != nil && ns.Status == workflow.NodeStatusRunning {
			// Still retryable: requeue with exponential backoff.
			p.retried.Add(1)
			backoff := retryBackoff(ns.Attempts-1, wf, job.Data.NodeID)
			_ = p.q.Requeue(job.ID, now.Add(backoff), ns.Attempts)
			return
		}
		p.failed.Add(1)
		_ = p.q.Fail(job.ID, execErr.Error())
		return
	}

	if ns := inst.NodeStates[job.Data.NodeID]; ns != nil && ns.RequeueDelayMs > 0 {
		delay := time.Duration(ns.RequeueDelayMs) * time.Millisecond
		ns.RequeueDelayMs = 0
		_ = p.store.SaveInstance(task.ID, inst)
		_ = p.q.Requeue(job.ID, now.Add(delay), job.Data.Attempt)
		return
	}

	if ns := inst.NodeStates[job.Data.NodeID]; ns != nil && ns.Status == workflow.NodeStatusWaiting {
		// Parked for human input: this job stays in the queue as
		// waiting-human rather than completed, so `cah complete`/`cah
		// reject` can resume the very same job id.
		_ = p.q.MarkWaitingHuman(job.ID)
		return
	}

	_ = p.q.Complete(job.ID)

	ready := p.engine.ReadyNodes(&wf, &inst)
	if len(ready) > 0 {
		jobs := make([]workflow.Job, 0, len(ready))
		for _, nodeID := range ready {
			jobs = append(jobs, workflow.Job{
				Data: workflow.JobData{TaskID: task.ID, InstanceID: inst.ID, NodeID: nodeID, Attempt: 0},
			})
		}
		_ = p.q.EnqueueBatch(jobs, now)
	}

	p.engine.CheckCompletion(task.ID, &wf, &inst, now)
	_ = p.store.SaveInstance(task.ID, inst)
}

// retryBackoff computes the delay before the next attempt, using the
// failing node's own RetryConfig (default if unset) with exponential
// growth — BackoffMs * BackoffMultiplier^attempt.
func retryBackoff(attempt int, wf workflow.Workflow, nodeID string) time.Duration {
	retry := workflow.DefaultRetryConfig()
	if node, ok := wf.NodeByID(nodeID); ok {
		retry = node.EffectiveRetry()
	}
	backoffMs := float64(retry.BackoffMs) * math.Pow(retry.BackoffMultiplier, float64(attempt))
	return time.Duration(backoffMs) * time.Millisecond
}

// Metrics returns a snapshot of pool activity.
func (p *WorkerPool) Metrics() WorkerPoolMetrics {
	return WorkerPoolMetrics{
		ActiveWorkers: p.active.Load(),
		TotalClaimed:  p.claimed.Load(),
		TotalFailed:   p.failed.Load(),
		TotalRetried:  p.retried.Load(),
	}
}
