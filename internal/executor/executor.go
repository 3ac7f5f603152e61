// Package executor binds a task to a workflow instance, starts the
// node worker pool bound to that instance, waits for the instance to
// reach a terminal status, then renders outputs/result.md and folds the
// outcome back into the task.
package executor

import (
	"context"
	"os"
	"time"

	"github.com/cahq/orchestrator/internal/cherrors"
	"github.com/cahq/orchestrator/internal/engine"
	"github.com/cahq/orchestrator/internal/eventbus"
	"github.com/cahq/orchestrator/internal/jsonstore"
	"github.com/cahq/orchestrator/internal/metrics"
	"github.com/cahq/orchestrator/internal/pathlayout"
	"github.com/cahq/orchestrator/internal/planner"
	"github.com/cahq/orchestrator/internal/queue"
	"github.com/cahq/orchestrator/internal/render"
	"github.com/cahq/orchestrator/internal/state"
	"github.com/cahq/orchestrator/internal/taskstore"
	"github.com/cahq/orchestrator/internal/workflow"
)

// Options configures a single Execute call.
type Options struct {
	Concurrency int
	Resume      bool
	// PollInterval is how often Execute checks the instance's status for
	// a terminal transition. Defaults to 500ms.
	PollInterval time.Duration
}

// Executor is TaskExecutor.
type Executor struct {
	Layout   *pathlayout.Layout
	Store    *taskstore.Store
	Queue    *queue.Queue
	Engine   *engine.Engine
	Bus      *eventbus.Bus
	Metrics  *metrics.Registry
	Planner  *planner.Planner
}

// New builds an Executor from its collaborators. metrics may be nil
// (disables task-completion counters).
func New(layout *pathlayout.Layout, store *taskstore.Store, q *queue.Queue, eng *engine.Engine, bus *eventbus.Bus, reg *metrics.Registry, pl *planner.Planner) *Executor {
	return &Executor{Layout: layout, Store: store, Queue: q, Engine: eng, Bus: bus, Metrics: reg, Planner: pl}
}

// Execute runs task to completion (or failure). It returns the task's
// final status and never leaves the task folder in a
// `developing`/`running` state once it returns, even on error — any
// unexpected failure becomes a `failed` transition.
func (x *Executor) Execute(ctx context.Context, task workflow.Task, opts Options) (workflow.Task, error) {
	if opts.Concurrency < 1 {
		opts.Concurrency = 3
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}

	now := time.Now()
	wf, inst, err := x.prepare(task, opts, now)
	if err != nil {
		return x.fail(task, err, now)
	}

	if err := x.Store.SaveWorkflow(task.ID, wf); err != nil {
		return x.fail(task, err, now)
	}
	if err := x.Store.SaveInstance(task.ID, inst); err != nil {
		return x.fail(task, err, now)
	}

	if x.Bus != nil {
		_ = jsonstore.EnsureDir(x.Layout.LogsDir(task.ID))
		x.Bus.Attach(eventbus.NewLogSink(task.ID, x.Layout.ExecutionLogFile(task.ID), x.Layout.EventsLogFile(task.ID)))
	}
	x.publish(eventbus.WorkflowStarted, task.ID, "", nil)

	task.Status = workflow.TaskDeveloping
	task.UpdatedAt = now
	if err := x.Store.Update(task, now); err != nil {
		return x.fail(task, err, now)
	}

	pool := engine.NewWorkerPool(x.Engine, x.Store, x.Queue, inst.ID, opts.Concurrency, 200*time.Millisecond)
	if x.Metrics != nil {
		pool.SetMetrics(x.Metrics)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		pool.Run(runCtx)
		close(done)
	}()

	finalInst := x.waitForTerminal(ctx, task.ID, opts.PollInterval)
	cancel()
	<-done

	return x.finish(task, wf, finalInst, now)
}

// prepare implements steps 1-2: resume an interrupted instance, or plan
// and start a fresh one.
func (x *Executor) prepare(task workflow.Task, opts Options, now time.Time) (workflow.Workflow, workflow.Instance, error) {
	if opts.Resume {
		wf, err := x.Store.LoadWorkflow(task.ID)
		if err != nil {
			return workflow.Workflow{}, workflow.Instance{}, err
		}
		inst, err := x.Store.LoadInstance(task.ID)
		if err != nil {
			return workflow.Workflow{}, workflow.Instance{}, err
		}
		for _, ns := range inst.NodeStates {
			if ns.Status == workflow.NodeStatusRunning {
				ns.Status = workflow.NodeStatusPending
			}
		}
		state.UpdateInstanceStatus(&inst, workflow.InstanceRunning, now)
		ready := state.GetReadyNodes(&wf, &inst)
		if len(ready) > 0 {
			jobs := make([]workflow.Job, 0, len(ready))
			for _, nodeID := range ready {
				state.MarkNodeReady(&inst, nodeID)
				jobs = append(jobs, workflow.Job{
					Data: workflow.JobData{TaskID: task.ID, InstanceID: inst.ID, NodeID: nodeID},
				})
			}
			if err := x.Queue.EnqueueBatch(jobs, now); err != nil {
				return workflow.Workflow{}, workflow.Instance{}, err
			}
		}
		return wf, inst, nil
	}

	task.Status = workflow.TaskPlanning
	task.UpdatedAt = now
	if err := x.Store.Update(task, now); err != nil {
		return workflow.Workflow{}, workflow.Instance{}, err
	}

	wf, err := x.Planner.Plan(context.Background(), task, now)
	if err != nil {
		return workflow.Workflow{}, workflow.Instance{}, err
	}
	wf.TaskID = task.ID

	instID := wf.ID + "-inst"
	inst := workflow.NewInstance(instID, &wf)
	if err := x.Engine.Start(&wf, inst, now); err != nil {
		return workflow.Workflow{}, workflow.Instance{}, err
	}
	if inst.Status == workflow.InstancePending {
		state.UpdateInstanceStatus(inst, workflow.InstanceRunning, now)
	}
	x.Engine.CheckCompletion(task.ID, &wf, inst, now)

	ready := state.GetReadyNodes(&wf, inst)
	if len(ready) > 0 {
		jobs := make([]workflow.Job, 0, len(ready))
		for _, nodeID := range ready {
			jobs = append(jobs, workflow.Job{
				Data: workflow.JobData{TaskID: task.ID, InstanceID: inst.ID, NodeID: nodeID},
			})
		}
		if err := x.Queue.EnqueueBatch(jobs, now); err != nil {
			return workflow.Workflow{}, workflow.Instance{}, err
		}
	}

	return wf, *inst, nil
}

// waitForTerminal polls instance.json at interval until it reaches a
// terminal status or ctx is cancelled.
func (x *Executor) waitForTerminal(ctx context.Context, taskID string, interval time.Duration) workflow.Instance {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		inst, err := x.Store.LoadInstance(taskID)
		if err == nil && isTerminal(inst.Status) {
			return inst
		}
		select {
		case <-ctx.Done():
			if err == nil {
				return inst
			}
			return workflow.Instance{Status: workflow.InstanceFailed, Error: "execution context cancelled"}
		case <-ticker.C:
		}
	}
}

func isTerminal(s workflow.InstanceStatus) bool {
	return s == workflow.InstanceCompleted || s == workflow.InstanceFailed || s == workflow.InstanceCancelled
}

// finish implements step 5's remainder: render result.md, update the
// task, emit the matching lifecycle event, and report metrics.
func (x *Executor) finish(task workflow.Task, wf workflow.Workflow, inst workflow.Instance, now time.Time) (workflow.Task, error) {
	resultMD := render.Result(task, wf, inst)
	_ = jsonstore.EnsureDir(x.Layout.OutputsDir(task.ID))
	_ = writeFile(x.Layout.ResultFile(task.ID), resultMD)

	switch inst.Status {
	case workflow.InstanceCompleted:
		task.Status = workflow.TaskCompleted
		if x.Metrics != nil {
			x.Metrics.IncTaskCompleted()
		}
		x.publish(eventbus.WorkflowCompleted, task.ID, "", nil)
	case workflow.InstanceCancelled:
		task.Status = workflow.TaskCancelled
	default:
		task.Status = workflow.TaskFailed
		task.Error = inst.Error
		if x.Metrics != nil {
			x.Metrics.IncTaskFailed()
		}
		x.publish(eventbus.WorkflowFailed, task.ID, "", map[string]interface{}{"error": inst.Error})
	}
	task.UpdatedAt = now

	stats := deriveStats(task.ID, wf, inst, now)
	_ = x.Store.SaveStats(task.ID, stats)
	_ = x.Store.AppendTimeline(task.ID, workflow.TimelineEntry{Timestamp: now, Event: "task." + string(task.Status)})

	if err := x.Store.Update(task, now); err != nil {
		return task, err
	}
	if task.Status == workflow.TaskFailed {
		return task, cherrors.Newf(cherrors.GraphInvariantViolation, "task %s failed: %s", task.ID, inst.Error)
	}
	return task, nil
}

// fail folds an executor-level error (planning failure, persistence
// failure) into a terminal task failure: any unexpected exception
// becomes a `failed` transition rather than propagating.
func (x *Executor) fail(task workflow.Task, err error, now time.Time) (workflow.Task, error) {
	task.Status = workflow.TaskFailed
	task.Error = err.Error()
	task.UpdatedAt = now
	_ = x.Store.Update(task, now)
	if x.Metrics != nil {
		x.Metrics.IncTaskFailed()
	}
	x.publish(eventbus.WorkflowFailed, task.ID, "", map[string]interface{}{"error": err.Error()})
	return task, err
}

func (x *Executor) publish(kind eventbus.Kind, taskID, nodeID string, meta map[string]interface{}) {
	if x.Bus == nil {
		return
	}
	x.Bus.Publish(eventbus.Event{Kind: kind, TaskID: taskID, NodeID: nodeID, Timestamp: time.Now(), Meta: meta})
}

func deriveStats(taskID string, wf workflow.Workflow, inst workflow.Instance, now time.Time) workflow.Stats {
	progress := state.GetWorkflowProgress(&wf, &inst)
	attempts := make(map[string]int, len(inst.NodeStates))
	var totalDuration int64
	var totalCost float64
	for id, ns := range inst.NodeStates {
		attempts[id] = ns.Attempts
		totalDuration += ns.DurationMs
		totalCost += ns.CostUSD
	}
	return workflow.Stats{
		TaskID:          taskID,
		Progress:        progress.Fraction,
		TotalDurationMs: totalDuration,
		TotalCostUSD:    totalCost,
		NodeAttempts:    attempts,
		ComputedAt:      now,
	}
}

// writeFile writes content to path via the same temp-then-rename pattern
// jsonstore.WriteJSON uses, for the one artifact (result.md) that isn't
// JSON.
func writeFile(path, content string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil { // #nosec G306
		return err
	}
	return os.Rename(tmp, path)
}
