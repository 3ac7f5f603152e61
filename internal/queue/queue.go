// Package queue implements the single queue.json document that feeds
// the node worker pool.
//
// Every mutation goes through filelock.WithLock on the queue lock file, so
// two runner processes (or a runner and a CLI command injecting a message)
// never interleave writes. The document itself is read and rewritten in
// full on each mutation — queues stay small enough (bounded by in-flight
// nodes across all tasks) that this is simpler and safer than an
// append-only log with compaction.
package queue

import (
	"sort"
	"time"

	"github.com/cahq/orchestrator/internal/filelock"
	"github.com/cahq/orchestrator/internal/jsonstore"
	"github.com/cahq/orchestrator/internal/pathlayout"
	"github.com/cahq/orchestrator/internal/workflow"
)

// document is the on-disk shape of queue.json.
type document struct {
	Jobs []workflow.Job `json:"jobs"`
}

// Queue is WorkflowQueue.
type Queue struct {
	layout *pathlayout.Layout
	lock   *filelock.Lock
}

// New builds a Queue rooted at layout, guarded by layout's queue lock file.
func New(layout *pathlayout.Layout) *Queue {
	return &Queue{layout: layout, lock: filelock.New(layout.QueueLockFile(), false)}
}

func (q *Queue) load() document {
	return jsonstore.ReadJSON(q.layout.QueueFile(), jsonstore.ReadOptions[document]{Default: document{}})
}

func (q *Queue) save(doc document) error {
	return jsonstore.WriteJSON(q.layout.QueueFile(), doc, jsonstore.DefaultWriteOptions())
}

// Enqueue upserts a single job by its id (spec: retries of the same
// (instance, node, attempt) replace the prior entry rather than
// duplicating it).
func (q *Queue) Enqueue(job workflow.Job, now time.Time) error {
	return filelock.WithLock(q.lock, func() error {
		doc := q.load()
		if job.ID == "" {
			job.ID = workflow.JobID(job.Data.InstanceID, job.Data.NodeID, job.Data.Attempt)
		}
		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}
		if job.ProcessAt.IsZero() {
			job.ProcessAt = now.Add(job.Delay)
		}
		if job.MaxAttempts == 0 {
			job.MaxAttempts = workflow.DefaultMaxAttempts
		}
		if job.Status == "" {
			job.Status = workflow.JobWaiting
		}
		upsert(&doc, job)
		return q.save(doc)
	})
}

// EnqueueBatch upserts several jobs under a single lock acquisition —
// used when a parallel or foreach node fans out many ready nodes at once,
// so the queue lock is taken once rather than once per node.
func (q *Queue) EnqueueBatch(jobs []workflow.Job, now time.Time) error {
	return filelock.WithLock(q.lock, func() error {
		doc := q.load()
		for _, job := range jobs {
			if job.ID == "" {
				job.ID = workflow.JobID(job.Data.InstanceID, job.Data.NodeID, job.Data.Attempt)
			}
			if job.CreatedAt.IsZero() {
				job.CreatedAt = now
			}
			if job.ProcessAt.IsZero() {
				job.ProcessAt = now.Add(job.Delay)
			}
			if job.MaxAttempts == 0 {
				job.MaxAttempts = workflow.DefaultMaxAttempts
			}
			if job.Status == "" {
				job.Status = workflow.JobWaiting
			}
			upsert(&doc, job)
		}
		return q.save(doc)
	})
}

func upsert(doc *document, job workflow.Job) {
	for i, existing := range doc.Jobs {
		if existing.ID == job.ID {
			doc.Jobs[i] = job
			return
		}
	}
	doc.Jobs = append(doc.Jobs, job)
}

// Dequeue claims and marks active the single highest-priority waiting job
// whose ProcessAt has elapsed, or (zero, false) if none is ready. Ties
// break by ProcessAt, ordering by (priority, insertion order) rather
// than id comparison — FIFO within a priority band.
func (q *Queue) Dequeue(now time.Time) (workflow.Job, bool, error) {
	return q.DequeueFor("", now)
}

// DequeueFor is Dequeue optionally filtered to a single instance: a node
// worker pool bound to one running instance (the normal case — the
// executor starts one per task) only ever claims that instance's jobs,
// so two tasks running concurrently under
// the same runner process never steal each other's worker slots. An empty
// instanceID claims across every instance, used by diagnostic tooling and
// tests.
func (q *Queue) DequeueFor(instanceID string, now time.Time) (workflow.Job, bool, error) {
	var claimed workflow.Job
	var ok bool
	err := filelock.WithLock(q.lock, func() error {
		doc := q.load()
		idx := -1
		for i, j := range doc.Jobs {
			if j.Status != workflow.JobWaiting || j.ProcessAt.After(now) {
				continue
			}
			if instanceID != "" && j.Data.InstanceID != instanceID {
				continue
			}
			if idx == -1 {
				idx = i
				continue
			}
			if better(j, doc.Jobs[idx]) {
				idx = i
			}
		}
		if idx == -1 {
			return nil
		}
		doc.Jobs[idx].Status = workflow.JobActive
		claimed = doc.Jobs[idx]
		ok = true
		return q.save(doc)
	})
	return claimed, ok, err
}

// better reports whether a should be dequeued ahead of b.
func better(a, b workflow.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ProcessAt.Before(b.ProcessAt)
}

// Complete removes jobID from the queue entirely: authoritative progress
// lives in instance.json, not in a completed job record sitting in
// queue.json.
func (q *Queue) Complete(jobID string) error {
	return q.remove(jobID)
}

// Fail removes jobID from the queue: a terminal, non-retryable failure.
// Retryable failures go through Requeue instead, which keeps the job
// waiting with a bumped attempt counter — Fail is only for the path that
// has exhausted retries or hit a permanent error.
func (q *Queue) Fail(jobID, errMsg string) error {
	return q.remove(jobID)
}

func (q *Queue) remove(jobID string) error {
	return filelock.WithLock(q.lock, func() error {
		doc := q.load()
		kept := doc.Jobs[:0]
		for _, j := range doc.Jobs {
			if j.ID != jobID {
				kept = append(kept, j)
			}
		}
		doc.Jobs = kept
		return q.save(doc)
	})
}

// MarkWaitingHuman parks a job awaiting an external TaskMessage or
// operator action (human node).
func (q *Queue) MarkWaitingHuman(jobID string) error {
	return q.setStatus(jobID, workflow.JobWaitingHuman, "")
}

func (q *Queue) setStatus(jobID string, status workflow.JobStatus, errMsg string) error {
	return filelock.WithLock(q.lock, func() error {
		doc := q.load()
		for i, j := range doc.Jobs {
			if j.ID == jobID {
				doc.Jobs[i].Status = status
				doc.Jobs[i].Error = errMsg
				return q.save(doc)
			}
		}
		return nil // job already gone; idempotent no-op
	})
}

// Resume transitions a waiting-human job back to waiting, so the next
// Dequeue can pick it up (spec: resume after a human node is answered).
func (q *Queue) Resume(jobID string, now time.Time) error {
	return filelock.WithLock(q.lock, func() error {
		doc := q.load()
		for i, j := range doc.Jobs {
			if j.ID == jobID {
				doc.Jobs[i].Status = workflow.JobWaiting
				doc.Jobs[i].ProcessAt = now
				return q.save(doc)
			}
		}
		return nil
	})
}

// Requeue resets a job to waiting with a future ProcessAt — used by the
// node worker's retry path after a transient failure's backoff delay.
func (q *Queue) Requeue(jobID string, processAt time.Time, attempts int) error {
	return filelock.WithLock(q.lock, func() error {
		doc := q.load()
		for i, j := range doc.Jobs {
			if j.ID == jobID {
				doc.Jobs[i].Status = workflow.JobWaiting
				doc.Jobs[i].ProcessAt = processAt
				doc.Jobs[i].Attempts = attempts
				return q.save(doc)
			}
		}
		return nil
	})
}

// RemoveInstanceJobs deletes every job belonging to instanceID — used when
// a workflow is cancelled or a task is deleted, so stale jobs don't
// resurrect a dead instance.
func (q *Queue) RemoveInstanceJobs(instanceID string) error {
	return filelock.WithLock(q.lock, func() error {
		doc := q.load()
		kept := doc.Jobs[:0]
		for _, j := range doc.Jobs {
			if j.Data.InstanceID != instanceID {
				kept = append(kept, j)
			}
		}
		doc.Jobs = kept
		return q.save(doc)
	})
}

// CleanupOldJobs drops completed/failed jobs older than olderThan,
// keeping queue.json from growing unbounded across a long-lived data root.
func (q *Queue) CleanupOldJobs(now time.Time, olderThan time.Duration) (removed int, err error) {
	err = filelock.WithLock(q.lock, func() error {
		doc := q.load()
		kept := doc.Jobs[:0]
		for _, j := range doc.Jobs {
			terminal := j.Status == workflow.JobCompleted || j.Status == workflow.JobFailed
			if terminal && now.Sub(j.CreatedAt) > olderThan {
				removed++
				continue
			}
			kept = append(kept, j)
		}
		doc.Jobs = kept
		return q.save(doc)
	})
	return removed, err
}

// Drain returns a snapshot of every job currently in the queue, sorted by
// priority then ProcessAt, for diagnostic tooling (`cah stats`, orphan
// recovery's audit of in-flight jobs at startup).
func (q *Queue) Drain() []workflow.Job {
	doc := q.load()
	out := make([]workflow.Job, len(doc.Jobs))
	copy(out, doc.Jobs)
	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })
	return out
}

// JobsForInstance returns every job belonging to instanceID, or every job
// in the queue if instanceID is empty.
func (q *Queue) JobsForInstance(instanceID string) []workflow.Job {
	doc := q.load()
	if instanceID == "" {
		out := make([]workflow.Job, len(doc.Jobs))
		copy(out, doc.Jobs)
		return out
	}
	var out []workflow.Job
	for _, j := range doc.Jobs {
		if j.Data.InstanceID == instanceID {
			out = append(out, j)
		}
	}
	return out
}
