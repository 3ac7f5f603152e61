// Package pathlayout is the single source of truth for every path the
// orchestrator reads or writes on disk.
//
// No other package should construct a task-folder or data-root path by
// hand; they should call a Layout method instead, so the on-disk schema
// only has one place it can drift from.
package pathlayout

import (
	"os"
	"path/filepath"
)

// EnvDataDir is the environment variable that overrides the data root.
const EnvDataDir = "CAH_DATA_DIR"

const defaultDataDir = "./.cah-data"

// Layout resolves every path under a single data root.
type Layout struct {
	root string
}

// Resolve picks the data root in priority order: an explicit override
// (e.g. a --data-dir flag), then $CAH_DATA_DIR, then the default
// "./.cah-data". The returned root is not created; callers create
// directories lazily via jsonstore.EnsureDir at write time.
func Resolve(override string) *Layout {
	root := override
	if root == "" {
		root = os.Getenv(EnvDataDir)
	}
	if root == "" {
		root = defaultDataDir
	}
	return &Layout{root: root}
}

// Root returns the data root directory.
func (l *Layout) Root() string { return l.root }

// QueueFile is the single persistent job queue document.
func (l *Layout) QueueFile() string { return filepath.Join(l.root, "queue.json") }

// QueueLockFile is the advisory lock guarding QueueFile.
func (l *Layout) QueueLockFile() string { return filepath.Join(l.root, "queue.json.lock") }

// RunnerLockFile guarantees at most one queue-draining runner.
func (l *Layout) RunnerLockFile() string { return filepath.Join(l.root, "runner.lock") }

// MetaFile holds data-root-level metadata (schema version, etc).
func (l *Layout) MetaFile() string { return filepath.Join(l.root, "meta.json") }

// TasksDir is the parent directory of every task folder.
func (l *Layout) TasksDir() string { return filepath.Join(l.root, "tasks") }

// TaskDir is the folder owned by a single task.
func (l *Layout) TaskDir(taskID string) string { return filepath.Join(l.TasksDir(), taskID) }

// TaskFile is the Task metadata document.
func (l *Layout) TaskFile(taskID string) string { return filepath.Join(l.TaskDir(taskID), "task.json") }

// WorkflowFile is the Workflow plan document.
func (l *Layout) WorkflowFile(taskID string) string {
	return filepath.Join(l.TaskDir(taskID), "workflow.json")
}

// InstanceFile is the WorkflowInstance document — the single source of
// truth for execution progress.
func (l *Layout) InstanceFile(taskID string) string {
	return filepath.Join(l.TaskDir(taskID), "instance.json")
}

// ProcessFile is the ProcessInfo document written by the owning runner.
func (l *Layout) ProcessFile(taskID string) string {
	return filepath.Join(l.TaskDir(taskID), "process.json")
}

// MessagesFile holds the append log of TaskMessage rows.
func (l *Layout) MessagesFile(taskID string) string {
	return filepath.Join(l.TaskDir(taskID), "messages.json")
}

// StatsFile holds the derived per-task stats document.
func (l *Layout) StatsFile(taskID string) string {
	return filepath.Join(l.TaskDir(taskID), "stats.json")
}

// TimelineFile holds the append-only lifecycle event log for a task.
func (l *Layout) TimelineFile(taskID string) string {
	return filepath.Join(l.TaskDir(taskID), "timeline.json")
}

// LogsDir is the folder holding execution.log and events.jsonl.
func (l *Layout) LogsDir(taskID string) string {
	return filepath.Join(l.TaskDir(taskID), "logs")
}

// ExecutionLogFile is the human-readable newline-delimited log.
func (l *Layout) ExecutionLogFile(taskID string) string {
	return filepath.Join(l.LogsDir(taskID), "execution.log")
}

// EventsLogFile is the machine-readable JSONL event log.
func (l *Layout) EventsLogFile(taskID string) string {
	return filepath.Join(l.LogsDir(taskID), "events.jsonl")
}

// OutputsDir holds rendered task artifacts.
func (l *Layout) OutputsDir(taskID string) string {
	return filepath.Join(l.TaskDir(taskID), "outputs")
}

// ResultFile is the rendered result.md artifact for a task.
func (l *Layout) ResultFile(taskID string) string {
	return filepath.Join(l.OutputsDir(taskID), "result.md")
}

// RunnerLogFile is where a spawned runner's stdout/stderr is redirected.
func (l *Layout) RunnerLogFile(taskID string) string {
	return filepath.Join(l.LogsDir(taskID), "runner.out.log")
}

// IndexDBFile is the optional local cache index (never authoritative —
// TaskStore always falls back to scanning TasksDir).
func (l *Layout) IndexDBFile() string { return filepath.Join(l.root, "index.db") }
