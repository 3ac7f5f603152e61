// Package taskstore implements TaskStore: the task folder
// is the single source of truth, and this package is the only place that
// creates, reads, or enumerates it.
//
// Task ids are generated once at creation and never reused. Every other
// lookup — by full id or by unique prefix — falls back to scanning
// pathlayout.TasksDir(), so an optional cache index (index.db, see
// index_sqlite.go) can be wrong, stale, or absent without taking down task
// lookup: it only ever saves a directory listing.
package taskstore

import (
	"crypto/rand"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cahq/orchestrator/internal/cherrors"
	"github.com/cahq/orchestrator/internal/jsonstore"
	"github.com/cahq/orchestrator/internal/pathlayout"
	"github.com/cahq/orchestrator/internal/workflow"
)

// Store is TaskStore: task-folder CRUD plus id resolution.
type Store struct {
	layout *pathlayout.Layout
	index  Index // optional, never authoritative
}

// Index is the optional cache-index contract implemented by
// index_sqlite.go and index_mysql.go. A nil Index disables caching; Store
// still works correctly, just slower on large task counts.
type Index interface {
	Upsert(t workflow.Task) error
	Remove(id string) error
	FindByPrefix(prefix string) ([]string, error)
	Close() error
}

// New builds a Store rooted at layout. idx may be nil.
func New(layout *pathlayout.Layout, idx Index) *Store {
	return &Store{layout: layout, index: idx}
}

// idAlphabet is base36, the character set external consumers parse the
// id suffix against.
const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewTaskID generates a sortable task id:
// "task-<yyyymmdd-HHMMSS>-<suffixLen random base36 chars>". The id
// format is part of the external interface — the timestamp keeps
// directory listings chronological, and callers start with a 3-char
// suffix, widening to 5 only on a same-second collision.
func NewTaskID(now time.Time, suffixLen int) (string, error) {
	suffix, err := randomSuffix(suffixLen)
	if err != nil {
		return "", err
	}
	return "task-" + now.UTC().Format("20060102-150405") + "-" + suffix, nil
}

func randomSuffix(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range raw {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(out), nil
}

// Create writes a new task folder. The first id attempt uses a 3-char
// suffix; a collision (an id already taken) retries with a 5-char one,
// up to 5 times before giving up.
func (s *Store) Create(t workflow.Task, now time.Time) (workflow.Task, error) {
	for attempt := 0; attempt < 5; attempt++ {
		suffixLen := 3
		if attempt > 0 {
			suffixLen = 5
		}
		id, err := NewTaskID(now, suffixLen)
		if err != nil {
			return workflow.Task{}, err
		}
		dir := s.layout.TaskDir(id)
		if _, err := os.Stat(dir); err == nil {
			continue // collision, retry with a new id
		}
		t.ID = id
		t.CreatedAt = now
		t.UpdatedAt = now
		if err := jsonstore.EnsureDir(dir); err != nil {
			return workflow.Task{}, err
		}
		if err := s.saveTask(t); err != nil {
			return workflow.Task{}, err
		}
		if s.index != nil {
			_ = s.index.Upsert(t) // best-effort; the filesystem remains authoritative
		}
		return t, nil
	}
	return workflow.Task{}, cherrors.New(cherrors.ConcurrencyConflict, "could not allocate a unique task id")
}

func (s *Store) saveTask(t workflow.Task) error {
	return jsonstore.WriteJSON(s.layout.TaskFile(t.ID), t, jsonstore.DefaultWriteOptions())
}

// Get loads a task by its exact id.
func (s *Store) Get(id string) (workflow.Task, error) {
	if _, err := os.Stat(s.layout.TaskDir(id)); err != nil {
		return workflow.Task{}, cherrors.Newf(cherrors.NotFound, "task %q not found", id)
	}
	var zero workflow.Task
	t := jsonstore.ReadJSON(s.layout.TaskFile(id), jsonstore.ReadOptions[workflow.Task]{Default: zero})
	if t.ID == "" {
		return workflow.Task{}, cherrors.Newf(cherrors.CorruptJSON, "task.json for %q is missing or unreadable", id)
	}
	return t, nil
}

// Resolve finds the task whose id starts with prefix. It returns
// cherrors.NotFound if no task matches and cherrors.AmbiguousPrefix if
// more than one does, naming the spec's two disambiguation failure modes
// explicitly rather than returning a bare "not found".
func (s *Store) Resolve(prefix string) (workflow.Task, error) {
	if prefix == "" {
		return workflow.Task{}, cherrors.New(cherrors.NotFound, "empty task id")
	}

	matches, err := s.matchIDs(prefix)
	if err != nil {
		return workflow.Task{}, err
	}
	switch len(matches) {
	case 0:
		return workflow.Task{}, cherrors.Newf(cherrors.NotFound, "no task matches %q", prefix)
	case 1:
		return s.Get(matches[0])
	default:
		return workflow.Task{}, cherrors.Newf(cherrors.AmbiguousPrefix, "%q matches %d tasks: %s", prefix, len(matches), strings.Join(matches, ", "))
	}
}

func (s *Store) matchIDs(prefix string) ([]string, error) {
	// An exact match always wins even if it also happens to be a prefix of
	// another id (ids that differ only in a trailing random suffix chunk
	// sharing the first characters are not expected, but this keeps the
	// common case — the caller already has a full id — a single stat
	// instead of a directory scan).
	if _, err := os.Stat(s.layout.TaskDir(prefix)); err == nil {
		return []string{prefix}, nil
	}

	if s.index != nil {
		if ids, err := s.index.FindByPrefix(prefix); err == nil && len(ids) > 0 {
			return ids, nil
		}
	}
	return s.scanPrefix(prefix)
}

func (s *Store) scanPrefix(prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.layout.TasksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var matches []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			matches = append(matches, e.Name())
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// Update persists a modified task and refreshes UpdatedAt.
func (s *Store) Update(t workflow.Task, now time.Time) error {
	t.UpdatedAt = now
	if err := s.saveTask(t); err != nil {
		return err
	}
	if s.index != nil {
		_ = s.index.Upsert(t)
	}
	return nil
}

// Delete removes a task folder entirely. Used by `cah delete`; callers
// are responsible for confirming with the user first.
func (s *Store) Delete(id string) error {
	if err := os.RemoveAll(s.layout.TaskDir(id)); err != nil {
		return err
	}
	if s.index != nil {
		_ = s.index.Remove(id)
	}
	return nil
}

// List enumerates every task folder, newest first. This always scans the
// filesystem directly: List is used by `cah list`, where correctness
// matters more than the index's cached speed.
func (s *Store) List() ([]workflow.Task, error) {
	entries, err := os.ReadDir(s.layout.TasksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	tasks := make([]workflow.Task, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		t, err := s.Get(e.Name())
		if err != nil {
			continue // skip corrupt/partial task folders rather than failing the whole listing
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	return tasks, nil
}

// SaveWorkflow persists the synthesized plan for a task.
func (s *Store) SaveWorkflow(taskID string, wf workflow.Workflow) error {
	return jsonstore.WriteJSON(s.layout.WorkflowFile(taskID), wf, jsonstore.DefaultWriteOptions())
}

// LoadWorkflow reads a task's workflow.json, or returns NotFound.
func (s *Store) LoadWorkflow(taskID string) (workflow.Workflow, error) {
	var zero workflow.Workflow
	wf := jsonstore.ReadJSON(s.layout.WorkflowFile(taskID), jsonstore.ReadOptions[workflow.Workflow]{Default: zero})
	if wf.ID == "" {
		return workflow.Workflow{}, cherrors.Newf(cherrors.NotFound, "workflow.json for task %q not found", taskID)
	}
	return wf, nil
}

// SaveInstance persists a workflow instance's execution state.
func (s *Store) SaveInstance(taskID string, inst workflow.Instance) error {
	return jsonstore.WriteJSON(s.layout.InstanceFile(taskID), inst, jsonstore.DefaultWriteOptions())
}

// LoadInstance reads a task's instance.json, or returns NotFound.
func (s *Store) LoadInstance(taskID string) (workflow.Instance, error) {
	var zero workflow.Instance
	inst := jsonstore.ReadJSON(s.layout.InstanceFile(taskID), jsonstore.ReadOptions[workflow.Instance]{Default: zero})
	if inst.ID == "" {
		return workflow.Instance{}, cherrors.Newf(cherrors.NotFound, "instance.json for task %q not found", taskID)
	}
	return inst, nil
}

// AppendMessage appends a TaskMessage to a task's messages.json via
// gjson/sjson array surgery (see jsonstore.AppendJSONArray) rather than a
// full unmarshal-append-marshal round trip, so fields this build's struct
// does not know about are kept. The append takes no lock.
func (s *Store) AppendMessage(taskID string, msg workflow.TaskMessage) error {
	return jsonstore.AppendJSONArray(s.layout.MessagesFile(taskID), msg)
}

// Messages returns every message recorded for a task.
func (s *Store) Messages(taskID string) []workflow.TaskMessage {
	return jsonstore.ReadJSON(s.layout.MessagesFile(taskID), jsonstore.ReadOptions[[]workflow.TaskMessage]{Default: nil})
}

// MarkMessagesConsumed flips Consumed=true on every message up to and
// including upTo (by Timestamp), used by the handlers' message-drain
// wrapper after it has taken the pending messages before a node runs.
func (s *Store) MarkMessagesConsumed(taskID string, upTo time.Time) error {
	path := s.layout.MessagesFile(taskID)
	msgs := jsonstore.ReadJSON(path, jsonstore.ReadOptions[[]workflow.TaskMessage]{Default: nil})
	changed := false
	for i := range msgs {
		if !msgs[i].Consumed && !msgs[i].Timestamp.After(upTo) {
			msgs[i].Consumed = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return jsonstore.WriteJSON(path, msgs, jsonstore.DefaultWriteOptions())
}

// AppendTimeline appends one entry to a task's timeline.json, same
// array-surgery approach as AppendMessage.
func (s *Store) AppendTimeline(taskID string, entry workflow.TimelineEntry) error {
	return jsonstore.AppendJSONArray(s.layout.TimelineFile(taskID), entry)
}

// Timeline returns every recorded lifecycle entry for a task.
func (s *Store) Timeline(taskID string) []workflow.TimelineEntry {
	return jsonstore.ReadJSON(s.layout.TimelineFile(taskID), jsonstore.ReadOptions[[]workflow.TimelineEntry]{Default: nil})
}

// SaveProcess overwrites a task's process.json with a full typed write
// of info.
func (s *Store) SaveProcess(taskID string, info workflow.ProcessInfo) error {
	return jsonstore.WriteJSON(s.layout.ProcessFile(taskID), info, jsonstore.DefaultWriteOptions())
}

// LoadProcess reads a task's process.json. A missing file is reported
// distinctly (ok=false) from a present-but-dead process: orphan recovery
// treats "never recorded" and "recorded but the PID is gone" differently.
func (s *Store) LoadProcess(taskID string) (info workflow.ProcessInfo, ok bool) {
	if _, err := os.Stat(s.layout.ProcessFile(taskID)); err != nil {
		return workflow.ProcessInfo{}, false
	}
	info = jsonstore.ReadJSON(s.layout.ProcessFile(taskID), jsonstore.ReadOptions[workflow.ProcessInfo]{Default: workflow.ProcessInfo{}})
	return info, true
}

// Heartbeat patches process.json's lastHeartbeat field in place via
// jsonstore.PatchField, avoiding a full ProcessInfo read-modify-write on
// every poll tick of a long-running node.
func (s *Store) Heartbeat(taskID string, now time.Time) error {
	return jsonstore.PatchField(s.layout.ProcessFile(taskID), "lastHeartbeat", now)
}

// SaveStats persists the derived stats.json document `cah stats` renders.
func (s *Store) SaveStats(taskID string, stats workflow.Stats) error {
	return jsonstore.WriteJSON(s.layout.StatsFile(taskID), stats, jsonstore.DefaultWriteOptions())
}

// LoadStats reads a task's stats.json, or the zero value if none exists
// yet (a task that hasn't completed a single node has no stats to show).
func (s *Store) LoadStats(taskID string) workflow.Stats {
	return jsonstore.ReadJSON(s.layout.StatsFile(taskID), jsonstore.ReadOptions[workflow.Stats]{Default: workflow.Stats{TaskID: taskID}})
}

// AppendExecutionLog appends a single human-readable line to a task's
// execution.log, independent of the eventbus's own LogSink writes — used
// for backend stdout deltas, which are prose, not lifecycle events.
func (s *Store) AppendExecutionLog(taskID, line string) error {
	return jsonstore.AppendToFile(s.layout.ExecutionLogFile(taskID), line+"\n")
}
