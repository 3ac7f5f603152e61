package taskstore

import (
	"testing"
	"time"

	"github.com/cahq/orchestrator/internal/cherrors"
	"github.com/cahq/orchestrator/internal/pathlayout"
	"github.com/cahq/orchestrator/internal/workflow"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	layout := pathlayout.Resolve(t.TempDir())
	return New(layout, nil)
}

func TestCreate_AssignsIDAndPersists(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	created, err := s.Create(workflow.Task{Title: "do a thing", Status: workflow.TaskPending}, now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a generated id")
	}

	got, err := s.Get(created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "do a thing" {
		t.Fatalf("got title %q", got.Title)
	}
}

func TestNewTaskID_Format(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	id, err := NewTaskID(now, 3)
	if err != nil {
		t.Fatalf("NewTaskID: %v", err)
	}
	const prefix = "task-20260102-030405-"
	if len(id) != len(prefix)+3 || id[:len(prefix)] != prefix {
		t.Fatalf("id %q does not match task-YYYYMMDD-HHMMSS-<3 chars>", id)
	}
	for _, c := range id[len(prefix):] {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
			t.Fatalf("id %q has non-base36 suffix char %q", id, c)
		}
	}

	wide, err := NewTaskID(now, 5)
	if err != nil {
		t.Fatalf("NewTaskID: %v", err)
	}
	if len(wide) != len(prefix)+5 {
		t.Fatalf("expected 5-char collision suffix, got %q", wide)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("ghost"); !cherrors.Is(err, cherrors.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestResolve_AmbiguousPrefix(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	a, err := s.Create(workflow.Task{Title: "a"}, now)
	if err != nil {
		t.Fatal(err)
	}
	// Force a shared prefix by writing a second task directly with an id
	// that shares a's first two characters.
	b := workflow.Task{ID: a.ID[:2] + "-extra", Title: "b", CreatedAt: now, UpdatedAt: now}
	if err := s.saveTask(b); err != nil {
		t.Fatal(err)
	}

	_, err = s.Resolve(a.ID[:2])
	if !cherrors.Is(err, cherrors.AmbiguousPrefix) {
		t.Fatalf("expected AmbiguousPrefix, got %v", err)
	}
}

func TestResolve_UniquePrefix(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create(workflow.Task{Title: "solo"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Resolve(created.ID[:8])
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("resolved to %q, want %q", got.ID, created.ID)
	}
}

func TestList_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := s.Create(workflow.Task{Title: "first"}, base)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Create(workflow.Task{Title: "second"}, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("expected newest first, got %q then %q", list[0].ID, list[1].ID)
	}
}

func TestDelete_RemovesFolder(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create(workflow.Task{Title: "to delete"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(created.ID); !cherrors.Is(err, cherrors.NotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}

func TestWorkflowAndInstanceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create(workflow.Task{Title: "wf"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	wf := workflow.Workflow{
		ID:     "wf-1",
		TaskID: created.ID,
		Nodes: []workflow.Node{
			{ID: "start", Type: workflow.NodeStart},
			{ID: "end", Type: workflow.NodeEnd},
		},
		Edges: []workflow.Edge{{ID: "e1", From: "start", To: "end"}},
	}
	if err := s.SaveWorkflow(created.ID, wf); err != nil {
		t.Fatalf("SaveWorkflow: %v", err)
	}
	gotWF, err := s.LoadWorkflow(created.ID)
	if err != nil {
		t.Fatalf("LoadWorkflow: %v", err)
	}
	if gotWF.ID != wf.ID {
		t.Fatalf("got workflow id %q, want %q", gotWF.ID, wf.ID)
	}

	inst := workflow.NewInstance("inst-1", &wf)
	if err := s.SaveInstance(created.ID, *inst); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}
	gotInst, err := s.LoadInstance(created.ID)
	if err != nil {
		t.Fatalf("LoadInstance: %v", err)
	}
	if len(gotInst.NodeStates) != 2 {
		t.Fatalf("expected 2 node states, got %d", len(gotInst.NodeStates))
	}
}

func TestMessages_AppendAndMarkConsumed(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create(workflow.Task{Title: "msgs"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	t1 := time.Now()
	if err := s.AppendMessage(created.ID, workflow.TaskMessage{ID: "m1", Content: "hi", Timestamp: t1}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	t2 := t1.Add(time.Minute)
	if err := s.AppendMessage(created.ID, workflow.TaskMessage{ID: "m2", Content: "later", Timestamp: t2}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if err := s.MarkMessagesConsumed(created.ID, t1); err != nil {
		t.Fatalf("MarkMessagesConsumed: %v", err)
	}
	msgs := s.Messages(created.ID)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if !msgs[0].Consumed {
		t.Fatal("expected first message to be consumed")
	}
	if msgs[1].Consumed {
		t.Fatal("expected second message to remain unconsumed")
	}
}
