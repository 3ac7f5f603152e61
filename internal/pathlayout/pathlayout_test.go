package pathlayout

import (
	"path/filepath"
	"testing"
)

func TestResolve_ExplicitOverrideWins(t *testing.T) {
	t.Setenv(EnvDataDir, "/env/data")
	l := Resolve("/explicit/data")
	if l.Root() != "/explicit/data" {
		t.Fatalf("expected explicit override to win, got %q", l.Root())
	}
}

func TestResolve_EnvVarUsedWhenNoOverride(t *testing.T) {
	t.Setenv(EnvDataDir, "/env/data")
	l := Resolve("")
	if l.Root() != "/env/data" {
		t.Fatalf("expected env var, got %q", l.Root())
	}
}

func TestResolve_DefaultWhenNeitherSet(t *testing.T) {
	t.Setenv(EnvDataDir, "")
	l := Resolve("")
	if l.Root() != defaultDataDir {
		t.Fatalf("expected default %q, got %q", defaultDataDir, l.Root())
	}
}

func TestTaskPaths_AreFunctionsOfRootAndTaskID(t *testing.T) {
	l := Resolve("/data")
	const id = "task-20260731-120000-abc"

	cases := map[string]string{
		"TaskDir":          l.TaskDir(id),
		"TaskFile":         l.TaskFile(id),
		"WorkflowFile":     l.WorkflowFile(id),
		"InstanceFile":     l.InstanceFile(id),
		"ProcessFile":      l.ProcessFile(id),
		"MessagesFile":     l.MessagesFile(id),
		"StatsFile":        l.StatsFile(id),
		"TimelineFile":     l.TimelineFile(id),
		"ExecutionLogFile": l.ExecutionLogFile(id),
		"EventsLogFile":    l.EventsLogFile(id),
		"ResultFile":       l.ResultFile(id),
	}

	for name, p := range cases {
		if rel, err := filepath.Rel("/data", p); err != nil || rel == p {
			t.Fatalf("%s = %q is not rooted under the data dir", name, p)
		}
		if filepath.Dir(p) == "/data" && name != "TaskDir" {
			t.Fatalf("%s = %q should live inside the task folder, not directly under the root", name, p)
		}
	}

	if got, want := l.TaskFile(id), filepath.Join("/data", "tasks", id, "task.json"); got != want {
		t.Fatalf("TaskFile = %q, want %q", got, want)
	}
}

func TestRootLevelPaths_LiveDirectlyUnderRoot(t *testing.T) {
	l := Resolve("/data")

	for name, got := range map[string]string{
		"QueueFile":      l.QueueFile(),
		"QueueLockFile":  l.QueueLockFile(),
		"RunnerLockFile": l.RunnerLockFile(),
		"MetaFile":       l.MetaFile(),
	} {
		if filepath.Dir(got) != "/data" {
			t.Fatalf("%s = %q, want direct child of /data", name, got)
		}
	}
}

func TestLogsAndOutputsNestUnderTaskDir(t *testing.T) {
	l := Resolve("/data")
	const id = "task-1"

	if got, want := l.ExecutionLogFile(id), filepath.Join(l.LogsDir(id), "execution.log"); got != want {
		t.Fatalf("ExecutionLogFile = %q, want %q", got, want)
	}
	if got, want := l.ResultFile(id), filepath.Join(l.OutputsDir(id), "result.md"); got != want {
		t.Fatalf("ResultFile = %q, want %q", got, want)
	}
}
