package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cahq/orchestrator/internal/jsonstore"
)

// LogSink writes every event belonging to one task to that task's two
// on-disk logs: a human-readable execution.log and a machine-readable
// events.jsonl, written simultaneously rather than choosing one mode,
// since both files must exist per task.
//
// A Bus is process-wide and a runner may drain several tasks in sequence
// on it, so LogSink filters by TaskID rather than assuming it is the only
// listener ever attached — without that, a sink left attached past its
// task's completion would bleed later tasks' events into an old log.
type LogSink struct {
	taskID           string
	executionLogPath string
	eventsLogPath    string
}

// NewLogSink builds a LogSink for a single task's log directory.
func NewLogSink(taskID, executionLogPath, eventsLogPath string) *LogSink {
	return &LogSink{taskID: taskID, executionLogPath: executionLogPath, eventsLogPath: eventsLogPath}
}

// Emit appends e to both logs, ignoring events for any other task.
// Append failures are swallowed — logging must never be the reason a node
// execution fails.
func (s *LogSink) Emit(e Event) {
	if e.TaskID != s.taskID {
		return
	}
	_ = jsonstore.AppendToFile(s.executionLogPath, formatText(e))

	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	_ = jsonstore.AppendToFile(s.eventsLogPath, string(data)+"\n")
}

func formatText(e Event) string {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	line := fmt.Sprintf("%s [%s] task=%s", ts.Format(time.RFC3339), e.Kind, e.TaskID)
	if e.NodeID != "" {
		line += " node=" + e.NodeID
	}
	if len(e.Meta) > 0 {
		if metaJSON, err := json.Marshal(e.Meta); err == nil {
			line += " meta=" + string(metaJSON)
		}
	}
	return line + "\n"
}

// EmitBatch appends every event in order. Nothing in the engine calls it;
// the engine publishes events one at a time through Bus.Publish.
func (s *LogSink) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		s.Emit(e)
	}
	return nil
}

// Flush is a no-op: LogSink writes synchronously.
func (s *LogSink) Flush(_ context.Context) error { return nil }
