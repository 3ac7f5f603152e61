// Package eventbus implements a typed, in-process publish/subscribe hub
// for task lifecycle events.
//
// Listeners are best-effort: a slow or panicking listener must never stall
// or crash the node that raised the event.
package eventbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind enumerates the event kinds a task lifecycle can raise.
type Kind string

const (
	TaskCreated       Kind = "task.created"
	TaskStatusChanged Kind = "task.status_changed"
	NodeStarted       Kind = "node.started"
	NodeCompleted     Kind = "node.completed"
	NodeFailed        Kind = "node.failed"
	NodeSkipped       Kind = "node.skipped"
	WorkflowStarted   Kind = "workflow.started"
	WorkflowPaused    Kind = "workflow.paused"
	WorkflowResumed   Kind = "workflow.resumed"
	WorkflowCompleted Kind = "workflow.completed"
	WorkflowFailed    Kind = "workflow.failed"
	MessageReceived   Kind = "message.received"
	HumanInputNeeded  Kind = "human.input_needed"
)

// Event is one record published on the bus.
type Event struct {
	Kind      Kind
	TaskID    string
	NodeID    string
	Timestamp time.Time
	Meta      map[string]interface{}
}

// Listener receives events. Implementations must not block for long —
// Publish calls every listener synchronously but recovers from panics and
// enforces nothing else, so a listener that wants to do heavy work should
// hand off to its own goroutine.
type Listener func(Event)

// Bus is TaskEventBus.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
	log       *zap.Logger
}

// New builds an empty Bus. Until SetLogger is called, recovered listener
// panics go to a no-op logger.
func New() *Bus {
	return &Bus{log: zap.NewNop()}
}

// SetLogger directs recovered listener panics to log.
func (b *Bus) SetLogger(log *zap.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if log != nil {
		b.log = log
	}
}

// Subscribe registers l to receive every future Publish call.
func (b *Bus) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Publish fans e out to every subscriber and reports whether any listener
// existed. A listener panic is recovered and logged — observability must
// never take down task execution, but a swallowed failure must still
// leave a trace.
func (b *Bus) Publish(e Event) bool {
	b.mu.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	log := b.log
	b.mu.RUnlock()

	for _, l := range listeners {
		func(l Listener) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("event listener panicked",
						zap.Any("panic", r),
						zap.String("kind", string(e.Kind)),
						zap.String("task", e.TaskID))
				}
			}()
			l(e)
		}(l)
	}
	return len(listeners) > 0
}

// Sink additionally persists every event it receives, splitting a
// logging path from a durable path via EmitBatch/Flush. Implementations:
// LogSink (execution.log/events.jsonl) and the optional OTelSink.
type Sink interface {
	Emit(e Event)
	EmitBatch(ctx context.Context, events []Event) error
	Flush(ctx context.Context) error
}

// Attach subscribes sink.Emit to the bus, so every Sink is also a Listener
// without sinks having to register themselves.
func (b *Bus) Attach(sink Sink) {
	b.Subscribe(sink.Emit)
}
