package eventbus

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelSink is an optional second Sink: it turns each lifecycle event
// into an immediately-ended span, so task execution can be traced
// end-to-end without requiring it — a data root with no tracer
// configured simply never attaches one.
type OTelSink struct {
	tracer trace.Tracer
}

// NewOTelSink builds an OTelSink from an already-configured tracer (the
// caller owns provider/exporter setup; this package has no opinion on
// which backend receives spans).
func NewOTelSink(tracer trace.Tracer) *OTelSink {
	return &OTelSink{tracer: tracer}
}

// Emit starts and immediately ends a span named after the event kind.
func (o *OTelSink) Emit(e Event) {
	ctx := context.Background()
	_, span := o.tracer.Start(ctx, string(e.Kind))
	defer span.End()
	o.annotate(span, e)
}

// EmitBatch creates one span per event, in order.
func (o *OTelSink) EmitBatch(ctx context.Context, events []Event) error {
	for _, e := range events {
		_, span := o.tracer.Start(ctx, string(e.Kind))
		o.annotate(span, e)
		span.End()
	}
	return nil
}

// Flush is a no-op; span export is the configured TracerProvider's
// responsibility, not this sink's.
func (o *OTelSink) Flush(_ context.Context) error { return nil }

func (o *OTelSink) annotate(span trace.Span, e Event) {
	span.SetAttributes(
		attribute.String("task_id", e.TaskID),
		attribute.String("node_id", e.NodeID),
	)
	for k, v := range e.Meta {
		span.SetAttributes(attribute.String("meta."+k, fmt.Sprintf("%v", v)))
	}
	if errMsg, ok := e.Meta["error"].(string); ok && errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}
