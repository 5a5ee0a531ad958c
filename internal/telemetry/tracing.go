package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shaiso/Taskflow/internal/handlers"
)

// TracerName — имя инструментирующей библиотеки.
const TracerName = "github.com/shaiso/Taskflow"

// TracingObserver открывает span на каждый вызов handler'а.
//
// Span кладётся в контекст, который получает handler, поэтому исходящие
// вызовы (например, http handler) становятся его дочерними span'ами.
type TracingObserver struct {
	tracer trace.Tracer
}

// NewTracingObserver создаёт observer. nil tracer означает глобальный TracerProvider.
func NewTracingObserver(tracer trace.Tracer) *TracingObserver {
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	return &TracingObserver{tracer: tracer}
}

// BeforeExecute открывает span "taskflow.handler <type>".
func (o *TracingObserver) BeforeExecute(ctx context.Context, ec *handlers.ExecutionContext) context.Context {
	ctx, _ = o.tracer.Start(ctx, "taskflow.handler "+ec.Node.TypeID,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("taskflow.process.id", ec.Process.ID.String()),
			attribute.String("taskflow.template.id", ec.Process.TemplateID),
			attribute.Int("taskflow.template.version", ec.Process.TemplateVersion),
			attribute.String("taskflow.entry.id", ec.Entry.ID.String()),
			attribute.String("taskflow.node.id", ec.Node.ID),
			attribute.Int("taskflow.entry.retry_count", ec.Entry.RetryCount),
		),
	)
	return ctx
}

// AfterExecute закрывает span и записывает исход.
func (o *TracingObserver) AfterExecute(ctx context.Context, _ *handlers.ExecutionContext, result handlers.ExecutionResult, _ time.Duration) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("taskflow.outcome", string(result.Outcome)))
	if result.Outcome == handlers.OutcomeError {
		span.SetStatus(codes.Error, result.Detail)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
