package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation scope names.
const (
	TracerName   = "orangesearch"
	DBTracerName = "orangesearch/db"
)

// DBOperation is the db.operation attribute of a database span.
type DBOperation string

const (
	DBOperationQuery  DBOperation = "query"
	DBOperationInsert DBOperation = "insert"
	DBOperationUpdate DBOperation = "update"
)

// StartDBSpan starts a client span for a statement against table.
// The returned func ends the span, recording err when non-nil.
//
//	ctx, end := tracing.StartDBSpan(ctx, "search_history", tracing.DBOperationInsert)
//	defer func() { end(err) }()
func StartDBSpan(ctx context.Context, table string, op DBOperation) (context.Context, func(error)) {
	name := string(op)
	if table != "" {
		name += " " + table
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", string(op)),
	}
	if table != "" {
		attrs = append(attrs, attribute.String("db.sql.table", table))
	}
	ctx, span := otel.Tracer(DBTracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, ender(span)
}

// StartSpan starts an internal span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, ender(span)
}

// SetAttributes annotates the span in ctx, if any.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

func ender(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
