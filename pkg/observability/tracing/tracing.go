package tracing

import (
    "context"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/attribute"
    "go.opentelemetry.io/otel/codes"
    "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
    sdktrace "go.opentelemetry.io/otel/sdk/trace"
    "go.opentelemetry.io/otel/trace"
)

var enabled bool

// Setup configures a global tracer provider when enable=true.
// It returns a shutdown function which should be deferred.
func Setup(enable bool) (func(context.Context) error, error) {
    enabled = enable
    if !enable {
        return func(context.Context) error { return nil }, nil
    }
    exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
    if err != nil {
        return nil, err
    }
    tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
    otel.SetTracerProvider(tp)
    return tp.Shutdown, nil
}

// Span is the handle returned by StartSpan. The zero value is a no-op.
type Span struct{ s trace.Span }

// End finishes the span, marking it failed when err is non-nil.
func (s Span) End(err error) {
    if s.s == nil { return }
    if err != nil {
        s.s.RecordError(err)
        s.s.SetStatus(codes.Error, err.Error())
    }
    s.s.End()
}

// StartSpan starts a tracing span if tracing is enabled.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span) {
    if !enabled {
        return ctx, Span{}
    }
    tr := otel.Tracer("go-glusterd")
    ctx, span := tr.Start(ctx, name, trace.WithAttributes(attrs...))
    return ctx, Span{s: span}
}
