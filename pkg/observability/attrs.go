package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Gateway semantic convention attributes. Params and results never become
// attributes; the digest stands in for the payload.
var (
	AttrService      = attribute.Key("gangway.service")
	AttrAction       = attribute.Key("gangway.action")
	AttrStatus       = attribute.Key("gangway.status")
	AttrErrorCode    = attribute.Key("gangway.error.code")
	AttrRetryable    = attribute.Key("gangway.error.retryable")
	AttrParamsDigest = attribute.Key("gangway.params.digest")
	AttrPlugin       = attribute.Key("gangway.plugin")
	AttrSinkKind     = attribute.Key("gangway.audit.sink")
)

// DispatchOperation builds the attribute set for one dispatched command.
func DispatchOperation(service, action, paramsDigest string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrService.String(service),
		AttrAction.String(action),
		AttrParamsDigest.String(paramsDigest),
	}
}

// OutcomeAttrs builds the attribute set for a terminal envelope.
func OutcomeAttrs(status, errorCode string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{AttrStatus.String(status)}
	if errorCode != "" {
		attrs = append(attrs, AttrErrorCode.String(errorCode))
	}
	return attrs
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
