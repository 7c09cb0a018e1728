package hub

import (
	"context"
	"net/http"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const wsConnectSpanName = "websocket.connect"

// startWebSocketSpan opens a server span covering one socket's lifetime.
func startWebSocketSpan(r *http.Request, kind Kind) (context.Context, trace.Span) {
	ctx := context.Background()
	if r != nil {
		ctx = otelapi.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	}
	return otelapi.Tracer("worldbridge/hub").Start(ctx, wsConnectSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(wsSpanAttributes(r, kind)...),
	)
}

func wsSpanAttributes(r *http.Request, kind Kind) []attribute.KeyValue {
	attributes := []attribute.KeyValue{attribute.String("bridge.client.kind", string(kind))}
	if r == nil {
		return attributes
	}
	target := ""
	if r.URL != nil {
		target = r.URL.RequestURI()
	}
	return append(attributes,
		attribute.String("http.method", r.Method),
		attribute.String("http.target", target),
		attribute.String("user_agent", r.UserAgent()),
	)
}
