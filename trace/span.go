package trace

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func tracer() oteltrace.Tracer {
	return otel.Tracer(TracerName)
}

// Inject 将 ctx 中的追踪上下文写入 headers
func Inject(ctx context.Context, headers map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
}

// Extract 从 headers 恢复追踪上下文
func Extract(ctx context.Context, headers map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}

// StartProducerSpan 启动事件发布 Span，并返回注入了追踪上下文的 headers
func StartProducerSpan(ctx context.Context, system, destination string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span, map[string]string) {
	spanCtx, span := tracer().Start(ctx, SpanNameEventPublish(destination),
		oteltrace.WithSpanKind(oteltrace.SpanKindProducer))
	span.SetAttributes(
		attribute.String(AttrMessagingSystem, system),
		attribute.String(AttrMessagingDestination, destination),
		attribute.String(AttrMessagingOperation, MessagingOperationPublish),
	)
	span.SetAttributes(attrs...)

	headers := map[string]string{}
	Inject(spanCtx, headers)
	return spanCtx, span, headers
}

// StartProbeSpan 启动健康探测的客户端 Span，并把追踪上下文注入探测请求
func StartProbeSpan(ctx context.Context, req *http.Request, service, instanceID string) (context.Context, oteltrace.Span) {
	spanCtx, span := tracer().Start(ctx, SpanNameHealthProbe,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String(AttrServiceName, service),
			attribute.String(AttrInstanceID, instanceID),
			attribute.String(AttrProbeURL, req.URL.String()),
			attribute.String("http.request.method", req.Method),
		))
	otel.GetTextMapPropagator().Inject(spanCtx, propagation.HeaderCarrier(req.Header))
	return spanCtx, span
}

// MarkSpanError 记录错误并将 Span 标记为失败，err 为 nil 时不做处理
func MarkSpanError(span oteltrace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
