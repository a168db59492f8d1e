// Package tracing OpenTelemetry 链路追踪，导出到 Jaeger。
// 未启用时所有入口都是空操作，调用方不用判空。
package tracing

import (
	"context"
	"net/http"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	ServiceName string
	Endpoint    string // Jaeger collector endpoint
	Enabled     bool
	SampleRate  float64 // 0.0-1.0
}

const (
	httpTraceHeader = "X-Trace-ID"
	redisTraceField = "_traceId"
	defaultSpanName = "request"
	tracerName      = "fitness-center/tracing"
)

type traceIDKey struct{}

var enabled atomic.Bool

// Init 配置全局 tracer provider，返回关闭函数。Enabled 为 false 时装 noop provider。
func Init(cfg Config) (shutdown func(context.Context) error, err error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		enabled.Store(false)
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	service := cfg.ServiceName
	if service == "" {
		service = "unknown-service"
	}
	rate := cfg.SampleRate
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	if err != nil {
		return nil, err
	}

	res, err := sdkresource.New(
		context.Background(),
		sdkresource.WithAttributes(attribute.String("service.name", service)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	enabled.Store(true)

	return tp.Shutdown, nil
}

// HTTPMiddleware 为每个请求开 server span，并把 trace ID 回写到响应头。
func HTTPMiddleware(next http.Handler) http.Handler {
	if !enabled.Load() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ExtractHTTP(r.Context(), r)

		name := defaultSpanName
		if r.Method != "" && r.URL != nil {
			name = r.Method + " " + r.URL.Path
		}
		ctx, span := StartSpan(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		)
		if tid := TraceIDFromContext(ctx); tid != "" {
			w.Header().Set(httpTraceHeader, tid)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func TraceIDFromContext(ctx context.Context) string {
	if !enabled.Load() || ctx == nil {
		return ""
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	v, _ := ctx.Value(traceIDKey{}).(string)
	return v
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if !enabled.Load() {
		return ctx
	}

	ctx = context.WithValue(ctx, traceIDKey{}, traceID)
	if tid, err := trace.TraceIDFromHex(traceID); err == nil && tid.IsValid() {
		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    tid,
			TraceFlags: trace.FlagsSampled,
			Remote:     true,
		})
		ctx = trace.ContextWithSpanContext(ctx, sc)
	}
	return ctx
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !enabled.Load() {
		return ctx, trace.SpanFromContext(context.Background())
	}
	if name == "" {
		name = defaultSpanName
	}
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// AddEvent 在当前 span 上记录一个事件。
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := recordingSpan(ctx)
	if span == nil {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetError 把错误记到当前 span 并标记失败。
func SetError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := recordingSpan(ctx)
	if span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func recordingSpan(ctx context.Context) trace.Span {
	if !enabled.Load() || ctx == nil {
		return nil
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return nil
	}
	return span
}

// InjectHTTP 把 trace 上下文注入到出站请求头。
func InjectHTTP(ctx context.Context, req *http.Request) {
	if !enabled.Load() || ctx == nil || req == nil {
		return
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	if tid := TraceIDFromContext(ctx); tid != "" {
		req.Header.Set(httpTraceHeader, tid)
	}
}

// ExtractHTTP 从入站请求头恢复 trace 上下文，兼容只带 X-Trace-ID 的调用方。
func ExtractHTTP(ctx context.Context, req *http.Request) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if !enabled.Load() || req == nil {
		return ctx
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(req.Header))
	if TraceIDFromContext(ctx) != "" {
		return ctx
	}
	if tid := req.Header.Get(httpTraceHeader); tid != "" {
		return ContextWithTraceID(ctx, tid)
	}
	return ctx
}

// InjectRedisStream 把 trace ID 附加到 stream 消息字段。
func InjectRedisStream(ctx context.Context, values map[string]interface{}) {
	if !enabled.Load() || ctx == nil || values == nil {
		return
	}
	if tid := TraceIDFromContext(ctx); tid != "" {
		values[redisTraceField] = tid
	}
}
