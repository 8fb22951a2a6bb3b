package trace

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func setupRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	install(tp)
	return recorder
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"nil", nil, true},
		{"缺少服务名", &Config{Endpoint: "localhost:4317"}, true},
		{"缺少端点", &Config{ServiceName: "scoutquest"}, true},
		{"采样率越界", &Config{ServiceName: "s", Endpoint: "e", Sampler: 1.5}, true},
		{"未知 batcher", &Config{ServiceName: "s", Endpoint: "e", Batcher: "bulk"}, true},
		{"默认配置", DefaultConfig("scoutquest"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStartProducerSpan(t *testing.T) {
	recorder := setupRecorder(t)

	_, span, headers := StartProducerSpan(context.Background(), MessagingSystemNATS, "scoutquest.events.api")
	span.End()

	assert.NotEmpty(t, headers["traceparent"])
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, SpanNameEventPublish("scoutquest.events.api"), spans[0].Name())
	assert.Equal(t, oteltrace.SpanKindProducer, spans[0].SpanKind())

	// 注入的上下文可被恢复
	restored := Extract(context.Background(), headers)
	assert.Equal(t, spans[0].SpanContext().TraceID(), oteltrace.SpanContextFromContext(restored).TraceID())
}

func TestStartProbeSpan(t *testing.T) {
	recorder := setupRecorder(t)

	req := httptest.NewRequest(http.MethodGet, "http://10.0.0.1:8080/health", nil)
	_, span := StartProbeSpan(context.Background(), req, "api", "i-1")
	MarkSpanError(span, errors.New("status 500"))
	span.End()

	assert.NotEmpty(t, req.Header.Get("traceparent"))
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, SpanNameHealthProbe, spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestGinMiddleware(t *testing.T) {
	recorder := setupRecorder(t)
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(GinMiddleware("scoutquest"))
	r.GET("/api/services", func(c *gin.Context) {
		assert.True(t, oteltrace.SpanContextFromContext(c.Request.Context()).IsValid())
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/services", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, recorder.Ended())
	assert.NotNil(t, otel.GetTracerProvider())
}
