package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("test", LevelInfo)
	l.SetOutput(&buf)

	l.Debug("hidden")
	l.WithFields(map[string]interface{}{"device_id": "D1", "data_type": "CALL_LOGS"}).Warnf("batch %d", 7)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	require.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "[WARN]")
	assert.Contains(t, out, "batch 7 data_type=CALL_LOGS device_id=D1")

	buf.Reset()
	l.SetLevel(LevelError)
	l.Warn("dropped")
	assert.Empty(t, buf.String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel(" DEBUG "))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestTracingMiddleware(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(TracingMiddleware())
	r.Get("/devices/{deviceId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/devices/D1", nil)
	req.Header.Set(chimw.RequestIDHeader, "req-42")
	r.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /devices/{deviceId}", spans[0].Name())

	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "req-42", attrs["request_id"].AsString())
	assert.Equal(t, "/devices/{deviceId}", attrs["http.route"].AsString())
	assert.Equal(t, int64(http.StatusTeapot), attrs["http.status_code"].AsInt64())
}
