package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/bursar/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func withActor(actorID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := obscontext.WithRequestID(c.Request.Context(), "req-9")
		ctx = obscontext.WithActorID(ctx, actorID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func TestGinMiddlewareTagsLedgerWrites(t *testing.T) {
	recorder := recordSpans(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(withActor("clerk-7"), GinMiddleware())

	var actorBaggage string
	r.POST("/api/fee-collection", func(c *gin.Context) {
		actorBaggage = baggage.FromContext(c.Request.Context()).Member("actor_id").Value()
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/fee-collection", nil))
	require.Equal(t, http.StatusOK, w.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP POST /api/fee-collection", spans[0].Name())
	attrs := spanAttrs(spans[0])
	assert.Equal(t, "fee-collection", attrs[attrResource].AsString())
	assert.True(t, attrs[attrLedgerWrite].AsBool())
	assert.Equal(t, "clerk-7", attrs[attrActorID].AsString())
	assert.Equal(t, "req-9", attrs["request_id"].AsString())
	assert.Equal(t, "clerk-7", actorBaggage)
}

func TestGinMiddlewareRecordsRejectionsAndFailures(t *testing.T) {
	recorder := recordSpans(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())

	r.GET("/api/students/:id/statement", func(c *gin.Context) {
		_ = c.Error(assert.AnError)
		c.Status(http.StatusNotFound)
	})
	r.GET("/api/reports/collections", func(c *gin.Context) {
		_ = c.Error(assert.AnError)
		c.Status(http.StatusInternalServerError)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/students/42/statement", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/reports/collections", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	notFound := spanAttrs(spans[0])
	assert.Equal(t, "students", notFound[attrResource].AsString())
	assert.Equal(t, "42", notFound[attrResourceID].AsString())
	assert.False(t, notFound[attrLedgerWrite].AsBool())
	assert.NotEmpty(t, notFound[attrErrorCode].AsString())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, "reports", spanAttrs(spans[1])[attrResource].AsString())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestResourceFromRoute(t *testing.T) {
	assert.Equal(t, "fee-summary", resourceFromRoute("/api/fee-summary/all"))
	assert.Equal(t, "health", resourceFromRoute("/health"))
	assert.Equal(t, "unknown", resourceFromRoute("/"))
}
