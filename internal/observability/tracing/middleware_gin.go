package tracing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/bursar/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	attrActorID     = "bursar.actor_id"
	attrResource    = "bursar.resource"
	attrResourceID  = "bursar.resource_id"
	attrLedgerWrite = "bursar.ledger_write"
	attrErrorCode   = "bursar.error_code"
)

// GinMiddleware opens one server span per API call, tagged with the fee
// resource, the staff actor and whether the call writes to the ledger.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("bursar/http")
	return func(c *gin.Context) {
		method := strings.ToUpper(c.Request.Method)
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		ctx = withCorrelationBaggage(ctx, span)
		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + method + " " + route)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
			attribute.String(attrResource, resourceFromRoute(route)),
			attribute.Bool(attrLedgerWrite, isLedgerWrite(method)),
		}
		if id := strings.TrimSpace(c.Param("id")); id != "" {
			attrs = append(attrs, attribute.String(attrResourceID, id))
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		lastErr := c.Errors.Last()
		switch {
		case status >= http.StatusInternalServerError:
			if lastErr != nil {
				if safeErr := SafeError(lastErr.Err); safeErr != nil {
					span.RecordError(safeErr)
				}
			}
			span.SetStatus(codes.Error, "request error")
		case status >= http.StatusBadRequest && lastErr != nil:
			if safeErr := SafeError(lastErr.Err); safeErr != nil {
				span.SetAttributes(attribute.String(attrErrorCode, safeErr.Error()))
			}
		}
	}
}

// withCorrelationBaggage forwards the request and actor ids to downstream
// services and tags the span with the actor.
func withCorrelationBaggage(ctx context.Context, span trace.Span) context.Context {
	bag := baggage.FromContext(ctx)
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		span.SetAttributes(attribute.String("request_id", requestID))
		bag = setBaggage(bag, "request_id", requestID)
	}
	if actorID := obscontext.ActorIDFromContext(ctx); actorID != "" {
		span.SetAttributes(attribute.String(attrActorID, actorID))
		bag = setBaggage(bag, "actor_id", actorID)
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

func setBaggage(bag baggage.Baggage, key, value string) baggage.Baggage {
	member, err := baggage.NewMemberRaw(key, value)
	if err != nil {
		return bag
	}
	next, err := bag.SetMember(member)
	if err != nil {
		return bag
	}
	return next
}

// resourceFromRoute returns the first path segment under /api, such as
// "fee-collection" or "students".
func resourceFromRoute(route string) string {
	trimmed := strings.TrimPrefix(strings.Trim(route, "/"), "api/")
	if idx := strings.Index(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func isLedgerWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}
