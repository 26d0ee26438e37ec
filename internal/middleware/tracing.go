package middleware

import (
	"context"

	"socialsync/internal/observability"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

// TraceHeader echoes the active trace id back to clients.
const TraceHeader = "X-Trace-ID"

// TracingMiddleware continues any incoming W3C trace and wraps the request in
// a server span. The trace id reaches the logger through the user context.
func TracingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		carrier := propagation.HeaderCarrier(c.GetReqHeaders())
		parent := otel.GetTextMapPropagator().Extract(c.UserContext(), carrier)

		ctx, span := observability.StartRequest(parent, c.Method(), c.Route().Path,
			attribute.String("http.method", c.Method()),
			attribute.String("http.target", c.OriginalURL()),
		)
		defer span.End()

		id := span.SpanContext().TraceID().String()
		c.Locals("traceID", id)
		c.Set(TraceHeader, id)
		c.SetUserContext(context.WithValue(ctx, TraceIDKey, id))

		err := c.Next()

		status := c.Response().StatusCode()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if uid := UserID(c); uid != "" {
			span.SetAttributes(attribute.String("enduser.id", uid))
		}
		if err != nil {
			span.RecordError(err)
		}
		if err != nil || status >= fiber.StatusInternalServerError {
			span.SetStatus(codes.Error, "request failed")
		}
		return err
	}
}
