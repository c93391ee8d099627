package middleware

import (
	"net/http"
	"strings"

	pkgmw "github.com/agentgate/agentgate/pkg/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("agentgate/http")

// Telemetry opens one server span per request. Besides the usual HTTP
// attributes, spans are tagged with the calling agent and, for queue and
// read-proxy routes, the upstream (service, account) pair, so a trace can
// be tied back to the queue entry or proxy call it produced.
func Telemetry(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		attrs := []attribute.KeyValue{
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		}
		if id := pkgmw.GetIdentity(ctx); id != nil {
			attrs = append(attrs, attribute.String("agentgate.agent", id.AgentName))
		}
		if service, account, ok := upstreamTarget(r.URL.Path); ok {
			attrs = append(attrs,
				attribute.String("agentgate.service", service),
				attribute.String("agentgate.account", account),
			)
		}

		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		sw := wrapWriter(w)
		next.ServeHTTP(sw, r.WithContext(ctx))

		span.SetAttributes(
			attribute.Int("http.response.status_code", sw.status),
			attribute.Int("http.response_content_length", sw.bytes),
		)
	})
}

// upstreamTarget pulls the (service, account) pair out of the two route
// shapes that address an upstream: /api/queue/{service}/{account}/... and
// the read proxy's /api/{service}/{account}/.... Runs before routing, so
// it works on the raw path rather than chi's URL params.
func upstreamTarget(path string) (service, account string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "api" {
		return "", "", false
	}
	rest := parts[1:]
	if rest[0] == "queue" {
		rest = rest[1:]
	}
	switch rest[0] {
	case "agents", "admin", "list":
		return "", "", false
	}
	if len(rest) < 2 {
		return "", "", false
	}
	return rest[0], rest[1], true
}
