// Package tracing instruments the transport with OpenTelemetry spans and
// metrics and propagates trace context to remote services.
package tracing

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/internal/transport"
)

const instrumentationName = "github.com/PentesterFlow/OpenClient"

// Config configures the tracing middleware. Nil providers resolve to the
// global OpenTelemetry ones.
type Config struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Propagator     propagation.TextMapPropagator
	ServiceName    string
	Attributes     []attribute.KeyValue
}

// Traced starts a client span around every request, injects the trace
// context into the request headers and records request duration.
func Traced(cfg Config) transport.Middleware {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}

	tracer := cfg.TracerProvider.Tracer(instrumentationName)
	meter := cfg.MeterProvider.Meter(instrumentationName)
	duration, _ := meter.Float64Histogram("http.client.request.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of endpoint requests"),
	)

	return func(next transport.Transport) transport.Transport {
		return transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			attrs := []attribute.KeyValue{
				attribute.String("http.request.method", req.Method),
				attribute.String("url.full", req.URL),
			}
			if u, err := url.Parse(req.URL); err == nil {
				attrs = append(attrs, attribute.String("server.address", u.Hostname()))
			}
			if req.Endpoint != "" {
				attrs = append(attrs, attribute.String("openclient.endpoint", req.Endpoint))
			}
			if cfg.ServiceName != "" {
				attrs = append(attrs, attribute.String("service.name", cfg.ServiceName))
			}
			attrs = append(attrs, cfg.Attributes...)

			ctx, span := tracer.Start(ctx, spanName(req),
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			out := req.Clone()
			cfg.Propagator.Inject(ctx, propagation.HeaderCarrier(out.Header))

			start := time.Now()
			resp, err := next.Do(ctx, out)

			status := "ok"
			switch {
			case err != nil:
				status = errors.GetKind(errors.Categorize(err, req.URL)).String()
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			case resp.StatusCode >= 400:
				status = "remote"
				span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
				span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
			default:
				span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
			}

			if duration != nil {
				duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
					attribute.String("http.request.method", req.Method),
					attribute.String("openclient.endpoint", req.Endpoint),
					attribute.String("status", status),
				))
			}
			return resp, err
		})
	}
}

func spanName(req *transport.Request) string {
	if req.Endpoint != "" {
		return req.Endpoint
	}
	return "HTTP " + req.Method
}
