// Package telemetry sets up OpenTelemetry tracing for emoine commands.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zfogg/emoine/pkg/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// EndpointKey records the WebSocket target on every span's resource
const EndpointKey = attribute.Key("emoine.ws.endpoint")

// Config holds tracing settings
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// host:port for plain HTTP, or a full http(s):// URL
	OTLPEndpoint string
	// WebSocket URL the process talks to, if any
	WSEndpoint   string
	Enabled      bool
	SamplingRate float64
}

// ConfigFromSettings reads the telemetry.* settings
func ConfigFromSettings(serviceName, version string) Config {
	return Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    config.GetString("telemetry.environment"),
		OTLPEndpoint:   config.GetString("telemetry.otlp_endpoint"),
		Enabled:        config.GetBool("telemetry.enabled"),
		SamplingRate:   config.GetFloat64("telemetry.sampling_rate"),
	}
}

// InitTracer installs a global tracer provider exporting over OTLP HTTP and
// returns it so the caller can flush it. Disabled tracing returns nil and
// leaves the no-op provider in place.
func InitTracer(cfg Config) (*sdktrace.TracerProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	exporter, err := newExporter(cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SamplingRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, nil
}

func newResource(cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironment(cfg.Environment),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.WSEndpoint != "" {
		attrs = append(attrs, EndpointKey.String(cfg.WSEndpoint))
	}
	return resource.New(context.Background(),
		resource.WithHost(),
		resource.WithProcessPID(),
		resource.WithAttributes(attrs...),
	)
}

func newExporter(endpoint string) (sdktrace.SpanExporter, error) {
	var opts []otlptracehttp.Option
	if strings.Contains(endpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(context.Background(), opts...)
}

// sampler follows the parent's decision; roots are sampled at rate
func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Shutdown flushes pending spans. A nil provider is a no-op.
func Shutdown(tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return tp.Shutdown(ctx)
}
