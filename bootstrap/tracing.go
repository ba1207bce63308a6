package bootstrap

import (
	"context"
	"time"

	"watchtower/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const tracerName = "watchtower"

// Tracing holds the tracer handed to the service and the correlation engine
type Tracing struct {
	Tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// Shutdown flushes and stops the provider; a no-op when tracing is disabled
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// InitTracing builds the tracer provider. Sampled spans are logged at
// debug level; no exporter is configured.
func InitTracing(cfg *config.Config, sugar *zap.SugaredLogger) *Tracing {
	if !cfg.Tracing.Enabled {
		return &Tracing{Tracer: noop.NewTracerProvider().Tracer(tracerName)}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SampleRatio))),
		sdktrace.WithSpanProcessor(&logSpanProcessor{logger: sugar.Named("trace")}),
	)
	otel.SetTracerProvider(tp)

	sugar.Infow("Tracing enabled",
		"service", cfg.Tracing.ServiceName,
		"sample_ratio", cfg.Tracing.SampleRatio)
	return &Tracing{Tracer: tp.Tracer(cfg.Tracing.ServiceName), provider: tp}
}

// logSpanProcessor writes each finished span as one debug line
type logSpanProcessor struct {
	logger *zap.SugaredLogger
}

func (p *logSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	fields := []interface{}{
		"span", s.Name(),
		"trace_id", s.SpanContext().TraceID().String(),
		"duration", s.EndTime().Sub(s.StartTime()).Round(time.Microsecond),
	}
	for _, attr := range s.Attributes() {
		fields = append(fields, string(attr.Key), attr.Value.Emit())
	}
	if s.Status().Code == codes.Error {
		p.logger.Warnw("Span failed", append(fields, "error", s.Status().Description)...)
		return
	}
	p.logger.Debugw("Span finished", fields...)
}

func (p *logSpanProcessor) Shutdown(context.Context) error { return nil }

func (p *logSpanProcessor) ForceFlush(context.Context) error { return nil }
