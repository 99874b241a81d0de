package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the production JSON logger with ISO8601 timestamps.
func newLogger(debug bool) (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		logConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return logConfig.Build()
}

// initTracing installs an OTLP/HTTP tracer provider. With no endpoint the
// global no-op provider stays in place.
func initTracing(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// pushMetrics sends the default registry to a Prometheus pushgateway. Used
// after one-shot runs, which exit before any scrape.
func pushMetrics(ctx context.Context, url string, logger *zap.Logger) {
	if url == "" {
		return
	}
	err := push.New(url, "potoo_mailer").
		Gatherer(prometheus.DefaultGatherer).
		PushContext(ctx)
	if err != nil {
		logger.Warn("Failed to push metrics", zap.String("url", url), zap.Error(err))
	}
}
