// Package telemetry provides structured logging, distributed tracing,
// and Prometheus metrics for the stepflow engine.
//
// Logging is built on zerolog and supports console and JSON output,
// per-component child loggers, and context propagation. Tracing uses
// OpenTelemetry with stdout and OTLP gRPC exporters. Metrics cover run
// lifecycle, step execution, and retry behavior, and are exposed over
// an HTTP endpoint via a dedicated registry.
//
// All three concerns are configured through a single Config value so
// the CLI can wire them up in one place:
//
//	cfg := telemetry.DefaultConfig()
//	logger, err := telemetry.NewLogger(cfg.Logging)
//	metrics, err := telemetry.NewMetrics(cfg.Metrics)
//	tracer, err := telemetry.NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
package telemetry
