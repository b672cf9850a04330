// Package telemetry sets up OpenTelemetry for patchd.
//
// Traces and metrics are exported over OTLP (gRPC or HTTP) when enabled.
// Independently, metrics can be exposed for scraping through the
// Prometheus exporter; Telemetry.MetricsHandler serves them.
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
//	defer tel.Shutdown(ctx)
//	tracer := tel.Tracer("github.com/fyrsmithlabs/patchd/internal/engine")
//
// When nothing is enabled the global no-op providers are used.
package telemetry
