// Package telemetry provides OpenTelemetry instrumentation for ragdocd.
//
// # Overview
//
// This package implements distributed tracing and metrics collection using the
// OpenTelemetry Go SDK. It exports telemetry data to an OTEL Collector, which
// forwards to VictoriaMetrics (metrics, logs, traces).
//
// # Usage
//
// Create telemetry instance:
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Use tracer and meter:
//
//	tracer := tel.Tracer("ragdocd.retrieval")
//	ctx, span := tracer.Start(ctx, "RetrievalEngine.Query")
//	defer span.End()
//
//	meter := tel.Meter("ragdocd.retrieval")
//	counter, _ := meter.Int64Counter("retrieval.requests")
//	counter.Add(ctx, 1)
//
// # Configuration
//
// Callers build a *Config starting from NewDefaultConfig. ragdocd sets
// Enabled from OBSERVABILITY_ENABLE_TELEMETRY and ServiceName from
// OBSERVABILITY_SERVICE_NAME; every other field keeps its default.
//
// # Error Handling
//
// Telemetry failures do not crash the application. If telemetry cannot be
// initialized, the instance degrades gracefully and returns no-op providers.
//
// # Testing
//
// Use TestTelemetry for tests:
//
//	tt := telemetry.NewTestTelemetry()
//	tracer := tt.Tracer("test")
//	_, span := tracer.Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
