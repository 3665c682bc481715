// Package telemetry provides the observability plumbing for flexhook.
//
// It bundles structured logging (zerolog), tracing (OpenTelemetry) and
// Prometheus metrics behind one configuration:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger.WithField("package", "acme/widget").Info("Configuring")
//
// Components that only need a zerolog.Logger take tel.Logger.Zerolog().
//
// # Tracing
//
// One span covers a batch of recipes and a child span covers each recipe:
//
//	ctx, batch := tel.Tracer.StartBatchSpan(ctx, batchID, len(queue))
//	defer batch.End()
//
//	ctx, span := tel.Tracer.StartRecipeSpan(ctx, name, version, "install")
//	telemetry.RecordError(span, err)
//	span.End()
//
// Supported exporters: otlp, stdout, none.
//
// # Metrics
//
//	tel.Metrics.RecordApply("install", telemetry.StatusSuccess, elapsed)
//	tel.Metrics.RecordFlush(telemetry.StatusSuccess)
//	tel.Metrics.SetPending(3)
//
// Metrics live in a private registry exposed by Metrics.Handler, so tests
// can build several collectors in one process.
package telemetry
