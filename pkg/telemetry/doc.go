// Package telemetry provides comprehensive observability instrumentation for the
// provisioning engine.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring and debugging provisioning runs.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "greentic-provision"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithProviderID("github").WithInstallID("install-456")
//	logger.Info("Starting provisioning pipeline")
//	logger.WithError(err).Error("Provisioning failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into pipeline flow and performance:
//
//	ctx, span := tel.Tracer.Start(ctx, "operation.name")
//	defer span.End()
//
//	// Add attributes
//	span.SetAttributes(
//	    attribute.String("install.id", installID),
//	    attribute.String("step", "apply"),
//	)
//
//	// Record events
//	span.AddEvent("validation.complete")
//
//	// Record errors
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track system behavior and performance:
//
//	// Record run execution
//	tel.Metrics.RecordRunStarted("install")
//	tel.Metrics.RecordRunCompleted("succeeded", duration)
//
//	// Record step execution
//	tel.Metrics.RecordStepExecution("apply", "succeeded", duration)
//
//	// Record provider calls
//	tel.Metrics.RecordProviderCall("github", "oauth.start", duration)
//
//	// Record errors
//	tel.Metrics.RecordError("trap", "STEP_TIMEOUT")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	// Publish events
//	tel.Events.PublishRunStarted(providerID, installID, "install")
//	tel.Events.PublishStepCompleted(providerID, installID, "apply", duration)
//	tel.Events.PublishConformanceFailed(providerID, "redaction invariant violated")
//
//	// Subscribe to events
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByProviderID, FilterByInstallID
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument an operation
//	ic := telemetry.StartOperation(ctx, "plan.merge",
//	    attribute.String("step", "validate"))
//	defer ic.End(err)
//
//	ic.Logger.Info("Merging plan patch")
//
//	// Run context
//	ctx = telemetry.WithRunContext(ctx, providerID, installID, "install")
//	defer telemetry.EndRunContext(ctx, providerID, installID, status, err)
//
//	// Step context
//	ctx = telemetry.WithStepContext(ctx, providerID, installID, "apply")
//	defer telemetry.EndStepContext(ctx, providerID, installID, "apply", status, err)
//
//	// Provider operation
//	err := telemetry.RecordProviderOperation(ctx, "github", "oauth.start", func() error {
//	    return handler.Start(ctx, op)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
//	// Custom configuration
//	cfg := &telemetry.Config{
//	    ServiceName: "greentic-provision",
//	    ServiceVersion: "1.0.0",
//	    Environment: "staging",
//	    Logging: telemetry.LoggingConfig{
//	        Level: "info",
//	        Format: "json",
//	    },
//	    Tracing: telemetry.TracingConfig{
//	        Enabled: true,
//	        Exporter: "otlp",
//	        Endpoint: "otel-collector:4317",
//	        SamplingRate: 0.1,
//	    },
//	    Metrics: telemetry.MetricsConfig{
//	        Enabled: true,
//	        ListenAddress: ":9090",
//	    },
//	}
//
// # Performance Considerations
//
// The telemetry system is designed for minimal overhead:
//
//  - Structured logging uses zerolog's zero-allocation approach
//  - Tracing uses sampling to reduce data volume in production
//  - Metrics use Prometheus's efficient storage format
//  - Events are buffered and batched to reduce I/O
//  - All operations are non-blocking when possible
//
// Typical overhead: <1% CPU, <10MB memory for moderate workloads
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// This ensures:
//  - All buffered events are published
//  - All pending traces are exported
//
// Shutdown does not stop the metrics server; it keeps serving until the
// process exits.
//
// # Integration with the provisioning engine
//
// This package provides the helpers an engine integration uses; the
// pkg/provision, pkg/conformance and CLI packages do not call them, so
// nothing is recorded unless a caller wires them in:
//
//  1. Run execution: WithRunContext/EndRunContext for run-level tracing
//     and metrics around the Collect/Validate/Apply/Summary pipeline
//  2. Steps: WithStepContext/EndStepContext for per-step tracing with
//     provider/install context
//  3. Provider calls: RecordProviderOperation for OAuth and webhook call
//     tracking
//  4. Apply: PublishApplyCompleted for apply-report events
//  5. Conformance: PublishConformanceFailed and RecordConformanceCheck
//
// # Exporters
//
// Tracing supports multiple exporters:
//
//  - "stdout": Print traces to stdout (development)
//  - "otlp": Export via OTLP/gRPC (production, works with collectors)
//  - "jaeger": passes Config.Validate, but NewTracer has no Jaeger exporter
//    and returns an unsupported-exporter error
//  - "none": Generate traces but don't export (testing)
//
// Configure via TracingConfig.Exporter and TracingConfig.Endpoint
//
// # Common Metrics
//
// Key metrics exposed:
//
//  - greentic_provision_runs_started_total{mode}
//  - greentic_provision_runs_completed_total{status}
//  - greentic_provision_run_duration_seconds{status}
//  - greentic_provision_steps_executed_total{step,status}
//  - greentic_provision_step_duration_seconds{step}
//  - greentic_provision_provider_calls_total{provider,operation}
//  - greentic_provision_provider_call_duration_seconds{provider,operation}
//  - greentic_provision_errors_by_class_total{class}
//  - greentic_provision_conformance_checks_total{pack_id,status}
//  - greentic_provision_active_runs
//
// # Best Practices
//
//  1. Always use context to propagate telemetry
//  2. Use component-specific loggers for clarity
//  3. Add meaningful attributes to spans
//  4. Record both success and failure metrics
//  5. Use appropriate log levels
//  6. Filter events to avoid overwhelming subscribers
//  7. Monitor telemetry overhead in production
//  8. Configure sampling for high-volume systems
//  9. Always call defer span.End() after starting a span
//  10. Shut down gracefully to avoid data loss
//
// # Security Considerations
//
//  - Never log sensitive data (credentials, keys, tokens)
//  - Redacted secret values must never reach a log field or event payload
//  - Use secure connections (TLS) for trace exporters in production
//  - Limit metrics endpoint access via network policies
//  - Consider event data before adding to audit logs
//
package telemetry
