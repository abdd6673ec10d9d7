package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/journeyhq/journey/pkg/otelhelper"
)

// SetupTracing installs the OTLP tracer provider when an exporter endpoint is
// configured. Without one the global provider stays a no-op, so spans cost
// nothing in deployments that don't collect traces.
func SetupTracing(ctx context.Context, serviceName string, logger *slog.Logger) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return
	}

	if _, err := otelhelper.NewTracer(ctx, serviceName); err != nil {
		panic(fmt.Errorf("failed to set up tracing: %w", err))
	}

	logger.InfoContext(ctx, "Tracing enabled", "service", serviceName)
}
