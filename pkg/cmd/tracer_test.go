package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/journeyhq/journey/pkg/log"
)

func TestSetupTracing_NoEndpointConfigured(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	before := otel.GetTracerProvider()

	SetupTracing(context.Background(), "journey-test", log.WithModule("test"))

	assert.Same(t, before, otel.GetTracerProvider())
}

func TestSetupTracing_InstallsProvider(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318")

	SetupTracing(context.Background(), "journey-test", log.WithModule("test"))

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)
}
