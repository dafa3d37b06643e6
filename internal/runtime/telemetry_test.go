package runtime

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/loqalabs/loqa-vote/internal/config"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestTelemetryServesVoteMetrics(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tel, err := setupTelemetry(ctx, "loqa-vote-test", "test", config.TelemetryConfig{TraceSampleRatio: 0}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.shutdown(context.Background()) })
	require.NotNil(t, tel.metrics)

	counter, err := otel.Meter("telemetry-test").Int64Counter("ballots.counted")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	rec := httptest.NewRecorder()
	tel.metrics.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	require.Contains(t, body, "ballots_counted")
	require.Contains(t, body, "go_goroutines")

	_, span := otel.Tracer("telemetry-test").Start(ctx, "root")
	defer span.End()
	require.False(t, span.SpanContext().IsSampled())
}

func TestTraceExporterDefaults(t *testing.T) {
	require.Equal(t, config.TraceExporterNone, traceExporter(config.TelemetryConfig{}))
	require.Equal(t, config.TraceExporterOTLP, traceExporter(config.TelemetryConfig{OTLPEndpoint: "collector:4317"}))
	require.Equal(t, config.TraceExporterStdout, traceExporter(config.TelemetryConfig{
		OTLPEndpoint: "collector:4317", TraceExporter: config.TraceExporterStdout,
	}))
}
