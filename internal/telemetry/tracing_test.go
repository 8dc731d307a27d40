package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	shutdown, err := Setup(context.Background(), Config{Enabled: true, SampleRatio: 1}, sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "stage.scrape")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "stage.scrape", ended[0].Name())
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	require.NotNil(t, otel.GetTextMapPropagator())
}
