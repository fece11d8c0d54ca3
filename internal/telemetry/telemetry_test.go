package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"libraledger/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range tests {
		assert.Equal(t, want, ParseLevel(input), input)
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LogConfig{Level: "info", Format: "json"})

	logger.Debug("hidden")
	logger.Info("borrowed", "book_id", 42)

	var line map[string]any
	require.NoError(t, jsoniter.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "borrowed", line["msg"])
	assert.EqualValues(t, 42, line["book_id"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LogConfig{Level: "debug", Format: "text"})

	logger.Debug("store statement", "action", "insert")

	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "action=insert")
}

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	providers, err := Setup(context.Background(), config.TelemetryConfig{ServiceName: "libraledger"})

	require.NoError(t, err)
	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.Meter)
	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestSetupWithEndpointInstallsSDKProviders(t *testing.T) {
	ctx := context.Background()
	tracerBefore, meterBefore := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tracerBefore)
		otel.SetMeterProvider(meterBefore)
	})

	providers, err := Setup(ctx, config.TelemetryConfig{
		OTLPEndpoint: "http://127.0.0.1:1",
		ServiceName:  "libraledger-test",
		Insecure:     true,
	})
	require.NoError(t, err)

	assert.IsType(t, &sdktrace.TracerProvider{}, providers.Tracer)
	assert.IsType(t, &sdkmetric.MeterProvider{}, providers.Meter)
	assert.Equal(t, providers.Tracer, otel.GetTracerProvider())
	assert.Equal(t, providers.Meter, otel.GetMeterProvider())

	counter, err := providers.Meter.Meter("libraledger/test").Int64Counter("test.counter")
	require.NoError(t, err)
	counter.Add(ctx, 1)

	// the collector is unreachable; shutdown must still return within its deadline
	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_ = providers.Shutdown(ctx)
}
