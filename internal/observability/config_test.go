package observability

import (
	"testing"

	"github.com/smallbiznis/meterly/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"DEPLOYMENT_ENV", "SERVICE_VERSION", "LOG_LEVEL", "LOG_FORMAT",
		"LOG_SAMPLING_INITIAL", "LOG_SAMPLING_THEREAFTER", "OTEL_ENABLED",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_PROTOCOL",
		"OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "OTEL_SAMPLING_RATIO",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig(config.Config{
		AppVersion:      "1.2.0",
		Environment:     "production",
		OTLPEndpoint:    "collector:4317",
		SnowflakeNodeID: 7,
	})

	assert.Equal(t, "meterly", cfg.ServiceName)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, "7", cfg.InstanceID)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 100, cfg.LogSamplingInitial)
	assert.Equal(t, 100, cfg.LogSamplingThereafter)
	assert.False(t, cfg.OtelEnabled)
	assert.Equal(t, "collector:4317", cfg.OtelExporterEndpoint)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.InDelta(t, 0.1, cfg.OtelSamplingRatio, 1e-9)
	assert.False(t, cfg.Debug())
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_SAMPLING_INITIAL", "10")
	t.Setenv("LOG_SAMPLING_THEREAFTER", "oops")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP")
	t.Setenv("OTEL_SAMPLING_RATIO", "4")

	cfg := LoadConfig(config.Config{AppName: "meterly-eu", Environment: "production"})

	assert.Equal(t, "meterly-eu", cfg.ServiceName)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10, cfg.LogSamplingInitial)
	assert.Equal(t, 100, cfg.LogSamplingThereafter)
	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.True(t, cfg.Debug())
}

func TestDebugInDevelopmentEnvironments(t *testing.T) {
	for _, env := range []string{"dev", "Development", "local", "test"} {
		assert.True(t, Config{LogLevel: "info", Environment: env}.Debug(), env)
	}
	assert.False(t, Config{LogLevel: "warn", Environment: "staging"}.Debug())
}
