package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/meterly/internal/config"
)

// Config is the observability view of the process configuration. Service
// identity comes from config.Config; exporter and log knobs may be overridden
// through the standard OTEL_* and LOG_* variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	// InstanceID identifies this replica; it is the snowflake node id, which is
	// already unique per running engine.
	InstanceID string

	LogLevel              string
	LogFormat             string
	LogSamplingInitial    int
	LogSamplingThereafter int

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "meterly"
	}

	protocol := strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = strings.ToLower(traces)
	}

	return Config{
		ServiceName: serviceName,
		Environment: getenv("DEPLOYMENT_ENV", strings.TrimSpace(cfg.Environment)),
		Version:     getenv("SERVICE_VERSION", strings.TrimSpace(cfg.AppVersion)),
		InstanceID:  strconv.FormatInt(cfg.SnowflakeNodeID, 10),

		LogLevel:              strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:             strings.ToLower(getenv("LOG_FORMAT", "json")),
		LogSamplingInitial:    getenvInt("LOG_SAMPLING_INITIAL", 100),
		LogSamplingThereafter: getenvInt("LOG_SAMPLING_THEREAFTER", 100),

		OtelEnabled:          getenvBool("OTEL_ENABLED", false),
		OtelExporterEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", strings.TrimSpace(cfg.OTLPEndpoint)),
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    samplingRatio(getenvFloat("OTEL_SAMPLING_RATIO", 0.1)),
	}
}

// Debug reports whether stack traces should accompany error logs.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// samplingRatio keeps the ratio inside (0, 1]; anything else samples every
// trace.
func samplingRatio(ratio float64) float64 {
	if ratio <= 0 || ratio > 1 {
		return 1
	}
	return ratio
}

func getenv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}

func getenvInt(key string, def int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return parsed
}
