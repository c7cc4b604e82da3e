package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string
	OpsHTTPAddr  string

	SnowflakeNodeID int64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Scheduler SchedulerConfig
	RateLimit RateLimitConfig
}

// SchedulerConfig drives the billing cycle runner and the rollup sweep.
type SchedulerConfig struct {
	Enabled            bool
	RunInterval        time.Duration
	RunTimeout         time.Duration
	BatchSize          int
	Concurrency        int
	UsageRollupCron    string
	UsageRollupTimeout time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	UsageIngestRate  float64
	UsageIngestBurst int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "meterly"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		OpsHTTPAddr:       getenv("OPS_HTTP_ADDR", ":9090"),
		SnowflakeNodeID:   getenvInt64("SNOWFLAKE_NODE_ID", 1),
		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "postgres")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "meterly"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "meterly.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONNS", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONNS", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME_SECONDS", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_SECONDS", 300),
		Scheduler: SchedulerConfig{
			Enabled:            getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:        getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			RunTimeout:         getenvDuration("SCHEDULER_RUN_TIMEOUT", 5*time.Minute),
			BatchSize:          getenvInt("SCHEDULER_BATCH_SIZE", 100),
			Concurrency:        getenvInt("SCHEDULER_CONCURRENCY", 1),
			UsageRollupCron:    strings.TrimSpace(getenv("SCHEDULER_USAGE_ROLLUP_CRON", "15 0 * * *")),
			UsageRollupTimeout: getenvDuration("SCHEDULER_USAGE_ROLLUP_TIMEOUT", 10*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled:          getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:        strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "localhost:6379")),
			RedisPassword:    getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:          getenvInt("RATE_LIMIT_REDIS_DB", 0),
			UsageIngestRate:  getenvFloat("RATE_LIMIT_USAGE_INGEST_RATE", 50),
			UsageIngestBurst: getenvInt("RATE_LIMIT_USAGE_INGEST_BURST", 100),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	return int(getenvInt64(key, int64(def)))
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go duration strings ("90s") or a bare number of seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return def
}
