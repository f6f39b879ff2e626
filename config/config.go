// Package config is the root AppConfig for a sequent deployment, grounded
// on internal/config/config.go's mapstructure-tagged struct tree and
// DefaultConfig() from the teacher. Trimmed of the teacher's own
// ingestion/processing batch-and-DLQ product config (this framework has no
// equivalent concept) and extended with the CatchUp and FileTopic sections
// the framework's own substrates and consumers need.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
)

// AppConfig is the root configuration struct, decoded from a map of raw
// values (typically environment variables) via mapstructure, mirroring the
// teacher's mapstructure-tagged AppConfig.
type AppConfig struct {
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	CatchUp       CatchUpConfig       `mapstructure:"catch_up"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	AdminAddress    string        `mapstructure:"admin_address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	S3        S3Config        `mapstructure:"s3"`
	FileTopic FileTopicConfig `mapstructure:"file_topic"`
}

type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// FileTopicConfig configures the internal/filetopic substrate.
type FileTopicConfig struct {
	Dir string `mapstructure:"dir"`
}

// CatchUpConfig mirrors catchup.Options' fields so a deployment can tune
// the latch thresholds without recompiling.
type CatchUpConfig struct {
	ProgressLogIntervalMs int64 `mapstructure:"progress_log_interval_ms"`
	CatchUpIdleMs         int64 `mapstructure:"catch_up_idle_ms"`
}

type ObservabilityConfig struct {
	MetricsAddress string `mapstructure:"metrics_address"`
	LogLevel       string `mapstructure:"log_level"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
}

// Default returns the default configuration, mirroring the teacher's
// DefaultConfig().
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			AdminAddress:    ":8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Postgres: PostgresConfig{
				DSN:             "postgres://localhost:5432/sequent?sslmode=disable",
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Redis: RedisConfig{
				Address:  "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
			S3: S3Config{
				Region:       "us-east-1",
				Bucket:       "sequent-checkpoints",
				UsePathStyle: true,
			},
			FileTopic: FileTopicConfig{
				Dir: "/var/lib/sequent/topics",
			},
		},
		CatchUp: CatchUpConfig{
			ProgressLogIntervalMs: 3000,
			CatchUpIdleMs:         1000,
		},
		Observability: ObservabilityConfig{
			MetricsAddress: ":9090",
			LogLevel:       "info",
			TracingEnabled: false,
		},
	}
}

// envOverrides collects the environment variables this deployment honors
// into the nested-map shape mapstructure.Decode expects, mirroring the
// teacher's os.Getenv-driven overrides in cmd/server/main.go but funneled
// through mapstructure instead of one os.Getenv call per field.
func envOverrides() map[string]interface{} {
	overrides := map[string]interface{}{}

	set := func(path []string, value string) {
		m := overrides
		for _, key := range path[:len(path)-1] {
			next, ok := m[key].(map[string]interface{})
			if !ok {
				next = map[string]interface{}{}
				m[key] = next
			}
			m = next
		}
		m[path[len(path)-1]] = value
	}

	env := map[string][]string{
		"SEQUENT_ADMIN_ADDRESS":     {"server", "admin_address"},
		"SEQUENT_POSTGRES_DSN":      {"storage", "postgres", "dsn"},
		"SEQUENT_REDIS_ADDRESS":     {"storage", "redis", "address"},
		"SEQUENT_REDIS_PASSWORD":    {"storage", "redis", "password"},
		"SEQUENT_S3_BUCKET":         {"storage", "s3", "bucket"},
		"SEQUENT_S3_REGION":         {"storage", "s3", "region"},
		"SEQUENT_S3_ENDPOINT":       {"storage", "s3", "endpoint"},
		"SEQUENT_FILE_TOPIC_DIR":    {"storage", "file_topic", "dir"},
		"CATCHUP_IDLE_MS":           {"catch_up", "catch_up_idle_ms"},
		"PROGRESS_LOG_INTERVAL_MS":  {"catch_up", "progress_log_interval_ms"},
		"LOG_LEVEL":                 {"observability", "log_level"},
		"SEQUENT_METRICS_ADDRESS":   {"observability", "metrics_address"},
		"OTEL_EXPORTER_OTLP_ENDPOINT": {"observability", "otlp_endpoint"},
	}
	for name, path := range env {
		if v, ok := os.LookupEnv(name); ok {
			set(path, v)
		}
	}

	if v, ok := os.LookupEnv("SEQUENT_TRACING_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			set([]string{"observability", "tracing_enabled"}, boolString(b))
		}
	}
	return overrides
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Load builds the default configuration and decodes any recognized
// environment variables over it via mapstructure, matching its
// WeaklyTypedInput mode so string env values coerce into the target
// field's duration/bool/int type.
func Load() (*AppConfig, error) {
	cfg := Default()
	overrides := envOverrides()
	if len(overrides) == 0 {
		return cfg, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           cfg,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(overrides); err != nil {
		return nil, err
	}
	return cfg, nil
}
