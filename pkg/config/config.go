package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/galaxyhub/pkg/observability"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
	"github.com/platinummonkey/galaxyhub/pkg/storage/postgres"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Observability ObservabilityConfig
	GitHub        GitHubConfig
	Imports       ImportConfig
	Webhooks      WebhookConfig
	Search        SearchConfig
	RateLimit     RateLimitConfig
	Maintenance   MaintenanceConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// Per-request deadline applied by the timeout middleware.
	RequestTimeout time.Duration
	CORSOrigins    []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// GitHubConfig configures the GitHub API client used for token exchange
// and role imports.
type GitHubConfig struct {
	// APIURL is empty for github.com; set it for GitHub Enterprise.
	APIURL string
	// Token authenticates server-side fetches during imports.
	Token string
}

// ImportConfig tunes the import worker pool.
type ImportConfig struct {
	Workers          int
	QueueSize        int
	TaskTimeout      time.Duration
	StaleAfter       time.Duration
	MaxArtifactBytes int64
}

// WebhookConfig holds inbound verification secrets and outbound delivery settings.
type WebhookConfig struct {
	GitHubSecret        string
	TravisPublicKeyPath string
	// StoreDSN selects the outbound subscription store: "sqlite:<path>" or a postgres URL.
	StoreDSN          string
	DeliveryWorkers   int
	MaxRetries        int
	PerEndpointPerMin int
}

// SearchConfig selects the search engine.
type SearchConfig struct {
	// Engine is "postgres" or "memory"; empty follows the storage type.
	Engine string
}

// RateLimitConfig configures API rate limiting.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
	// Distributed uses the storage Redis so limits hold across replicas.
	Distributed bool
}

// MaintenanceConfig holds cron schedules for the maintenance binary.
type MaintenanceConfig struct {
	ReindexSchedule       string
	StaleImportsSchedule  string
	PurgeNotifications    string
	RecomputeScores       string
	ExpireTokens          string
	NotificationRetention time.Duration
	TokenLifetime         time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Observability: loadObservabilityConfig(),
		GitHub: GitHubConfig{
			APIURL: getEnv("GALAXY_GITHUB_API_URL", ""),
			Token:  getEnv("GALAXY_GITHUB_TOKEN", ""),
		},
		Imports: ImportConfig{
			Workers:          getEnvInt("GALAXY_IMPORT_WORKERS", 4),
			QueueSize:        getEnvInt("GALAXY_IMPORT_QUEUE_SIZE", 256),
			TaskTimeout:      getEnvDuration("GALAXY_IMPORT_TIMEOUT", 10*time.Minute),
			StaleAfter:       getEnvDuration("GALAXY_IMPORT_STALE_AFTER", time.Hour),
			MaxArtifactBytes: getEnvInt64("GALAXY_MAX_ARTIFACT_BYTES", 20<<20),
		},
		Webhooks: WebhookConfig{
			GitHubSecret:        getEnv("GALAXY_GITHUB_WEBHOOK_SECRET", ""),
			TravisPublicKeyPath: getEnv("GALAXY_TRAVIS_PUBLIC_KEY", ""),
			StoreDSN:            getEnv("GALAXY_WEBHOOK_STORE", ""),
			DeliveryWorkers:     getEnvInt("GALAXY_WEBHOOK_WORKERS", 2),
			MaxRetries:          getEnvInt("GALAXY_WEBHOOK_MAX_RETRIES", 5),
			PerEndpointPerMin:   getEnvInt("GALAXY_WEBHOOK_RATE_PER_MIN", 60),
		},
		Search: SearchConfig{
			Engine: getEnv("GALAXY_SEARCH_ENGINE", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("GALAXY_RATE_LIMIT_ENABLED", false),
			RequestsPerMinute: getEnvInt("GALAXY_RATE_LIMIT_RPM", 600),
			Burst:             getEnvInt("GALAXY_RATE_LIMIT_BURST", 50),
			Distributed:       getEnvBool("GALAXY_RATE_LIMIT_DISTRIBUTED", false),
		},
		Maintenance: MaintenanceConfig{
			ReindexSchedule:       getEnv("GALAXY_CRON_REINDEX", "@every 6h"),
			StaleImportsSchedule:  getEnv("GALAXY_CRON_STALE_IMPORTS", "@every 5m"),
			PurgeNotifications:    getEnv("GALAXY_CRON_PURGE_NOTIFICATIONS", "@daily"),
			RecomputeScores:       getEnv("GALAXY_CRON_RECOMPUTE_SCORES", "@every 1h"),
			ExpireTokens:          getEnv("GALAXY_CRON_EXPIRE_TOKENS", "@daily"),
			NotificationRetention: getEnvDuration("GALAXY_NOTIFICATION_RETENTION", 90*24*time.Hour),
			TokenLifetime:         getEnvDuration("GALAXY_TOKEN_LIFETIME", 365*24*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GALAXY_HOST", "0.0.0.0"),
		Port:            getEnv("GALAXY_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GALAXY_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GALAXY_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("GALAXY_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GALAXY_SHUTDOWN_TIMEOUT", 30*time.Second),
		RequestTimeout:  getEnvDuration("GALAXY_REQUEST_TIMEOUT", 30*time.Second),
		CORSOrigins:     getEnvList("GALAXY_CORS_ORIGINS"),
		HealthPort:      getEnv("GALAXY_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if v := getEnv("GALAXY_STORAGE_TYPE", ""); v != "" {
		cfg.Type = v
	}
	if v := getEnv("GALAXY_ARTIFACT_BACKEND", ""); v != "" {
		cfg.ArtifactBackend = v
	}
	if v := getEnv("GALAXY_FILESYSTEM_ROOT", ""); v != "" {
		cfg.FilesystemRoot = v
	}

	if v := getEnv("GALAXY_POSTGRES_URL", ""); v != "" {
		cfg.PostgresURL = v
	}
	cfg.PostgresReplicaURLs = postgres.ParseReplicaURLs(getEnv("GALAXY_POSTGRES_REPLICA_URLS", ""))
	if v := getEnvInt("GALAXY_POSTGRES_MAX_CONNS", 0); v > 0 {
		cfg.PostgresMaxConns = v
	}
	if v := getEnvInt("GALAXY_POSTGRES_MIN_CONNS", 0); v > 0 {
		cfg.PostgresMinConns = v
	}
	if v := getEnvDuration("GALAXY_POSTGRES_TIMEOUT", 0); v > 0 {
		cfg.PostgresTimeout = v
	}

	cfg.S3Endpoint = getEnv("GALAXY_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("GALAXY_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("GALAXY_S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = getEnv("GALAXY_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("GALAXY_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3UsePathStyle = getEnvBool("GALAXY_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)

	cfg.RedisURL = getEnv("GALAXY_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("GALAXY_REDIS_PASSWORD", cfg.RedisPassword)
	if v := getEnvInt("GALAXY_REDIS_DB", -1); v >= 0 {
		cfg.RedisDB = v
	}
	if v := getEnvInt("GALAXY_REDIS_MAX_RETRIES", 0); v > 0 {
		cfg.RedisMaxRetries = v
	}
	if v := getEnvInt("GALAXY_REDIS_POOL_SIZE", 0); v > 0 {
		cfg.RedisPoolSize = v
	}

	cfg.CacheEnabled = getEnvBool("GALAXY_CACHE_ENABLED", cfg.CacheEnabled)
	if v := getEnvInt("GALAXY_L1_CACHE_SIZE", 0); v > 0 {
		cfg.L1CacheSize = v
	}

	return cfg
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("GALAXY_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GALAXY_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GALAXY_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GALAXY_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GALAXY_OTEL_SERVICE_NAME", "galaxyhub"),
		OTelServiceVersion: getEnv("GALAXY_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GALAXY_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("GALAXY_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or postgres)", c.Storage.Type)
	}

	switch c.Storage.ArtifactBackend {
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem artifacts")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 artifacts")
		}
	default:
		return fmt.Errorf("invalid artifact backend: %s (must be filesystem or s3)", c.Storage.ArtifactBackend)
	}

	switch c.Search.Engine {
	case "", "memory", "postgres":
	default:
		return fmt.Errorf("invalid search engine: %s", c.Search.Engine)
	}
	if c.Search.Engine == "postgres" && c.Storage.Type != "postgres" {
		return fmt.Errorf("postgres search requires postgres storage")
	}

	if c.Imports.Workers < 1 {
		return fmt.Errorf("import workers must be at least 1")
	}
	if c.Imports.MaxArtifactBytes <= 0 {
		return fmt.Errorf("max artifact size must be positive")
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate limit requests per minute must be positive")
	}
	if c.RateLimit.Distributed && c.Storage.RedisURL == "" {
		return fmt.Errorf("distributed rate limiting requires a redis URL")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// SearchEngine resolves the effective engine name.
func (c *Config) SearchEngine() string {
	if c.Search.Engine != "" {
		return c.Search.Engine
	}
	return c.Storage.Type
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
