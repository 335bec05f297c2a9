package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig
	Logging     LoggingConfig
	Storage     StorageConfig
	Extractor   ExtractorConfig
	Transcoder  TranscoderConfig
	Catalog     CatalogConfig
	Redis       RedisConfig
	RateLimit   RateLimitConfig
	ObjectStore ObjectStoreConfig
	Events      EventsConfig
	Webhook     WebhookConfig
	Tracing     TracingConfig
	Metrics     MetricsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// BaseURL is the externally reachable address used to build artifact links
	BaseURL string
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// StorageConfig holds artifact store configuration
type StorageConfig struct {
	Root         string
	TempDir      string
	Retention    time.Duration
	EvictionTick time.Duration
	SweepOnStart bool
}

// ExtractorConfig holds extraction engine configuration
type ExtractorConfig struct {
	Binary           string
	CookiesFile      string
	Timeout          time.Duration
	SearchLimit      int
	DefaultItemLimit int
	MaxItemLimit     int
}

// TranscoderConfig holds transcoding configuration
type TranscoderConfig struct {
	WorkerCount int
	FFmpegPath  string
	FFprobePath string
}

// CatalogConfig holds catalog API client configuration
type CatalogConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
	PageSize     int
	Timeout      time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// RateLimitConfig holds per-client request limits
type RateLimitConfig struct {
	Enabled bool
	RPS     int
	Burst   int
	Window  time.Duration
}

// ObjectStoreConfig holds the optional artifact mirror configuration
type ObjectStoreConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// EventsConfig holds the optional lifecycle event publisher configuration
type EventsConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
	Exchange string
}

// WebhookConfig holds the optional lifecycle callback configuration
type WebhookConfig struct {
	Enabled bool
	URL     string
	Secret  string
	Timeout time.Duration
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks values that have no usable default
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("invalid config: storage.root is required")
	}
	if c.Storage.Retention <= 0 {
		return fmt.Errorf("invalid config: storage.retention must be positive")
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("invalid config: server.baseURL is required")
	}
	if c.Transcoder.WorkerCount <= 0 {
		return fmt.Errorf("invalid config: transcoder.workerCount must be positive")
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		return fmt.Errorf("invalid config: webhook.url is required when webhook.enabled is set")
	}
	if c.Extractor.DefaultItemLimit > c.Extractor.MaxItemLimit {
		return fmt.Errorf("invalid config: extractor.defaultItemLimit exceeds extractor.maxItemLimit")
	}
	return nil
}

// CatalogEnabled reports whether catalog credentials are configured
func (c *Config) CatalogEnabled() bool {
	return c.Catalog.ClientID != "" && c.Catalog.ClientSecret != ""
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "30m")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.baseURL", "http://localhost:8080")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Storage defaults
	v.SetDefault("storage.root", "output")
	v.SetDefault("storage.tempDir", "/tmp/mediadrop")
	v.SetDefault("storage.retention", "600s")
	v.SetDefault("storage.evictionTick", "1s")
	v.SetDefault("storage.sweepOnStart", true)

	// Extractor defaults
	v.SetDefault("extractor.binary", "yt-dlp")
	v.SetDefault("extractor.cookiesFile", "")
	v.SetDefault("extractor.timeout", "2m")
	v.SetDefault("extractor.searchLimit", 5)
	v.SetDefault("extractor.defaultItemLimit", 5)
	v.SetDefault("extractor.maxItemLimit", 50)

	// Transcoder defaults
	v.SetDefault("transcoder.workerCount", 2)
	v.SetDefault("transcoder.ffmpegPath", "ffmpeg")
	v.SetDefault("transcoder.ffprobePath", "ffprobe")

	// Catalog defaults
	v.SetDefault("catalog.baseURL", "https://api.spotify.com/v1")
	v.SetDefault("catalog.tokenURL", "https://accounts.spotify.com/api/token")
	v.SetDefault("catalog.pageSize", 50)
	v.SetDefault("catalog.timeout", "15s")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Rate limit defaults
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.rps", 5)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("ratelimit.window", "1m")

	// Object store defaults
	v.SetDefault("objectstore.enabled", false)
	v.SetDefault("objectstore.endpoint", "localhost:9000")
	v.SetDefault("objectstore.accessKeyID", "minioadmin")
	v.SetDefault("objectstore.secretAccessKey", "minioadmin")
	v.SetDefault("objectstore.bucketName", "artifacts")
	v.SetDefault("objectstore.region", "us-east-1")
	v.SetDefault("objectstore.useSSL", false)

	// Events defaults
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.host", "localhost")
	v.SetDefault("events.port", 5672)
	v.SetDefault("events.user", "guest")
	v.SetDefault("events.password", "guest")
	v.SetDefault("events.vhost", "/")
	v.SetDefault("events.exchange", "mediadrop")

	// Webhook defaults
	v.SetDefault("webhook.enabled", false)
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.timeout", "30s")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "mediadrop")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
}
