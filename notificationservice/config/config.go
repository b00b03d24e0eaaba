package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

// ConfigurationError reports configuration that cannot start the relay.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

type BrokerConfig struct {
	URL             string
	Exchange        string
	Queue           string
	RoutingKey      string
	DeadLetterQueue string
	MaxRetries      int
	ConnectDelay    time.Duration
	Prefetch        int
}

func (c BrokerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.URL, validation.Required),
		validation.Field(&c.Exchange, validation.Required),
		validation.Field(&c.Queue, validation.Required),
		validation.Field(&c.RoutingKey, validation.Required),
		validation.Field(&c.DeadLetterQueue, validation.Required),
		validation.Field(&c.MaxRetries, validation.Min(0)),
		validation.Field(&c.Prefetch, validation.Min(0)),
	)
}

type FirebaseConfig struct {
	ProjectID   string
	PrivateKey  string
	ClientEmail string
}

func (c FirebaseConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ProjectID, validation.Required),
		validation.Field(&c.PrivateKey, validation.Required),
		validation.Field(&c.ClientEmail, validation.Required),
	)
}

type DispatchConfig struct {
	SendTimeout time.Duration
	BatchSize   int
	Concurrency int
}

func (c DispatchConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.SendTimeout, validation.Required),
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.Concurrency, validation.Required, validation.Min(1)),
	)
}

type RedisConfig struct {
	Enabled        bool
	Addr           string
	Password       string
	DB             int
	SuppressionTTL time.Duration
}

func (c RedisConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.DB, validation.Min(0)),
	)
}

type ReceiptsConfig struct {
	Enabled    bool
	Collection string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ListenAddr string
	NumWorkers int

	Broker   BrokerConfig
	Firebase FirebaseConfig
	Dispatch DispatchConfig
	Redis    RedisConfig
	Receipts ReceiptsConfig

	CorsConfig middleware.CorsConfig
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ListenAddr, validation.Required),
		validation.Field(&c.NumWorkers, validation.Required, validation.Min(1)),
		validation.Field(&c.Broker),
		validation.Field(&c.Firebase),
		validation.Field(&c.Dispatch),
		validation.Field(&c.Redis),
	)
}

// applyDefaults fills anything neither YAML nor the environment provided.
func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumWorkers == 0 {
		cfg.NumWorkers = 1
	}
	if cfg.Broker.Exchange == "" {
		cfg.Broker.Exchange = "process_notification_exchange"
	}
	if cfg.Broker.Queue == "" {
		cfg.Broker.Queue = "process_notification"
	}
	if cfg.Broker.RoutingKey == "" {
		cfg.Broker.RoutingKey = "notification"
	}
	if cfg.Broker.DeadLetterQueue == "" {
		cfg.Broker.DeadLetterQueue = cfg.Broker.Queue + "_dlq"
	}
	if cfg.Broker.ConnectDelay == 0 {
		cfg.Broker.ConnectDelay = time.Second
	}
	if cfg.Dispatch.SendTimeout == 0 {
		cfg.Dispatch.SendTimeout = 10 * time.Second
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = 500
	}
	if cfg.Dispatch.Concurrency == 0 {
		cfg.Dispatch.Concurrency = 10
	}
	if cfg.Redis.SuppressionTTL == 0 {
		cfg.Redis.SuppressionTTL = 24 * time.Hour
	}
	if cfg.Receipts.Collection == "" {
		cfg.Receipts.Collection = "deliveries"
	}
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")
	env := envReader{logger: logger}

	// 1. Apply Environment Overrides
	if val := firstEnv("RABBITMQ_URL", "RABBITMQ"); val != "" {
		logger.Debug("Overriding config value", "key", "RABBITMQ_URL", "source", "env")
		cfg.Broker.URL = val
	}
	env.setInt("MAX_RETRIES", &cfg.Broker.MaxRetries)
	env.setInt("PREFETCH_COUNT", &cfg.Broker.Prefetch)

	env.setString("FIREBASE_PROJECT_ID", &cfg.Firebase.ProjectID)
	env.setString("FIREBASE_PRIVATE_KEY", &cfg.Firebase.PrivateKey)
	env.setString("FIREBASE_CLIENT_EMAIL", &cfg.Firebase.ClientEmail)

	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	env.setInt("NUM_WORKERS", &cfg.NumWorkers)
	env.setDuration("SEND_TIMEOUT", &cfg.Dispatch.SendTimeout)
	env.setInt("BULK_CONCURRENCY", &cfg.Dispatch.Concurrency)

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	env.setString("REDIS_PASSWORD", &cfg.Redis.Password)
	env.setInt("REDIS_DB", &cfg.Redis.DB)
	env.setBool("REDIS_ENABLED", &cfg.Redis.Enabled)

	env.setBool("RECEIPTS_ENABLED", &cfg.Receipts.Enabled)

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		var cleanOrigins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	if len(env.errs) > 0 {
		return nil, &ConfigurationError{Err: env.errs}
	}

	// 2. Final Validation
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if val := os.Getenv(k); val != "" {
			return val
		}
	}
	return ""
}

// envReader collects malformed values instead of silently ignoring them.
type envReader struct {
	logger *slog.Logger
	errs   validation.Errors
}

func (r *envReader) fail(key string, err error) {
	if r.errs == nil {
		r.errs = validation.Errors{}
	}
	r.errs[key] = err
}

func (r *envReader) setString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		r.logger.Debug("Overriding config value", "key", key, "source", "env")
		*dst = val
	}
}

func (r *envReader) setInt(key string, dst *int) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		r.fail(key, fmt.Errorf("must be an integer, got %q", val))
		return
	}
	r.logger.Debug("Overriding config value", "key", key, "source", "env")
	*dst = n
}

func (r *envReader) setBool(key string, dst *bool) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		r.fail(key, fmt.Errorf("must be a boolean, got %q", val))
		return
	}
	*dst = b
}

func (r *envReader) setDuration(key string, dst *time.Duration) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		r.fail(key, fmt.Errorf("must be a duration such as 10s, got %q", val))
		return
	}
	r.logger.Debug("Overriding config value", "key", key, "source", "env")
	*dst = d
}
