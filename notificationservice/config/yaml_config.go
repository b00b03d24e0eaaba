package config

import (
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

// DefaultMaxRetries applies when the YAML leaves max_retries unset.
const DefaultMaxRetries = 5

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlBrokerConfig struct {
	URL             string        `yaml:"url"`
	Exchange        string        `yaml:"exchange"`
	Queue           string        `yaml:"queue"`
	RoutingKey      string        `yaml:"routing_key"`
	DeadLetterQueue string        `yaml:"dead_letter_queue"`
	MaxRetries      *int          `yaml:"max_retries"`
	ConnectDelay    time.Duration `yaml:"connect_delay"`
	Prefetch        int           `yaml:"prefetch"`
}

type YamlFirebaseConfig struct {
	ProjectID   string `yaml:"project_id"`
	ClientEmail string `yaml:"client_email"`
}

type YamlDispatchConfig struct {
	SendTimeout time.Duration `yaml:"send_timeout"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
}

type YamlRedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	Enabled        bool          `yaml:"enabled"`
	SuppressionTTL time.Duration `yaml:"suppression_ttl"`
}

type YamlReceiptsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Collection string `yaml:"collection"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
// The Firebase private key is only read from the environment.
type YamlConfig struct {
	ListenAddr     string             `yaml:"listen_addr"`
	NumWorkers     int                `yaml:"num_workers"`
	BrokerConfig   YamlBrokerConfig   `yaml:"broker"`
	FirebaseConfig YamlFirebaseConfig `yaml:"firebase"`
	DispatchConfig YamlDispatchConfig `yaml:"dispatch"`
	RedisConfig    YamlRedisConfig    `yaml:"redis"`
	ReceiptsConfig YamlReceiptsConfig `yaml:"receipts"`
	CorsConfig     YamlCorsConfig     `yaml:"cors"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	maxRetries := DefaultMaxRetries
	if baseCfg.BrokerConfig.MaxRetries != nil {
		maxRetries = *baseCfg.BrokerConfig.MaxRetries
	}

	cfg := &Config{
		ListenAddr: baseCfg.ListenAddr,
		NumWorkers: baseCfg.NumWorkers,
		Broker: BrokerConfig{
			URL:             baseCfg.BrokerConfig.URL,
			Exchange:        baseCfg.BrokerConfig.Exchange,
			Queue:           baseCfg.BrokerConfig.Queue,
			RoutingKey:      baseCfg.BrokerConfig.RoutingKey,
			DeadLetterQueue: baseCfg.BrokerConfig.DeadLetterQueue,
			MaxRetries:      maxRetries,
			ConnectDelay:    baseCfg.BrokerConfig.ConnectDelay,
			Prefetch:        baseCfg.BrokerConfig.Prefetch,
		},
		Firebase: FirebaseConfig{
			ProjectID:   baseCfg.FirebaseConfig.ProjectID,
			ClientEmail: baseCfg.FirebaseConfig.ClientEmail,
		},
		Dispatch: DispatchConfig{
			SendTimeout: baseCfg.DispatchConfig.SendTimeout,
			BatchSize:   baseCfg.DispatchConfig.BatchSize,
			Concurrency: baseCfg.DispatchConfig.Concurrency,
		},
		Redis: RedisConfig{
			Addr:           baseCfg.RedisConfig.Addr,
			Password:       baseCfg.RedisConfig.Password,
			DB:             baseCfg.RedisConfig.DB,
			Enabled:        baseCfg.RedisConfig.Enabled,
			SuppressionTTL: baseCfg.RedisConfig.SuppressionTTL,
		},
		Receipts: ReceiptsConfig{
			Enabled:    baseCfg.ReceiptsConfig.Enabled,
			Collection: baseCfg.ReceiptsConfig.Collection,
		},
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
	}

	logger.Debug("YAML config mapping complete",
		"listen_addr", cfg.ListenAddr,
		"queue", cfg.Broker.Queue,
		"max_retries", cfg.Broker.MaxRetries,
	)

	return cfg, nil
}
