package main

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-notification-relay/internal/broker"
	"github.com/tinywideclouds/go-notification-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-notification-relay/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-notification-relay/internal/storage/firestore"
	"github.com/tinywideclouds/go-notification-relay/notificationservice"
	"github.com/tinywideclouds/go-notification-relay/notificationservice/config"
	"github.com/tinywideclouds/go-notification-relay/pkg/dispatch"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-notification-relay")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	_ = godotenv.Load()

	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Push Provider ---
	creds := fcm.Credentials{
		ProjectID:   cfg.Firebase.ProjectID,
		PrivateKey:  cfg.Firebase.PrivateKey,
		ClientEmail: cfg.Firebase.ClientEmail,
	}
	pushClient := fcm.NewClient(creds, logger, fcm.WithSendTimeout(cfg.Dispatch.SendTimeout))
	if !pushClient.Initialize(ctx) {
		logger.Error("Firebase initialization failed, refusing to consume")
		os.Exit(1)
	}

	var sender dispatch.PushSender = pushClient

	// --- Token Suppression (optional) ---
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis suppression layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		sender = cache.NewSuppressingSender(sender, redisClient, cfg.Redis.SuppressionTTL, logger)
	}

	// --- Receipts (optional) ---
	var receipts dispatch.ReceiptStore = dispatch.NopReceiptStore{}
	if cfg.Receipts.Enabled {
		saJSON, err := creds.ServiceAccountJSON()
		if err != nil {
			logger.Error("Failed to build service account credentials", "err", err)
			os.Exit(1)
		}
		fsClient, err := firestore.NewClient(ctx, cfg.Firebase.ProjectID, option.WithCredentialsJSON(saJSON))
		if err != nil {
			logger.Error("Firestore client failed", "err", err)
			os.Exit(1)
		}
		defer fsClient.Close()
		receipts = fsStore.NewReceiptStore(fsClient, cfg.Receipts.Collection, logger)
		logger.Info("Receipt store initialized", "type", "firestore", "collection", cfg.Receipts.Collection)
	}

	// --- Dispatcher, Broker & Service ---
	dispatcher := dispatch.NewDispatcher(sender, logger,
		dispatch.WithBatchSize(cfg.Dispatch.BatchSize),
		dispatch.WithConcurrency(cfg.Dispatch.Concurrency),
	)
	connector := broker.NewConnectionManager(cfg.Broker.URL, cfg.Broker.MaxRetries, logger,
		broker.WithBaseDelay(cfg.Broker.ConnectDelay),
	)

	service, err := notificationservice.New(cfg, connector, dispatcher, receipts, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...")
	startErr := service.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown finished with errors", "err", err)
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		logger.Error("Service shutdown with error", "err", startErr)
		os.Exit(1)
	}
	logger.Info("Notification relay stopped")
}
