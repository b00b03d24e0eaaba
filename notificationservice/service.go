package notificationservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-notification-relay/internal/api"
	"github.com/tinywideclouds/go-notification-relay/internal/broker"
	"github.com/tinywideclouds/go-notification-relay/internal/metrics"
	"github.com/tinywideclouds/go-notification-relay/internal/pipeline"
	"github.com/tinywideclouds/go-notification-relay/notificationservice/config"
	"github.com/tinywideclouds/go-notification-relay/pkg/dispatch"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[dispatch.NotificationTask]
	consumer        *broker.Consumer
	logger          *slog.Logger
}

// New assembles the service. The dispatcher is shared by the broker pipeline
// and the HTTP API.
func New(
	cfg *config.Config,
	connector broker.Connector,
	dispatcher pipeline.TaskDispatcher,
	receipts dispatch.ReceiptStore,
	logger *slog.Logger,
) (*Wrapper, error) {
	if connector == nil || dispatcher == nil {
		return nil, errors.New("connector and dispatcher are required")
	}
	if receipts == nil {
		receipts = dispatch.NopReceiptStore{}
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Broker consumer
	prefetch := cfg.Broker.Prefetch
	if prefetch <= 0 {
		prefetch = cfg.NumWorkers
	}
	consumer := broker.NewConsumer(connector, broker.ConsumerConfig{
		Topology:   Topology(cfg.Broker),
		MaxRetries: cfg.Broker.MaxRetries,
		Prefetch:   prefetch,
	}, receipts, logger)

	// 3. Pipeline
	processor := pipeline.NewProcessor(dispatcher, receipts, logger)
	streamingService, err := messagepipeline.NewStreamingService[dispatch.NotificationTask](
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumWorkers},
		consumer,
		pipeline.NotificationTaskTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API
	notificationAPI := api.NewNotificationAPI(dispatcher, receipts, logger)

	// Register Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)
	preflight := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	mux.Handle("OPTIONS /api/v1/notifications", preflight)
	mux.Handle("OPTIONS /api/v1/notifications/", preflight)
	mux.Handle("GET /api/v1/notifications/health", corsMiddleware(http.HandlerFunc(notificationAPI.Health)))
	mux.Handle("POST /api/v1/notifications", corsMiddleware(http.HandlerFunc(notificationAPI.Send)))
	mux.Handle("POST /api/v1/notifications/bulk", corsMiddleware(http.HandlerFunc(notificationAPI.SendBulk)))
	mux.Handle("GET /api/v1/notifications/{id}", corsMiddleware(http.HandlerFunc(notificationAPI.GetReceipt)))
	mux.Handle("GET /api/v1/metrics", metrics.Handler())

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		consumer:        consumer,
		logger:          logger.With("component", "NotificationRelay"),
	}, nil
}

// Topology maps the broker configuration onto the declared names.
func Topology(cfg config.BrokerConfig) broker.Topology {
	return broker.Topology{
		Exchange:        cfg.Exchange,
		Queue:           cfg.Queue,
		RoutingKey:      cfg.RoutingKey,
		DeadLetterQueue: cfg.DeadLetterQueue,
	}
}

// Start connects to the broker, starts the processing pipeline and serves
// HTTP. It returns nil when ctx is cancelled; in-flight messages are drained
// by Shutdown. It returns an error if the broker closes the delivery stream
// or the server fails.
func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Connecting to broker...")
	if err := w.consumer.Open(ctx); err != nil {
		return fmt.Errorf("failed to open broker consumer: %w", err)
	}

	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- w.BaseServer.Start()
	}()

	select {
	case <-ctx.Done():
		return nil
	case <-w.consumer.Done():
		w.SetReady(false)
		if err := w.consumer.Err(); err != nil {
			return fmt.Errorf("consumer stopped: %w", err)
		}
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}
}

// Shutdown drains the pipeline, stops the HTTP server, then closes the broker
// channel and connection.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = errors.Join(finalErr, err)
	}
	if err := w.consumer.Close(); err != nil {
		w.logger.Error("Broker connection close failed.", "err", err)
		finalErr = errors.Join(finalErr, err)
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
