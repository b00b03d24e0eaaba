package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/streadway/amqp"
	"github.com/tinywideclouds/go-notification-relay/internal/metrics"
	"github.com/tinywideclouds/go-notification-relay/internal/pipeline"
	"github.com/tinywideclouds/go-notification-relay/pkg/dispatch"
)

// RetryHeader carries the number of times a message has been republished.
const RetryHeader = "x-retries"

// ErrDeliveriesClosed is reported by Err when the broker closed the delivery
// stream without the consumer being stopped.
var ErrDeliveriesClosed = errors.New("broker closed the delivery channel")

// Connector opens the broker connection; *ConnectionManager satisfies it.
type Connector interface {
	Connect(ctx context.Context) (*Handle, error)
}

type ConsumerConfig struct {
	Topology   Topology
	MaxRetries int
	Prefetch   int
	Tag        string
}

// Consumer is a messagepipeline.MessageConsumer over the main queue.
//
// Every delivery is acknowledged exactly once; there is no nack path. A
// Message's Ack acknowledges the delivery, its Nack republishes it for retry
// (or to the dead-letter queue once MaxRetries is reached) and then
// acknowledges it.
type Consumer struct {
	connector Connector
	cfg       ConsumerConfig
	receipts  dispatch.ReceiptStore
	logger    *slog.Logger

	output   chan messagepipeline.Message
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	stopping atomic.Bool

	mu     sync.Mutex
	handle *Handle
	err    error
}

func NewConsumer(connector Connector, cfg ConsumerConfig, receipts dispatch.ReceiptStore, logger *slog.Logger) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.Tag == "" {
		cfg.Tag = "notification-relay-" + uuid.NewString()
	}
	if receipts == nil {
		receipts = dispatch.NopReceiptStore{}
	}
	return &Consumer{
		connector: connector,
		cfg:       cfg,
		receipts:  receipts,
		logger:    logger.With("component", "Consumer", "queue", cfg.Topology.Queue),
		output:    make(chan messagepipeline.Message),
		done:      make(chan struct{}),
	}
}

// Open connects to the broker and declares the topology. Start calls it when
// it has not been called yet; calling it first lets the connection retries
// observe a context that Start will not.
func (c *Consumer) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		return nil
	}

	handle, err := c.connector.Connect(ctx)
	if err != nil {
		return err
	}
	ch, err := SetupTopology(handle.Conn, c.cfg.Topology)
	if err != nil {
		_ = handle.Close()
		return fmt.Errorf("failed to set up broker topology: %w", err)
	}
	handle.Channel = ch
	c.handle = handle
	return nil
}

// Messages returns the channel the pipeline workers read from. It is closed
// once the delivery stream ends.
func (c *Consumer) Messages() <-chan messagepipeline.Message {
	return c.output
}

// Start subscribes to the queue. The context is handed to every message's Ack
// and Nack, so it should outlive shutdown; consumption ends through Stop.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.Open(ctx); err != nil {
		return err
	}
	ch := c.channel()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}
	deliveries, err := ch.Consume(c.cfg.Topology.Queue, c.cfg.Tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", c.cfg.Topology.Queue, err)
	}
	c.started.Store(true)
	c.logger.Info("Waiting for messages", "prefetch", c.cfg.Prefetch, "max_retries", c.cfg.MaxRetries)

	go c.forward(ctx, ch, deliveries)
	return nil
}

func (c *Consumer) forward(ctx context.Context, ch Channel, deliveries <-chan amqp.Delivery) {
	defer close(c.done)
	defer close(c.output)

	for d := range deliveries {
		c.output <- c.toMessage(ctx, ch, d)
	}

	if c.stopping.Load() {
		c.logger.Info("Consumer stopped")
		return
	}
	c.logger.Error("Delivery stream closed by the broker")
	c.mu.Lock()
	c.err = ErrDeliveriesClosed
	c.mu.Unlock()
}

// Stop cancels the subscription and waits for the delivery stream to end.
// Messages already handed to workers can still be acknowledged: the channel
// stays open until Close.
func (c *Consumer) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.stopping.Store(true)
		if !c.started.Load() {
			return
		}
		c.logger.Info("Stopping consumer, draining in-flight messages")
		if err := c.channel().Cancel(c.cfg.Tag, false); err != nil {
			c.logger.Warn("Failed to cancel consumer", "err", err)
		}
	})
	if !c.started.Load() {
		return nil
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.logger.Error("Timeout waiting for consumer to stop", "err", ctx.Err())
		return ctx.Err()
	}
}

// Done is closed once the delivery stream has ended.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Err reports why the delivery stream ended; nil after a requested Stop.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the broker channel and connection.
func (c *Consumer) Close() error {
	c.mu.Lock()
	handle := c.handle
	c.handle = nil
	c.mu.Unlock()
	if handle == nil {
		return nil
	}
	return handle.Close()
}

func (c *Consumer) channel() Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return nil
	}
	return c.handle.Channel
}

func (c *Consumer) toMessage(ctx context.Context, ch Channel, d amqp.Delivery) messagepipeline.Message {
	retries := RetryCount(d.Headers)
	id := d.MessageId
	if id == "" {
		id = uuid.NewString()
	}
	log := c.logger.With("msg_id", id, "retries", retries)

	enrichment := make(map[string]interface{})
	attributes := map[string]string{RetryHeader: strconv.Itoa(retries)}
	if d.CorrelationId != "" {
		attributes["correlation_id"] = d.CorrelationId
	}

	var once sync.Once
	return messagepipeline.Message{
		MessageData: messagepipeline.MessageData{
			ID:             id,
			Payload:        d.Body,
			PublishTime:    d.Timestamp,
			EnrichmentData: enrichment,
		},
		Attributes: attributes,
		Ack: func() {
			once.Do(func() {
				metrics.MessageProcessed(metrics.OutcomeAcked)
				acknowledge(d, log)
			})
		},
		Nack: func() {
			once.Do(func() {
				c.republish(ctx, ch, d, id, retries, failureReason(enrichment), log)
				acknowledge(d, log)
			})
		},
	}
}

func (c *Consumer) republish(ctx context.Context, ch Channel, d amqp.Delivery, id string, retries int, reason string, log *slog.Logger) {
	if retries < c.cfg.MaxRetries {
		log.Warn("Message processing failed, scheduling retry", "reason", reason)
		if err := ch.Publish("", c.cfg.Topology.Queue, false, false, republishing(d, id, retries+1)); err != nil {
			metrics.RepublishFailures.Inc()
			log.Error("Failed to republish message for retry", "err", err)
		}
		c.record(ctx, log, dispatch.Receipt{MessageID: id, Status: dispatch.StatusRetrying, Attempt: retries + 1, Error: reason})
		metrics.MessageProcessed(metrics.OutcomeRetried)
		return
	}

	log.Error("Message exhausted retries, dead-lettering", "reason", reason)
	if err := ch.Publish(c.cfg.Topology.Exchange, DeadLetterRoutingKey, false, false, republishing(d, id, retries)); err != nil {
		metrics.RepublishFailures.Inc()
		log.Error("Failed to publish message to dead-letter queue", "err", err)
	}
	c.record(ctx, log, dispatch.Receipt{MessageID: id, Status: dispatch.StatusDeadLettered, Attempt: retries, Error: reason})
	metrics.MessageProcessed(metrics.OutcomeDeadLettered)
}

func acknowledge(d amqp.Delivery, log *slog.Logger) {
	if err := d.Ack(false); err != nil {
		log.Error("Failed to acknowledge message", "err", err)
	}
}

func failureReason(enrichment map[string]interface{}) string {
	if reason, ok := enrichment[pipeline.FailureReasonKey].(string); ok && reason != "" {
		return reason
	}
	return "processing failed"
}

func (c *Consumer) record(ctx context.Context, log *slog.Logger, receipt dispatch.Receipt) {
	receipt.UpdatedAt = time.Now().UTC()
	if err := c.receipts.Record(ctx, receipt); err != nil {
		log.Warn("Failed to record delivery receipt", "status", receipt.Status, "err", err)
	}
}

// republishing copies the original body and headers into a new persistent
// message with the retry counter set to retries.
func republishing(d amqp.Delivery, id string, retries int) amqp.Publishing {
	headers := make(amqp.Table, len(d.Headers)+1)
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[RetryHeader] = int32(retries)

	contentType := d.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	return amqp.Publishing{
		Headers:         headers,
		ContentType:     contentType,
		ContentEncoding: d.ContentEncoding,
		DeliveryMode:    amqp.Persistent,
		CorrelationId:   d.CorrelationId,
		MessageId:       id,
		Timestamp:       time.Now().UTC(),
		Body:            d.Body,
	}
}

// RetryCount reads the x-retries header. Absent or unreadable values count as 0.
func RetryCount(headers amqp.Table) int {
	raw, ok := headers[RetryHeader]
	if !ok {
		return 0
	}

	var n int64
	switch v := raw.(type) {
	case int:
		n = int64(v)
	case int8:
		n = int64(v)
	case int16:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case uint8:
		n = int64(v)
	case uint16:
		n = int64(v)
	case uint32:
		n = int64(v)
	case float32:
		n = int64(v)
	case float64:
		n = int64(v)
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		n = parsed
	default:
		return 0
	}

	if n < 0 {
		return 0
	}
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}
