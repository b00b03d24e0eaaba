package dispatch

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBatchSize is the provider's cap on tokens per multicast.
	DefaultBatchSize   = 500
	DefaultConcurrency = 10
)

// Dispatcher validates notification tasks and routes them to single or bulk sends.
type Dispatcher struct {
	sender      PushSender
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

type Option func(*Dispatcher)

// WithBatchSize caps how many tokens of a bulk send are in flight per batch.
func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithConcurrency bounds the parallel sends within one batch. 1 sends sequentially.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

func NewDispatcher(sender PushSender, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender:      sender,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		logger:      logger.With("component", "Dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch classifies the task and sends it. The only errors returned are
// *ValidationError values; provider failures come back inside the result.
func (d *Dispatcher) Dispatch(ctx context.Context, task NotificationTask) (DeliveryResult, error) {
	delivery, err := Classify(task)
	if err != nil {
		d.logger.Warn("Rejected notification task", "err", err)
		return DeliveryResult{}, err
	}

	return delivery.deliver(ctx, d, *task.Notification, ConvertToStringValues(task.Data)), nil
}

func (s Single) deliver(ctx context.Context, d *Dispatcher, content Notification, data map[string]string) DeliveryResult {
	return d.SendSingle(ctx, s.Token, content, data)
}

func (b Bulk) deliver(ctx context.Context, d *Dispatcher, content Notification, data map[string]string) DeliveryResult {
	return d.SendBulk(ctx, b.Tokens, content, data)
}

// SendSingle passes the sender's result through unchanged.
func (d *Dispatcher) SendSingle(ctx context.Context, token string, content Notification, data map[string]string) DeliveryResult {
	result := d.sender.Send(ctx, token, content, data)
	result.Kind = KindSingle
	if result.Success {
		d.logger.Debug("Notification sent", "token", maskToken(token), "message_id", result.MessageID)
	} else {
		d.logger.Warn("Notification send failed", "token", maskToken(token), "code", result.Code, "err", result.Error)
	}
	return result
}

// SendBulk sends to every token and aggregates the outcome. Individual failures
// are counted, never raised. Tokens are processed in batches of batchSize with at
// most concurrency sends in flight.
func (d *Dispatcher) SendBulk(ctx context.Context, tokens []string, content Notification, data map[string]string) DeliveryResult {
	var succeeded, failed atomic.Int64

	for start := 0; start < len(tokens); start += d.batchSize {
		end := min(start+d.batchSize, len(tokens))

		var g errgroup.Group
		g.SetLimit(d.concurrency)
		for _, token := range tokens[start:end] {
			g.Go(func() error {
				if d.SendSingle(ctx, token, content, data).Success {
					succeeded.Add(1)
				} else {
					failed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	result := BulkSummary(int(succeeded.Load()), int(failed.Load()))
	d.logger.Info("Bulk notification complete",
		"tokens", len(tokens),
		"success_count", result.SuccessCount,
		"failure_count", result.FailureCount,
	)
	return result
}

func maskToken(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12] + "..."
}
