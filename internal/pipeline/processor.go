package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-notification-relay/pkg/dispatch"
)

// TaskDispatcher is satisfied by *dispatch.Dispatcher.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, task dispatch.NotificationTask) (dispatch.DeliveryResult, error)
}

// NewProcessor dispatches a decoded task. Only validation errors are returned;
// a failed push is a processed message whose receipt carries the failed result.
func NewProcessor(
	dispatcher TaskDispatcher,
	receipts dispatch.ReceiptStore,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[dispatch.NotificationTask] {
	if receipts == nil {
		receipts = dispatch.NopReceiptStore{}
	}

	return func(ctx context.Context, original messagepipeline.Message, task *dispatch.NotificationTask) error {
		procLogger := logger.With("msg_id", original.ID)
		var correlationID string
		if task.Metadata != nil {
			correlationID = task.Metadata.CorrelationID
			procLogger = procLogger.With("correlation_id", correlationID, "producer", task.Metadata.Producer)
		}

		result, err := dispatcher.Dispatch(ctx, *task)
		if err != nil {
			procLogger.Warn("Notification task rejected", "err", err)
			noteFailure(&original, err)
			return err
		}

		receipt := dispatch.Receipt{
			MessageID:     original.ID,
			CorrelationID: correlationID,
			Status:        dispatch.StatusProcessed,
			Kind:          result.Kind,
			Result:        &result,
			UpdatedAt:     time.Now().UTC(),
		}
		if err := receipts.Record(ctx, receipt); err != nil {
			procLogger.Warn("Failed to record delivery receipt", "err", err)
		}

		procLogger.Info("Notification task processed",
			"kind", result.Kind,
			"success", result.Success,
			"success_count", result.SuccessCount,
			"failure_count", result.FailureCount,
		)
		return nil
	}
}
