package firestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-notification-relay/pkg/dispatch"
)

// DefaultCollection holds one document per broker message.
const DefaultCollection = "deliveries"

// ReceiptStore implements dispatch.ReceiptStore using Google Cloud Firestore.
type ReceiptStore struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

func NewReceiptStore(client *firestore.Client, collection string, logger *slog.Logger) *ReceiptStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &ReceiptStore{
		client:     client,
		collection: collection,
		logger:     logger.With("component", "ReceiptStore", "collection", collection),
	}
}

// receiptRecord is the document shape. DeliveryResult is flattened so the
// bulk counters and the single-send fields are queryable.
type receiptRecord struct {
	MessageID     string    `firestore:"message_id"`
	CorrelationID string    `firestore:"correlation_id,omitempty"`
	Status        string    `firestore:"status"`
	Attempt       int       `firestore:"attempt"`
	Kind          string    `firestore:"kind,omitempty"`
	Error         string    `firestore:"error,omitempty"`
	UpdatedAt     time.Time `firestore:"updated_at"`

	HasResult       bool   `firestore:"has_result"`
	ResultSuccess   bool   `firestore:"result_success"`
	ResultMessageID string `firestore:"result_message_id,omitempty"`
	ResultError     string `firestore:"result_error,omitempty"`
	ResultCode      string `firestore:"result_code,omitempty"`
	SuccessCount    int    `firestore:"success_count"`
	FailureCount    int    `firestore:"failure_count"`
}

// Record upserts the receipt. Later states overwrite earlier ones.
func (s *ReceiptStore) Record(ctx context.Context, receipt dispatch.Receipt) error {
	if receipt.MessageID == "" {
		return fmt.Errorf("receipt has no message id")
	}
	if receipt.UpdatedAt.IsZero() {
		receipt.UpdatedAt = time.Now().UTC()
	}

	_, err := s.client.Collection(s.collection).Doc(receipt.MessageID).Set(ctx, toRecord(receipt))
	if err != nil {
		return fmt.Errorf("failed to write receipt %s: %w", receipt.MessageID, err)
	}
	s.logger.Debug("Recorded receipt", "msg_id", receipt.MessageID, "status", receipt.Status)
	return nil
}

func (s *ReceiptStore) Fetch(ctx context.Context, messageID string) (*dispatch.Receipt, error) {
	doc, err := s.client.Collection(s.collection).Doc(messageID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, dispatch.ErrReceiptNotFound
		}
		return nil, fmt.Errorf("failed to read receipt %s: %w", messageID, err)
	}

	var record receiptRecord
	if err := doc.DataTo(&record); err != nil {
		return nil, fmt.Errorf("failed to decode receipt %s: %w", messageID, err)
	}
	return fromRecord(record), nil
}

func toRecord(r dispatch.Receipt) receiptRecord {
	rec := receiptRecord{
		MessageID:     r.MessageID,
		CorrelationID: r.CorrelationID,
		Status:        string(r.Status),
		Attempt:       r.Attempt,
		Kind:          string(r.Kind),
		Error:         r.Error,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.Result != nil {
		rec.HasResult = true
		rec.ResultSuccess = r.Result.Success
		rec.ResultMessageID = r.Result.MessageID
		rec.ResultError = r.Result.Error
		rec.ResultCode = r.Result.Code
		rec.SuccessCount = r.Result.SuccessCount
		rec.FailureCount = r.Result.FailureCount
		if rec.Kind == "" {
			rec.Kind = string(r.Result.Kind)
		}
	}
	return rec
}

func fromRecord(rec receiptRecord) *dispatch.Receipt {
	r := &dispatch.Receipt{
		MessageID:     rec.MessageID,
		CorrelationID: rec.CorrelationID,
		Status:        dispatch.ReceiptStatus(rec.Status),
		Attempt:       rec.Attempt,
		Kind:          dispatch.Kind(rec.Kind),
		Error:         rec.Error,
		UpdatedAt:     rec.UpdatedAt,
	}
	if rec.HasResult {
		r.Result = &dispatch.DeliveryResult{
			Kind:         dispatch.Kind(rec.Kind),
			Success:      rec.ResultSuccess,
			MessageID:    rec.ResultMessageID,
			Error:        rec.ResultError,
			Code:         rec.ResultCode,
			SuccessCount: rec.SuccessCount,
			FailureCount: rec.FailureCount,
		}
	}
	return r
}
