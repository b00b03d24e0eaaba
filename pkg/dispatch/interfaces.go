package dispatch

import (
	"context"
	"time"
)

// PushSender delivers one notification to one device token.
// Provider failures are reported in the returned result, never as a panic or error.
type PushSender interface {
	Send(ctx context.Context, token string, content Notification, data map[string]string) DeliveryResult
}

// ReceiptStatus is the last known state of a broker message.
type ReceiptStatus string

const (
	StatusProcessed    ReceiptStatus = "processed"
	StatusRetrying     ReceiptStatus = "retrying"
	StatusDeadLettered ReceiptStatus = "dead_lettered"
)

// Receipt records what happened to one broker message.
type Receipt struct {
	MessageID     string          `json:"messageId"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Status        ReceiptStatus   `json:"status"`
	Attempt       int             `json:"attempt"`
	Kind          Kind            `json:"kind,omitempty"`
	Result        *DeliveryResult `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// ReceiptStore persists delivery receipts keyed by message id.
type ReceiptStore interface {
	// Record upserts the receipt for receipt.MessageID.
	Record(ctx context.Context, receipt Receipt) error
	// Fetch returns ErrReceiptNotFound when nothing was recorded.
	Fetch(ctx context.Context, messageID string) (*Receipt, error)
}

// NopReceiptStore discards receipts.
type NopReceiptStore struct{}

func (NopReceiptStore) Record(context.Context, Receipt) error { return nil }

func (NopReceiptStore) Fetch(context.Context, string) (*Receipt, error) {
	return nil, ErrReceiptNotFound
}
