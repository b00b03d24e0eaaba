package fcm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-notification-relay/internal/metrics"
	"github.com/tinywideclouds/go-notification-relay/pkg/dispatch"
)

const errNotInitialized = "Firebase not initialized"

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// MessagingFactory builds a MessagingClient for a service account.
type MessagingFactory func(ctx context.Context, creds Credentials) (MessagingClient, error)

// Client is the push client. It is inert until Initialize succeeds.
type Client struct {
	creds       Credentials
	factory     MessagingFactory
	sendTimeout time.Duration
	logger      *slog.Logger

	mu        sync.RWMutex
	messaging MessagingClient
}

type Option func(*Client)

// WithMessagingFactory replaces the Firebase SDK constructor.
func WithMessagingFactory(factory MessagingFactory) Option {
	return func(c *Client) {
		c.factory = factory
	}
}

// WithSendTimeout bounds every provider call. Zero disables the deadline.
func WithSendTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.sendTimeout = d
	}
}

func NewClient(creds Credentials, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		creds:       creds,
		factory:     NewFirebaseMessaging,
		sendTimeout: 10 * time.Second,
		logger:      logger.With("component", "FCMClient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize creates the messaging client once. It returns true if the client is
// ready, including when it already was, and false on missing credentials or an SDK
// error, leaving the client uninitialized.
func (c *Client) Initialize(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.messaging != nil {
		return true
	}

	if err := c.creds.Validate(); err != nil {
		c.logger.Error("Firebase credentials incomplete", "err", err)
		return false
	}

	c.logger.Info("Initializing Firebase messaging...", "project_id", c.creds.ProjectID)
	client, err := c.factory(ctx, c.creds)
	if err != nil {
		c.logger.Error("Failed to initialize Firebase messaging", "err", err)
		return false
	}

	c.messaging = client
	c.logger.Info("Firebase messaging initialized")
	return true
}

func (c *Client) IsInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.messaging != nil
}

// Send delivers one message. It never returns an error: every failure,
// including an uninitialized client, is reported in the result.
func (c *Client) Send(ctx context.Context, token string, content dispatch.Notification, data map[string]string) dispatch.DeliveryResult {
	c.mu.RLock()
	client := c.messaging
	c.mu.RUnlock()

	if client == nil {
		metrics.NotificationSent(metrics.SendFailure)
		return dispatch.Failed(dispatch.CodeNotInitialized, errNotInitialized)
	}
	if token == "" {
		metrics.NotificationSent(metrics.SendFailure)
		return dispatch.Failed(dispatch.CodeMissingToken, "No device token provided")
	}

	if c.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.sendTimeout)
		defer cancel()
	}

	messageID, err := client.Send(ctx, BuildMessage(token, content, data))
	if err != nil {
		metrics.NotificationSent(metrics.SendFailure)
		return dispatch.Failed(errorCode(err), err.Error())
	}
	metrics.NotificationSent(metrics.SendSuccess)
	return dispatch.Delivered(messageID)
}

// BuildMessage assembles the provider message with the fixed high-priority
// delivery hints for Android and APNs.
func BuildMessage(token string, content dispatch.Notification, data map[string]string) *messaging.Message {
	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: content.Title,
			Body:  content.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
		},
	}
	if len(data) > 0 {
		msg.Data = data
	}
	return msg
}

func errorCode(err error) string {
	switch {
	case messaging.IsUnregistered(err), messaging.IsRegistrationTokenNotRegistered(err):
		return dispatch.CodeTokenUnregistered
	case messaging.IsInvalidArgument(err):
		return dispatch.CodeInvalidArgument
	case messaging.IsQuotaExceeded(err):
		return dispatch.CodeQuotaExceeded
	case messaging.IsUnavailable(err), errors.Is(err, context.DeadlineExceeded):
		return dispatch.CodeUnavailable
	default:
		return dispatch.CodeUnknown
	}
}
