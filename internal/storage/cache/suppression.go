// Package cache remembers device tokens the push provider rejected so the relay
// stops paying for sends that cannot succeed.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-notification-relay/internal/metrics"
	"github.com/tinywideclouds/go-notification-relay/pkg/dispatch"
)

// DefaultSuppressionTTL is how long an unregistered token stays suppressed.
const DefaultSuppressionTTL = 24 * time.Hour

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get fills dest or returns an error; any error is treated as a miss.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type suppressionEntry struct {
	Code       string    `json:"code"`
	Suppressed time.Time `json:"suppressedAt"`
}

// SuppressingSender is a decorator over a PushSender. Tokens the provider
// reports as unregistered are cached, and later sends to them fail locally.
type SuppressingSender struct {
	next   dispatch.PushSender
	cache  CacheClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewSuppressingSender(next dispatch.PushSender, cache CacheClient, ttl time.Duration, logger *slog.Logger) *SuppressingSender {
	if ttl <= 0 {
		ttl = DefaultSuppressionTTL
	}
	return &SuppressingSender{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "TokenSuppression"),
	}
}

func (s *SuppressingSender) Send(ctx context.Context, token string, content dispatch.Notification, data map[string]string) dispatch.DeliveryResult {
	if token == "" {
		return s.next.Send(ctx, token, content, data)
	}

	key := s.cacheKey(token)
	var entry suppressionEntry
	if err := s.cache.Get(ctx, key, &entry); err == nil {
		metrics.NotificationSent(metrics.SendSuppressed)
		return dispatch.Failed(dispatch.CodeTokenSuppressed, "device token suppressed")
	}

	result := s.next.Send(ctx, token, content, data)
	if !result.Success && result.Code == dispatch.CodeTokenUnregistered {
		entry = suppressionEntry{Code: result.Code, Suppressed: time.Now().UTC()}
		// Caching is an optimization; a Redis outage only costs extra provider calls.
		if err := s.cache.Set(ctx, key, entry, s.ttl); err != nil {
			s.logger.Warn("Failed to suppress unregistered token", "err", err)
		} else {
			s.logger.Info("Suppressing unregistered token", "ttl", s.ttl)
		}
	}
	return result
}

func (s *SuppressingSender) cacheKey(token string) string {
	return "notify:suppressed:" + token
}
