package cache_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/tinywideclouds/go-notification-relay/internal/storage/cache"
	"github.com/tinywideclouds/go-notification-relay/pkg/dispatch"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest any) error {
	return m.Called(ctx, key, dest).Error(0)
}

func (m *MockCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, token string, content dispatch.Notification, data map[string]string) dispatch.DeliveryResult {
	return m.Called(ctx, token, content, data).Get(0).(dispatch.DeliveryResult)
}

func TestSuppressingSender(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	content := dispatch.Notification{Title: "T", Body: "B"}
	key := "notify:suppressed:tok1"

	t.Run("Suppressed token skips the provider", func(t *testing.T) {
		mockCache := new(MockCache)
		mockSender := new(MockSender)
		mockCache.On("Get", ctx, key, mock.Anything).Return(nil).Once()

		sender := cache.NewSuppressingSender(mockSender, mockCache, time.Hour, logger)
		result := sender.Send(ctx, "tok1", content, nil)

		assert.False(t, result.Success)
		assert.Equal(t, dispatch.CodeTokenSuppressed, result.Code)
		assert.Equal(t, "device token suppressed", result.Error)
		mockSender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Unregistered token is remembered", func(t *testing.T) {
		mockCache := new(MockCache)
		mockSender := new(MockSender)
		mockCache.On("Get", ctx, key, mock.Anything).Return(cache.ErrMiss).Once()
		mockSender.On("Send", ctx, "tok1", content, mock.Anything).
			Return(dispatch.Failed(dispatch.CodeTokenUnregistered, "not registered")).Once()
		mockCache.On("Set", ctx, key, mock.Anything, time.Hour).Return(nil).Once()

		sender := cache.NewSuppressingSender(mockSender, mockCache, time.Hour, logger)
		result := sender.Send(ctx, "tok1", content, nil)

		assert.Equal(t, dispatch.CodeTokenUnregistered, result.Code)
		mockCache.AssertExpectations(t)
		mockSender.AssertExpectations(t)
	})

	t.Run("Other failures are not cached", func(t *testing.T) {
		mockCache := new(MockCache)
		mockSender := new(MockSender)
		mockCache.On("Get", ctx, key, mock.Anything).Return(cache.ErrMiss).Once()
		mockSender.On("Send", ctx, "tok1", content, mock.Anything).
			Return(dispatch.Failed(dispatch.CodeUnavailable, "try later")).Once()

		sender := cache.NewSuppressingSender(mockSender, mockCache, time.Hour, logger)
		result := sender.Send(ctx, "tok1", content, nil)

		assert.Equal(t, dispatch.CodeUnavailable, result.Code)
		mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Cache outage behaves like a miss", func(t *testing.T) {
		mockCache := new(MockCache)
		mockSender := new(MockSender)
		mockCache.On("Get", ctx, key, mock.Anything).Return(errors.New("connection refused")).Once()
		mockSender.On("Send", ctx, "tok1", content, mock.Anything).Return(dispatch.Delivered("m1")).Once()

		sender := cache.NewSuppressingSender(mockSender, mockCache, time.Hour, logger)
		result := sender.Send(ctx, "tok1", content, nil)

		assert.True(t, result.Success)
		assert.Equal(t, "m1", result.MessageID)
	})

	t.Run("Failed Set still returns the provider result", func(t *testing.T) {
		mockCache := new(MockCache)
		mockSender := new(MockSender)
		mockCache.On("Get", ctx, key, mock.Anything).Return(cache.ErrMiss).Once()
		mockSender.On("Send", ctx, "tok1", content, mock.Anything).
			Return(dispatch.Failed(dispatch.CodeTokenUnregistered, "not registered")).Once()
		mockCache.On("Set", ctx, key, mock.Anything, cache.DefaultSuppressionTTL).Return(errors.New("READONLY")).Once()

		sender := cache.NewSuppressingSender(mockSender, mockCache, 0, logger)
		result := sender.Send(ctx, "tok1", content, nil)

		assert.Equal(t, dispatch.CodeTokenUnregistered, result.Code)
		mockCache.AssertExpectations(t)
	})

	t.Run("Empty token goes straight to the provider", func(t *testing.T) {
		mockCache := new(MockCache)
		mockSender := new(MockSender)
		mockSender.On("Send", ctx, "", content, mock.Anything).
			Return(dispatch.Failed(dispatch.CodeMissingToken, "No device token provided")).Once()

		sender := cache.NewSuppressingSender(mockSender, mockCache, time.Hour, logger)
		result := sender.Send(ctx, "", content, nil)

		assert.Equal(t, dispatch.CodeMissingToken, result.Code)
		mockCache.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
	})
}
