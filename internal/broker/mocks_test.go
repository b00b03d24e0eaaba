package broker_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/mock"
	"github.com/tinywideclouds/go-notification-relay/internal/broker"
	"github.com/tinywideclouds/go-notification-relay/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable, autoDelete, internal, noWait, args).Error(0)
}

func (m *MockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ret := m.Called(name, durable, autoDelete, exclusive, noWait, args)
	return amqp.Queue{Name: name}, ret.Error(0)
}

func (m *MockChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return m.Called(name, key, exchange, noWait, args).Error(0)
}

func (m *MockChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	return m.Called(prefetchCount, prefetchSize, global).Error(0)
}

func (m *MockChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	ret := m.Called(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(<-chan amqp.Delivery), ret.Error(1)
}

func (m *MockChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(exchange, key, mandatory, immediate, msg).Error(0)
}

func (m *MockChannel) Cancel(consumer string, noWait bool) error {
	return m.Called(consumer, noWait).Error(0)
}

func (m *MockChannel) Close() error {
	return m.Called().Error(0)
}

type MockConnection struct {
	mock.Mock
}

func (m *MockConnection) Channel() (broker.Channel, error) {
	ret := m.Called()
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(broker.Channel), ret.Error(1)
}

func (m *MockConnection) Close() error {
	return m.Called().Error(0)
}

type MockAcknowledger struct {
	mock.Mock
}

func (m *MockAcknowledger) Ack(tag uint64, multiple bool) error {
	return m.Called(tag, multiple).Error(0)
}

func (m *MockAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	return m.Called(tag, multiple, requeue).Error(0)
}

func (m *MockAcknowledger) Reject(tag uint64, requeue bool) error {
	return m.Called(tag, requeue).Error(0)
}

type MockReceiptStore struct {
	mock.Mock
}

func (m *MockReceiptStore) Record(ctx context.Context, receipt dispatch.Receipt) error {
	return m.Called(ctx, receipt).Error(0)
}

func (m *MockReceiptStore) Fetch(ctx context.Context, id string) (*dispatch.Receipt, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.Receipt), args.Error(1)
}

// recordingTimer fires immediately and remembers every requested wait.
type recordingTimer struct {
	waits []time.Duration
	c     chan time.Time
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{c: make(chan time.Time, 1)}
}

func (t *recordingTimer) Start(d time.Duration) {
	t.waits = append(t.waits, d)
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time {
	return t.c
}
