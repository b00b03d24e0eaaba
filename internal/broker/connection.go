package broker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tinywideclouds/go-notification-relay/internal/metrics"
)

// ConnectionError is returned once every connection attempt has failed.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("broker unreachable after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ConnectionManager dials the broker, retrying with deterministic exponential
// backoff: attempt n (from 0) is followed by a wait of 2^n * baseDelay.
type ConnectionManager struct {
	url        string
	maxRetries int
	baseDelay  time.Duration
	dial       Dialer
	timer      backoff.Timer
	logger     *slog.Logger
}

type ConnectionOption func(*ConnectionManager)

func WithDialer(dial Dialer) ConnectionOption {
	return func(m *ConnectionManager) {
		m.dial = dial
	}
}

// WithBaseDelay sets the wait after the first failed attempt.
func WithBaseDelay(d time.Duration) ConnectionOption {
	return func(m *ConnectionManager) {
		if d > 0 {
			m.baseDelay = d
		}
	}
}

// WithTimer replaces the wall-clock timer used between attempts.
func WithTimer(t backoff.Timer) ConnectionOption {
	return func(m *ConnectionManager) {
		m.timer = t
	}
}

// NewConnectionManager makes at most maxRetries+1 connection attempts per Connect.
func NewConnectionManager(url string, maxRetries int, logger *slog.Logger, opts ...ConnectionOption) *ConnectionManager {
	m := &ConnectionManager{
		url:        url,
		maxRetries: max(maxRetries, 0),
		baseDelay:  time.Second,
		dial:       DialAMQP,
		logger:     logger.With("component", "ConnectionManager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect blocks until the broker accepts a connection, the retries are
// exhausted, or ctx is cancelled.
func (m *ConnectionManager) Connect(ctx context.Context) (*Handle, error) {
	attempt := 0
	conn, err := backoff.RetryNotifyWithTimerAndData(
		func() (Connection, error) {
			attempt++
			metrics.ConnectionAttempts.Inc()
			m.logger.Info("Connecting to broker",
				"attempt", attempt,
				"max_attempts", m.maxRetries+1,
				"url", RedactURL(m.url),
			)
			return m.dial(m.url)
		},
		backoff.WithContext(m.policy(), ctx),
		func(err error, next time.Duration) {
			m.logger.Warn("Broker connection failed, retrying", "attempt", attempt, "retry_in", next, "err", err)
		},
		m.timer,
	)
	if err != nil {
		m.logger.Error("Broker connection failed, giving up", "attempts", attempt, "err", err)
		return nil, &ConnectionError{Attempts: attempt, Err: err}
	}

	m.logger.Info("Connected to broker", "attempts", attempt)
	return &Handle{Conn: conn}, nil
}

func (m *ConnectionManager) policy() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = m.baseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = time.Duration(math.MaxInt64)
	exp.MaxElapsedTime = 0
	return backoff.WithMaxRetries(exp, uint64(m.maxRetries))
}
