// Package broker owns the RabbitMQ side of the relay: connecting with backoff,
// declaring the queue topology, and the consume/retry/dead-letter loop.
package broker

import (
	"errors"
	"net/url"

	"github.com/streadway/amqp"
)

// Channel is the subset of *amqp.Channel the relay uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Cancel(consumer string, noWait bool) error
	Close() error
}

// Connection is a broker connection able to open channels.
type Connection interface {
	Channel() (Channel, error)
	Close() error
}

// Dialer opens a broker connection.
type Dialer func(url string) (Connection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// DialAMQP is the production Dialer.
func DialAMQP(rawURL string) (Connection, error) {
	conn, err := amqp.Dial(rawURL)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{Connection: conn}, nil
}

// Handle owns one connection and the channel opened on it.
type Handle struct {
	Conn    Connection
	Channel Channel
}

// Close closes the channel, then the connection.
func (h *Handle) Close() error {
	var errs []error
	if h.Channel != nil {
		if err := h.Channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if h.Conn != nil {
		if err := h.Conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RedactURL masks the password of a broker URL for logging.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<unparseable broker url>"
	}
	return u.Redacted()
}
