package broker

import "fmt"

// DeadLetterRoutingKey binds the dead-letter queue to the exchange.
const DeadLetterRoutingKey = "dlq"

// Topology names the exchange and queues the relay declares.
type Topology struct {
	Exchange        string
	Queue           string
	RoutingKey      string
	DeadLetterQueue string
}

// DefaultTopology returns the standard names, with the dead-letter queue
// derived from the main queue.
func DefaultTopology() Topology {
	return Topology{
		Exchange:        "process_notification_exchange",
		Queue:           "process_notification",
		RoutingKey:      "notification",
		DeadLetterQueue: "process_notification_dlq",
	}
}

// SetupTopology opens a channel on conn and declares a durable direct exchange,
// the durable main queue bound under RoutingKey and the durable dead-letter queue
// bound under "dlq". Declarations are idempotent. Any failure closes the channel
// and is returned without retry.
func SetupTopology(conn Connection, t Topology) (Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declare(ch, t); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func declare(ch Channel, t Topology) error {
	if err := ch.ExchangeDeclare(t.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.Exchange, err)
	}

	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.Queue, err)
	}
	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", t.Queue, err)
	}

	if _, err := ch.QueueDeclare(t.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue %s: %w", t.DeadLetterQueue, err)
	}
	if err := ch.QueueBind(t.DeadLetterQueue, DeadLetterRoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue %s: %w", t.DeadLetterQueue, err)
	}
	return nil
}
