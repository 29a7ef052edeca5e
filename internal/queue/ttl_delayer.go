package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// delayQueueExpiry keeps an idle holding queue around this long after its TTL
const delayQueueExpiry = 5 * time.Minute

// TTLDelayer delays messages with RabbitMQ dead-lettering.
//
// Each (queue, delay) pair gets a holding queue with no consumers whose
// x-message-ttl equals the delay. Expired messages are dead-lettered to
// the exchange with the destination queue as routing key.
type TTLDelayer struct {
	publisher Publisher
	exchange  string
	prefix    string
}

// NewTTLDelayer creates a delayer that dead-letters through exchange.
// prefix is prepended to holding queue names when set.
func NewTTLDelayer(publisher Publisher, exchange, prefix string) *TTLDelayer {
	return &TTLDelayer{
		publisher: publisher,
		exchange:  exchange,
		prefix:    prefix,
	}
}

// QueueName returns the holding queue used for queue and delay
func (d *TTLDelayer) QueueName(queue string, delay time.Duration) string {
	name := fmt.Sprintf("%s.delay.%d", queue, delayMillis(delay))
	if d.prefix != "" {
		return d.prefix + "." + name
	}
	return name
}

// Schedule publishes msg to the holding queue for delay
func (d *TTLDelayer) Schedule(ctx context.Context, delay time.Duration, queue string, msg amqp.Publishing) error {
	holding := d.QueueName(queue, delay)
	ttl := delayMillis(delay)

	args := amqp.Table{
		"x-message-ttl":             ttl,
		"x-dead-letter-exchange":    d.exchange,
		"x-dead-letter-routing-key": queue,
		"x-expires":                 ttl + delayQueueExpiry.Milliseconds(),
	}

	if err := d.publisher.DeclareQueue(holding, args); err != nil {
		return fmt.Errorf("failed to declare delay queue: %w", err)
	}

	// default exchange routes straight to the holding queue
	if err := d.publisher.PublishMessage(ctx, "", holding, msg); err != nil {
		return fmt.Errorf("failed to publish to delay queue %s: %w", holding, err)
	}

	return nil
}

// delayMillis rounds up so sub-millisecond delays still wait
func delayMillis(delay time.Duration) int64 {
	ms := delay.Milliseconds()
	if time.Duration(ms)*time.Millisecond < delay {
		ms++
	}
	return ms
}
