package job

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Envelope is a delivered message plus the broker metadata needed to ack it
type Envelope struct {
	Body        []byte
	DeliveryTag uint64
	MessageID   string
	Queue       string
	Redelivered bool
}

// EnvelopeFromDelivery captures a RabbitMQ delivery read from queue
func EnvelopeFromDelivery(d amqp.Delivery, queue string) Envelope {
	return Envelope{
		Body:        d.Body,
		DeliveryTag: d.DeliveryTag,
		MessageID:   d.MessageId,
		Queue:       queue,
		Redelivered: d.Redelivered,
	}
}

// Queue publishes commands to a named queue.
//
// Both operations receive a command that already carries its final attempt
// count and must route it to exactly the given queue.
type Queue interface {
	Publish(ctx context.Context, cmd Command, queue string) error
	PublishLater(ctx context.Context, delay time.Duration, cmd Command, queue string) error
}
