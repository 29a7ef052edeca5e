package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cuongbtq/amqp-jobs/internal/job"
	amqp "github.com/rabbitmq/amqp091-go"
)

const contentTypeJSON = "application/json"

// attemptsHeader mirrors the command attempt counter for broker-side tooling
const attemptsHeader = "x-job-attempts"

// Publisher is the part of the RabbitMQ client the queue publishes through
type Publisher interface {
	PublishMessage(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
	DeclareQueue(name string, args amqp.Table) error
}

// Delayer holds a message back for delay, then routes it to queue
type Delayer interface {
	Schedule(ctx context.Context, delay time.Duration, queue string, msg amqp.Publishing) error
}

// Options configures a RabbitQueue
type Options struct {
	// Exchange used for immediate publishes; empty means the default exchange
	Exchange string
	// Delayer used by PublishLater; defaults to a TTLDelayer
	Delayer Delayer
	Logger  *slog.Logger
}

// RabbitQueue publishes job commands to RabbitMQ queues
type RabbitQueue struct {
	publisher Publisher
	codec     *job.Codec
	delayer   Delayer
	exchange  string
	logger    *slog.Logger
}

var _ job.Queue = (*RabbitQueue)(nil)

// NewRabbitQueue creates a queue publishing through publisher
func NewRabbitQueue(publisher Publisher, codec *job.Codec, opts *Options) *RabbitQueue {
	if opts == nil {
		opts = &Options{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	delayer := opts.Delayer
	if delayer == nil {
		delayer = NewTTLDelayer(publisher, opts.Exchange, "")
	}

	return &RabbitQueue{
		publisher: publisher,
		codec:     codec,
		delayer:   delayer,
		exchange:  opts.Exchange,
		logger:    logger,
	}
}

// Publish enqueues cmd on queue immediately
func (q *RabbitQueue) Publish(ctx context.Context, cmd job.Command, queue string) error {
	msg, err := q.encode(cmd)
	if err != nil {
		return err
	}

	if err := q.publisher.DeclareQueue(queue, nil); err != nil {
		return err
	}

	if err := q.publisher.PublishMessage(ctx, q.exchange, queue, msg); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", cmd.CommandName(), queue, err)
	}

	q.logger.Info("Job published",
		slog.String("queue", queue),
		slog.String("command", cmd.CommandName()),
		slog.String("message_id", msg.MessageId),
		slog.Uint64("attempts", uint64(cmd.Attempts())),
	)

	return nil
}

// PublishLater enqueues cmd on queue so it is not consumed before delay has passed
func (q *RabbitQueue) PublishLater(ctx context.Context, delay time.Duration, cmd job.Command, queue string) error {
	if delay <= 0 {
		return q.Publish(ctx, cmd, queue)
	}

	msg, err := q.encode(cmd)
	if err != nil {
		return err
	}

	// the destination must exist before the delayed copy is routed to it
	if err := q.publisher.DeclareQueue(queue, nil); err != nil {
		return err
	}

	if err := q.delayer.Schedule(ctx, delay, queue, msg); err != nil {
		return fmt.Errorf("failed to schedule %s on %s: %w", cmd.CommandName(), queue, err)
	}

	q.logger.Info("Job scheduled",
		slog.String("queue", queue),
		slog.String("command", cmd.CommandName()),
		slog.String("message_id", msg.MessageId),
		slog.Uint64("attempts", uint64(cmd.Attempts())),
		slog.Duration("delay", delay),
	)

	return nil
}

func (q *RabbitQueue) encode(cmd job.Command) (amqp.Publishing, error) {
	body, payload, err := q.codec.Encode(cmd)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to encode job: %w", err)
	}

	return newPublishing(body, payload.UUID, cmd.Attempts()), nil
}

func newPublishing(body []byte, messageID string, attempts uint) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{attemptsHeader: int64(attempts)},
		Body:         body,
	}
}
